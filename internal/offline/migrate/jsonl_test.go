package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/records"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

type nopPersister struct{}

func (nopPersister) LoadAll(context.Context) (map[string][]schema.Record, error) { return nil, nil }
func (nopPersister) Apply(context.Context, []db.Mutation) error                  { return nil }

type store struct {
	queue *queue.Queue
	svc   *records.Services
}

func newStore(t *testing.T) *store {
	t.Helper()
	c := cache.New(nopPersister{}, cache.Options{})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	q := queue.New(c, nil)
	return &store{queue: q, svc: records.NewServices(c, q, records.Options{})}
}

func seed(t *testing.T, s *store, user string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.svc.Profiles.Save(ctx, &schema.Profile{
		UserID: user, Name: "Ana", CycleType: schema.CycleRegular,
		AverageCycleLength: schema.IntPtr(29), PeriodLength: 5,
		ContraceptiveMethod: schema.ContraceptiveNone,
	}); err != nil {
		t.Fatal(err)
	}
	for _, d := range []schema.Date{"2024-10-01", "2024-10-02", "2024-10-03"} {
		if _, err := s.svc.DailyLogs.Save(ctx, &schema.DailyLog{UserID: user, Date: d, Flow: schema.FlowMedium, Symptoms: schema.StringList{"cramps"}}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.svc.Cycles.Save(ctx, &schema.Cycle{UserID: user, StartDate: "2024-10-01", EndDate: schema.DatePtr("2024-10-05")}); err != nil {
		t.Fatal(err)
	}
}

func TestExport(t *testing.T) {
	s := newStore(t)
	seed(t, s, "u1")
	seed(t, s, "u2")

	var buf bytes.Buffer
	res, err := Export(context.Background(), &buf, s.svc, "u1")
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if res.Profiles != 1 || res.DailyLogs != 3 || res.Cycles != 1 || res.Total() != 5 {
		t.Errorf("result = %+v", res)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want 5", len(lines))
	}
	if !strings.HasPrefix(lines[0], `{"table":"profiles","record":{`) {
		t.Errorf("first line = %s", lines[0])
	}
	if strings.Contains(buf.String(), `"u2"`) {
		t.Error("export leaked another user's records")
	}
}

func TestImport_RoundTripQueuesCreates(t *testing.T) {
	src := newStore(t)
	seed(t, src, "u1")
	var buf bytes.Buffer
	if _, err := Export(context.Background(), &buf, src.svc, "u1"); err != nil {
		t.Fatal(err)
	}

	dst := newStore(t)
	res, err := Import(context.Background(), &buf, dst.svc, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Imported != 5 || res.Unchanged != 0 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}

	logs := dst.svc.DailyLogs.GetAll("u1")
	if len(logs) != 3 {
		t.Fatalf("logs = %d", len(logs))
	}
	for _, l := range logs {
		if !schema.IsTemporaryID(l.ID) || l.Synced {
			t.Errorf("imported log %+v should be a new unsynced record", l)
		}
		if !l.Symptoms.Contains("cramps") {
			t.Errorf("symptoms lost: %v", l.Symptoms)
		}
	}
	if n := dst.queue.Len(); n != 5 {
		t.Errorf("queue len = %d, want 5", n)
	}
}

func TestImport_Idempotent(t *testing.T) {
	s := newStore(t)
	seed(t, s, "u1")
	var buf bytes.Buffer
	if _, err := Export(context.Background(), &buf, s.svc, "u1"); err != nil {
		t.Fatal(err)
	}
	before := s.queue.Len()

	res, err := Import(context.Background(), bytes.NewReader(buf.Bytes()), s.svc, ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 0 || res.Unchanged != 5 {
		t.Errorf("result = %+v, want all unchanged", res)
	}
	if s.queue.Len() != before {
		t.Errorf("queue grew from %d to %d", before, s.queue.Len())
	}
}

func TestImport_ReassignUser(t *testing.T) {
	src := newStore(t)
	seed(t, src, "old")
	var buf bytes.Buffer
	if _, err := Export(context.Background(), &buf, src.svc, "old"); err != nil {
		t.Fatal(err)
	}

	dst := newStore(t)
	if _, err := Import(context.Background(), &buf, dst.svc, ImportOptions{UserID: "new"}); err != nil {
		t.Fatal(err)
	}
	if _, err := dst.svc.Profiles.GetByUserID("new"); err != nil {
		t.Errorf("profile not reassigned: %v", err)
	}
	if n := len(dst.svc.DailyLogs.GetAll("old")); n != 0 {
		t.Errorf("%d logs kept old user", n)
	}
}

func TestImport_DryRun(t *testing.T) {
	input := strings.Join([]string{
		`{"table":"daily_logs","record":{"user_id":"u1","date":"2024-10-01","flow":"light"}}`,
		`{"table":"daily_logs","record":{"user_id":"u1","date":"not-a-date","flow":"light"}}`,
		`{"table":"tasks","record":{}}`,
	}, "\n")

	s := newStore(t)
	res, err := Import(context.Background(), strings.NewReader(input), s.svc, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 || len(res.Errors) != 2 {
		t.Errorf("result = %+v", res)
	}
	if s.queue.Len() != 0 || len(s.svc.DailyLogs.GetAll("u1")) != 0 {
		t.Error("dry run must not write")
	}
}

func TestImport_MalformedJSON(t *testing.T) {
	s := newStore(t)
	_, err := Import(context.Background(), strings.NewReader(`{"table":`), s.svc, ImportOptions{})
	if err == nil {
		t.Error("expected error for truncated input")
	}
}

func TestExportFile_Backup(t *testing.T) {
	s := newStore(t)
	seed(t, s, "u1")
	path := filepath.Join(t.TempDir(), "luna.jsonl")
	if err := os.WriteFile(path, []byte("old\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res, backup, err := ExportFile(context.Background(), path, s.svc, "u1", true)
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	if res.Total() != 5 {
		t.Errorf("total = %d", res.Total())
	}
	if data, err := os.ReadFile(backup); err != nil || string(data) != "old\n" {
		t.Errorf("backup = %q, %v", data, err)
	}

	got, err := ImportFile(context.Background(), path, newStore(t).svc, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.Imported != 5 {
		t.Errorf("imported = %d", got.Imported)
	}
}
