package sync

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/records"
	"github.com/lunaria-app/lunaria/internal/offline/remote"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// stepClock advances one second on every call.
type stepClock struct {
	mu gosync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	db     *db.DB
	cache  *cache.Cache
	queue  *queue.Queue
	svc    *records.Services
	remote *remote.Memory
	engine *Engine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "luna.db"), db.Options{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	c := cache.New(database, cache.Options{})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock := &stepClock{t: time.Date(2024, 10, 4, 8, 0, 0, 0, time.UTC)}
	q := queue.New(c, clock.Now)
	m := remote.NewMemory()
	m.SetClock(clock.Now)
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	return &fixture{
		db:     database,
		cache:  c,
		queue:  q,
		svc:    records.NewServices(c, q, records.Options{Clock: clock.Now}),
		remote: m,
		engine: New(c, q, m, opts),
	}
}

// putRemote stores e remotely under id as if written by another device.
func (f *fixture) putRemote(t *testing.T, id string, updated time.Time, e schema.Entity) {
	t.Helper()
	data, err := e.ToRemote()
	if err != nil {
		t.Fatal(err)
	}
	if err := f.remote.Put(e.TableName(), remote.Record{ID: id, Updated: updated, Data: data}); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) sync(t *testing.T) Result {
	t.Helper()
	res := f.engine.PerformSync(context.Background(), "u1")
	if f.engine.State() != StateIdle {
		t.Errorf("state after pass = %v, want idle", f.engine.State())
	}
	return res
}

// flush checks the cache can still be written to the database, which
// enforces the per-user and per-date uniqueness constraints.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.cache.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
}

func day(s string) time.Time {
	return schema.MustDate(s).Time()
}

func TestPerformSync_PushesCreateAndSwapsID(t *testing.T) {
	f := newFixture(t, Options{})
	f.remote.SetIDGenerator(func() string { return "rec_abc123" })
	ctx := context.Background()

	tempID, err := f.svc.DailyLogs.Save(ctx, &schema.DailyLog{UserID: "u1", Date: "2024-10-04", Flow: schema.FlowMedium})
	if err != nil {
		t.Fatal(err)
	}
	if f.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", f.queue.Len())
	}

	res := f.sync(t)
	if !res.OK() || res.Success != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	got, err := f.svc.DailyLogs.GetByDate("u1", "2024-10-04")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "rec_abc123" || !got.Synced {
		t.Errorf("got id=%q synced=%v, want rec_abc123 synced", got.ID, got.Synced)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue len = %d, want 0", f.queue.Len())
	}

	byTemp, err := f.svc.DailyLogs.GetByID(tempID)
	if err != nil {
		t.Fatalf("temporary id no longer resolves: %v", err)
	}
	if byTemp.ID != "rec_abc123" {
		t.Errorf("GetByID(temp) = %q", byTemp.ID)
	}
	byRemote, err := f.svc.DailyLogs.GetByID("rec_abc123")
	if err != nil || !reflect.DeepEqual(byRemote, byTemp) {
		t.Errorf("reads by temporary and remote id differ: %+v vs %+v (%v)", byTemp, byRemote, err)
	}

	f.flush(t)
	n, err := f.db.Count(ctx, schema.TableDailyLogs)
	if err != nil || n != 1 {
		t.Errorf("persisted logs = %d (%v), want 1", n, err)
	}
}

func TestPerformSync_IdempotentPull(t *testing.T) {
	f := newFixture(t, Options{})
	f.putRemote(t, "rec_p1", day("2024-09-01"), &schema.Profile{UserID: "u1", Name: "Ana", CycleType: schema.CycleRegular, AverageCycleLength: schema.IntPtr(28), PeriodLength: 5})
	f.putRemote(t, "rec_l1", day("2024-10-01"), &schema.DailyLog{UserID: "u1", Date: "2024-10-01", Flow: schema.FlowLight, Symptoms: schema.StringList{"cramps"}})
	f.putRemote(t, "rec_c1", day("2024-10-01"), &schema.Cycle{UserID: "u1", StartDate: "2024-10-01"})
	f.putRemote(t, "rec_other", day("2024-10-01"), &schema.DailyLog{UserID: "u2", Date: "2024-10-01"})

	first := f.sync(t)
	if !first.OK() || first.Pulled != 3 {
		t.Fatalf("first pass = %+v", first)
	}
	before := snapshotRows(f.cache)

	second := f.sync(t)
	if !second.OK() || second.Pulled != 0 || second.Removed != 0 {
		t.Fatalf("second pass = %+v", second)
	}
	if after := snapshotRows(f.cache); !reflect.DeepEqual(before, after) {
		t.Errorf("second pull changed the cache:\nbefore %v\nafter  %v", before, after)
	}
	if f.remote.Calls(remote.OpCreate)+f.remote.Calls(remote.OpUpdate) != 0 {
		t.Error("pulling must not push anything")
	}
	f.flush(t)
}

func snapshotRows(c *cache.Cache) map[string][]schema.Record {
	out := make(map[string][]schema.Record)
	for _, table := range []string{schema.TableProfiles, schema.TableDailyLogs, schema.TableCycles, schema.TableQueue, schema.TableAliases} {
		rows := c.Query(table, nil, func(a, b schema.Record) bool { return a.RecordKey() < b.RecordKey() })
		out[table] = rows
	}
	return out
}

func TestPerformSync_LocalWinsWhenNewer(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.putRemote(t, "rec_l1", day("2024-10-01"), &schema.DailyLog{UserID: "u1", Date: "2024-10-01", Flow: schema.FlowLight})
	f.sync(t)

	// Another device edits at T1, this device edits later at T2.
	f.putRemote(t, "rec_l1", day("2024-10-02"), &schema.DailyLog{UserID: "u1", Date: "2024-10-01", Flow: schema.FlowHeavy})
	local, _ := f.svc.DailyLogs.GetByID("rec_l1")
	local.Flow = schema.FlowSpotting
	local.Notes = "from this phone"
	if err := f.svc.DailyLogs.Update(ctx, local); err != nil {
		t.Fatal(err)
	}

	res := f.sync(t)
	if !res.OK() || res.Conflicts != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Resolutions) != 1 || res.Resolutions[0].Decision != KeepLocal {
		t.Errorf("resolutions = %+v", res.Resolutions)
	}

	got, _ := f.svc.DailyLogs.GetByID("rec_l1")
	if got.Flow != schema.FlowSpotting || got.Notes != "from this phone" || !got.Synced {
		t.Errorf("local = %+v", got)
	}
	rec, _ := f.remote.Get(schema.TableDailyLogs, "rec_l1")
	if !strings.Contains(string(rec.Data), `"flow":"spotting"`) {
		t.Errorf("remote not overwritten by local version: %s", rec.Data)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue len = %d", f.queue.Len())
	}
}

func TestPerformSync_RemoteNewerOverwritesLocal(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.putRemote(t, "rec_l1", day("2024-10-01"), &schema.DailyLog{UserID: "u1", Date: "2024-10-01", Flow: schema.FlowLight})
	f.sync(t)

	local, _ := f.svc.DailyLogs.GetByID("rec_l1")
	local.Flow = schema.FlowSpotting
	if err := f.svc.DailyLogs.Update(ctx, local); err != nil {
		t.Fatal(err)
	}
	f.putRemote(t, "rec_l1", day("2024-12-01"), &schema.DailyLog{UserID: "u1", Date: "2024-10-01", Flow: schema.FlowHeavy})

	res := f.sync(t)
	if !res.OK() || res.Conflicts != 0 {
		t.Fatalf("result = %+v", res)
	}
	got, _ := f.svc.DailyLogs.GetByID("rec_l1")
	if got.Flow != schema.FlowHeavy || !got.Synced {
		t.Errorf("local = %+v, want remote content, synced", got)
	}
	if len(f.queue.ForRecord(schema.TableDailyLogs, "rec_l1")) > 0 {
		t.Error("entries of the losing local version must be dropped")
	}
	if f.remote.Calls(remote.OpUpdate) != 0 {
		t.Error("losing local version was pushed")
	}
}

func TestPerformSync_TwoDevicesSetDelay(t *testing.T) {
	tests := []struct {
		name      string
		remoteAt  time.Time
		wantDelay int
	}{
		{"local later", day("2024-10-03"), 2},
		{"remote later", day("2025-01-01"), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			ctx := context.Background()
			f.putRemote(t, "rec_c1", day("2024-09-01"), &schema.Cycle{UserID: "u1", StartDate: "2024-09-01"})
			f.sync(t)

			if _, err := f.svc.Cycles.MarkDelay(ctx, "u1", "2024-09-01", 2); err != nil {
				t.Fatal(err)
			}
			f.putRemote(t, "rec_c1", tt.remoteAt, &schema.Cycle{UserID: "u1", StartDate: "2024-09-01", Delay: 5})

			if res := f.sync(t); !res.OK() {
				t.Fatalf("sync failed: %v", res.Err)
			}
			got, err := f.svc.Cycles.GetByID("rec_c1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Delay != tt.wantDelay {
				t.Errorf("delay = %d, want %d", got.Delay, tt.wantDelay)
			}
			if n := len(f.queue.ForRecord(schema.TableCycles, "rec_c1")); n != 0 {
				t.Errorf("%d entries still pending for the cycle", n)
			}
			rec, _ := f.remote.Get(schema.TableCycles, "rec_c1")
			remoteCycle, _ := schema.CycleFromRemote(rec.ID, rec.Updated, rec.Data)
			if remoteCycle.Delay != tt.wantDelay {
				t.Errorf("remote delay = %d, want %d", remoteCycle.Delay, tt.wantDelay)
			}
		})
	}
}

func TestPerformSync_PermanentRejectionIsDropped(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.svc.DailyLogs.Save(ctx, &schema.DailyLog{UserID: "u1", Date: "2024-10-04"}); err != nil {
		t.Fatal(err)
	}
	f.remote.FailNext(remote.OpCreate, remote.ErrValidation)

	res := f.sync(t)
	if !res.OK() || res.Failed != 1 || res.Success != 0 {
		t.Fatalf("result = %+v", res)
	}
	if f.queue.Len() != 0 {
		t.Fatalf("rejected entry still queued")
	}

	res = f.sync(t)
	if res.Failed != 0 || res.Success != 0 {
		t.Errorf("rejected entry reappeared: %+v", res)
	}
	if f.remote.Calls(remote.OpCreate) != 1 {
		t.Errorf("create called %d times, want 1", f.remote.Calls(remote.OpCreate))
	}
}

func TestPerformSync_TransientErrorStopsPush(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, d := range []schema.Date{"2024-10-03", "2024-10-04"} {
		if _, err := f.svc.DailyLogs.Save(ctx, &schema.DailyLog{UserID: "u1", Date: d}); err != nil {
			t.Fatal(err)
		}
	}
	f.remote.FailNext(remote.OpCreate, remote.ErrTransient)

	res := f.sync(t)
	if res.OK() || !errors.Is(res.Err, remote.ErrTransient) {
		t.Fatalf("expected transient error, got %+v", res)
	}
	if res.Success != 0 || res.Pending != 2 {
		t.Errorf("result = %+v, want nothing pushed and 2 pending", res)
	}
	if f.engine.LastSyncTime().IsZero() {
		t.Error("watermark must be recorded when the pull succeeded")
	}

	res = f.sync(t)
	if !res.OK() || res.Success != 2 || res.Pending != 0 {
		t.Errorf("retry = %+v", res)
	}
	if f.remote.Len(schema.TableDailyLogs) != 2 {
		t.Errorf("remote has %d logs, want 2", f.remote.Len(schema.TableDailyLogs))
	}
}

func TestPerformSync_PullFailureTouchesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.svc.Cycles.ConfirmPeriodStart(ctx, "u1", "2024-10-01"); err != nil {
		t.Fatal(err)
	}
	var states []State
	f.engine.OnStateChange(func(_, to State) { states = append(states, to) })
	f.remote.SetOffline(true)
	before := snapshotRows(f.cache)

	res := f.sync(t)
	if res.OK() {
		t.Fatal("expected pull failure")
	}
	if !reflect.DeepEqual(before, snapshotRows(f.cache)) {
		t.Error("failed pull modified local data")
	}
	if !f.engine.LastSyncTime().IsZero() {
		t.Error("watermark recorded after a failed pull")
	}
	want := []State{StatePulling, StateFailed, StateIdle}
	if !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestPerformSync_StateTransitions(t *testing.T) {
	f := newFixture(t, Options{})
	var states []State
	remove := f.engine.OnStateChange(func(_, to State) { states = append(states, to) })
	f.sync(t)
	remove()
	f.sync(t)

	want := []State{StatePulling, StateResolving, StatePushing, StateWatermarkUpdate, StateIdle}
	if !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

// blockingAuthority parks List calls until released.
type blockingAuthority struct {
	remote.Authority
	entered chan struct{}
	release chan struct{}
	once    gosync.Once
}

func (b *blockingAuthority) List(ctx context.Context, collection, userID string) ([]remote.Record, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Authority.List(ctx, collection, userID)
}

func TestPerformSync_ConcurrentTriggerIsNoop(t *testing.T) {
	f := newFixture(t, Options{})
	blocking := &blockingAuthority{Authority: f.remote, entered: make(chan struct{}), release: make(chan struct{})}
	engine := New(f.cache, f.queue, blocking, Options{})

	done := make(chan Result)
	go func() { done <- engine.PerformSync(context.Background(), "u1") }()
	<-blocking.entered

	if !engine.Syncing() {
		t.Error("Syncing() = false during a pass")
	}
	res := engine.PerformSync(context.Background(), "u1")
	if !errors.Is(res.Err, ErrSyncInProgress) {
		t.Errorf("concurrent pass: got %v, want ErrSyncInProgress", res.Err)
	}
	close(blocking.release)
	if first := <-done; !first.OK() {
		t.Errorf("first pass failed: %v", first.Err)
	}
	if engine.Syncing() {
		t.Error("Syncing() = true after the pass")
	}
}

func TestPerformSync_QueueAppliedInOrder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id, err := f.svc.Cycles.Save(ctx, &schema.Cycle{UserID: "u1", StartDate: "2024-10-01"})
	if err != nil {
		t.Fatal(err)
	}
	for delay := 1; delay <= 4; delay++ {
		c, _ := f.svc.Cycles.GetByID(id)
		c.Delay = delay
		if err := f.svc.Cycles.Update(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	res := f.sync(t)
	if !res.OK() || res.Success != 5 {
		t.Fatalf("result = %+v", res)
	}
	if f.remote.Calls(remote.OpCreate) != 1 || f.remote.Calls(remote.OpUpdate) != 4 {
		t.Errorf("calls create=%d update=%d", f.remote.Calls(remote.OpCreate), f.remote.Calls(remote.OpUpdate))
	}
	got, _ := f.svc.Cycles.GetByID(id)
	rec, _ := f.remote.Get(schema.TableCycles, got.ID)
	if !strings.Contains(string(rec.Data), `"delay":4`) {
		t.Errorf("last write did not win remotely: %s", rec.Data)
	}
	if got.Delay != 4 || !got.Synced {
		t.Errorf("local = %+v", got)
	}
}

func TestPerformSync_RemoteDeletionRemovesLocalRow(t *testing.T) {
	f := newFixture(t, Options{})
	f.putRemote(t, "rec_l1", day("2024-10-01"), &schema.DailyLog{UserID: "u1", Date: "2024-10-01"})
	f.putRemote(t, "rec_l2", day("2024-10-02"), &schema.DailyLog{UserID: "u1", Date: "2024-10-02"})
	f.sync(t)

	if err := f.remote.Delete(context.Background(), schema.TableDailyLogs, "rec_l1"); err != nil {
		t.Fatal(err)
	}
	res := f.sync(t)
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Removed)
	}
	if _, err := f.svc.DailyLogs.GetByID("rec_l1"); !errors.Is(err, records.ErrNotFound) {
		t.Errorf("remotely deleted log still present: %v", err)
	}
	if _, err := f.svc.DailyLogs.GetByID("rec_l2"); err != nil {
		t.Errorf("unrelated log removed: %v", err)
	}
}

func TestPerformSync_RemoteProfileDeletionKeepsLocalProfile(t *testing.T) {
	f := newFixture(t, Options{})
	f.putRemote(t, "rec_p1", day("2024-09-01"), &schema.Profile{UserID: "u1", Name: "Ana", CycleType: schema.CycleRegular, AverageCycleLength: schema.IntPtr(28), PeriodLength: 5})
	f.sync(t)

	if err := f.remote.Delete(context.Background(), schema.TableProfiles, "rec_p1"); err != nil {
		t.Fatal(err)
	}
	res := f.sync(t)
	if !res.OK() || res.Removed != 0 {
		t.Errorf("result = %+v, want nothing removed", res)
	}
	if _, err := f.svc.Profiles.GetByID("rec_p1"); err != nil {
		t.Errorf("profile was deleted locally: %v", err)
	}
	f.flush(t)
}

func TestPerformSync_PulledMoveAndRefillPersists(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.putRemote(t, "rec_b", day("2024-10-04"), &schema.DailyLog{UserID: "u1", Date: "2024-10-04", Flow: schema.FlowLight})
	f.sync(t)
	f.flush(t)

	// Another device moved the log a day later and logged the vacated day.
	f.putRemote(t, "rec_b", day("2024-10-06"), &schema.DailyLog{UserID: "u1", Date: "2024-10-05", Flow: schema.FlowLight})
	f.putRemote(t, "rec_a", day("2024-10-06"), &schema.DailyLog{UserID: "u1", Date: "2024-10-04", Flow: schema.FlowHeavy})
	res := f.sync(t)
	if !res.OK() || res.Pulled != 2 {
		t.Fatalf("result = %+v", res)
	}
	f.flush(t)

	all, err := f.db.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]schema.Date{}
	for _, r := range all[schema.TableDailyLogs] {
		l := r.(*schema.DailyLog)
		got[l.ID] = l.Date
	}
	want := map[string]schema.Date{"rec_a": "2024-10-04", "rec_b": "2024-10-05"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("persisted logs = %v, want %v", got, want)
	}
}

func TestPerformSync_LocalDeleteNotResurrected(t *testing.T) {
	f := newFixture(t, Options{})
	f.putRemote(t, "rec_l1", day("2024-10-01"), &schema.DailyLog{UserID: "u1", Date: "2024-10-01"})
	f.sync(t)

	if err := f.svc.DailyLogs.Delete(context.Background(), "rec_l1"); err != nil {
		t.Fatal(err)
	}
	res := f.sync(t)
	if !res.OK() || res.Success != 1 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := f.svc.DailyLogs.GetByID("rec_l1"); err == nil {
		t.Error("deleted log came back from the pull")
	}
	if _, ok := f.remote.Get(schema.TableDailyLogs, "rec_l1"); ok {
		t.Error("delete was not pushed")
	}
}

func TestPerformSync_DeleteBeforeFirstPush(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id, err := f.svc.DailyLogs.Save(ctx, &schema.DailyLog{UserID: "u1", Date: "2024-10-04"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DailyLogs.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}

	res := f.sync(t)
	if !res.OK() || res.Pending != 0 {
		t.Fatalf("result = %+v", res)
	}
	if f.remote.Len(schema.TableDailyLogs) != 0 {
		t.Error("record deleted locally still exists remotely")
	}
	f.flush(t)
}

func TestPerformSync_MatchesByNaturalKey(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	// Logged on another device first; this device logs the same day later.
	f.putRemote(t, "rec_l1", day("2024-10-04"), &schema.DailyLog{UserID: "u1", Date: "2024-10-04", Flow: schema.FlowLight})
	tempID, err := f.svc.DailyLogs.Save(ctx, &schema.DailyLog{UserID: "u1", Date: "2024-10-04", Flow: schema.FlowMedium})
	if err != nil {
		t.Fatal(err)
	}

	res := f.sync(t)
	if !res.OK() || res.Conflicts != 1 {
		t.Fatalf("result = %+v", res)
	}
	if f.remote.Len(schema.TableDailyLogs) != 1 {
		t.Errorf("remote has %d logs for one date", f.remote.Len(schema.TableDailyLogs))
	}
	got, err := f.svc.DailyLogs.GetByID(tempID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "rec_l1" || got.Flow != schema.FlowMedium || !got.Synced {
		t.Errorf("local = %+v", got)
	}
	f.flush(t)
}

func TestPerformSync_ProfileOnePerUser(t *testing.T) {
	f := newFixture(t, Options{Strategy: RemoteWins})
	ctx := context.Background()
	if _, err := f.svc.Profiles.Save(ctx, &schema.Profile{UserID: "u1", Name: "Local", CycleType: schema.CycleRegular, AverageCycleLength: schema.IntPtr(30), PeriodLength: 4}); err != nil {
		t.Fatal(err)
	}
	f.putRemote(t, "rec_p1", day("2024-09-01"), &schema.Profile{UserID: "u1", Name: "Remote", CycleType: schema.CycleRegular, AverageCycleLength: schema.IntPtr(28), PeriodLength: 5})

	res := f.sync(t)
	if !res.OK() || res.Conflicts != 1 {
		t.Fatalf("result = %+v", res)
	}
	all := f.svc.Profiles.GetAll()
	if len(all) != 1 || all[0].ID != "rec_p1" || all[0].Name != "Remote" {
		t.Errorf("profiles = %+v", all)
	}
	if f.remote.Len(schema.TableProfiles) != 1 {
		t.Errorf("remote profiles = %d", f.remote.Len(schema.TableProfiles))
	}
	f.flush(t)
}

func TestSyncIfDue(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	now := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)

	if _, ran := f.engine.SyncIfDue(ctx, "u1", now); !ran {
		t.Fatal("first sync should always be due")
	}
	last := f.engine.LastSyncTime()
	if err := f.engine.SetFrequency(schema.FrequencyWeekly); err != nil {
		t.Fatal(err)
	}
	if _, ran := f.engine.SyncIfDue(ctx, "u1", last.Add(6*24*time.Hour)); ran {
		t.Error("weekly sync ran after 6 days")
	}
	if _, ran := f.engine.SyncIfDue(ctx, "u1", last.Add(7*24*time.Hour)); !ran {
		t.Error("weekly sync did not run after 7 days")
	}
	if err := f.engine.SetFrequency("hourly"); err == nil {
		t.Error("invalid frequency accepted")
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.Cycles.ConfirmPeriodStart(context.Background(), "u1", "2024-10-01"); err != nil {
		t.Fatal(err)
	}
	st := f.engine.Status()
	if !st.LastSyncTime.IsZero() || st.PendingItems != 1 || st.Frequency != schema.DefaultFrequency || st.State != "idle" {
		t.Errorf("status = %+v", st)
	}
	f.sync(t)
	st = f.engine.Status()
	if st.LastSyncTime.IsZero() || st.PendingItems != 0 {
		t.Errorf("status after sync = %+v", st)
	}
}
