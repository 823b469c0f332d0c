package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryCreateAssignsID(t *testing.T) {
	m := NewMemory()
	fixed := time.Date(2024, 10, 4, 8, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	rec, err := m.Create(context.Background(), "daily_logs", []byte(`{"user":"u1","date":"2024-10-04"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(rec.ID, "rec_") || len(rec.ID) != 19 {
		t.Errorf("unexpected id %q", rec.ID)
	}
	if !rec.Updated.Equal(fixed) {
		t.Errorf("Updated = %v, want %v", rec.Updated, fixed)
	}
	if m.Len("daily_logs") != 1 {
		t.Errorf("Len = %d, want 1", m.Len("daily_logs"))
	}
}

func TestMemoryRequiresUser(t *testing.T) {
	m := NewMemory()
	_, err := m.Create(context.Background(), "cycles", []byte(`{"startDate":"2024-10-01"}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !IsPermanent(err) {
		t.Error("validation errors must be permanent")
	}
}

func TestMemoryUpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Update(ctx, "cycles", "rec_missing", []byte(`{"user":"u1"}`)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update of missing record: got %v, want ErrNotFound", err)
	}

	rec, err := m.Create(ctx, "cycles", []byte(`{"user":"u1","delay":0}`))
	if err != nil {
		t.Fatal(err)
	}
	upd, err := m.Update(ctx, "cycles", rec.ID, []byte(`{"user":"u1","delay":3}`))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if string(upd.Data) != `{"user":"u1","delay":3}` {
		t.Errorf("Data = %s", upd.Data)
	}

	if err := m.Delete(ctx, "cycles", rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Delete(ctx, "cycles", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: got %v, want ErrNotFound", err)
	}
}

func TestMemoryListFiltersByUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, body := range []string{
		`{"user":"u1","date":"2024-10-01"}`,
		`{"user":"u2","date":"2024-10-01"}`,
		`{"user":"u1","date":"2024-10-02"}`,
	} {
		if _, err := m.Create(ctx, "daily_logs", []byte(body)); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := m.List(ctx, "daily_logs", "u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if !strings.Contains(string(recs[0].Data), "2024-10-01") {
		t.Errorf("records not in creation order: %s", recs[0].Data)
	}
}

func TestMemoryFaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailNext(OpCreate, ErrTransient)

	_, err := m.Create(ctx, "profiles", []byte(`{"user":"u1"}`))
	if !errors.Is(err, ErrTransient) || IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, err := m.Create(ctx, "profiles", []byte(`{"user":"u1"}`)); err != nil {
		t.Fatalf("fault should apply once: %v", err)
	}

	m.SetOffline(true)
	if _, err := m.List(ctx, "profiles", "u1"); !errors.Is(err, ErrTransient) {
		t.Errorf("offline List: got %v", err)
	}
	m.SetOffline(false)
	if m.Calls(OpCreate) != 2 || m.Calls(OpList) != 1 {
		t.Errorf("Calls = create:%d list:%d", m.Calls(OpCreate), m.Calls(OpList))
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: OpUpdate, Collection: "cycles", ID: "rec_1", Kind: ErrNotFound, Status: 404}
	want := "update cycles/rec_1: remote record not found (status 404)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
