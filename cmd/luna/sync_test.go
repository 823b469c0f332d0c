//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package main

import (
	"context"
	"strings"
	"testing"

	"github.com/lunaria-app/lunaria/internal/config"
	"github.com/lunaria-app/lunaria/internal/lockfile"
	"github.com/lunaria-app/lunaria/internal/logging"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	"github.com/lunaria-app/lunaria/internal/ui"
)

// useDataDir points the command globals at a fresh data directory.
func useDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg = config.Default(dir)
	cfg.DataDir = dir
	logger = logging.Discard()
	t.Cleanup(func() { cfg, logger = nil, nil })
	return dir
}

func TestApplyFrequency_WhileLocked(t *testing.T) {
	dir := useDataDir(t)
	ctx := context.Background()

	lock, err := lockfile.Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	deferred, err := applyFrequency(ctx, schema.FrequencyMonthly)
	if err != nil {
		t.Fatalf("applyFrequency() while locked = %v", err)
	}
	if !deferred {
		t.Error("deferred = false, want true while another process holds the lock")
	}
	if f, err := config.LoadFrequency(dir); err != nil || f != schema.FrequencyMonthly {
		t.Errorf("config.toml frequency = %q (%v), want monthly", f, err)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}

	deferred, err = applyFrequency(ctx, schema.FrequencyDaily)
	if err != nil || deferred {
		t.Fatalf("applyFrequency() unlocked = %v, %v", deferred, err)
	}
	a, err := openApp(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	if got := a.engine.Frequency(); got != schema.FrequencyDaily {
		t.Errorf("stored frequency = %q, want daily", got)
	}
}

func TestPendingNote(t *testing.T) {
	useDataDir(t)
	ui.DisableColor()
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	id, err := a.services.DailyLogs.Save(ctx, &schema.DailyLog{UserID: "u1", Date: "2024-10-04", Flow: schema.FlowLight})
	if err != nil {
		t.Fatal(err)
	}
	if got := pendingNote(a, schema.TableDailyLogs, id); !strings.Contains(got, "1 change pending") {
		t.Errorf("pendingNote() after save = %q", got)
	}
	if _, err := a.services.DailyLogs.Save(ctx, &schema.DailyLog{ID: id, UserID: "u1", Date: "2024-10-04", Flow: schema.FlowHeavy}); err != nil {
		t.Fatal(err)
	}
	if got := pendingNote(a, schema.TableDailyLogs, id); !strings.Contains(got, "2 changes pending") {
		t.Errorf("pendingNote() after update = %q", got)
	}
	if got := pendingNote(a, schema.TableDailyLogs, "rec_none"); got != "" {
		t.Errorf("pendingNote() for a record with nothing queued = %q", got)
	}
}
