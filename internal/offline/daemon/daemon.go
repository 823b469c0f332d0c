// Package daemon runs sync passes in the background.
//
// The daemon:
// 1. Checks on a ticker whether the configured sync frequency has elapsed
// 2. Runs a pass when the app comes to the foreground and a pass is due
// 3. Runs a pass on manual request regardless of the schedule
// 4. Reloads the sync frequency when the config file changes
// 5. Handles graceful shutdown
//
// Requests are served one at a time, so the daemon never overlaps passes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
	offsync "github.com/lunaria-app/lunaria/internal/offline/sync"
)

// Engine is the part of sync.Engine the daemon drives.
type Engine interface {
	PerformSync(ctx context.Context, userID string) offsync.Result
	Due(now time.Time) bool
	Frequency() schema.Frequency
	SetFrequency(f schema.Frequency) error
}

// Config holds configuration for the daemon.
type Config struct {
	// UserID is the user whose data is synced.
	UserID string

	// CheckInterval is how often to check whether a pass is due.
	CheckInterval time.Duration

	// ConfigPath is watched for changes when LoadFrequency is set.
	ConfigPath string
	// LoadFrequency reads the sync frequency from ConfigPath.
	LoadFrequency func() (schema.Frequency, error)
	// DebounceInterval batches rapid config file writes.
	DebounceInterval time.Duration

	// OnResult is called after every pass the daemon runs.
	OnResult func(offsync.Result)

	Clock  func() time.Time
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:    time.Minute,
		DebounceInterval: 100 * time.Millisecond,
		Clock:            time.Now,
		Logger:           slog.Default(),
	}
}

type request int

const (
	requestDue request = iota
	requestForced
)

// Daemon schedules sync passes for one user.
type Daemon struct {
	engine Engine
	config *Config

	requests chan request
	watcher  *ConfigWatcher

	mu     sync.Mutex
	last   offsync.Result
	passes int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start to begin scheduling.
func New(engine Engine, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.UserID == "" {
		return nil, errors.New("user id cannot be empty")
	}
	def := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		engine:   engine,
		config:   config,
		requests: make(chan request, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins scheduling. It checks immediately whether a pass is due,
// then blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	log := d.config.Logger
	log.Info("starting sync daemon", "user", d.config.UserID,
		"frequency", d.engine.Frequency(), "check_interval", d.config.CheckInterval)

	if d.config.LoadFrequency != nil && d.config.ConfigPath != "" {
		w, err := NewConfigWatcher(d.config.ConfigPath, d.config.DebounceInterval)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		d.watcher = w
		d.wg.Add(1)
		go d.reloadOnChange()
	}

	d.wg.Add(2)
	go d.schedule()
	go d.serve()
	d.Foreground()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down, waiting for a running pass to finish.
func (d *Daemon) Stop() error {
	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Warn("error closing config watcher", "error", err)
		}
	}
	d.wg.Wait()
	d.config.Logger.Info("sync daemon stopped")
	return nil
}

// Foreground asks for a pass if one is due. It never blocks; requests made
// while one is already waiting are merged.
func (d *Daemon) Foreground() {
	d.request(requestDue)
}

// Trigger asks for a pass regardless of the schedule.
func (d *Daemon) Trigger() {
	d.request(requestForced)
}

func (d *Daemon) request(r request) {
	for {
		select {
		case d.requests <- r:
			return
		default:
		}
		// A due check already waiting is upgraded to a forced pass.
		select {
		case pending := <-d.requests:
			if pending > r {
				r = pending
			}
		default:
		}
	}
}

// LastResult returns the result of the most recent pass and how many passes
// the daemon has run.
func (d *Daemon) LastResult() (offsync.Result, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.passes
}

// schedule turns ticks into due checks.
func (d *Daemon) schedule() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.Foreground()
		}
	}
}

// serve runs requested passes one at a time.
func (d *Daemon) serve() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case r := <-d.requests:
			if r == requestDue && !d.engine.Due(d.config.Clock()) {
				continue
			}
			d.run(r)
		}
	}
}

func (d *Daemon) run(r request) {
	res := d.engine.PerformSync(d.ctx, d.config.UserID)
	if errors.Is(res.Err, offsync.ErrSyncInProgress) {
		d.config.Logger.Debug("sync already running elsewhere, skipping")
		return
	}
	d.mu.Lock()
	d.last = res
	d.passes++
	d.mu.Unlock()

	forced := r == requestForced
	if res.Err != nil {
		d.config.Logger.Warn("sync pass incomplete", "forced", forced, "error", res.Err)
	} else {
		d.config.Logger.Info("sync pass complete", "forced", forced,
			"success", res.Success, "failed", res.Failed, "conflicts", res.Conflicts)
	}
	if d.config.OnResult != nil {
		d.config.OnResult(res)
	}
}

// reloadOnChange applies frequency changes from the config file.
func (d *Daemon) reloadOnChange() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case _, ok := <-d.watcher.Changes():
			if !ok {
				return
			}
			d.reloadFrequency()
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Warn("config watcher error", "error", err)
		}
	}
}

func (d *Daemon) reloadFrequency() {
	f, err := d.config.LoadFrequency()
	if err != nil {
		d.config.Logger.Warn("failed to reload config", "path", d.config.ConfigPath, "error", err)
		return
	}
	if f == d.engine.Frequency() {
		return
	}
	if err := d.engine.SetFrequency(f); err != nil {
		d.config.Logger.Warn("failed to apply sync frequency", "frequency", f, "error", err)
		return
	}
	d.config.Logger.Info("sync frequency changed", "frequency", f)
	d.Foreground()
}
