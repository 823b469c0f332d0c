package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/remote"
)

// ErrSyncInProgress is reported when a pass is requested while another runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// State is the phase of the current sync pass.
type State int32

const (
	StateIdle State = iota
	StatePulling
	StateResolving
	StatePushing
	StateWatermarkUpdate
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StateResolving:
		return "resolving"
	case StatePushing:
		return "pushing"
	case StateWatermarkUpdate:
		return "watermark_update"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Result summarizes one sync pass.
type Result struct {
	// Success counts queue entries acknowledged by the authority.
	Success int
	// Failed counts queue entries dropped after a permanent rejection.
	Failed int
	// Conflicts counts records found modified on both sides.
	Conflicts int
	// Pulled counts local rows written from remote records.
	Pulled int
	// Removed counts local rows deleted because the remote no longer has them.
	Removed int
	// Pending is the queue length after the pass.
	Pending int
	// Resolutions lists the conflict decisions taken during the pass.
	Resolutions []Resolution
	// Err is the error that failed the pull or stopped the push, if any.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the pass pulled and drained the queue without errors.
func (r Result) OK() bool { return r.Err == nil }

// Options configures New.
type Options struct {
	// Strategy decides conflicts (default LocalWins).
	Strategy Strategy
	// Clock stamps the watermark and aliases (default time.Now).
	Clock  func() time.Time
	Logger *slog.Logger
}

// Engine runs sync passes for one local store.
type Engine struct {
	c        *cache.Cache
	q        *queue.Queue
	remote   remote.Authority
	strategy Strategy
	now      func() time.Time
	logger   *slog.Logger

	running atomic.Bool
	state   atomic.Int32

	hookMu gosync.Mutex
	hooks  map[int]func(from, to State)
	nextID int
}

// New creates an engine. The cache must be loaded.
func New(c *cache.Cache, q *queue.Queue, authority remote.Authority, opts Options) *Engine {
	if opts.Strategy == nil {
		opts.Strategy = LocalWins
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		c:        c,
		q:        q,
		remote:   authority,
		strategy: opts.Strategy,
		now:      opts.Clock,
		logger:   opts.Logger,
		hooks:    make(map[int]func(from, to State)),
	}
}

// State returns the current phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Syncing reports whether a pass is running.
func (e *Engine) Syncing() bool {
	return e.running.Load()
}

// OnStateChange registers fn to be called on every phase transition. The
// returned function unregisters it.
func (e *Engine) OnStateChange(fn func(from, to State)) (remove func()) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	id := e.nextID
	e.nextID++
	e.hooks[id] = fn
	return func() {
		e.hookMu.Lock()
		defer e.hookMu.Unlock()
		delete(e.hooks, id)
	}
}

func (e *Engine) setState(s State) {
	from := State(e.state.Swap(int32(s)))
	if from == s {
		return
	}
	e.hookMu.Lock()
	hooks := make([]func(from, to State), 0, len(e.hooks))
	for _, fn := range e.hooks {
		hooks = append(hooks, fn)
	}
	e.hookMu.Unlock()
	for _, fn := range hooks {
		fn(from, s)
	}
}

// PerformSync runs one pass for userID. Failures are reported in the result,
// never as a panic or a partially applied pull.
func (e *Engine) PerformSync(ctx context.Context, userID string) Result {
	if !e.running.CompareAndSwap(false, true) {
		return Result{Err: ErrSyncInProgress}
	}
	defer e.running.Store(false)

	res := Result{StartedAt: e.now().UTC()}
	log := e.logger.With("user", userID)
	log.Info("sync started", "pending", e.q.Len())

	e.setState(StatePulling)
	conflicts, err := e.pull(ctx, userID, &res)
	if err != nil {
		e.setState(StateFailed)
		res.Err = fmt.Errorf("pull failed: %w", err)
		res.Pending = e.q.Len()
		res.FinishedAt = e.now().UTC()
		log.Warn("sync failed", "error", err)
		e.setState(StateIdle)
		return res
	}

	e.setState(StateResolving)
	res.Conflicts = len(conflicts)
	for _, c := range conflicts {
		r, err := e.resolve(ctx, c)
		if err != nil {
			log.Warn("failed to resolve conflict", "table", c.Table, "id", c.LocalID, "error", err)
			continue
		}
		res.Resolutions = append(res.Resolutions, r)
	}

	e.setState(StatePushing)
	if err := e.push(ctx, &res); err != nil {
		res.Err = fmt.Errorf("push interrupted: %w", err)
		log.Warn("push interrupted, remaining entries kept", "error", err, "pending", e.q.Len())
	}

	e.setState(StateWatermarkUpdate)
	if err := e.setLastSyncTime(e.now()); err != nil {
		log.Warn("failed to record sync watermark", "error", err)
	}

	res.Pending = e.q.Len()
	res.FinishedAt = e.now().UTC()
	e.setState(StateIdle)
	log.Info("sync finished",
		"success", res.Success, "failed", res.Failed, "conflicts", res.Conflicts,
		"pulled", res.Pulled, "removed", res.Removed, "pending", res.Pending,
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return res
}

// SyncIfDue runs a pass when the configured frequency has elapsed since the
// last successful one. It reports whether a pass ran.
func (e *Engine) SyncIfDue(ctx context.Context, userID string, now time.Time) (Result, bool) {
	if !e.Due(now) {
		return Result{}, false
	}
	res := e.PerformSync(ctx, userID)
	if errors.Is(res.Err, ErrSyncInProgress) {
		return res, false
	}
	return res, true
}

// Due reports whether a pass is due at now.
func (e *Engine) Due(now time.Time) bool {
	last := e.LastSyncTime()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= e.Frequency().Interval()
}
