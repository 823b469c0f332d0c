// Package loadtest exercises the offline store under concurrent use.
//
// It populates a store with several users' profiles, cycles and daily logs
// through the record services, then runs readers, writers and sync passes
// against an in-memory authority at the same time, recording the latency
// of each kind of operation.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/records"
	"github.com/lunaria-app/lunaria/internal/offline/remote"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	offsync "github.com/lunaria-app/lunaria/internal/offline/sync"
)

// firstDay is the date of every user's first log.
const firstDay schema.Date = "2024-01-01"

// Store is a populated local store wired to an in-memory remote.
type Store struct {
	DB       *db.DB
	Cache    *cache.Cache
	Queue    *queue.Queue
	Services *records.Services
	Remote   *remote.Memory
	Engine   *offsync.Engine

	Users []string
	Days  int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Report is the outcome of a mixed run.
type Report struct {
	Reads  *LatencyStats
	Writes *LatencyStats
	Syncs  *LatencyStats

	Pushed    int
	Conflicts int
	Errors    int
}

// CreateStore opens a store at dbPath and fills it with numUsers users,
// each with days consecutive daily logs and a cycle every 28 days. Nothing
// is synced yet, so every record is queued.
func CreateStore(ctx context.Context, dbPath string, numUsers, days int, logger *slog.Logger) (*Store, error) {
	if numUsers <= 0 || days <= 0 {
		return nil, errors.New("users and days must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	database, err := db.Open(dbPath, db.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	c := cache.New(database, cache.Options{FlushInterval: 50 * time.Millisecond, Logger: logger})
	if err := c.Load(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}
	c.Start(ctx)

	q := queue.New(c, nil)
	authority := remote.NewMemory()
	s := &Store{
		DB:       database,
		Cache:    c,
		Queue:    q,
		Services: records.NewServices(c, q, records.Options{Logger: logger}),
		Remote:   authority,
		Engine:   offsync.New(c, q, authority, offsync.Options{Logger: logger}),
		Days:     days,
	}
	for i := range numUsers {
		user := fmt.Sprintf("user%03d", i)
		s.Users = append(s.Users, user)
		if err := s.populate(ctx, user, i); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to populate %s: %w", user, err)
		}
	}
	return s, nil
}

func (s *Store) populate(ctx context.Context, user string, seed int) error {
	rng := rand.New(rand.NewSource(int64(42 + seed)))
	if _, err := s.Services.Profiles.Save(ctx, &schema.Profile{
		UserID:              user,
		Name:                user,
		CycleType:           schema.CycleRegular,
		AverageCycleLength:  schema.IntPtr(28),
		PeriodLength:        5,
		ContraceptiveMethod: schema.ContraceptiveNone,
	}); err != nil {
		return err
	}
	for d := 0; d < s.Days; d++ {
		if d%28 == 0 {
			start := firstDay.AddDays(d)
			if _, err := s.Services.Cycles.Save(ctx, &schema.Cycle{UserID: user, StartDate: start, EndDate: schema.DatePtr(start.AddDays(4))}); err != nil {
				return err
			}
		}
		if _, err := s.Services.DailyLogs.Save(ctx, randomLog(rng, user, firstDay.AddDays(d), d%28 < 5)); err != nil {
			return err
		}
	}
	return nil
}

var (
	symptoms = []string{"cramps", "headache", "bloating", "fatigue", "acne", "back pain"}
	moods    = []string{"happy", "calm", "anxious", "irritable", "sad", "energetic"}
	flows    = []schema.Flow{schema.FlowLight, schema.FlowMedium, schema.FlowHeavy}
)

func randomLog(rng *rand.Rand, user string, date schema.Date, bleeding bool) *schema.DailyLog {
	l := &schema.DailyLog{UserID: user, Date: date, Flow: schema.FlowNone}
	if bleeding {
		l.Flow = flows[rng.Intn(len(flows))]
	}
	for _, sym := range symptoms {
		if rng.Intn(4) == 0 {
			l.Symptoms = append(l.Symptoms, sym)
		}
	}
	l.Mood = schema.TagSet{moods[rng.Intn(len(moods))]}
	return l
}

// Close flushes the cache and closes the database.
func (s *Store) Close() error {
	err := s.Cache.Close()
	if cerr := s.DB.Close(); err == nil {
		err = cerr
	}
	return err
}

// SyncAll runs a pass per user until the queue is empty.
func (s *Store) SyncAll(ctx context.Context) (offsync.Result, error) {
	var total offsync.Result
	for round := 0; round < 3; round++ {
		for _, user := range s.Users {
			res := s.Engine.PerformSync(ctx, user)
			if res.Err != nil {
				return total, res.Err
			}
			total.Success += res.Success
			total.Failed += res.Failed
			total.Conflicts += res.Conflicts
			total.Pulled += res.Pulled
		}
		if s.Queue.Len() == 0 {
			return total, nil
		}
	}
	return total, fmt.Errorf("queue still holds %d entries", s.Queue.Len())
}

// RunConcurrentReads runs numReaders goroutines, each reading a month of
// logs for a random user readsPerReader times.
func (s *Store) RunConcurrentReads(numReaders, readsPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	results := make(chan []time.Duration, numReaders)
	errs := make(chan error, numReaders)

	for i := range numReaders {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(reader)))
			durations := make([]time.Duration, 0, readsPerReader)
			for range readsPerReader {
				user, from := s.pick(rng)
				start := time.Now()
				logs := s.Services.DailyLogs.GetRange(user, from, from.AddDays(29))
				durations = append(durations, time.Since(start))
				if len(logs) == 0 {
					errs <- fmt.Errorf("reader %d found no logs for %s from %s", reader, user, from)
					return
				}
			}
			results <- durations
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	if err := <-errs; err != nil {
		return nil, err
	}
	var all []time.Duration
	for d := range results {
		all = append(all, d...)
	}
	return computeLatencyStats(all), nil
}

// RunMixed runs readers and writers for duration while a sync pass for a
// rotating user starts every syncEvery.
func (s *Store) RunMixed(ctx context.Context, readers, writers int, duration, syncEvery time.Duration) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		reads, writes []time.Duration
		syncs         []time.Duration
		report        Report
		firstErr      error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Errors++
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := range readers {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(1000 + reader)))
			var local []time.Duration
			for ctx.Err() == nil {
				user, from := s.pick(rng)
				start := time.Now()
				_ = s.Services.DailyLogs.GetRange(user, from, from.AddDays(6))
				if _, err := s.Services.Cycles.GetByStartDate(user, firstDay); err != nil {
					fail(fmt.Errorf("reader %d: %w", reader, err))
				}
				local = append(local, time.Since(start))
			}
			mu.Lock()
			reads = append(reads, local...)
			mu.Unlock()
		}(i)
	}

	for i := range writers {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(2000 + writer)))
			var local []time.Duration
			for ctx.Err() == nil {
				user, date := s.pick(rng)
				start := time.Now()
				_, err := s.Services.DailyLogs.Save(context.Background(), randomLog(rng, user, date, rng.Intn(5) == 0))
				local = append(local, time.Since(start))
				if err != nil {
					fail(fmt.Errorf("writer %d: %w", writer, err))
				}
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			writes = append(writes, local...)
			mu.Unlock()
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(syncEvery)
		defer ticker.Stop()
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			user := s.Users[n%len(s.Users)]
			start := time.Now()
			res := s.Engine.PerformSync(context.Background(), user)
			elapsed := time.Since(start)
			mu.Lock()
			syncs = append(syncs, elapsed)
			report.Pushed += res.Success
			report.Conflicts += res.Conflicts
			mu.Unlock()
			if res.Err != nil {
				fail(fmt.Errorf("sync %s: %w", user, res.Err))
			}
		}
	}()

	wg.Wait()
	report.Reads = computeLatencyStats(reads)
	report.Writes = computeLatencyStats(writes)
	report.Syncs = computeLatencyStats(syncs)
	return &report, firstErr
}

// Verify checks that local and remote agree after a final sync: every
// user has the same number of logs on both sides and nothing is pending.
func (s *Store) Verify(ctx context.Context) error {
	if _, err := s.SyncAll(ctx); err != nil {
		return fmt.Errorf("final sync failed: %w", err)
	}
	for _, user := range s.Users {
		local := s.Services.DailyLogs.GetAll(user)
		if len(local) != s.Days {
			return fmt.Errorf("%s has %d local logs, want %d", user, len(local), s.Days)
		}
		for _, l := range local {
			if !l.Synced || schema.IsTemporaryID(l.ID) {
				return fmt.Errorf("%s log %s on %s is not synced", user, l.ID, l.Date)
			}
		}
		remoteLogs, err := s.Remote.List(ctx, schema.TableDailyLogs, user)
		if err != nil {
			return err
		}
		if len(remoteLogs) != len(local) {
			return fmt.Errorf("%s has %d remote logs, %d local", user, len(remoteLogs), len(local))
		}
	}
	if err := s.Cache.Flush(ctx); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	n, err := s.DB.Count(ctx, schema.TableDailyLogs)
	if err != nil {
		return err
	}
	if want := len(s.Users) * s.Days; n != want {
		return fmt.Errorf("database holds %d logs, want %d", n, want)
	}
	return nil
}

// pick returns a random user and one of their logged dates.
func (s *Store) pick(rng *rand.Rand) (string, schema.Date) {
	return s.Users[rng.Intn(len(s.Users))], firstDay.AddDays(rng.Intn(s.Days))
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes the statistics under title.
func (s *LatencyStats) Print(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Count:         %d\n", s.Count)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
