// Command luna is the command-line front end of the offline cycle tracker:
// it records profiles, daily logs and cycles locally and syncs them with
// the remote authority when asked or when due.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lunaria-app/lunaria/internal/config"
	"github.com/lunaria-app/lunaria/internal/lockfile"
	"github.com/lunaria-app/lunaria/internal/logging"
	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/records"
	"github.com/lunaria-app/lunaria/internal/offline/remote"
	offsync "github.com/lunaria-app/lunaria/internal/offline/sync"
)

var (
	dataDir string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "luna",
	Short: "Offline-first cycle tracking",
	Long: `luna keeps your cycle data on this device and syncs it with the
server when you choose, or on the schedule set by 'luna frequency'.

Everything works offline. Changes are queued and pushed on the next sync.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(dataDir, cmd.Flags())
		if err != nil {
			return err
		}
		logger, logCloser, err = logging.New(os.Stderr, logging.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "track", Title: "Tracking:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "Directory holding the database and config.toml")
	pf.String("user", "", "User id (default: from config or the auth token)")
	pf.String("driver", "", "SQLite driver: sqlite3, sqlite or libsql")
	pf.String("remote", "", "Base URL of the sync server")
	pf.String("token", "", "Auth token for the sync server")
	pf.String("frequency", "", "Sync frequency: daily, weekly or monthly")
	pf.String("log-level", "", "Log level: debug, info, warn or error")
	pf.String("log-file", "", "Also write JSON logs to this rotating file")
	pf.Int("port", 0, "Dashboard port")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is an open data directory: store, cache, queue, services and engine.
type app struct {
	lock     *lockfile.Lock
	db       *db.DB
	cache    *cache.Cache
	queue    *queue.Queue
	services *records.Services
	engine   *offsync.Engine
	remote   remote.Authority
}

// openApp locks the data directory and loads the store. With online set
// the remote client is configured too, and a missing remote is an error.
func openApp(ctx context.Context, online bool) (*app, error) {
	lock, err := lockfile.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a := &app{lock: lock}

	a.db, err = db.Open(cfg.DBPath(), db.Options{Driver: cfg.Store.Driver, Logger: logger})
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.db.InitSchemaContext(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.cache = cache.New(a.db, cache.Options{FlushInterval: cfg.Store.FlushInterval, Logger: logger})
	if err := a.cache.Load(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.queue = queue.New(a.cache, nil)
	a.services = records.NewServices(a.cache, a.queue, records.Options{Logger: logger})

	if online {
		a.remote, err = newRemote()
		if err != nil {
			a.close()
			return nil, err
		}
	} else {
		a.remote = offline{}
	}
	a.engine = offsync.New(a.cache, a.queue, a.remote, offsync.Options{Logger: logger})

	// config.toml is the source of truth for the schedule.
	if f, err := cfg.Frequency(); err == nil && f != a.engine.Frequency() {
		if err := a.engine.SetFrequency(f); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Error("failed to flush changes", "error", err)
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.lock.Release()
}

func newRemote() (*remote.HTTPClient, error) {
	if cfg.Remote.URL == "" {
		return nil, errors.New("no sync server configured (set remote.url or --remote)")
	}
	return remote.NewHTTPClient(cfg.Remote.URL, remote.HTTPOptions{
		Token:     cfg.Remote.Token,
		Timeout:   cfg.Remote.Timeout,
		RateLimit: cfg.Remote.RateLimit,
		Burst:     cfg.Remote.Burst,
		Logger:    logger,
	})
}

// offline stands in for the authority in commands that never sync.
type offline struct{}

var errOffline = fmt.Errorf("%w: command runs offline", remote.ErrTransient)

func (offline) Create(context.Context, string, []byte) (remote.Record, error) {
	return remote.Record{}, errOffline
}

func (offline) Update(context.Context, string, string, []byte) (remote.Record, error) {
	return remote.Record{}, errOffline
}

func (offline) Delete(context.Context, string, string) error { return errOffline }

func (offline) List(context.Context, string, string) ([]remote.Record, error) {
	return nil, errOffline
}

// userID returns the configured user, falling back to the auth token.
func userID() (string, error) {
	if cfg.UserID != "" {
		return cfg.UserID, nil
	}
	if cfg.Remote.Token != "" {
		id, err := remote.UserIDFromToken(cfg.Remote.Token)
		if err != nil {
			return "", err
		}
		return id, nil
	}
	return "", errors.New("no user configured (run 'luna init --user <id>' or pass --user)")
}

// mustOpen opens the app and resolves the user, exiting on failure.
func mustOpen(ctx context.Context, online bool) (*app, string) {
	user, err := userID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	a, err := openApp(ctx, online)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening data directory: %v\n", err)
		os.Exit(1)
	}
	return a, user
}

func fail(a *app, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if a != nil {
		a.close()
	}
	os.Exit(1)
}
