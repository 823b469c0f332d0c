// Package daemon runs sync passes on a schedule for one user.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - Daemon: asks the engine whether a pass is due on every tick, on
//     Foreground (app resumed) and on Trigger (user asked, always runs)
//   - ConfigWatcher: watches config.toml with fsnotify and reloads the sync
//     frequency when it changes
//
// Passes never overlap. Requests arriving while a pass runs are merged into
// a single follow-up pass, and a forced request upgrades a waiting one.
//
// # Usage
//
//	d, err := daemon.New(engine, &daemon.Config{
//	    UserID:        "u1",
//	    CheckInterval: time.Minute,
//	    ConfigPath:    config.Path(dataDir),
//	    LoadFrequency: func() (schema.Frequency, error) {
//	        return config.LoadFrequency(dataDir)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// A frequency edit in config.toml is picked up after DebounceInterval and
// immediately followed by a due check, so shortening the interval can start
// a pass right away.
package daemon
