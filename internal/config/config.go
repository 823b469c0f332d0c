// Package config loads lunaria settings from config.toml in the data
// directory, LUNA_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// FileName is the config file inside the data directory.
const FileName = "config.toml"

// EnvPrefix prefixes environment overrides: LUNA_SYNC_FREQUENCY sets
// sync.frequency.
const EnvPrefix = "LUNA"

// Config is the full set of settings.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	UserID  string `mapstructure:"user_id"`

	Store     StoreConfig     `mapstructure:"store"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type StoreConfig struct {
	Driver        string        `mapstructure:"driver"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type RemoteConfig struct {
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

type SyncConfig struct {
	Frequency     string        `mapstructure:"frequency"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// DefaultDataDir returns ~/.lunaria, or .lunaria when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lunaria"
	}
	return filepath.Join(home, ".lunaria")
}

// Path returns the config file path for dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// DBPath returns the database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "luna.db")
}

// Frequency returns the parsed sync frequency.
func (c *Config) Frequency() (schema.Frequency, error) {
	return schema.ParseFrequency(c.Sync.Frequency)
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("user_id", "")
	v.SetDefault("store.driver", db.DriverNcruces)
	v.SetDefault("store.flush_interval", 500*time.Millisecond)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.rate_limit", 10.0)
	v.SetDefault("remote.burst", 20)
	v.SetDefault("sync.frequency", string(schema.DefaultFrequency))
	v.SetDefault("sync.check_interval", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("dashboard.port", 8787)
}

// Default returns the built-in settings for dataDir.
func Default(dataDir string) *Config {
	v := viper.New()
	setDefaults(v, dataDir)
	var c Config
	// Defaults alone always decode.
	_ = v.Unmarshal(&c)
	return &c
}

// FlagKeys maps flag names to config keys for Load.
var FlagKeys = map[string]string{
	"user":      "user_id",
	"driver":    "store.driver",
	"remote":    "remote.url",
	"token":     "remote.token",
	"frequency": "sync.frequency",
	"log-level": "log.level",
	"log-file":  "log.file",
	"port":      "dashboard.port",
}

// Load reads the config for dataDir. A missing config file is not an error.
// Flags in fs that were set on the command line and appear in FlagKeys
// override everything else; fs may be nil.
func Load(dataDir string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, dataDir)

	v.SetConfigFile(Path(dataDir))
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", Path(dataDir), err)
	}

	if fs != nil {
		for name, key := range FlagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// The data dir is where the file was found, not something it can move.
	c.DataDir = dataDir
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// LoadFrequency re-reads only the sync frequency, for live reloads.
func LoadFrequency(dataDir string) (schema.Frequency, error) {
	c, err := Load(dataDir, nil)
	if err != nil {
		return "", err
	}
	return c.Frequency()
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	if _, err := c.Frequency(); err != nil {
		return fmt.Errorf("sync.frequency: %w", err)
	}
	switch c.Store.Driver {
	case db.DriverNcruces, db.DriverModernc, db.DriverLibSQL:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote.url: %q is not an http(s) URL", c.Remote.URL)
		}
	}
	if c.Store.FlushInterval <= 0 {
		return fmt.Errorf("store.flush_interval must be positive")
	}
	if c.Sync.CheckInterval <= 0 {
		return fmt.Errorf("sync.check_interval must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}

// fileLayout is the TOML document written by Write. Durations are kept as
// strings so the file reads "15s" rather than nanoseconds.
type fileLayout struct {
	UserID    string        `toml:"user_id"`
	Store     fileStore     `toml:"store"`
	Remote    fileRemote    `toml:"remote"`
	Sync      fileSync      `toml:"sync"`
	Log       fileLog       `toml:"log"`
	Dashboard fileDashboard `toml:"dashboard"`
}

type fileStore struct {
	Driver        string `toml:"driver"`
	FlushInterval string `toml:"flush_interval"`
}

type fileRemote struct {
	URL       string  `toml:"url"`
	Token     string  `toml:"token"`
	Timeout   string  `toml:"timeout"`
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

type fileSync struct {
	Frequency     string `toml:"frequency"`
	CheckInterval string `toml:"check_interval"`
}

type fileLog struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type fileDashboard struct {
	Port int `toml:"port"`
}

// Write saves c to the data directory's config file. The file holds the
// remote token, so it is only readable by the owner.
func Write(c *Config) error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	doc := fileLayout{
		UserID: c.UserID,
		Store:  fileStore{Driver: c.Store.Driver, FlushInterval: c.Store.FlushInterval.String()},
		Remote: fileRemote{
			URL: c.Remote.URL, Token: c.Remote.Token, Timeout: c.Remote.Timeout.String(),
			RateLimit: c.Remote.RateLimit, Burst: c.Remote.Burst,
		},
		Sync: fileSync{Frequency: c.Sync.Frequency, CheckInterval: c.Sync.CheckInterval.String()},
		Log: fileLog{
			Level: c.Log.Level, File: c.Log.File,
			MaxSizeMB: c.Log.MaxSizeMB, MaxBackups: c.Log.MaxBackups, MaxAgeDays: c.Log.MaxAgeDays,
		},
		Dashboard: fileDashboard{Port: c.Dashboard.Port},
	}

	path := Path(c.DataDir)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
