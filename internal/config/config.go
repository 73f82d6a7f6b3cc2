// Package config loads engine settings from zedtv.yaml, ZEDTV_* environment
// variables, and an optional .env file, in that order of increasing
// precedence for the environment.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/zedtv/zedtv-catalog/internal/source"
)

type Paths struct {
	DataDir     string `mapstructure:"data_dir"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
	PlaylistDir string `mapstructure:"playlist_dir"`
}

type Fetch struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries" validate:"min:0|max:10"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Pace        float64       `mapstructure:"pace"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	FetchSeries bool          `mapstructure:"fetch_series"`
}

type Accounts struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	SealKey    string        `mapstructure:"seal_key"`
}

type Log struct {
	Level string `mapstructure:"level" validate:"in:debug,info,warn,error"`
}

type Config struct {
	Paths    Paths    `mapstructure:"paths"`
	Fetch    Fetch    `mapstructure:"fetch"`
	Accounts Accounts `mapstructure:"accounts"`
	Log      Log      `mapstructure:"log"`
}

// AccountsPath is the accounts document location.
func (c *Config) AccountsPath() string { return filepath.Join(c.Paths.DataDir, "accounts.json") }

// SessionPath is the session settings file location.
func (c *Config) SessionPath() string { return filepath.Join(c.Paths.DataDir, "settings.json") }

// JournalPath is the refresh journal database location.
func (c *Config) JournalPath() string { return filepath.Join(c.Paths.DataDir, "journal.db") }

// Load reads configuration. file, when non-empty, names an explicit config
// file and must exist; otherwise zedtv.yaml is searched for in the working
// directory and the data dir, and its absence is fine.
func Load(file string) (*Config, error) {
	// .env is a convenience for development; missing is normal.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("zedtv")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The seal key is only ever taken from the environment so it never
	// lands in a config file next to the data it protects.
	_ = v.BindEnv("accounts.seal_key", "ZEDTV_ACCOUNTS_KEY")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("zedtv")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	applyPathDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty path defaults make the keys known to viper so ZEDTV_PATHS_*
	// env overrides are picked up; the real defaults are derived later.
	v.SetDefault("paths.data_dir", "")
	v.SetDefault("paths.snapshot_dir", "")
	v.SetDefault("paths.playlist_dir", "")
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.backoff", 2*time.Second)
	v.SetDefault("fetch.pace", 5.0)
	v.SetDefault("fetch.cache_ttl", time.Minute)
	v.SetDefault("fetch.fetch_series", false)
	v.SetDefault("accounts.stale_after", 24*time.Hour)
	v.SetDefault("log.level", "info")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zedtv"
	}
	return filepath.Join(home, ".zedtv")
}

func applyPathDefaults(cfg *Config) {
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = defaultDataDir()
	}
	if cfg.Paths.SnapshotDir == "" {
		cfg.Paths.SnapshotDir = filepath.Join(cfg.Paths.DataDir, "snapshots")
	}
	if cfg.Paths.PlaylistDir == "" {
		cfg.Paths.PlaylistDir = filepath.Join(cfg.Paths.DataDir, "playlists")
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Fetch.Timeout <= 0 {
		return &source.ValidationError{Field: "fetch.timeout", Msg: "must be positive"}
	}
	if cfg.Fetch.Backoff <= 0 {
		return &source.ValidationError{Field: "fetch.backoff", Msg: "must be positive"}
	}
	if cfg.Accounts.StaleAfter < 0 {
		return &source.ValidationError{Field: "accounts.stale_after", Msg: "must not be negative"}
	}
	if err := validateSection("fetch", cfg.Fetch); err != nil {
		return err
	}
	return validateSection("log", cfg.Log)
}

func validateSection(section string, v any) error {
	vd := validate.Struct(v)
	if vd.Validate() {
		return nil
	}
	for field, msgs := range vd.Errors {
		for _, msg := range msgs {
			return &source.ValidationError{Field: section + "." + strings.ToLower(field), Msg: msg}
		}
	}
	return &source.ValidationError{Field: section, Msg: vd.Errors.One()}
}
