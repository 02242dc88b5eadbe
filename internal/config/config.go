package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the host and sample-extension configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Extension ExtensionConfig `toml:"extension"`
	Feed      FeedConfig      `toml:"feed"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`

	// TickInterval is how often the host dispatches SystemTick
	TickInterval Duration `toml:"tick_interval"`

	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type ExtensionConfig struct {
	ID            string `toml:"id"`
	ManifestPath  string `toml:"manifest_path"`
	WatchManifest bool   `toml:"watch_manifest"`
}

type FeedConfig struct {
	Endpoint       string   `toml:"endpoint"`
	APIKey         string   `toml:"api_key"`
	UpdateInterval Duration `toml:"update_interval"`
	Limit          int      `toml:"limit"`
	MaxImageWidth  int      `toml:"max_image_width"`

	// RequestsPerMinute caps calls to the remote API; 0 disables the cap
	RequestsPerMinute int `toml:"requests_per_minute"`
}

type RateLimitConfig struct {
	RequestsPerHour int `toml:"requests_per_hour"`
	Burst           int `toml:"burst"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Dir    string `toml:"dir"`
}

// Duration decodes TOML strings such as "15m"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			TickInterval:    Duration{5 * time.Minute},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Extension: ExtensionConfig{
			ID:            "topstories@newtab-sections",
			ManifestPath:  "./extension/manifest.json",
			WatchManifest: true,
		},
		Feed: FeedConfig{
			Endpoint:          "https://api.nytimes.com/svc/topstories/v2/home.json",
			UpdateInterval:    Duration{15 * time.Minute},
			Limit:             20,
			MaxImageWidth:     300,
			RequestsPerMinute: 10,
		},
		RateLimit: RateLimitConfig{
			RequestsPerHour: 600,
			Burst:           30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads defaults, then the TOML file at path (a missing file is not an
// error), then environment overrides
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("NEWTAB_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("NEWTAB_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("NEWTAB_TICK_INTERVAL: %w", err)
		}
		cfg.Server.TickInterval = Duration{d}
	}
	if v := os.Getenv("NEWTAB_EXTENSION_ID"); v != "" {
		cfg.Extension.ID = v
	}
	if v := os.Getenv("NEWTAB_MANIFEST"); v != "" {
		cfg.Extension.ManifestPath = v
	}
	if v := os.Getenv("NEWTAB_FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := os.Getenv("NYT_API_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("NEWTAB_RATE_LIMIT_PER_HOUR"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NEWTAB_RATE_LIMIT_PER_HOUR: %w", err)
		}
		cfg.RateLimit.RequestsPerHour = n
	}
	if v := os.Getenv("NEWTAB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NEWTAB_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	return nil
}

// Validate rejects values the server cannot run with
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.TickInterval.Duration <= 0 {
		return fmt.Errorf("server.tick_interval must be positive")
	}
	if c.Extension.ID == "" {
		return fmt.Errorf("extension.id is required")
	}
	if c.Feed.UpdateInterval.Duration <= 0 {
		return fmt.Errorf("feed.update_interval must be positive")
	}
	if c.RateLimit.RequestsPerHour <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	return nil
}
