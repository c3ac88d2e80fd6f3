package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pushguard/src/internal/guard"
	"pushguard/src/internal/intercept"
)

type Config struct {
	Server     ServerConfig    `mapstructure:"server" json:"server"`
	Backend    BackendConfig   `mapstructure:"backend" json:"backend"`
	StorageDir string          `mapstructure:"storage_dir" json:"storage_dir"`
	Intercept  InterceptConfig `mapstructure:"intercept" json:"intercept"`
	Guard      guard.Options   `mapstructure:"guard" json:"guard"`
	Client     ClientConfig    `mapstructure:"client" json:"client"`
	Refresh    RefreshConfig   `mapstructure:"refresh" json:"refresh"`
	Journal    JournalConfig   `mapstructure:"journal" json:"journal"`
	Debug      bool            `mapstructure:"debug" json:"debug"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr" json:"addr"`
	StaticDir     string `mapstructure:"static_dir" json:"static_dir"`
	EffectiveHost string `mapstructure:"-" json:"effectiveHost"`
	Port          int    `mapstructure:"-" json:"port"`
}

type BackendConfig struct {
	BaseURL  string        `mapstructure:"base_url" json:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
	Username string        `mapstructure:"username" json:"username"`
	Password string        `mapstructure:"password" json:"password,omitempty"`
}

type InterceptConfig struct {
	ListingMarker   string `mapstructure:"listing_marker" json:"listing_marker"`
	MaxCaptureBytes int64  `mapstructure:"max_capture_bytes" json:"max_capture_bytes"`
}

type ClientConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second" json:"rate_per_second"`
	Burst         int     `mapstructure:"burst" json:"burst"`
}

type RefreshConfig struct {
	Spec string `mapstructure:"spec" json:"spec"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

func setDefaults(v *viper.Viper, appDir string) {
	g := guard.DefaultOptions()
	v.SetDefault("server.addr", "0.0.0.0:5173")
	v.SetDefault("server.static_dir", "./dist")
	v.SetDefault("backend.base_url", "http://127.0.0.1:8080")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("storage_dir", appDir)
	v.SetDefault("intercept.listing_marker", intercept.DefaultListingMarker)
	v.SetDefault("intercept.max_capture_bytes", intercept.DefaultMaxCapture)
	v.SetDefault("guard.settle_delay", g.SettleDelay)
	v.SetDefault("guard.retry_delay", g.RetryDelay)
	v.SetDefault("guard.vocabulary.delete_text", g.Vocabulary.DeleteText)
	v.SetDefault("guard.vocabulary.delete_class", g.Vocabulary.DeleteClass)
	v.SetDefault("guard.vocabulary.edit_text", g.Vocabulary.EditText)
	v.SetDefault("guard.vocabulary.edit_class", g.Vocabulary.EditClass)
	v.SetDefault("guard.delete_message", g.DeleteMessage)
	v.SetDefault("guard.edit_message", g.EditMessage)
	v.SetDefault("client.rate_per_second", 5.0)
	v.SetDefault("client.burst", 10)
	v.SetDefault("refresh.spec", "@every 30s")
	v.SetDefault("journal.enabled", true)
}

// Load reads the config file (override, or config.yaml in the app
// directory) and applies defaults and environment overrides.
func Load(override string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	appDir := filepath.Join(home, ".pushguard")
	if envDir := os.Getenv("PUSHGUARD_STORAGE_DIR"); envDir != "" {
		appDir = envDir
	}
	if _, err := os.Stat(appDir); os.IsNotExist(err) {
		_ = os.MkdirAll(appDir, 0755)
	}

	v := viper.New()
	setDefaults(v, appDir)
	v.SetEnvPrefix("PUSHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if override != "" {
		v.SetConfigFile(override)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(appDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.finish(home); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) finish(home string) error {
	host, portStr, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("invalid server.addr %q: %w", cfg.Server.Addr, err)
	}
	cfg.Server.EffectiveHost = host
	if cfg.Server.EffectiveHost == "" {
		cfg.Server.EffectiveHost = "0.0.0.0"
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q in server.addr %q: %w", portStr, cfg.Server.Addr, err)
	}
	cfg.Server.Port = p

	if strings.HasPrefix(cfg.StorageDir, "~/") {
		cfg.StorageDir = filepath.Join(home, cfg.StorageDir[2:])
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(cfg.StorageDir, "journal.db")
	}

	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}

	// $VAR placeholders are resolved from the environment
	if strings.HasPrefix(cfg.Backend.Password, "$") {
		cfg.Backend.Password = os.Getenv(strings.TrimPrefix(cfg.Backend.Password, "$"))
	}
	return nil
}

// Save writes cfg back to config.yaml in its storage directory.
func Save(cfg *Config) error {
	if _, err := os.Stat(cfg.StorageDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
			return err
		}
	}

	v := viper.New()
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.static_dir", cfg.Server.StaticDir)
	v.Set("backend.base_url", cfg.Backend.BaseURL)
	v.Set("backend.timeout", cfg.Backend.Timeout.String())
	v.Set("backend.username", cfg.Backend.Username)
	v.Set("storage_dir", cfg.StorageDir)
	v.Set("intercept.listing_marker", cfg.Intercept.ListingMarker)
	v.Set("intercept.max_capture_bytes", cfg.Intercept.MaxCaptureBytes)
	v.Set("guard.settle_delay", cfg.Guard.SettleDelay.String())
	v.Set("guard.retry_delay", cfg.Guard.RetryDelay.String())
	v.Set("guard.vocabulary.delete_text", cfg.Guard.Vocabulary.DeleteText)
	v.Set("guard.vocabulary.delete_class", cfg.Guard.Vocabulary.DeleteClass)
	v.Set("guard.vocabulary.edit_text", cfg.Guard.Vocabulary.EditText)
	v.Set("guard.vocabulary.edit_class", cfg.Guard.Vocabulary.EditClass)
	v.Set("guard.delete_message", cfg.Guard.DeleteMessage)
	v.Set("guard.edit_message", cfg.Guard.EditMessage)
	v.Set("client.rate_per_second", cfg.Client.RatePerSecond)
	v.Set("client.burst", cfg.Client.Burst)
	v.Set("refresh.spec", cfg.Refresh.Spec)
	v.Set("journal.enabled", cfg.Journal.Enabled)
	v.Set("journal.path", cfg.Journal.Path)

	configPath := filepath.Join(cfg.StorageDir, "config.yaml")
	v.SetConfigType("yaml")
	return v.WriteConfigAs(configPath)
}
