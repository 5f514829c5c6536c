package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address     string `yaml:"address"`
		AdminAPIKey string `yaml:"admin_api_key"`
		LockAPIKey  string `yaml:"lock_api_key"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Seam struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"seam"`

	Devices struct {
		// Comma-separated entrance lock ids, order is the issuance order.
		EntranceDeviceIDs string `yaml:"entrance_device_ids"`
	} `yaml:"devices"`

	Inventory struct {
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"inventory"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
	} `yaml:"cleanup"`

	Redis struct {
		Enabled         bool   `yaml:"enabled"`
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Backup BackupConfig `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
		Burst             int `yaml:"burst"`
	} `yaml:"rate_limit"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	LogLevel string `yaml:"log_level"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	IntervalHours int    `yaml:"interval_hours"`
	RetentionDays int    `yaml:"retention_days"`
}

func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/kladovka.db"
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "backups"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// EntranceDeviceIDs returns the configured entrance locks in order,
// trimmed, empty entries dropped.
func (c *Config) EntranceDeviceIDs() []string {
	raw := c.Devices.EntranceDeviceIDs
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Config) CleanupInterval() time.Duration {
	if c.Cleanup.IntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) InventoryWatchInterval() time.Duration {
	if c.Inventory.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Inventory.WatchIntervalSeconds) * time.Second
}

func (c *Config) RequestsPerMinute() int {
	if c.RateLimit.RequestsPerMinute <= 0 {
		return 60
	}
	return c.RateLimit.RequestsPerMinute
}

func (c *Config) RateBurst() int {
	if c.RateLimit.Burst <= 0 {
		return 10
	}
	return c.RateLimit.Burst
}
