package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Isalang  IsalangConfig  `yaml:"isalang"`
	Alimtalk AlimtalkConfig `yaml:"alimtalk"`
	Push     PushConfig     `yaml:"push"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	CronSecret      string  `yaml:"cron_secret"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MonitorConfig tunes the TO-monitor job.
type MonitorConfig struct {
	Enabled           bool          `yaml:"enabled"`
	IntervalSeconds   int           `yaml:"interval_seconds"`
	Interval          time.Duration `yaml:"-"` // Ignored by YAML parser
	LockTTLSeconds    int           `yaml:"lock_ttl_seconds"`
	LockTTL           time.Duration `yaml:"-"`
	CooldownHours     int           `yaml:"cooldown_hours"`
	Cooldown          time.Duration `yaml:"-"`
	DispatchChunkSize int           `yaml:"dispatch_chunk_size"`
}

// IsalangConfig tunes the upstream portal sync job.
type IsalangConfig struct {
	Enabled         bool              `yaml:"enabled"`
	URL             string            `yaml:"url"`
	ServiceKey      string            `yaml:"service_key"`
	Headers         map[string]string `yaml:"headers"`
	PerPage         int               `yaml:"per_page"`
	RegionBatchSize int               `yaml:"region_batch_size"`
	RegionCodes     map[string]string `yaml:"region_codes"`
	LockTTLSeconds  int               `yaml:"lock_ttl_seconds"`
	LockTTL         time.Duration     `yaml:"-"`
}

// AlimtalkConfig holds the solapi/kakao alimtalk credentials.
type AlimtalkConfig struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	SenderKey       string `yaml:"sender_key"`
	SenderPhone     string `yaml:"sender_phone"`
	VacancyTemplate string `yaml:"vacancy_template"`
	URL             string `yaml:"url"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// BreakerConfig tunes the circuit breakers guarding external calls.
type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	ResetTimeoutSeconds int           `yaml:"reset_timeout_seconds"`
	ResetTimeout        time.Duration `yaml:"-"`
	HalfOpenRequests    int           `yaml:"half_open_requests"`
}

// seoulRegionCodes is the default sync rotation: the 25 Seoul districts.
var seoulRegionCodes = map[string]string{
	"강남구": "11680", "강동구": "11740", "강북구": "11305", "강서구": "11500",
	"관악구": "11620", "광진구": "11215", "구로구": "11530", "금천구": "11545",
	"노원구": "11350", "도봉구": "11320", "동대문구": "11230", "동작구": "11590",
	"마포구": "11440", "서대문구": "11410", "서초구": "11650", "성동구": "11200",
	"성북구": "11290", "송파구": "11710", "양천구": "11470", "영등포구": "11560",
	"용산구": "11170", "은평구": "11380", "종로구": "11110", "중구": "11140",
	"중랑구": "11260",
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.CronSecret == "" {
		cfg.Server.CronSecret = os.Getenv("CRON_SECRET")
	}
	if cfg.Server.CronSecret == "" {
		return nil, fmt.Errorf("cron secret must be configured (server.cron_secret or CRON_SECRET)")
	}

	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 300
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalSeconds) * time.Second

	if cfg.Monitor.LockTTLSeconds <= 0 {
		cfg.Monitor.LockTTLSeconds = 300
	}
	cfg.Monitor.LockTTL = time.Duration(cfg.Monitor.LockTTLSeconds) * time.Second

	if cfg.Monitor.CooldownHours <= 0 {
		cfg.Monitor.CooldownHours = 24
	}
	cfg.Monitor.Cooldown = time.Duration(cfg.Monitor.CooldownHours) * time.Hour

	if cfg.Monitor.DispatchChunkSize <= 0 {
		cfg.Monitor.DispatchChunkSize = 10
	}

	if cfg.Isalang.PerPage <= 0 {
		cfg.Isalang.PerPage = 500
	}
	if cfg.Isalang.RegionBatchSize <= 0 {
		cfg.Isalang.RegionBatchSize = 5
	}
	if len(cfg.Isalang.RegionCodes) == 0 {
		cfg.Isalang.RegionCodes = seoulRegionCodes
	}
	if cfg.Isalang.LockTTLSeconds <= 0 {
		cfg.Isalang.LockTTLSeconds = 300
	}
	cfg.Isalang.LockTTL = time.Duration(cfg.Isalang.LockTTLSeconds) * time.Second

	if cfg.Alimtalk.URL == "" {
		cfg.Alimtalk.URL = "https://api.solapi.com/messages/v4/send"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.ResetTimeoutSeconds <= 0 {
		cfg.Breaker.ResetTimeoutSeconds = 60
	}
	cfg.Breaker.ResetTimeout = time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second
	if cfg.Breaker.HalfOpenRequests <= 0 {
		cfg.Breaker.HalfOpenRequests = 1
	}

	return &cfg, nil
}
