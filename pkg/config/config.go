package config

import (
	"fmt"
	"os"
	"time"

	"coachmeet/pkg/utils"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Signal struct {
		URL          string        `yaml:"url"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Join struct {
		Timeout         time.Duration `yaml:"timeout"`
		DeferDelay      time.Duration `yaml:"defer_delay"`
		MaxRetries      int           `yaml:"max_retries"`
		RetryDelay      time.Duration `yaml:"retry_delay"`
		ErrorRetryDelay time.Duration `yaml:"error_retry_delay"`
		ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	} `yaml:"join"`

	Media struct {
		SettleDelay     time.Duration `yaml:"settle_delay"`
		DefaultMicOn    bool          `yaml:"default_mic_on"`
		DefaultWebcamOn bool          `yaml:"default_webcam_on"`
		BindRetries     int           `yaml:"bind_retries"`
		BindRetryDelay  time.Duration `yaml:"bind_retry_delay"`
	} `yaml:"media"`

	ScreenShare struct {
		ErrorClearDelay   time.Duration `yaml:"error_clear_delay"`
		DeniedHintDelay   time.Duration `yaml:"denied_hint_delay"`
		ViewerLoadRetries int           `yaml:"viewer_load_retries"`
	} `yaml:"screenshare"`

	Chat struct {
		EchoWindow        time.Duration `yaml:"echo_window"`
		DuplicateWindow   time.Duration `yaml:"duplicate_window"`
		StoreDedupWindow  time.Duration `yaml:"store_dedup_window"`
		HistoryLimit      int           `yaml:"history_limit"`
		MessagesPerSecond float64       `yaml:"messages_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"chat"`

	Store struct {
		// Backend is one of "none", "memory", "redis", "sqlite". Unreachable
		// backends fall back to memory.
		Backend    string `yaml:"backend"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		Leeway    time.Duration `yaml:"leeway"`
	} `yaml:"auth"`

	Monitoring struct {
		DiagnosticsEnabled bool   `yaml:"diagnostics_enabled"`
		DiagnosticsAddress string `yaml:"diagnostics_address"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signal.URL = "ws://localhost:8081/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.DialTimeout = 10 * time.Second

	cfg.Join.Timeout = 15 * time.Second
	cfg.Join.DeferDelay = 500 * time.Millisecond
	cfg.Join.MaxRetries = 2
	cfg.Join.RetryDelay = 2 * time.Second
	cfg.Join.ErrorRetryDelay = 3 * time.Second
	cfg.Join.ReconnectDelay = 3 * time.Second

	cfg.Media.SettleDelay = 100 * time.Millisecond
	cfg.Media.DefaultMicOn = false
	cfg.Media.DefaultWebcamOn = false
	cfg.Media.BindRetries = 3
	cfg.Media.BindRetryDelay = 300 * time.Millisecond

	cfg.ScreenShare.ErrorClearDelay = 5 * time.Second
	cfg.ScreenShare.DeniedHintDelay = 3 * time.Second
	cfg.ScreenShare.ViewerLoadRetries = 3

	cfg.Chat.EchoWindow = time.Second
	cfg.Chat.DuplicateWindow = 2 * time.Second
	cfg.Chat.StoreDedupWindow = 5 * time.Second
	cfg.Chat.HistoryLimit = 100
	cfg.Chat.MessagesPerSecond = 5
	cfg.Chat.Burst = 10

	cfg.Store.Backend = "none"
	cfg.Store.SQLitePath = "coachmeet.db"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Leeway = time.Minute

	cfg.Monitoring.DiagnosticsEnabled = false
	cfg.Monitoring.DiagnosticsAddress = ":9091"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COACHMEET_SIGNAL_URL"); v != "" {
		c.Signal.URL = v
	}
	if v := os.Getenv("COACHMEET_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("COACHMEET_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("COACHMEET_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("COACHMEET_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("COACHMEET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COACHMEET_JOIN_TIMEOUT"); v != "" {
		c.Join.Timeout = utils.ParseDurationSafe(v, c.Join.Timeout)
	}
	if v := os.Getenv("COACHMEET_RECONNECT_DELAY"); v != "" {
		c.Join.ReconnectDelay = utils.ParseDurationSafe(v, c.Join.ReconnectDelay)
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}

	if c.Join.Timeout <= 0 {
		return fmt.Errorf("join.timeout must be > 0")
	}
	if c.Join.MaxRetries < 0 {
		return fmt.Errorf("join.max_retries must be >= 0")
	}
	if c.Join.DeferDelay < 0 || c.Join.RetryDelay < 0 || c.Join.ErrorRetryDelay < 0 || c.Join.ReconnectDelay < 0 {
		return fmt.Errorf("join delays must be >= 0")
	}

	if c.Media.BindRetries < 0 {
		return fmt.Errorf("media.bind_retries must be >= 0")
	}

	if c.Chat.EchoWindow <= 0 || c.Chat.DuplicateWindow <= 0 || c.Chat.StoreDedupWindow <= 0 {
		return fmt.Errorf("chat dedup windows must be > 0")
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit must be >= 0")
	}
	if c.Chat.MessagesPerSecond <= 0 || c.Chat.Burst <= 0 {
		return fmt.Errorf("chat rate limit must be > 0")
	}

	switch c.Store.Backend {
	case "none", "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("store.backend must be one of none, memory, redis, sqlite")
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlite_path must not be empty for sqlite backend")
	}
	if c.Store.Backend == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty for redis backend")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
	}

	return nil
}
