package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP application
	App AppConfig `mapstructure:"app"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Link policy
	Links LinksConfig `mapstructure:"links"`

	// Creation rate limit
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type AppConfig struct {
	Env         string `mapstructure:"env"`
	ListenAddr  string `mapstructure:"listen_addr"`
	BaseURL     string `mapstructure:"base_url"`
	FrontendURL string `mapstructure:"frontend_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	GrantSecret string `mapstructure:"grant_secret"`
	CORSOrigin  string `mapstructure:"cors_origin"`
}

// Production reports whether the service runs with production settings.
func (c AppConfig) Production() bool {
	return c.Env == "production"
}

type PostgresConfig struct {
	Host              string        `mapstructure:"host"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	Port              int           `mapstructure:"port"`
	SSLMode           string        `mapstructure:"sslmode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   string        `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string        `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string        `mapstructure:"health_check_period"`
	OpTimeout         time.Duration `mapstructure:"op_timeout"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
}

type RedisConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	OpTimeout  time.Duration `mapstructure:"op_timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Port           int    `mapstructure:"port"`
	Retention      string `mapstructure:"retention"`
	ScrapeInterval string `mapstructure:"scrape_interval"`
	Target         string `mapstructure:"target"`
}

type LinksConfig struct {
	KeyBytes          int           `mapstructure:"key_bytes"`
	DefaultExpireDays int           `mapstructure:"default_expire_days"`
	MinPasswordLength int           `mapstructure:"min_password_length"`
	CacheTTLCeiling   time.Duration `mapstructure:"cache_ttl_ceiling"`
	DebounceWindow    time.Duration `mapstructure:"debounce_window"`
	RecentIPLimit     int           `mapstructure:"recent_ip_limit"`
	Timezone          string        `mapstructure:"timezone"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	PrivateAccess     string        `mapstructure:"private_access"`
	HandshakeGrantTTL time.Duration `mapstructure:"handshake_grant_ttl"`
}

type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Links.PrivateAccess != "owner" && c.Links.PrivateAccess != "handshake" {
		return fmt.Errorf("config: links.private_access must be owner or handshake, got %q", c.Links.PrivateAccess)
	}
	if c.Links.KeyBytes <= 0 {
		return fmt.Errorf("config: links.key_bytes must be positive")
	}
	if c.App.Production() && c.App.JWTSecret == "" {
		return fmt.Errorf("config: app.jwt_secret is required in production")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.listen_addr", ":8080")
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.frontend_url", "http://localhost:5173")
	v.SetDefault("app.cors_origin", "http://localhost:5173")

	v.SetDefault("postgres.op_timeout", 3*time.Second)
	v.SetDefault("postgres.connect_retries", 3)

	v.SetDefault("redis.op_timeout", 200*time.Millisecond)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("links.key_bytes", 3)
	v.SetDefault("links.default_expire_days", 7)
	v.SetDefault("links.min_password_length", 6)
	v.SetDefault("links.cache_ttl_ceiling", time.Hour)
	v.SetDefault("links.debounce_window", 5*time.Second)
	v.SetDefault("links.recent_ip_limit", 10)
	v.SetDefault("links.timezone", "America/Sao_Paulo")
	v.SetDefault("links.sweep_interval", 10*time.Minute)
	v.SetDefault("links.private_access", "owner")
	v.SetDefault("links.handshake_grant_ttl", time.Minute)

	v.SetDefault("rate_limit.max_requests", 30)
	v.SetDefault("rate_limit.window", time.Minute)
}

func bindEnvVars(v *viper.Viper) {
	// Application
	v.BindEnv("app.env", "APP_ENV")
	v.BindEnv("app.listen_addr", "LISTEN_ADDR")
	v.BindEnv("app.base_url", "BASE_URL")
	v.BindEnv("app.frontend_url", "BASE_URL_FRONTEND")
	v.BindEnv("app.jwt_secret", "JWT_SECRET")
	v.BindEnv("app.grant_secret", "GRANT_SECRET")
	v.BindEnv("app.cors_origin", "CORS_ORIGIN")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.enabled", "NATS_ENABLED")
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
	v.BindEnv("prometheus.retention", "PROM_RETENTION")
	v.BindEnv("prometheus.scrape_interval", "PROM_SCRAPE_INTERVAL")
	v.BindEnv("prometheus.target", "PROM_TARGET")
}
