package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	State      StateConfig
	HTTP       HTTPConfig
	Swagger    SwaggerConfig
	Resilience ResilienceConfig
	Scheduler  SchedulerConfig
	Polling    PollingConfig
	DeadLetter DeadLetterConfig
	Dedup      DedupConfig
	Event      EventConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
	Metrics    MetricsConfig
	Admin      AdminConfig
	Catalog    CatalogConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StateConfig selects where limiter and breaker state lives
type StateConfig struct {
	Backend               string // memory, redis
	KeyPrefix             string
	TTL                   time.Duration
	AllowInMemoryFallback bool
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	RequestTimeout time.Duration
	// Ingress token bucket per marketplace and client IP
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
	TrustedProxies   []string
}

// SwaggerConfig holds API documentation endpoint configuration
type SwaggerConfig struct {
	Enabled     bool     // Serve /swagger
	RequireAuth bool     // Require an operator token
	AllowedIPs  []string // IP whitelist, CIDR allowed; empty allows all
}

// ResilienceConfig holds rate limiter, breaker and retry defaults
type ResilienceConfig struct {
	ThrottleThreshold   float64
	MaxThrottleDelay    time.Duration
	PacingThreshold     float64
	Base429Backoff      time.Duration
	Max429Backoff       time.Duration
	FailureThreshold    int
	SuccessThreshold    int
	Cooldown            time.Duration
	HalfOpenMaxRequests int
	MaxRetries          int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	CallTimeout         time.Duration
	BatchConcurrency    int
}

// SchedulerConfig holds job scheduler configuration
type SchedulerConfig struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	PollInterval   time.Duration
	ClaimBatchSize int
	JobTimeout     time.Duration
	JobMaxAttempts int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// PollingConfig holds adaptive polling configuration
type PollingConfig struct {
	Enabled         bool
	TickInterval    time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	DefaultInterval time.Duration
}

// DeadLetterConfig holds dead-letter queue configuration
type DeadLetterConfig struct {
	Retention       time.Duration
	BulkBatchSize   int
	BulkPause       time.Duration
	CleanupEnabled  bool
	CleanupInterval time.Duration
}

// DedupConfig holds webhook dedup configuration
type DedupConfig struct {
	TTL           time.Duration
	KeyPrefix     string
	SweepInterval time.Duration // in-memory store only
}

// EventConfig holds async sale event consumer configuration
type EventConfig struct {
	ConsumerWorkers int
	BufferSize      int
}

// StorageConfig holds dead-letter archive settings
type StorageConfig struct {
	ArchiveEnabled  bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool    // Enable database query tracing (otelgorm)
	Profiling         ProfilingConfig
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string // e.g. http://pyroscope:4040
	BasicAuthUser     string
	BasicAuthPassword string
	// SpanProfiles links CPU profiles to trace spans; needs telemetry.enabled
	SpanProfiles  bool
	MutexAndBlock bool // contention profiles for the fan-out and job workers
}

// MetricsConfig holds Prometheus scrape endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// AdminConfig holds operator API authentication settings
type AdminConfig struct {
	JWTSecret string
	Issuer    string
}

// CatalogConfig points at the marketplace catalog file
type CatalogConfig struct {
	Path string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CROSSLIST_ prefix (e.g., CROSSLIST_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file; an empty path searches
// the working directory and /app for config.toml
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CROSSLIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		State: StateConfig{
			Backend:               v.GetString("state.backend"),
			KeyPrefix:             v.GetString("state.key_prefix"),
			TTL:                   v.GetDuration("state.ttl"),
			AllowInMemoryFallback: v.GetBool("state.allow_in_memory_fallback"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			RequestTimeout:   v.GetDuration("http.request_timeout"),
			RateLimitEnabled: v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:     v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:   v.GetInt("http.rate_limit_burst"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Swagger: SwaggerConfig{
			Enabled:     v.GetBool("swagger.enabled"),
			RequireAuth: v.GetBool("swagger.require_auth"),
			AllowedIPs:  v.GetStringSlice("swagger.allowed_ips"),
		},
		Resilience: ResilienceConfig{
			ThrottleThreshold:   v.GetFloat64("resilience.throttle_threshold"),
			MaxThrottleDelay:    v.GetDuration("resilience.max_throttle_delay"),
			PacingThreshold:     v.GetFloat64("resilience.pacing_threshold"),
			Base429Backoff:      v.GetDuration("resilience.base_429_backoff"),
			Max429Backoff:       v.GetDuration("resilience.max_429_backoff"),
			FailureThreshold:    v.GetInt("resilience.failure_threshold"),
			SuccessThreshold:    v.GetInt("resilience.success_threshold"),
			Cooldown:            v.GetDuration("resilience.cooldown"),
			HalfOpenMaxRequests: v.GetInt("resilience.half_open_max_requests"),
			MaxRetries:          v.GetInt("resilience.max_retries"),
			RetryBaseDelay:      v.GetDuration("resilience.retry_base_delay"),
			RetryMaxDelay:       v.GetDuration("resilience.retry_max_delay"),
			CallTimeout:         v.GetDuration("resilience.call_timeout"),
			BatchConcurrency:    v.GetInt("resilience.batch_concurrency"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			Workers:        v.GetInt("scheduler.workers"),
			QueueSize:      v.GetInt("scheduler.queue_size"),
			PollInterval:   v.GetDuration("scheduler.poll_interval"),
			ClaimBatchSize: v.GetInt("scheduler.claim_batch_size"),
			JobTimeout:     v.GetDuration("scheduler.job_timeout"),
			JobMaxAttempts: v.GetInt("scheduler.job_max_attempts"),
			RetryBaseDelay: v.GetDuration("scheduler.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("scheduler.retry_max_delay"),
		},
		Polling: PollingConfig{
			Enabled:         v.GetBool("polling.enabled"),
			TickInterval:    v.GetDuration("polling.tick_interval"),
			MinInterval:     v.GetDuration("polling.min_interval"),
			MaxInterval:     v.GetDuration("polling.max_interval"),
			DefaultInterval: v.GetDuration("polling.default_interval"),
		},
		DeadLetter: DeadLetterConfig{
			Retention:       v.GetDuration("deadletter.retention"),
			BulkBatchSize:   v.GetInt("deadletter.bulk_batch_size"),
			BulkPause:       v.GetDuration("deadletter.bulk_pause"),
			CleanupEnabled:  v.GetBool("deadletter.cleanup_enabled"),
			CleanupInterval: v.GetDuration("deadletter.cleanup_interval"),
		},
		Dedup: DedupConfig{
			TTL:           v.GetDuration("dedup.ttl"),
			KeyPrefix:     v.GetString("dedup.key_prefix"),
			SweepInterval: v.GetDuration("dedup.sweep_interval"),
		},
		Event: EventConfig{
			ConsumerWorkers: v.GetInt("event.consumer_workers"),
			BufferSize:      v.GetInt("event.buffer_size"),
		},
		Storage: StorageConfig{
			ArchiveEnabled:  v.GetBool("storage.archive_enabled"),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			Prefix:          v.GetString("storage.prefix"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			Profiling: ProfilingConfig{
				Enabled:           v.GetBool("telemetry.profiling.enabled"),
				ServerAddress:     v.GetString("telemetry.profiling.server_address"),
				BasicAuthUser:     v.GetString("telemetry.profiling.basic_auth_user"),
				BasicAuthPassword: v.GetString("telemetry.profiling.basic_auth_password"),
				SpanProfiles:      v.GetBool("telemetry.profiling.span_profiles"),
				MutexAndBlock:     v.GetBool("telemetry.profiling.mutex_and_block"),
			},
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
		Admin: AdminConfig{
			JWTSecret: v.GetString("admin.jwt_secret"),
			Issuer:    v.GetString("admin.issuer"),
		},
		Catalog: CatalogConfig{
			Path: v.GetString("catalog.path"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "crosslist"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "crosslist"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "crosslist.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "memory"
	}
	if cfg.State.KeyPrefix == "" {
		cfg.State.KeyPrefix = "crosslist:state:"
	}
	if cfg.State.TTL == 0 {
		cfg.State.TTL = 48 * time.Hour
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 2 << 20 // 2MB
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 20
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 40
	}

	r := &cfg.Resilience
	if r.ThrottleThreshold == 0 {
		r.ThrottleThreshold = 0.8
	}
	if r.MaxThrottleDelay == 0 {
		r.MaxThrottleDelay = 30 * time.Second
	}
	if r.PacingThreshold == 0 {
		r.PacingThreshold = 0.5
	}
	if r.Base429Backoff == 0 {
		r.Base429Backoff = 5 * time.Second
	}
	if r.Max429Backoff == 0 {
		r.Max429Backoff = 15 * time.Minute
	}
	if r.FailureThreshold == 0 {
		r.FailureThreshold = 5
	}
	if r.SuccessThreshold == 0 {
		r.SuccessThreshold = 2
	}
	if r.Cooldown == 0 {
		r.Cooldown = 60 * time.Second
	}
	if r.HalfOpenMaxRequests == 0 {
		r.HalfOpenMaxRequests = 1
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.RetryBaseDelay == 0 {
		r.RetryBaseDelay = time.Second
	}
	if r.RetryMaxDelay == 0 {
		r.RetryMaxDelay = 5 * time.Minute
	}
	if r.CallTimeout == 0 {
		r.CallTimeout = 30 * time.Second
	}
	if r.BatchConcurrency == 0 {
		r.BatchConcurrency = 2
	}

	s := &cfg.Scheduler
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.QueueSize == 0 {
		s.QueueSize = 100
	}
	if s.PollInterval == 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.ClaimBatchSize == 0 {
		s.ClaimBatchSize = 20
	}
	if s.JobTimeout == 0 {
		s.JobTimeout = 2 * time.Minute
	}
	if s.JobMaxAttempts == 0 {
		s.JobMaxAttempts = 3
	}
	if s.RetryBaseDelay == 0 {
		s.RetryBaseDelay = 30 * time.Second
	}
	if s.RetryMaxDelay == 0 {
		s.RetryMaxDelay = 30 * time.Minute
	}

	p := &cfg.Polling
	if p.TickInterval == 0 {
		p.TickInterval = 15 * time.Second
	}
	if p.MinInterval == 0 {
		p.MinInterval = time.Minute
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = time.Hour
	}
	if p.DefaultInterval == 0 {
		p.DefaultInterval = 5 * time.Minute
	}

	d := &cfg.DeadLetter
	if d.Retention == 0 {
		d.Retention = 30 * 24 * time.Hour
	}
	if d.BulkBatchSize == 0 {
		d.BulkBatchSize = 10
	}
	if d.BulkPause == 0 {
		d.BulkPause = 100 * time.Millisecond
	}
	if d.CleanupInterval == 0 {
		d.CleanupInterval = 6 * time.Hour
	}

	if cfg.Dedup.TTL == 0 {
		cfg.Dedup.TTL = 72 * time.Hour
	}
	if cfg.Dedup.KeyPrefix == "" {
		cfg.Dedup.KeyPrefix = "crosslist:dedup:"
	}
	if cfg.Dedup.SweepInterval == 0 {
		cfg.Dedup.SweepInterval = 5 * time.Minute
	}
	if cfg.Event.ConsumerWorkers == 0 {
		cfg.Event.ConsumerWorkers = 2
	}
	if cfg.Event.BufferSize == 0 {
		cfg.Event.BufferSize = 256
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "deadletters/"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "crosslist"
	}
	if cfg.Telemetry.Profiling.ServerAddress == "" {
		cfg.Telemetry.Profiling.ServerAddress = "http://localhost:4040"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Admin.Issuer == "" {
		cfg.Admin.Issuer = "crosslist"
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "marketplaces.yaml"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.State.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("state.backend=redis requires redis.enabled=true")
		}
	default:
		return fmt.Errorf("state.backend must be memory or redis, got %q", c.State.Backend)
	}

	r := c.Resilience
	if r.ThrottleThreshold <= 0 || r.ThrottleThreshold >= 1 {
		return fmt.Errorf("resilience.throttle_threshold must be between 0 and 1, got %f", r.ThrottleThreshold)
	}
	if r.PacingThreshold <= 0 || r.PacingThreshold > 1 {
		return fmt.Errorf("resilience.pacing_threshold must be between 0 and 1, got %f", r.PacingThreshold)
	}
	if r.HalfOpenMaxRequests > 3 {
		return fmt.Errorf("resilience.half_open_max_requests must be at most 3, got %d", r.HalfOpenMaxRequests)
	}
	if r.RetryBaseDelay > r.RetryMaxDelay {
		return fmt.Errorf("resilience.retry_base_delay cannot exceed resilience.retry_max_delay")
	}

	if c.Polling.MinInterval > c.Polling.MaxInterval {
		return fmt.Errorf("polling.min_interval (%s) cannot exceed polling.max_interval (%s)",
			c.Polling.MinInterval, c.Polling.MaxInterval)
	}
	if c.Polling.DefaultInterval < c.Polling.MinInterval || c.Polling.DefaultInterval > c.Polling.MaxInterval {
		return fmt.Errorf("polling.default_interval must lie within [min_interval, max_interval]")
	}

	if c.Storage.ArchiveEnabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.archive_enabled=true")
	}

	if c.App.Env == "production" {
		if len(c.Admin.JWTSecret) < 32 {
			return fmt.Errorf("admin.jwt_secret must be at least 32 characters in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Swagger.Enabled && !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0 {
			return fmt.Errorf("swagger endpoint must be disabled, require authentication, or have IP restriction in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
