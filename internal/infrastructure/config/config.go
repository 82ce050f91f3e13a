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
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
	Import     ImportConfig
	Sync       SyncConfig
	Credential CredentialConfig
	Connector  ConnectorConfig
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
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
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

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	// MaxBodySize covers the largest catalog plus multipart overhead
	MaxBodySize    int64
	TrustedProxies []string
	// AdminToken guards API key management; empty disables those routes
	AdminToken string
	// RateLimit is the number of requests per tenant and minute, 0 for none
	RateLimit int
}

// StorageConfig selects where raw catalogs are archived
type StorageConfig struct {
	Driver       string // filesystem or s3
	BasePath     string
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	UseSSL       bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled               bool    // Whether to enable OpenTelemetry
	CollectorEndpoint     string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio         float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName           string  // Service name for traces
	Insecure              bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled        bool    // Enable database query tracing (otelgorm)
	DBSlowQueryThresh     time.Duration
	DBMetricsEnabled      bool          // Query counters and connection pool gauges
	DBPoolStatsInterval   time.Duration // How often pool gauges are sampled
	MetricsExportInterval time.Duration
	LogsEnabled           bool // Export zap logs over OTLP in addition to log.output
}

// ImportConfig holds catalog import limits
type ImportConfig struct {
	MaxFileSize         int64
	StrictMetadataMatch bool
	MaxIssues           int
	DatanormCharset     string
	SchemaDir           string
	WriteChunkSize      int
	SessionTTL          time.Duration
}

// SyncConfig holds sync protocol limits
type SyncConfig struct {
	DefaultPageSize  int
	MaxPageSize      int
	DefaultBatchSize int
	MaxBatchSize     int
	CursorSecret     string
	LockTTL          time.Duration
	IdempotencyTTL   time.Duration
	StreamChunkSize  int
}

// CredentialConfig configures the machine-bound credential guard
type CredentialConfig struct {
	MachineIDPath         string
	FallbackMachineIDPath string
	Salt                  string
}

// ConnectorConfig configures the on-premise connector
type ConnectorConfig struct {
	BaseURL        string
	TenantID       string
	APIKey         string
	SQLitePath     string
	EntityTypes    []string
	BatchSize      int
	RequestTimeout time.Duration
	ErpUsernameEnc string
	ErpPasswordEnc string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ERP_ prefix (e.g., ERP_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/catalog-exchange")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans whose default is true must be distinguishable from "unset"
	v.SetDefault("import.strict_metadata_match", true)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("telemetry.db_metrics_enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
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
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			AdminToken:     v.GetString("http.admin_token"),
			RateLimit:      v.GetInt("http.rate_limit"),
		},
		Storage: StorageConfig{
			Driver:       v.GetString("storage.driver"),
			BasePath:     v.GetString("storage.base_path"),
			Bucket:       v.GetString("storage.bucket"),
			Region:       v.GetString("storage.region"),
			Endpoint:     v.GetString("storage.endpoint"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			UseSSL:       v.GetBool("storage.use_ssl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:               v.GetBool("telemetry.enabled"),
			CollectorEndpoint:     v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:         v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:           v.GetString("telemetry.service_name"),
			Insecure:              v.GetBool("telemetry.insecure"),
			DBTraceEnabled:        v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh:     v.GetDuration("telemetry.db_slow_query_threshold"),
			DBMetricsEnabled:      v.GetBool("telemetry.db_metrics_enabled"),
			DBPoolStatsInterval:   v.GetDuration("telemetry.db_pool_stats_interval"),
			MetricsExportInterval: v.GetDuration("telemetry.metrics_export_interval"),
			LogsEnabled:           v.GetBool("telemetry.logs_enabled"),
		},
		Import: ImportConfig{
			MaxFileSize:         v.GetInt64("import.max_file_size"),
			StrictMetadataMatch: v.GetBool("import.strict_metadata_match"),
			MaxIssues:           v.GetInt("import.max_issues"),
			DatanormCharset:     v.GetString("import.datanorm_charset"),
			SchemaDir:           v.GetString("import.schema_dir"),
			WriteChunkSize:      v.GetInt("import.write_chunk_size"),
			SessionTTL:          v.GetDuration("import.session_ttl"),
		},
		Sync: SyncConfig{
			DefaultPageSize:  v.GetInt("sync.default_page_size"),
			MaxPageSize:      v.GetInt("sync.max_page_size"),
			DefaultBatchSize: v.GetInt("sync.default_batch_size"),
			MaxBatchSize:     v.GetInt("sync.max_batch_size"),
			CursorSecret:     v.GetString("sync.cursor_secret"),
			LockTTL:          v.GetDuration("sync.lock_ttl"),
			IdempotencyTTL:   v.GetDuration("sync.idempotency_ttl"),
			StreamChunkSize:  v.GetInt("sync.stream_chunk_size"),
		},
		Credential: CredentialConfig{
			MachineIDPath:         v.GetString("credential.machine_id_path"),
			FallbackMachineIDPath: v.GetString("credential.fallback_machine_id_path"),
			Salt:                  v.GetString("credential.salt"),
		},
		Connector: ConnectorConfig{
			BaseURL:        v.GetString("connector.base_url"),
			TenantID:       v.GetString("connector.tenant_id"),
			APIKey:         v.GetString("connector.api_key"),
			SQLitePath:     v.GetString("connector.sqlite_path"),
			EntityTypes:    v.GetStringSlice("connector.entity_types"),
			BatchSize:      v.GetInt("connector.batch_size"),
			RequestTimeout: v.GetDuration("connector.request_timeout"),
			ErpUsernameEnc: v.GetString("connector.erp_username_enc"),
			ErpPasswordEnc: v.GetString("connector.erp_password_enc"),
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
		cfg.App.Name = "catalog-exchange"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
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
		cfg.Database.DBName = "catalog_exchange"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
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
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 5 * time.Minute
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 101 << 20 // 100MB catalog + 1MB multipart overhead
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "filesystem"
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "./data/catalogs"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "catalog-archive"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "catalog-exchange"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.DBPoolStatsInterval == 0 {
		cfg.Telemetry.DBPoolStatsInterval = 15 * time.Second
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 60 * time.Second
	}
	if cfg.Import.MaxFileSize == 0 {
		cfg.Import.MaxFileSize = 100 << 20
	}
	if cfg.Import.MaxIssues == 0 {
		cfg.Import.MaxIssues = 1000
	}
	if cfg.Import.DatanormCharset == "" {
		cfg.Import.DatanormCharset = "cp850"
	}
	if cfg.Import.WriteChunkSize == 0 {
		cfg.Import.WriteChunkSize = 500
	}
	if cfg.Import.SessionTTL == 0 {
		cfg.Import.SessionTTL = 30 * time.Minute
	}
	if cfg.Sync.DefaultPageSize == 0 {
		cfg.Sync.DefaultPageSize = 1000
	}
	if cfg.Sync.MaxPageSize == 0 {
		cfg.Sync.MaxPageSize = 10000
	}
	if cfg.Sync.DefaultBatchSize == 0 {
		cfg.Sync.DefaultBatchSize = 5000
	}
	if cfg.Sync.MaxBatchSize == 0 {
		cfg.Sync.MaxBatchSize = 50000
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 30 * time.Second
	}
	if cfg.Sync.IdempotencyTTL == 0 {
		cfg.Sync.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Sync.StreamChunkSize == 0 {
		cfg.Sync.StreamChunkSize = 1000
	}
	if cfg.Credential.MachineIDPath == "" {
		cfg.Credential.MachineIDPath = "/etc/machine-id"
	}
	if cfg.Credential.FallbackMachineIDPath == "" {
		cfg.Credential.FallbackMachineIDPath = "/var/lib/dbus/machine-id"
	}
	if cfg.Credential.Salt == "" {
		cfg.Credential.Salt = "catalog-exchange/credential-guard/v1"
	}
	if cfg.Connector.SQLitePath == "" {
		cfg.Connector.SQLitePath = "./connector.db"
	}
	if len(cfg.Connector.EntityTypes) == 0 {
		cfg.Connector.EntityTypes = []string{"articles", "customers", "orders"}
	}
	if cfg.Connector.BatchSize == 0 {
		cfg.Connector.BatchSize = cfg.Sync.DefaultBatchSize
	}
	if cfg.Connector.RequestTimeout == 0 {
		cfg.Connector.RequestTimeout = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
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

	switch c.Storage.Driver {
	case "filesystem", "s3":
	default:
		return fmt.Errorf("storage.driver must be 'filesystem' or 's3', got %q", c.Storage.Driver)
	}
	if c.Import.MaxFileSize < 0 {
		return fmt.Errorf("import.max_file_size cannot be negative")
	}
	if c.Sync.DefaultPageSize > c.Sync.MaxPageSize {
		return fmt.Errorf("sync.default_page_size (%d) cannot exceed sync.max_page_size (%d)",
			c.Sync.DefaultPageSize, c.Sync.MaxPageSize)
	}
	if c.Sync.MaxPageSize > 10000 {
		return fmt.Errorf("sync.max_page_size cannot exceed 10000")
	}
	if c.Sync.DefaultBatchSize > c.Sync.MaxBatchSize {
		return fmt.Errorf("sync.default_batch_size (%d) cannot exceed sync.max_batch_size (%d)",
			c.Sync.DefaultBatchSize, c.Sync.MaxBatchSize)
	}
	if c.Sync.MaxBatchSize > 50000 {
		return fmt.Errorf("sync.max_batch_size cannot exceed 50000")
	}

	if c.App.Env == "production" {
		if c.Sync.CursorSecret == "" {
			return fmt.Errorf("sync.cursor_secret is required in production")
		}
		if len(c.Sync.CursorSecret) < 32 {
			return fmt.Errorf("sync.cursor_secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.HTTP.AdminToken != "" && len(c.HTTP.AdminToken) < 32 {
			return fmt.Errorf("http.admin_token must be at least 32 characters in production")
		}
	}

	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit cannot be negative")
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
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
