// Package config provides configuration management for the askllm pipeline.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Cache backend names.
const (
	CacheBackendFile     = "file"
	CacheBackendPostgres = "postgres"
	CacheBackendRedis    = "redis"
	CacheBackendNone     = "none"
)

// EnvPrefix is the prefix for every environment variable override.
const EnvPrefix = "ASKLLM"

// Config holds all configuration for the askllm pipeline.
type Config struct {
	// LLM contains model invocation settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Query contains the query specification location.
	Query QueryConfig `mapstructure:"query"`
	// Output contains report and state file locations.
	Output OutputConfig `mapstructure:"output"`
	// Pipeline contains batch execution settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Discovery contains academic index settings.
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	// Search contains web search settings used to locate PDFs.
	Search SearchConfig `mapstructure:"search"`
	// PDF contains download settings.
	PDF PDFConfig `mapstructure:"pdf"`
	// Cache contains response cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Database contains PostgreSQL connection settings for the postgres cache backend.
	Database DatabaseConfig `mapstructure:"database"`
	// Redis contains connection settings for the redis cache backend.
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka contains lifecycle event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Temporal contains Temporal workflow orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Server contains the optional status server settings.
	Server ServerConfig `mapstructure:"server"`
	// Artifacts contains the optional object storage upload settings.
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
}

// LLMConfig holds model invocation settings.
type LLMConfig struct {
	// Provider is the model provider (gemini, openai, anthropic).
	Provider string `mapstructure:"provider" validate:"oneof=gemini openai anthropic"`
	// DefaultModel is used by query sections that never set model-name.
	DefaultModel string `mapstructure:"default_model" validate:"required"`
	// Timeout bounds a single model call.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// MaxAttempts is the total number of attempts per (document, query) pair.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1,max=20"`
	// BackoffInitial is the first retry delay.
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `mapstructure:"backoff_max"`
	// Gemini contains Google Gemini settings.
	Gemini ProviderConfig `mapstructure:"gemini"`
	// OpenAI contains OpenAI settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig holds settings for a single model provider.
type ProviderConfig struct {
	// APIKey is loaded exclusively from the environment (see loadSecrets).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// QueryConfig holds the query specification location.
type QueryConfig struct {
	// File is the path of the query specification.
	File string `mapstructure:"file" validate:"required"`
}

// OutputConfig holds output file locations.
type OutputConfig struct {
	// Report is the structured JSON report path.
	Report string `mapstructure:"report" validate:"required"`
	// CSV is the tabular report path. Empty derives it from Report.
	CSV string `mapstructure:"csv"`
	// Log receives raw model responses.
	Log string `mapstructure:"log"`
	// ProcessedList receives one line per unit that reached a terminal state.
	ProcessedList string `mapstructure:"processed_list"`
	// ExclusionList receives filtered-out documents.
	ExclusionList string `mapstructure:"exclusion_list"`
	// Checkpoint is the resumable state file.
	Checkpoint string `mapstructure:"checkpoint" validate:"required"`
	// DiscoveryBib receives BibTeX for discovered papers.
	DiscoveryBib string `mapstructure:"discovery_bib"`
	// DownloadDir receives PDFs found by the retrieval strategy.
	DownloadDir string `mapstructure:"download_dir" validate:"required"`
}

// PipelineConfig holds batch execution settings.
type PipelineConfig struct {
	// Concurrency is the number of document units processed at once.
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=64"`
	// NoClear keeps prior outputs and resumes from the checkpoint.
	NoClear bool `mapstructure:"no_clear"`
	// GoogleSearch is the global default for the google-search query key.
	GoogleSearch bool `mapstructure:"google_search"`
	// SearchMissingPDFs enables the retrieval strategy for units without a file.
	SearchMissingPDFs bool `mapstructure:"search_missing_pdfs"`
}

// DiscoveryConfig holds academic index settings.
type DiscoveryConfig struct {
	// Backend selects the academic index (semantic_scholar, openalex).
	Backend string `mapstructure:"backend" validate:"oneof=semantic_scholar openalex"`
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
	// OpenAlex contains OpenAlex API settings.
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
}

// PaperSourceConfig holds configuration for a single academic index.
type PaperSourceConfig struct {
	// APIKey is loaded from the environment.
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	// MaxResults is the default result limit for a discovery query.
	MaxResults int `mapstructure:"max_results" validate:"min=1"`
	// Mailto is sent to indexes that offer a polite pool.
	Mailto string `mapstructure:"mailto"`
}

// SearchConfig holds web search settings.
type SearchConfig struct {
	// Engines is the fallback order of web search engines (grounding, qwant).
	Engines []string `mapstructure:"engines" validate:"dive,oneof=grounding qwant"`
	// GroundingModel is the model used for grounding-based search.
	GroundingModel string `mapstructure:"grounding_model"`
	// QwantBaseURL is the Qwant API base URL.
	QwantBaseURL string `mapstructure:"qwant_base_url" validate:"omitempty,url"`
	// MinDelay is the minimum spacing between Qwant requests.
	MinDelay time.Duration `mapstructure:"min_delay"`
	// MaxDelay is the maximum spacing between Qwant requests.
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// Verify asks the model to confirm that a downloaded PDF matches the record.
	Verify bool `mapstructure:"verify"`
	// VerifyThreshold is the minimum confidence for an accepted match.
	VerifyThreshold float64 `mapstructure:"verify_threshold" validate:"gte=0,lte=1"`
}

// PDFConfig holds download settings.
type PDFConfig struct {
	// MaxSize is the maximum PDF size in bytes.
	MaxSize int64 `mapstructure:"max_size" validate:"gt=0"`
	// Timeout bounds a single download.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// UserAgent is sent with every download request.
	UserAgent string `mapstructure:"user_agent"`
	// AllowPrivateNetworks disables SSRF protection (tests and local mirrors only).
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	// Backend is one of file, postgres, redis, none.
	Backend string `mapstructure:"backend" validate:"oneof=file postgres redis none"`
	// Dir is the directory of the file backend.
	Dir string `mapstructure:"dir"`
	// TTL is the entry lifetime. Zero keeps entries forever.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
	// KeyPrefix namespaces redis keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is loaded from the environment.
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations when the postgres cache opens.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	// Addr is host:port of the redis server.
	Addr string `mapstructure:"addr"`
	// Password is loaded from the environment.
	Password string `mapstructure:"-"`
	// DB is the logical database number.
	DB int `mapstructure:"db" validate:"gte=0"`
}

// KafkaConfig holds lifecycle event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives batch lifecycle events.
	Topic string `mapstructure:"topic"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// ControlTopic carries batch control commands for the worker. Empty disables the listener.
	ControlTopic string `mapstructure:"control_topic"`
	// GroupID is the consumer group of the control listener.
	GroupID string `mapstructure:"group_id"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue name for batch workflows.
	TaskQueue string `mapstructure:"task_queue"`
}

// ServerConfig holds the status server configuration.
type ServerConfig struct {
	// Address enables the status server when non-empty (e.g. ":9091").
	Address string `mapstructure:"address"`
	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ArtifactsConfig holds object storage upload settings.
type ArtifactsConfig struct {
	// Enabled uploads report artifacts after the run.
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the S3-compatible endpoint (host:port).
	Endpoint string `mapstructure:"endpoint"`
	// AccessKey is the access key ID.
	AccessKey string `mapstructure:"access_key"`
	// SecretKey is loaded from the environment.
	SecretKey string `mapstructure:"-"`
	// Bucket receives the artifacts.
	Bucket string `mapstructure:"bucket"`
	// UseSSL enables TLS to the endpoint.
	UseSSL bool `mapstructure:"use_ssl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// APIKey returns the key for the named provider.
func (c *LLMConfig) APIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "gemini":
		return c.Gemini.APIKey
	case "openai":
		return c.OpenAI.APIKey
	case "anthropic":
		return c.Anthropic.APIKey
	}
	return ""
}

// CSVPath returns the tabular report path, derived from the JSON report when unset.
func (c *OutputConfig) CSVPath() string {
	if c.CSV != "" {
		return c.CSV
	}
	if strings.HasSuffix(c.Report, ".json") {
		return strings.TrimSuffix(c.Report, ".json") + ".csv"
	}
	return c.Report + ".csv"
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	flags      *pflag.FlagSet
	bindings   map[string]string
	configFile string
	envFiles   []string
}

// WithFlags binds command-line flags to configuration keys. The map goes from
// configuration key (e.g. "llm.default_model") to flag name (e.g. "model").
// Only flags the user actually set override file and environment values.
func WithFlags(fs *pflag.FlagSet, bindings map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.flags = fs
		o.bindings = bindings
	}
}

// WithConfigFile reads the given file instead of searching the default paths.
func WithConfigFile(path string) LoadOption {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnvFiles overrides the dotenv files loaded before reading the environment.
func WithEnvFiles(paths ...string) LoadOption {
	return func(o *loadOptions) { o.envFiles = paths }
}

// Load loads configuration from defaults, an optional config file, a .env
// file, environment variables and command-line flags, in increasing priority.
func Load(opts ...LoadOption) (*Config, error) {
	o := &loadOptions{envFiles: []string{".env"}}
	for _, opt := range opts {
		opt(o)
	}

	// Existing environment variables win over .env entries.
	for _, f := range o.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/askllm")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if o.flags != nil {
		for key, name := range o.bindings {
			flag := o.flags.Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// Provider keys accept both the prefixed name and the provider's conventional one.
func loadSecrets(cfg *Config) {
	cfg.LLM.Gemini.APIKey = firstEnv(EnvPrefix+"_LLM_GEMINI_API_KEY", "GEMINI_API_KEY")
	cfg.LLM.OpenAI.APIKey = firstEnv(EnvPrefix+"_LLM_OPENAI_API_KEY", "OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = firstEnv(EnvPrefix+"_LLM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	cfg.Discovery.SemanticScholar.APIKey = firstEnv(EnvPrefix+"_DISCOVERY_SEMANTIC_SCHOLAR_API_KEY", "SEMANTIC_SCHOLAR_API_KEY")
	cfg.Discovery.OpenAlex.APIKey = firstEnv(EnvPrefix+"_DISCOVERY_OPENALEX_API_KEY", "OPENALEX_API_KEY")

	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")
	cfg.Redis.Password = os.Getenv(EnvPrefix + "_REDIS_PASSWORD")
	cfg.Artifacts.SecretKey = os.Getenv(EnvPrefix + "_ARTIFACTS_SECRET_KEY")
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.default_model", "gemini-2.5-flash")
	v.SetDefault("llm.timeout", "300s")
	v.SetDefault("llm.max_attempts", 4)
	v.SetDefault("llm.backoff_initial", "2s")
	v.SetDefault("llm.backoff_max", "60s")
	v.SetDefault("llm.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")

	// Query and output defaults mirror the file names the tool has always used.
	v.SetDefault("query.file", "query.md")
	v.SetDefault("output.report", "report.json")
	v.SetDefault("output.csv", "")
	v.SetDefault("output.log", "log.txt")
	v.SetDefault("output.processed_list", "processed_files.txt")
	v.SetDefault("output.exclusion_list", "filtered_out_documents.txt")
	v.SetDefault("output.checkpoint", ".askllm_checkpoint.json")
	v.SetDefault("output.discovery_bib", "semantic_scholar.bib")
	v.SetDefault("output.download_dir", "ask_llm_downloads")

	// Pipeline defaults
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.no_clear", false)
	v.SetDefault("pipeline.google_search", false)
	v.SetDefault("pipeline.search_missing_pdfs", true)

	// Discovery defaults
	v.SetDefault("discovery.backend", "semantic_scholar")
	v.SetDefault("discovery.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("discovery.semantic_scholar.timeout", "30s")
	v.SetDefault("discovery.semantic_scholar.rate_limit", 1.0)
	v.SetDefault("discovery.semantic_scholar.max_results", 100)
	v.SetDefault("discovery.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("discovery.openalex.timeout", "30s")
	v.SetDefault("discovery.openalex.rate_limit", 10.0)
	v.SetDefault("discovery.openalex.max_results", 100)

	// Web search defaults
	v.SetDefault("search.engines", []string{"grounding", "qwant"})
	v.SetDefault("search.grounding_model", "gemini-2.5-flash")
	v.SetDefault("search.qwant_base_url", "https://api.qwant.com/v3")
	v.SetDefault("search.min_delay", "3s")
	v.SetDefault("search.max_delay", "7s")
	v.SetDefault("search.verify", false)
	v.SetDefault("search.verify_threshold", 0.7)

	// PDF defaults
	v.SetDefault("pdf.max_size", 50*1024*1024)
	v.SetDefault("pdf.timeout", "60s")
	v.SetDefault("pdf.user_agent", "askllm/1.0 (literature review pipeline)")
	v.SetDefault("pdf.allow_private_networks", false)

	// Cache defaults
	v.SetDefault("cache.backend", CacheBackendFile)
	v.SetDefault("cache.dir", ".askllm_cache")
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.key_prefix", "askllm:cache:")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "askllm")
	v.SetDefault("database.name", "askllm")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.askllm.batch")
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.control_topic", "")
	v.SetDefault("kafka.group_id", "askllm-worker")

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "askllm-batches")

	// Status server defaults
	v.SetDefault("server.address", "")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Artifacts defaults
	v.SetDefault("artifacts.enabled", false)
	v.SetDefault("artifacts.endpoint", "localhost:9000")
	v.SetDefault("artifacts.access_key", "")
	v.SetDefault("artifacts.bucket", "askllm-reports")
	v.SetDefault("artifacts.use_ssl", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.LLM.BackoffMax < c.LLM.BackoffInitial {
		return fmt.Errorf("llm backoff_max (%s) must be >= backoff_initial (%s)", c.LLM.BackoffMax, c.LLM.BackoffInitial)
	}
	if c.Search.MaxDelay < c.Search.MinDelay {
		return fmt.Errorf("search max_delay (%s) must be >= min_delay (%s)", c.Search.MaxDelay, c.Search.MinDelay)
	}

	switch c.Cache.Backend {
	case CacheBackendFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache dir is required for the file backend")
		}
	case CacheBackendPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database host and name are required for the postgres cache backend")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	case CacheBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis cache backend")
		}
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}
	if c.Artifacts.Enabled && (c.Artifacts.Endpoint == "" || c.Artifacts.Bucket == "") {
		return fmt.Errorf("artifacts endpoint and bucket are required when artifacts are enabled")
	}

	return nil
}

// RequireProviderKey reports an error when the configured provider has no API key.
// It is checked by commands that invoke models, not by Load, so that
// maintenance commands such as migrate work without model credentials.
func (c *Config) RequireProviderKey() error {
	if c.LLM.APIKey(c.LLM.Provider) == "" {
		return fmt.Errorf("LLM provider %q requires %s_LLM_%s_API_KEY (or %s_API_KEY) to be set",
			c.LLM.Provider, EnvPrefix, strings.ToUpper(c.LLM.Provider), strings.ToUpper(c.LLM.Provider))
	}
	return nil
}
