// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, RPC, Postgres, Kafka, Redis, Classifier, Corpus, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	RPC         RPCConfig         `yaml:"rpc"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// GatewayConfig holds the API gateway listener and the backend services it
// proxies to. DefaultKeyRate is the per-minute budget given to keys created
// without an explicit rate limit.
type GatewayConfig struct {
	Port           int    `yaml:"port"`
	ClassifierURL  string `yaml:"classifierURL"`
	IngestionURL   string `yaml:"ingestionURL"`
	AnalyticsURL   string `yaml:"analyticsURL"`
	DefaultKeyRate int    `yaml:"defaultKeyRate"`
}

// RPCConfig holds the JSON-over-TCP RPC listener settings. Port 0 disables it.
type RPCConfig struct {
	Port int `yaml:"port"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CorpusEvents    string `yaml:"corpusEvents"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ClassifierConfig selects the compressor and neighbour count, and bounds
// request sizes.
type ClassifierConfig struct {
	Algorithm        string `yaml:"algorithm"`
	Level            int    `yaml:"level"`
	K                int    `yaml:"k"`
	MaxQueryBytes    int    `yaml:"maxQueryBytes"`
	MaxBatchSize     int    `yaml:"maxBatchSize"`
	BatchConcurrency int    `yaml:"batchConcurrency"`
}

// Corpus source kinds.
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
	SourceObject   = "object"
)

// CorpusConfig says where the labelled training set lives.
type CorpusConfig struct {
	Source       string        `yaml:"source"`
	Path         string        `yaml:"path"`
	Table        string        `yaml:"table"`
	ObjectKey    string        `yaml:"objectKey"`
	LoadAttempts int           `yaml:"loadAttempts"`
	LoadBackoff  time.Duration `yaml:"loadBackoff"`
}

// ObjectStoreConfig holds S3-compatible storage credentials.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// RateLimitConfig controls per-client token buckets on the HTTP API.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging. Traces slower than SlowThreshold are
// logged even when the sampler skips them; zero turns that off.
type TracingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SampleRate    float64       `yaml:"sampleRate"`
	SlowThreshold time.Duration `yaml:"slowThreshold"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no service can start with. Compression level and
// k are checked by the classifier itself when it is built.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Gateway.DefaultKeyRate <= 0 {
		errs = append(errs, errors.New("gateway.defaultKeyRate must be positive"))
	}
	if c.RPC.Port < 0 || c.RPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("rpc.port %d out of range", c.RPC.Port))
	}
	if c.Classifier.MaxQueryBytes <= 0 {
		errs = append(errs, errors.New("classifier.maxQueryBytes must be positive"))
	}
	if c.Classifier.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("classifier.maxBatchSize must be positive"))
	}
	if c.Classifier.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("classifier.batchConcurrency must be positive"))
	}
	switch c.Corpus.Source {
	case SourceFile:
		if c.Corpus.Path == "" {
			errs = append(errs, errors.New("corpus.path is required for the file source"))
		}
	case SourcePostgres:
		if c.Corpus.Table == "" {
			errs = append(errs, errors.New("corpus.table is required for the postgres source"))
		}
	case SourceObject:
		if c.ObjectStore.Bucket == "" || c.Corpus.ObjectKey == "" {
			errs = append(errs, errors.New("objectStore.bucket and corpus.objectKey are required for the object source"))
		}
	default:
		errs = append(errs, fmt.Errorf("corpus.source %q is not one of file, postgres, object", c.Corpus.Source))
	}
	if c.Corpus.LoadAttempts < 1 {
		errs = append(errs, errors.New("corpus.loadAttempts must be at least 1"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rateLimit requires positive requestsPerSecond and burst"))
	}
	return errors.Join(errs...)
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Gateway: GatewayConfig{
			Port:           8082,
			ClassifierURL:  "http://localhost:8080",
			IngestionURL:   "http://localhost:8081",
			AnalyticsURL:   "http://localhost:8083",
			DefaultKeyRate: 600,
		},
		RPC: RPCConfig{
			Port: 9091,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ncdclassifier",
			User:            "ncdclassifier",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ncdclassifier-group",
			Topics: KafkaTopics{
				CorpusEvents:    "corpus-events",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Classifier: ClassifierConfig{
			Algorithm:        "zstd",
			Level:            3,
			K:                1,
			MaxQueryBytes:    1 << 20,
			MaxBatchSize:     256,
			BatchConcurrency: 8,
		},
		Corpus: CorpusConfig{
			Source:       SourceFile,
			Path:         "data/corpus.csv",
			Table:        "corpus_entries",
			LoadAttempts: 3,
			LoadBackoff:  500 * time.Millisecond,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint: "localhost:9000",
			Bucket:   "corpora",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRate:    0.1,
			SlowThreshold: 500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads NCD_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("NCD_SERVER_PORT", &cfg.Server.Port)
	setInt("NCD_RPC_PORT", &cfg.RPC.Port)
	setInt("NCD_GATEWAY_PORT", &cfg.Gateway.Port)
	setString("NCD_GATEWAY_CLASSIFIER_URL", &cfg.Gateway.ClassifierURL)
	setString("NCD_GATEWAY_INGESTION_URL", &cfg.Gateway.IngestionURL)
	setString("NCD_GATEWAY_ANALYTICS_URL", &cfg.Gateway.AnalyticsURL)
	setString("NCD_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("NCD_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("NCD_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("NCD_POSTGRES_USER", &cfg.Postgres.User)
	setString("NCD_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("NCD_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("NCD_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("NCD_REDIS_ADDR", &cfg.Redis.Addr)
	setString("NCD_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("NCD_CLASSIFIER_ALGORITHM", &cfg.Classifier.Algorithm)
	setInt("NCD_CLASSIFIER_LEVEL", &cfg.Classifier.Level)
	setInt("NCD_CLASSIFIER_K", &cfg.Classifier.K)
	setString("NCD_CORPUS_SOURCE", &cfg.Corpus.Source)
	setString("NCD_CORPUS_PATH", &cfg.Corpus.Path)
	setString("NCD_CORPUS_TABLE", &cfg.Corpus.Table)
	setString("NCD_CORPUS_OBJECT_KEY", &cfg.Corpus.ObjectKey)
	setString("NCD_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	setString("NCD_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	setString("NCD_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretKey)
	setString("NCD_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket)
	setString("NCD_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("NCD_LOGGING_FORMAT", &cfg.Logging.Format)
}
