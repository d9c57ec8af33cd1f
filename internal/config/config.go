package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Index drivers.
const (
	DriverOpenSearch = "opensearch"
	DriverRedis      = "redis"
	DriverValkey     = "valkey"
	DriverBleve      = "bleve"
)

// Config holds the vecdex-ingest configuration.
type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Admin      AdminConfig      `yaml:"admin"`
	Lambda     LambdaConfig     `yaml:"lambda"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// IndexConfig selects and configures the search index backend.
type IndexConfig struct {
	Driver string `yaml:"driver"` // opensearch (default), redis, valkey, bleve
	Name   string `yaml:"name"`   // target index, fixed for the process lifetime

	// opensearch
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Region          string `yaml:"region"`  // empty disables SigV4 signing
	Service         string `yaml:"service"` // aoss (serverless) or es
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TimeoutSec      int    `yaml:"timeout_sec"`
	MaxRetries      int    `yaml:"max_retries"`
	OmitDocumentIDs bool   `yaml:"omit_document_ids"`

	// redis / valkey
	Addrs     []string `yaml:"addrs"`
	KeyPrefix string   `yaml:"key_prefix"`

	// bleve
	Path string `yaml:"path"`

	// provisioning
	EnsureIndex      bool   `yaml:"ensure_index"`
	Dimensions       int    `yaml:"dimensions"`
	Distance         string `yaml:"distance"` // cosine (default), l2, ip
	HNSWM            int    `yaml:"hnsw_m"`
	HNSWEFConstruct  int    `yaml:"hnsw_ef_construction"`
	ReadinessTimeout int    `yaml:"readiness_timeout_sec"`
}

// IngestConfig holds batch processing settings.
type IngestConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
	Parallelism  int `yaml:"parallelism"`
}

// KafkaConfig holds consumer settings for cmd/ingest-consumer.
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	ConsumerGroup    string   `yaml:"consumer_group"`
	ConsumeFromStart bool     `yaml:"consume_from_start"`
	SessionTimeoutMs int      `yaml:"session_timeout_ms"`
}

// DeadLetterConfig holds dead-letter topic settings.
type DeadLetterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

// AdminConfig holds the admin HTTP server settings (health, metrics).
type AdminConfig struct {
	Port        int `yaml:"port"`
	ShutdownSec int `yaml:"shutdown_timeout_sec"`
}

// LambdaConfig holds settings of the SQS Lambda entrypoint.
type LambdaConfig struct {
	ReportBatchItemFailures *bool `yaml:"report_batch_item_failures"`
}

// ReportFailures returns the effective report_batch_item_failures setting (default true).
func (l LambdaConfig) ReportFailures() bool {
	return l.ReportBatchItemFailures == nil || *l.ReportBatchItemFailures
}

// Load reads configuration from a YAML file by environment name (local, lambda, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from the given YAML file.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to def.
func GetEnv(def string) string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return def
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Index.Driver == "" {
		c.Index.Driver = DriverOpenSearch
	}
	c.Index.Host = strings.TrimPrefix(c.Index.Host, "https://")
	if c.Index.Port <= 0 {
		c.Index.Port = 443
	}
	if c.Index.Service == "" {
		c.Index.Service = "aoss"
	}
	if c.Index.TimeoutSec <= 0 {
		c.Index.TimeoutSec = 30
	}
	if c.Index.MaxRetries == 0 {
		c.Index.MaxRetries = 10 // negative disables retries
	}
	if c.Index.KeyPrefix == "" {
		c.Index.KeyPrefix = "vecdex:"
	}
	if c.Index.Distance == "" {
		c.Index.Distance = "cosine"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.ReadinessTimeout <= 0 {
		c.Index.ReadinessTimeout = 10
	}
	if c.Ingest.MaxBatchSize <= 0 {
		c.Ingest.MaxBatchSize = 10
	}
	if c.Ingest.Parallelism <= 0 {
		c.Ingest.Parallelism = 1
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "vecdex-ingest"
	}
	if c.Kafka.SessionTimeoutMs <= 0 {
		c.Kafka.SessionTimeoutMs = 30000
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.Admin.ShutdownSec <= 0 {
		c.Admin.ShutdownSec = 10
	}
}

// Validate checks the configuration for correctness. All problems are reported together.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Index.Name == "" {
		add("index.name is required")
	}
	if c.Index.Distance != "" {
		switch strings.ToLower(c.Index.Distance) {
		case "cosine", "l2", "ip":
		default:
			add("index.distance must be cosine, l2 or ip, got %q", c.Index.Distance)
		}
	}

	switch c.Index.Driver {
	case DriverOpenSearch:
		if c.Index.Host == "" {
			add("index.host is required for the opensearch driver")
		}
		if c.Index.Port < 1 || c.Index.Port > 65535 {
			add("index.port must be between 1 and 65535, got %d", c.Index.Port)
		}
		if c.Index.Service != "aoss" && c.Index.Service != "es" {
			add("index.service must be \"aoss\" or \"es\", got %q", c.Index.Service)
		}
	case DriverRedis, DriverValkey:
		if len(c.Index.Addrs) == 0 {
			add("index.addrs is required for the %s driver", c.Index.Driver)
		}
		if c.Index.Dimensions <= 0 {
			add("index.dimensions must be positive for the %s driver", c.Index.Driver)
		}
	case DriverBleve:
		if c.Index.Path == "" {
			add("index.path is required for the bleve driver")
		}
	default:
		add("index.driver must be one of opensearch, redis, valkey, bleve, got %q", c.Index.Driver)
	}
	if c.Index.EnsureIndex && c.Index.Dimensions <= 0 {
		add("index.dimensions must be positive when index.ensure_index is set")
	}

	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		add("admin.port must be between 1 and 65535, got %d", c.Admin.Port)
	}
	if c.DeadLetter.Enabled && c.DeadLetter.Topic == "" {
		add("dead_letter.topic is required when dead_letter.enabled is set")
	}
	if c.DeadLetter.Enabled && len(c.Kafka.Brokers) == 0 {
		add("kafka.brokers is required when dead_letter.enabled is set")
	}

	return result.ErrorOrNil()
}

// ErrConsumerConfig is wrapped by ValidateConsumer failures.
var ErrConsumerConfig = errors.New("consumer config")

// ValidateConsumer checks the settings cmd/ingest-consumer needs on top of Validate.
func (c *Config) ValidateConsumer() error {
	var result *multierror.Error
	if len(c.Kafka.Brokers) == 0 {
		result = multierror.Append(result, fmt.Errorf("%w: kafka.brokers is required", ErrConsumerConfig))
	}
	if c.Kafka.Topic == "" {
		result = multierror.Append(result, fmt.Errorf("%w: kafka.topic is required", ErrConsumerConfig))
	}
	return result.ErrorOrNil()
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Explicit directory (Lambda bundles config next to the binary)
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, filename)
	}

	// 2. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 3. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 4. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
