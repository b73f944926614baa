package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable by CONFIG_PATH.
var ConfigPath = "config.yaml"

// Trigger sources.
const (
	TriggerRedis = "redis"
	TriggerAMQP  = "amqp"
	TriggerMinio = "minio"
)

// Progress backends.
const (
	ProgressRedis    = "redis"
	ProgressPostgres = "postgres"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string `yaml:"port"`
	LogLevel          string `yaml:"logLevel"`
	DatabaseURL       string `yaml:"databaseURL"`
	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	RedisKeyPrefix    string `yaml:"redisKeyPrefix"`
	ProgressBackend   string `yaml:"progressBackend"`
	MinioEndpoint     string `yaml:"minioEndpoint"`
	MinioAccessKey    string `yaml:"minioAccessKey"`
	MinioSecretKey    string `yaml:"minioSecretKey"`
	MinioBucket       string `yaml:"minioBucket"`
	MinioUseSSL       bool   `yaml:"minioUseSSL"`
	TriggerSource     string `yaml:"triggerSource"`
	StreamName        string `yaml:"streamName"`
	StreamGroup       string `yaml:"streamGroup"`
	StreamConsumer    string `yaml:"streamConsumer"`
	StreamClaimIdleMs int    `yaml:"streamClaimIdleMs"`
	Concurrency       int    `yaml:"concurrency"`
	AMQPURL           string `yaml:"amqpURL"`
	AMQPQueue         string `yaml:"amqpQueue"`
	BatchSize         int    `yaml:"batchSize"`
}

// Load reads .env (if present), then config from path, then environment overrides.
func Load(path string) (FileConfig, error) {
	_ = godotenv.Load()
	cfg := FileConfig{}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("IMPORT_PROGRESS_BACKEND"); v != "" {
		cfg.ProgressBackend = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = enabled
		}
	}
	if v := os.Getenv("IMPORT_TRIGGER_SOURCE"); v != "" {
		cfg.TriggerSource = v
	}
	if v := os.Getenv("IMPORT_STREAM_NAME"); v != "" {
		cfg.StreamName = v
	}
	if v := os.Getenv("IMPORT_STREAM_GROUP"); v != "" {
		cfg.StreamGroup = v
	}
	if v := os.Getenv("IMPORT_STREAM_CONSUMER"); v != "" {
		cfg.StreamConsumer = v
	}
	if v := os.Getenv("IMPORT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("IMPORT_AMQP_QUEUE"); v != "" {
		cfg.AMQPQueue = v
	}
	if v := os.Getenv("IMPORT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	cfg.TriggerSource = strings.ToLower(strings.TrimSpace(cfg.TriggerSource))
	if cfg.TriggerSource == "" {
		cfg.TriggerSource = TriggerMinio
	}
	cfg.ProgressBackend = strings.ToLower(strings.TrimSpace(cfg.ProgressBackend))
	if cfg.ProgressBackend == "" {
		cfg.ProgressBackend = ProgressRedis
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "readshelf:uploads"
	}
	if cfg.StreamGroup == "" {
		cfg.StreamGroup = "importer"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 25
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minio credentials are required (MINIO_ACCESS_KEY + MINIO_SECRET_KEY)")
	}
	switch cfg.ProgressBackend {
	case ProgressRedis, ProgressPostgres:
	default:
		return fmt.Errorf("config: progressBackend must be %q or %q", ProgressRedis, ProgressPostgres)
	}
	switch cfg.TriggerSource {
	case TriggerRedis:
	case TriggerAMQP:
		if strings.TrimSpace(cfg.AMQPURL) == "" || strings.TrimSpace(cfg.AMQPQueue) == "" {
			return errors.New("config: triggerSource=amqp requires amqpURL and amqpQueue")
		}
	case TriggerMinio:
	default:
		return fmt.Errorf("config: triggerSource must be one of %q, %q, %q", TriggerRedis, TriggerAMQP, TriggerMinio)
	}
	if cfg.RedisAddr == "" && (cfg.TriggerSource == TriggerRedis || cfg.ProgressBackend == ProgressRedis) {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > 25 {
		return errors.New("config: batchSize must be between 1 and 25")
	}
	if cfg.StreamClaimIdleMs < 0 {
		return errors.New("config: streamClaimIdleMs must be >= 0")
	}
	return nil
}
