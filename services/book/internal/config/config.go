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

// Progress backends.
const (
	ProgressRedis    = "redis"
	ProgressPostgres = "postgres"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                string `yaml:"port"`
	LogLevel            string `yaml:"logLevel"`
	DatabaseURL         string `yaml:"databaseURL"`
	RedisAddr           string `yaml:"redisAddr"`
	RedisPassword       string `yaml:"redisPassword"`
	RedisKeyPrefix      string `yaml:"redisKeyPrefix"`
	ProgressBackend     string `yaml:"progressBackend"`
	MinioEndpoint       string `yaml:"minioEndpoint"`
	MinioAccessKey      string `yaml:"minioAccessKey"`
	MinioSecretKey      string `yaml:"minioSecretKey"`
	MinioBucket         string `yaml:"minioBucket"`
	MinioUseSSL         bool   `yaml:"minioUseSSL"`
	UploadURLTTLSeconds int    `yaml:"uploadURLTTLSeconds"`
	JWTPublicKeyPath    string `yaml:"jwtPublicKeyPath"`
	JWTJWKSURL          string `yaml:"jwtJWKSURL"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeewaySeconds    int    `yaml:"jwtLeewaySeconds"`
	// ImportRateLimit is the number of upload intents per user per minute; 0 disables limiting.
	ImportRateLimit int `yaml:"importRateLimit"`
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
	if v := os.Getenv("BOOK_UPLOAD_URL_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadURLTTLSeconds = n
		}
	}
	if v := os.Getenv("READSHELF_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.JWTPublicKeyPath = v
	}
	if v := os.Getenv("READSHELF_JWT_JWKS_URL"); v != "" {
		cfg.JWTJWKSURL = v
	}
	if v := os.Getenv("READSHELF_JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("READSHELF_JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("BOOK_IMPORT_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ImportRateLimit = n
		}
	}
	cfg.ProgressBackend = strings.ToLower(strings.TrimSpace(cfg.ProgressBackend))
	if cfg.ProgressBackend == "" {
		cfg.ProgressBackend = ProgressRedis
	}
	if cfg.UploadURLTTLSeconds == 0 {
		cfg.UploadURLTTLSeconds = 3600
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minio credentials are required (MINIO_ACCESS_KEY + MINIO_SECRET_KEY)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	switch cfg.ProgressBackend {
	case ProgressRedis, ProgressPostgres:
	default:
		return fmt.Errorf("config: progressBackend must be %q or %q", ProgressRedis, ProgressPostgres)
	}
	if cfg.RedisAddr == "" && (cfg.ProgressBackend == ProgressRedis || cfg.ImportRateLimit > 0) {
		return errors.New("config: redisAddr is required for the redis progress backend and rate limiting")
	}
	if cfg.UploadURLTTLSeconds < 1 || cfg.UploadURLTTLSeconds > 7*24*3600 {
		return errors.New("config: uploadURLTTLSeconds must be between 1 and 604800")
	}
	if strings.TrimSpace(cfg.JWTPublicKeyPath) == "" && strings.TrimSpace(cfg.JWTJWKSURL) == "" {
		return errors.New("config: jwtPublicKeyPath or jwtJWKSURL is required (set in config.yaml or READSHELF_JWT_PUBLIC_KEY_PATH / READSHELF_JWT_JWKS_URL)")
	}
	if cfg.ImportRateLimit < 0 {
		return errors.New("config: importRateLimit must be >= 0")
	}
	if cfg.JWTLeewaySeconds < 0 {
		return errors.New("config: jwtLeewaySeconds must be >= 0")
	}
	return nil
}
