package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"readshelf/pkg/domain"
	"readshelf/pkg/events"
	"readshelf/pkg/storage"
	"readshelf/pkg/store"
	"readshelf/services/importer/internal/config"
)

// Clients are the process-wide connections shared by every import run.
type Clients struct {
	Redis   *redis.Client
	DB      *gorm.DB
	Minio   *storage.MinioStore
	Books   store.BookStore
	Jobs    store.ImportJobStore
	Objects storage.ObjectStore
}

// OpenClients connects to Postgres, MinIO and (when configured) Redis.
func OpenClients(cfg config.FileConfig) (*Clients, error) {
	db, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	minioStore, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	c := &Clients{
		DB:      db,
		Minio:   minioStore,
		Books:   store.NewGormBookStore(db),
		Objects: minioStore,
	}
	if cfg.RedisAddr != "" {
		c.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			_ = c.Redis.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}
	switch cfg.ProgressBackend {
	case config.ProgressPostgres:
		c.Jobs = store.NewGormImportJobStore(db)
	default:
		if c.Redis == nil {
			return nil, errors.New("redis progress backend requires redisAddr")
		}
		c.Jobs = store.NewRedisImportJobStore(c.Redis, cfg.RedisKeyPrefix)
	}
	return c, nil
}

// Close releases the connections.
func (c *Clients) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// NewSource builds the trigger source selected by cfg.TriggerSource.
func NewSource(cfg config.FileConfig, c *Clients, logger *slog.Logger) (events.Source, error) {
	switch cfg.TriggerSource {
	case config.TriggerAMQP:
		return events.NewAMQPSource(events.AMQPConfig{
			URL:         cfg.AMQPURL,
			Queue:       cfg.AMQPQueue,
			Concurrency: cfg.Concurrency,
			Logger:      logger,
		})
	case config.TriggerMinio:
		return events.NewMinioSource(c.Minio, events.MinioSourceConfig{
			Prefix:      domain.UploadPrefix + "/",
			Suffix:      ".csv",
			Concurrency: cfg.Concurrency,
			Logger:      logger,
		})
	default:
		return NewStreamSource(cfg, c.Redis, logger)
	}
}

// NewStreamSource builds the Redis stream source; it is also the publisher
// used to replay uploads.
func NewStreamSource(cfg config.FileConfig, client *redis.Client, logger *slog.Logger) (*events.RedisStreamSource, error) {
	return events.NewRedisStreamSource(client, events.RedisStreamConfig{
		Stream:      cfg.StreamName,
		Group:       cfg.StreamGroup,
		Consumer:    cfg.StreamConsumer,
		Concurrency: cfg.Concurrency,
		ClaimIdle:   time.Duration(cfg.StreamClaimIdleMs) * time.Millisecond,
		Logger:      logger,
	})
}
