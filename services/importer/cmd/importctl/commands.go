package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"readshelf/internal/util"
	"readshelf/pkg/domain"
	"readshelf/pkg/events"
	"readshelf/pkg/storage"
	"readshelf/pkg/store"
	"readshelf/services/importer/internal/app"
	"readshelf/services/importer/internal/config"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Operate the CSV book importer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath, "Importer config file")
	loadConfig := func() (config.FileConfig, error) {
		return config.Load(configPath)
	}
	root.AddCommand(newStatusCmd(loadConfig), newReplayCmd(loadConfig), newLocalCmd())
	return root
}

func newStatusCmd(loadConfig func() (config.FileConfig, error)) *cobra.Command {
	var userID, importID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print an import job",
		Long:  `Read an import job from the configured progress store and print it as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			jobs, closeFn, err := openJobStore(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			job, ok, err := jobs.GetJob(cmd.Context(), importID, userID)
			if err != nil {
				return fmt.Errorf("get import job: %w", err)
			}
			if !ok {
				return fmt.Errorf("import %s not found for user %s", importID, userID)
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner user id")
	cmd.Flags().StringVar(&importID, "import", "", "Import id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("import")
	return cmd
}

func newReplayCmd(loadConfig func() (config.FileConfig, error)) *cobra.Command {
	var key, bucket string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-publish an object-created event",
		Long:  `Append an object-created event for an uploaded file to the trigger stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := domain.ParseImportObjectKey(key); err != nil {
				return fmt.Errorf("invalid key %q: %w", key, err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.RedisAddr == "" {
				return errors.New("replay requires redisAddr")
			}
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			defer client.Close()
			source, err := app.NewStreamSource(cfg, client, slog.Default())
			if err != nil {
				return err
			}
			if bucket == "" {
				bucket = cfg.MinioBucket
			}
			if err := source.Publish(cmd.Context(), events.ObjectCreated{Bucket: bucket, Key: key}); err != nil {
				return fmt.Errorf("publish event: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", key, cfg.StreamName)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Object key, uploads/{userId}/{importId}.csv")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket name (defaults to minioBucket)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newLocalCmd() *cobra.Command {
	var userID, file, logLevel string
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Import a local CSV file with in-memory stores",
		Long:  `Run one import against a local CSV file without any backing services and print the resulting job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: util.ParseLevel(logLevel)}))
			job, err := runLocal(cmd.Context(), userID, data, logger)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local-user", "Owner user id")
	cmd.Flags().StringVar(&file, "file", "", "CSV file to import")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runLocal(ctx context.Context, userID string, data []byte, logger *slog.Logger) (domain.ImportJob, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ImportJob{}, errors.New("user id required")
	}
	jobs := store.NewMemoryImportJobStore()
	objects := storage.NewMemoryStore()
	importID := uuid.NewString()
	if err := jobs.CreateJob(ctx, domain.NewImportJob(importID, userID, time.Now().UTC())); err != nil {
		return domain.ImportJob{}, err
	}
	key := domain.ImportObjectKey(userID, importID)
	if err := objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "text/csv"); err != nil {
		return domain.ImportJob{}, err
	}
	importer, err := app.New(app.Config{
		Books:   store.NewMemoryBookStore(),
		Jobs:    jobs,
		Objects: objects,
		Logger:  logger,
	})
	if err != nil {
		return domain.ImportJob{}, err
	}
	job, ok := importer.Process(ctx, key)
	if !ok {
		return domain.ImportJob{}, errors.New("import did not finish")
	}
	return job, nil
}

func openJobStore(cfg config.FileConfig) (store.ImportJobStore, func(), error) {
	if cfg.ProgressBackend == config.ProgressPostgres {
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres: %w", err)
		}
		return store.NewGormImportJobStore(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}, nil
	}
	if cfg.RedisAddr == "" {
		return nil, nil, errors.New("redis progress backend requires redisAddr")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	return store.NewRedisImportJobStore(client, cfg.RedisKeyPrefix), func() { _ = client.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
