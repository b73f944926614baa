package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"readshelf/pkg/domain"
)

const defaultJobKeyPrefix = "readshelf"

// RedisImportJobStore keeps each job in a hash and its row errors in a list,
// one JSON-encoded entry per error.
type RedisImportJobStore struct {
	client *redis.Client
	prefix string
}

// NewRedisImportJobStore uses an already configured client.
func NewRedisImportJobStore(client *redis.Client, prefix string) *RedisImportJobStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultJobKeyPrefix
	}
	return &RedisImportJobStore{client: client, prefix: prefix}
}

// CreateJob writes a new job; it fails if the id is already taken.
func (s *RedisImportJobStore) CreateJob(ctx context.Context, job domain.ImportJob) error {
	key := s.jobKey(job.ImportID, job.UserID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrJobExists
		}
		return s.writeJob(ctx, tx, job)
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrJobExists
	}
	return err
}

// GetJob returns the job with every stored error decoded.
func (s *RedisImportJobStore) GetJob(ctx context.Context, importID, userID string) (domain.ImportJob, bool, error) {
	var (
		hashCmd   *redis.MapStringStringCmd
		errorsCmd *redis.StringSliceCmd
	)
	// Read both keys in one MULTI so a concurrent finalize is seen whole or not at all.
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hashCmd = pipe.HGetAll(ctx, s.jobKey(importID, userID))
		errorsCmd = pipe.LRange(ctx, s.errorsKey(importID, userID), 0, -1)
		return nil
	}); err != nil && err != redis.Nil {
		return domain.ImportJob{}, false, err
	}
	data, err := hashCmd.Result()
	if err != nil {
		return domain.ImportJob{}, false, err
	}
	if len(data) == 0 {
		return domain.ImportJob{}, false, nil
	}
	rawErrors, err := errorsCmd.Result()
	if err != nil && err != redis.Nil {
		return domain.ImportJob{}, false, err
	}
	job, err := decodeImportJob(importID, userID, data, rawErrors)
	if err != nil {
		return domain.ImportJob{}, false, err
	}
	return job, true, nil
}

// FinalizeJob rewrites counters and errors only while the job is still processing.
func (s *RedisImportJobStore) FinalizeJob(ctx context.Context, job domain.ImportJob) error {
	key := s.jobKey(job.ImportID, job.UserID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			stage, err := tx.HGet(ctx, key, "stage").Result()
			if err == redis.Nil {
				return ErrJobNotFound
			}
			if err != nil {
				return err
			}
			if err := checkFinalize(domain.ImportStage(stage), job.Stage); err != nil {
				return err
			}
			createdRaw, err := tx.HGet(ctx, key, "createdAt").Result()
			if err != nil && err != redis.Nil {
				return err
			}
			if createdAt, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
				job.CreatedAt = createdAt
			}
			job.UpdatedAt = time.Now().UTC()
			return s.writeJob(ctx, tx, job)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

func (s *RedisImportJobStore) writeJob(ctx context.Context, tx *redis.Tx, job domain.ImportJob) error {
	encoded := make([]any, 0, len(job.Errors))
	for _, rowErr := range job.Errors {
		raw, err := json.Marshal(rowErr)
		if err != nil {
			return fmt.Errorf("encode import error: %w", err)
		}
		encoded = append(encoded, string(raw))
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := job.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	errorsKey := s.errorsKey(job.ImportID, job.UserID)
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobKey(job.ImportID, job.UserID), map[string]any{
			"importId":      job.ImportID,
			"userId":        job.UserID,
			"stage":         string(job.Stage),
			"totalRows":     strconv.Itoa(job.TotalRows),
			"processedRows": strconv.Itoa(job.ProcessedRows),
			"successCount":  strconv.Itoa(job.SuccessCount),
			"errorCount":    strconv.Itoa(job.ErrorCount),
			"createdAt":     createdAt.Format(time.RFC3339Nano),
			"updatedAt":     updatedAt.Format(time.RFC3339Nano),
		})
		pipe.Del(ctx, errorsKey)
		if len(encoded) > 0 {
			pipe.RPush(ctx, errorsKey, encoded...)
		}
		return nil
	})
	return err
}

func (s *RedisImportJobStore) jobKey(importID, userID string) string {
	return fmt.Sprintf("%s:import:%s:%s", s.prefix, userID, importID)
}

func (s *RedisImportJobStore) errorsKey(importID, userID string) string {
	return s.jobKey(importID, userID) + ":errors"
}

func decodeImportJob(importID, userID string, data map[string]string, rawErrors []string) (domain.ImportJob, error) {
	job := domain.ImportJob{
		ImportID: importID,
		UserID:   userID,
		Stage:    domain.ImportStage(data["stage"]),
		Errors:   make([]domain.ImportRowError, 0, len(rawErrors)),
	}
	counters := []struct {
		field string
		dst   *int
	}{
		{"totalRows", &job.TotalRows},
		{"processedRows", &job.ProcessedRows},
		{"successCount", &job.SuccessCount},
		{"errorCount", &job.ErrorCount},
	}
	for _, c := range counters {
		v := data[c.field]
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.ImportJob{}, fmt.Errorf("decode %s: %w", c.field, err)
		}
		*c.dst = n
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	for i, raw := range rawErrors {
		var rowErr domain.ImportRowError
		if err := json.Unmarshal([]byte(raw), &rowErr); err != nil {
			return domain.ImportJob{}, fmt.Errorf("decode import error %d: %w", i, err)
		}
		job.Errors = append(job.Errors, rowErr)
	}
	return job, nil
}
