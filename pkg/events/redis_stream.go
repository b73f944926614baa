package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"readshelf/internal/util"
)

// RedisStreamConfig configures a consumer-group reader of a Redis stream.
type RedisStreamConfig struct {
	Stream      string
	Group       string
	Consumer    string
	Concurrency int
	Block       time.Duration
	// ClaimIdle > 0 re-delivers messages left pending by a dead consumer for at
	// least this long. Zero keeps delivery at-most-once.
	ClaimIdle  time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	Logger     *slog.Logger
}

// RedisStreamSource reads object-created events from a Redis stream. Each
// message carries either "bucket"+"key" fields or an "event" field holding an
// S3 notification document.
type RedisStreamSource struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	concurrency  int
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	logger       *slog.Logger
	once         sync.Once
	groupErr     error
}

// NewRedisStreamSource applies defaults to cfg.
func NewRedisStreamSource(client *redis.Client, cfg RedisStreamConfig) (*RedisStreamSource, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("event stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "importer"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 1
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStreamSource{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		concurrency:  concurrency,
		block:        block,
		claimIdle:    cfg.ClaimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
		logger:       logger,
	}, nil
}

// Publish appends an event to the stream.
func (s *RedisStreamSource) Publish(ctx context.Context, ev ObjectCreated) error {
	if strings.TrimSpace(ev.Key) == "" {
		return errors.New("object key required")
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"bucket": ev.Bucket,
			"key":    ev.Key,
		},
	}).Err()
}

// Run starts the configured number of consumers and blocks until ctx is done.
func (s *RedisStreamSource) Run(ctx context.Context, handle Handler) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", s.consumerBase, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consumeLoop(ctx, consumer, handle)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *RedisStreamSource) ensureGroup(ctx context.Context) error {
	s.once.Do(func() {
		err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			s.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return s.groupErr
}

func (s *RedisStreamSource) consumeLoop(ctx context.Context, consumer string, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.claimIdle > 0 {
			if msgs, err := s.claimPending(ctx, consumer); err == nil {
				for _, msg := range msgs {
					s.handleMessage(ctx, msg, handle)
				}
			}
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{s.stream, ">"},
			Count:    s.readCount,
			Block:    s.block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				s.logger.Warn("read event stream", "stream", s.stream, "err", err)
				sleepWithContext(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.handleMessage(ctx, msg, handle)
			}
		}
	}
}

func (s *RedisStreamSource) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  s.claimIdle,
		Start:    "0-0",
		Count:    s.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// handleMessage runs the handler and acknowledges the message whatever the
// outcome; failed runs are recorded on the import job, not retried here.
func (s *RedisStreamSource) handleMessage(ctx context.Context, msg redis.XMessage, handle Handler) {
	defer s.ackAndDel(ctx, msg.ID)
	evs, err := decodeStreamMessage(msg.Values)
	if err != nil {
		s.logger.Warn("drop malformed event", "stream", s.stream, "msg_id", msg.ID, "err", err)
		return
	}
	for _, ev := range evs {
		if err := handle(ctx, ev); err != nil {
			s.logger.Error("handle event", "stream", s.stream, "msg_id", msg.ID, "key", ev.Key, "err", err)
		}
	}
}

func (s *RedisStreamSource) ackAndDel(ctx context.Context, msgID string) {
	_, _ = s.client.XAck(ctx, s.stream, s.group, msgID).Result()
	_, _ = s.client.XDel(ctx, s.stream, msgID).Result()
}

func decodeStreamMessage(values map[string]any) ([]ObjectCreated, error) {
	if raw, _ := values["event"].(string); raw != "" {
		return DecodeS3Event([]byte(raw))
	}
	bucket, _ := values["bucket"].(string)
	key, _ := values["key"].(string)
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: missing key", ErrMalformedEvent)
	}
	return []ObjectCreated{{Bucket: bucket, Key: key}}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
