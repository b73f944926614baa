package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7/pkg/notification"
	"golang.org/x/sync/errgroup"
)

// NotificationListener streams bucket notifications.
type NotificationListener interface {
	ObjectCreatedNotifications(ctx context.Context, prefix, suffix string) <-chan notification.Info
}

// MinioSource listens on a bucket for new objects under Prefix with Suffix.
type MinioSource struct {
	listener    NotificationListener
	prefix      string
	suffix      string
	concurrency int
	logger      *slog.Logger
}

// MinioSourceConfig configures NewMinioSource.
type MinioSourceConfig struct {
	Prefix      string
	Suffix      string
	Concurrency int
	Logger      *slog.Logger
}

// NewMinioSource wraps a listener such as storage.MinioStore.
func NewMinioSource(listener NotificationListener, cfg MinioSourceConfig) (*MinioSource, error) {
	if listener == nil {
		return nil, errors.New("notification listener required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MinioSource{
		listener:    listener,
		prefix:      cfg.Prefix,
		suffix:      cfg.Suffix,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Run re-subscribes when the notification stream ends and returns once ctx is
// done and in-flight handlers have finished.
func (s *MinioSource) Run(ctx context.Context, handle Handler) error {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	defer func() { _ = g.Wait() }()

	for {
		for info := range s.listener.ObjectCreatedNotifications(ctx, s.prefix, s.suffix) {
			if info.Err != nil {
				s.logger.Warn("bucket notification error", "err", info.Err)
				continue
			}
			for _, record := range info.Records {
				ev, ok, err := fromNotificationEvent(record)
				if err != nil {
					s.logger.Warn("drop malformed event", "err", err)
					continue
				}
				if !ok {
					continue
				}
				g.Go(func() error {
					if err := handle(ctx, ev); err != nil {
						s.logger.Error("handle event", "key", ev.Key, "err", err)
					}
					return nil
				})
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleepWithContext(ctx, time.Second) {
			return ctx.Err()
		}
	}
}
