package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"readshelf/pkg/domain"
	"readshelf/pkg/events"
	"readshelf/pkg/store"
	"readshelf/pkg/validation"
)

// ObjectReader downloads uploaded files.
type ObjectReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Config holds runtime dependencies. Stores and the object reader are
// constructed once per process and shared by every run.
type Config struct {
	Books     store.BookStore
	Jobs      store.ImportJobStore
	Objects   ObjectReader
	BatchSize int
	Logger    *slog.Logger
	// Now and NewID default to wall-clock UTC and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// App runs CSV imports.
type App struct {
	books     store.BookStore
	jobs      store.ImportJobStore
	objects   ObjectReader
	validator *validation.Validator
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// New constructs the importer.
func New(cfg Config) (*App, error) {
	if cfg.Books == nil {
		return nil, errors.New("book store required")
	}
	if cfg.Jobs == nil {
		return nil, errors.New("import job store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object reader required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > store.MaxBatchSize {
		batchSize = store.MaxBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &App{
		books:     cfg.Books,
		jobs:      cfg.Jobs,
		objects:   cfg.Objects,
		validator: validation.New(),
		batchSize: batchSize,
		logger:    logger,
		now:       now,
		newID:     newID,
	}, nil
}

// HandleEvent is an events.Handler. Runs never fail from the caller's point
// of view; outcomes are recorded on the import job.
func (a *App) HandleEvent(ctx context.Context, ev events.ObjectCreated) error {
	if !strings.HasPrefix(strings.TrimPrefix(ev.Key, "/"), domain.UploadPrefix+"/") {
		a.logger.Debug("ignore object outside upload prefix", "bucket", ev.Bucket, "key", ev.Key)
		return nil
	}
	a.Process(ctx, ev.Key)
	return nil
}
