package store

import (
	"context"
	"errors"

	"readshelf/pkg/domain"
)

// MaxBatchSize is the bulk-write ceiling of the catalog table.
const MaxBatchSize = 25

var (
	// ErrBatchTooLarge is returned when a bulk write exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	// ErrJobNotFound is returned when an import job does not exist.
	ErrJobNotFound = errors.New("import job not found")
	// ErrJobFinalized is returned when a terminal job would be rewritten.
	ErrJobFinalized = errors.New("import job already finalized")
	// ErrJobExists is returned when an import job id is reused.
	ErrJobExists = errors.New("import job already exists")
)

// BookStore persists catalog entries keyed by (userId, bookId).
type BookStore interface {
	// FindByUserAndBookKey uses the (user_id, book_key) index.
	FindByUserAndBookKey(ctx context.Context, userID, bookKey string) ([]domain.BookRecord, error)
	// BatchPutBooks writes up to MaxBatchSize records in one call.
	BatchPutBooks(ctx context.Context, books []domain.BookRecord) error
	PutBook(ctx context.Context, book domain.BookRecord) error
	GetBook(ctx context.Context, userID, bookID string) (domain.BookRecord, bool, error)
	ListBooksByUser(ctx context.Context, userID string) ([]domain.BookRecord, error)
	DeleteBook(ctx context.Context, userID, bookID string) error
}

// ImportJobStore persists import progress records keyed by (importId, userId).
type ImportJobStore interface {
	CreateJob(ctx context.Context, job domain.ImportJob) error
	GetJob(ctx context.Context, importID, userID string) (domain.ImportJob, bool, error)
	// FinalizeJob moves a processing job to a terminal stage and stores its
	// counters and errors in one write.
	FinalizeJob(ctx context.Context, job domain.ImportJob) error
}

func checkFinalize(current, next domain.ImportStage) error {
	if current.Terminal() {
		return ErrJobFinalized
	}
	if !current.CanAdvanceTo(next) {
		return errors.New("finalize requires a terminal stage")
	}
	return nil
}
