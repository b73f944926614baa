package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"readshelf/pkg/domain"
	"readshelf/pkg/store"
	"readshelf/pkg/validation"
)

const (
	fieldFile    = "file"
	fieldHeaders = "headers"
	fieldSystem  = "system"

	msgEmptyFile   = "file is empty"
	msgTooFewLines = "file must contain a header row and at least one data row"
	msgSaveFailed  = "failed to save"

	msgRatingNotWhole = "must be a whole number"
)

var msgInvalidHeaders = "invalid headers, expected: " + strings.Join(requiredHeaders, ", ")

// candidate is a validated, non-duplicate row waiting to be written.
type candidate struct {
	row  int
	book domain.BookRecord
}

// Process imports the object at key and finalizes its job. It returns the
// job as written, or false when nothing could be written: the key did not
// identify a job, or the final update itself failed.
func (a *App) Process(ctx context.Context, key string) (result domain.ImportJob, written bool) {
	userID, importID, err := domain.ParseImportObjectKey(key)
	if err != nil {
		if userID == "" || importID == "" {
			a.logger.Warn("skip import with malformed object key", "key", key, "err", err)
			return domain.ImportJob{}, false
		}
		job := domain.ImportJob{ImportID: importID, UserID: userID}
		return a.failRun(ctx, job, err.Error())
	}

	job := domain.ImportJob{ImportID: importID, UserID: userID, Errors: []domain.ImportRowError{}}
	defer func() {
		if r := recover(); r != nil {
			result, written = a.failRun(ctx, job, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	if err := a.run(ctx, key, &job); err != nil {
		return a.failRun(ctx, job, err.Error())
	}
	if err := a.finalize(ctx, &job); err != nil {
		if errors.Is(err, store.ErrJobFinalized) {
			a.logger.Info("import already finalized", "import_id", job.ImportID, "user_id", job.UserID)
			return domain.ImportJob{}, false
		}
		return a.failRun(ctx, job, err.Error())
	}
	a.logger.Info("import finished",
		"import_id", job.ImportID,
		"user_id", job.UserID,
		"stage", job.Stage,
		"total_rows", job.TotalRows,
		"processed_rows", job.ProcessedRows,
		"success_count", job.SuccessCount,
		"error_count", job.ErrorCount,
	)
	return job, true
}

// run fills in job and sets its terminal stage. Structural problems with the
// file end the run with stage failed and a nil error; a non-nil error is an
// unexpected failure.
func (a *App) run(ctx context.Context, key string, job *domain.ImportJob) error {
	data, err := a.objects.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch object: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		abort(job, domain.ImportRowError{Row: 0, Field: fieldFile, Message: msgEmptyFile})
		return nil
	}

	lines := splitLines(content)
	if len(lines) < 2 {
		abort(job, domain.ImportRowError{Row: 1, Field: fieldFile, Message: msgTooFewLines})
		return nil
	}

	header := parseHeader(lines[0])
	rows := lines[1:]
	job.TotalRows = len(rows)
	if !header.hasRequired() {
		abort(job, domain.ImportRowError{Row: 0, Field: fieldHeaders, Message: msgInvalidHeaders})
		return nil
	}

	pending, err := a.collect(ctx, header, rows, job)
	if err != nil {
		return err
	}
	a.writeBatches(ctx, pending, job)
	job.Stage = domain.StageCompleted
	return nil
}

// collect validates and dedups every data row in file order.
func (a *App) collect(ctx context.Context, header headerIndex, rows []string, job *domain.ImportJob) ([]candidate, error) {
	var pending []candidate
	seen := make(map[string]bool)
	for i, line := range rows {
		row := i + 2
		job.ProcessedRows++

		input, ratingErr := header.bookInput(line)
		fields, err := a.validator.Fields(input)
		if err != nil {
			return nil, fmt.Errorf("validate row %d: %w", row, err)
		}
		fields = withFieldError(fields, ratingErr)
		if len(fields) > 0 {
			job.Errors = append(job.Errors, rowErrors(row, fields)...)
			continue
		}

		bookKey := domain.BookKey(input.Title, input.Author)
		if seen[bookKey] {
			continue
		}
		existing, err := a.books.FindByUserAndBookKey(ctx, job.UserID, bookKey)
		if err != nil {
			return nil, fmt.Errorf("lookup row %d: %w", row, err)
		}
		if len(existing) > 0 {
			continue
		}
		seen[bookKey] = true

		now := a.now()
		pending = append(pending, candidate{row: row, book: domain.BookRecord{
			UserID:    job.UserID,
			BookID:    a.newID(),
			BookKey:   bookKey,
			Title:     input.Title,
			Author:    input.Author,
			Status:    domain.BookStatus(input.Status),
			Rating:    input.Rating,
			Notes:     input.Notes,
			CreatedAt: now,
			UpdatedAt: now,
		}})
	}
	return pending, nil
}

// writeBatches writes pending rows in order. A failed batch turns each of its
// rows into a system error and the next batch is still attempted.
func (a *App) writeBatches(ctx context.Context, pending []candidate, job *domain.ImportJob) {
	for start := 0; start < len(pending); start += a.batchSize {
		end := min(start+a.batchSize, len(pending))
		batch := pending[start:end]
		books := make([]domain.BookRecord, len(batch))
		for i, c := range batch {
			books[i] = c.book
		}
		if err := a.books.BatchPutBooks(ctx, books); err != nil {
			a.logger.Warn("batch write failed",
				"import_id", job.ImportID,
				"user_id", job.UserID,
				"first_row", batch[0].row,
				"size", len(batch),
				"err", err,
			)
			for _, c := range batch {
				job.Errors = append(job.Errors, domain.ImportRowError{Row: c.row, Field: fieldSystem, Message: msgSaveFailed})
			}
			continue
		}
		job.SuccessCount += len(batch)
	}
}

func (a *App) finalize(ctx context.Context, job *domain.ImportJob) error {
	job.ErrorCount = len(job.Errors)
	job.UpdatedAt = a.now()
	if err := a.jobs.FinalizeJob(ctx, *job); err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	return nil
}

// failRun makes a best-effort attempt to mark the job failed with a single
// system error, keeping the counters reached so far. Its own failure is only
// logged.
func (a *App) failRun(ctx context.Context, job domain.ImportJob, msg string) (domain.ImportJob, bool) {
	a.logger.Error("import failed", "import_id", job.ImportID, "user_id", job.UserID, "err", msg)
	job.Stage = domain.StageFailed
	job.Errors = []domain.ImportRowError{{Row: 0, Field: fieldSystem, Message: msg}}
	if err := a.finalize(ctx, &job); err != nil {
		if errors.Is(err, store.ErrJobFinalized) {
			a.logger.Info("import already finalized", "import_id", job.ImportID, "user_id", job.UserID)
			return domain.ImportJob{}, false
		}
		a.logger.Error("record import failure", "import_id", job.ImportID, "user_id", job.UserID, "err", err)
		return domain.ImportJob{}, false
	}
	return job, true
}

func abort(job *domain.ImportJob, rowErr domain.ImportRowError) {
	job.Stage = domain.StageFailed
	job.Errors = []domain.ImportRowError{rowErr}
}

func rowErrors(row int, fields []validation.FieldError) []domain.ImportRowError {
	out := make([]domain.ImportRowError, len(fields))
	for i, f := range fields {
		out[i] = domain.ImportRowError{Row: row, Field: f.Field, Message: f.Message}
	}
	return out
}
