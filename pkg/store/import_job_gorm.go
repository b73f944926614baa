package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"readshelf/pkg/domain"
)

// GormImportJobStore implements ImportJobStore on the import_jobs table.
type GormImportJobStore struct {
	db *gorm.DB
}

// NewGormImportJobStore wraps an opened database.
func NewGormImportJobStore(db *gorm.DB) *GormImportJobStore {
	return &GormImportJobStore{db: db}
}

// CreateJob inserts a new job row.
func (s *GormImportJobStore) CreateJob(ctx context.Context, job domain.ImportJob) error {
	model, err := jobToModel(job)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrJobExists
		}
		return err
	}
	return nil
}

// GetJob returns a job by (importId, userId).
func (s *GormImportJobStore) GetJob(ctx context.Context, importID, userID string) (domain.ImportJob, bool, error) {
	var model ImportJobModel
	if err := s.db.WithContext(ctx).First(&model, "import_id = ? AND user_id = ?", importID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ImportJob{}, false, nil
		}
		return domain.ImportJob{}, false, err
	}
	job, err := jobFromModel(model)
	if err != nil {
		return domain.ImportJob{}, false, err
	}
	return job, true, nil
}

// FinalizeJob locks the row and writes the terminal state.
func (s *GormImportJobStore) FinalizeJob(ctx context.Context, job domain.ImportJob) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current ImportJobModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "import_id = ? AND user_id = ?", job.ImportID, job.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		if err := checkFinalize(domain.ImportStage(current.Stage), job.Stage); err != nil {
			return err
		}
		errs, err := encodeRowErrors(job.Errors)
		if err != nil {
			return err
		}
		return tx.Model(&ImportJobModel{}).
			Where("import_id = ? AND user_id = ?", job.ImportID, job.UserID).
			Updates(map[string]any{
				"stage":          string(job.Stage),
				"total_rows":     job.TotalRows,
				"processed_rows": job.ProcessedRows,
				"success_count":  job.SuccessCount,
				"error_count":    job.ErrorCount,
				"errors":         errs,
				"updated_at":     time.Now().UTC(),
			}).Error
	})
}

func encodeRowErrors(errs []domain.ImportRowError) (datatypes.JSON, error) {
	if errs == nil {
		errs = []domain.ImportRowError{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("encode import errors: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func jobToModel(job domain.ImportJob) (ImportJobModel, error) {
	errs, err := encodeRowErrors(job.Errors)
	if err != nil {
		return ImportJobModel{}, err
	}
	return ImportJobModel{
		ImportID:      job.ImportID,
		UserID:        job.UserID,
		Stage:         string(job.Stage),
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		SuccessCount:  job.SuccessCount,
		ErrorCount:    job.ErrorCount,
		Errors:        errs,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}, nil
}

func jobFromModel(m ImportJobModel) (domain.ImportJob, error) {
	errs := []domain.ImportRowError{}
	if len(m.Errors) > 0 {
		if err := json.Unmarshal(m.Errors, &errs); err != nil {
			return domain.ImportJob{}, fmt.Errorf("decode import errors: %w", err)
		}
	}
	return domain.ImportJob{
		ImportID:      m.ImportID,
		UserID:        m.UserID,
		Stage:         domain.ImportStage(m.Stage),
		TotalRows:     m.TotalRows,
		ProcessedRows: m.ProcessedRows,
		SuccessCount:  m.SuccessCount,
		ErrorCount:    m.ErrorCount,
		Errors:        errs,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}
