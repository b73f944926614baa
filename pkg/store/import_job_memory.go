package store

import (
	"context"
	"sync"
	"time"

	"readshelf/pkg/domain"
)

// MemoryImportJobStore keeps import jobs in-process.
type MemoryImportJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.ImportJob
}

// NewMemoryImportJobStore initializes an empty store.
func NewMemoryImportJobStore() *MemoryImportJobStore {
	return &MemoryImportJobStore{jobs: make(map[string]domain.ImportJob)}
}

func (m *MemoryImportJobStore) CreateJob(_ context.Context, job domain.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryJobKey(job.ImportID, job.UserID)
	if _, exists := m.jobs[key]; exists {
		return ErrJobExists
	}
	m.jobs[key] = copyJob(job)
	return nil
}

func (m *MemoryImportJobStore) GetJob(_ context.Context, importID, userID string) (domain.ImportJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[memoryJobKey(importID, userID)]
	if !ok {
		return domain.ImportJob{}, false, nil
	}
	return copyJob(job), true, nil
}

func (m *MemoryImportJobStore) FinalizeJob(_ context.Context, job domain.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryJobKey(job.ImportID, job.UserID)
	current, ok := m.jobs[key]
	if !ok {
		return ErrJobNotFound
	}
	if err := checkFinalize(current.Stage, job.Stage); err != nil {
		return err
	}
	job.CreatedAt = current.CreatedAt
	job.UpdatedAt = time.Now().UTC()
	m.jobs[key] = copyJob(job)
	return nil
}

func memoryJobKey(importID, userID string) string {
	return userID + "/" + importID
}

func copyJob(job domain.ImportJob) domain.ImportJob {
	errs := make([]domain.ImportRowError, len(job.Errors))
	copy(errs, job.Errors)
	job.Errors = errs
	return job
}
