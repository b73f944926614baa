package domain

import (
	"strings"
	"time"
)

// BookStatus is the reading state of a catalog entry.
type BookStatus string

const (
	StatusReading   BookStatus = "READING"
	StatusCompleted BookStatus = "COMPLETED"
	StatusWishlist  BookStatus = "WISHLIST"
	StatusAbandoned BookStatus = "ABANDONED"
)

// BookStatuses lists every accepted status in declaration order.
var BookStatuses = []BookStatus{StatusReading, StatusCompleted, StatusWishlist, StatusAbandoned}

// ImportStage is the lifecycle marker of an import job.
type ImportStage string

const (
	StageProcessing ImportStage = "processing"
	StageCompleted  ImportStage = "completed"
	StageFailed     ImportStage = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s ImportStage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the stage monotonic.
func (s ImportStage) CanAdvanceTo(next ImportStage) bool {
	return s == StageProcessing && next.Terminal()
}

// bookKeySeparator joins the normalized title and author.
const bookKeySeparator = "#"

// BookKey derives the per-user dedup key from a title and author.
func BookKey(title, author string) string {
	return strings.ToLower(title) + bookKeySeparator + strings.ToLower(author)
}

// BookRecord is one catalog entry owned by a user.
type BookRecord struct {
	UserID    string     `json:"userId"`
	BookID    string     `json:"bookId"`
	BookKey   string     `json:"bookKey"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	Status    BookStatus `json:"status"`
	Rating    int        `json:"rating"`
	Notes     string     `json:"notes"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ImportRowError describes one rejected field of one CSV row.
// Row 0 is reserved for file-level problems.
type ImportRowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ImportJob is the durable progress record of one bulk import.
type ImportJob struct {
	ImportID      string           `json:"importId"`
	UserID        string           `json:"userId"`
	Stage         ImportStage      `json:"stage"`
	TotalRows     int              `json:"totalRows"`
	ProcessedRows int              `json:"processedRows"`
	SuccessCount  int              `json:"successCount"`
	ErrorCount    int              `json:"errorCount"`
	Errors        []ImportRowError `json:"errors"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// NewImportJob returns a fresh job in the processing stage with zeroed counters.
func NewImportJob(importID, userID string, now time.Time) ImportJob {
	return ImportJob{
		ImportID:  importID,
		UserID:    userID,
		Stage:     StageProcessing,
		Errors:    []ImportRowError{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
