package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	UserID    string    `gorm:"primaryKey;index:idx_books_user_book_key,priority:1"`
	BookID    string    `gorm:"primaryKey"`
	BookKey   string    `gorm:"not null;index:idx_books_user_book_key,priority:2"`
	Title     string    `gorm:"not null"`
	Author    string    `gorm:"not null"`
	Status    string    `gorm:"not null"`
	Rating    int       `gorm:"not null;default:0"`
	Notes     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (BookModel) TableName() string { return "books" }

type ImportJobModel struct {
	ImportID      string         `gorm:"primaryKey"`
	UserID        string         `gorm:"primaryKey"`
	Stage         string         `gorm:"not null"`
	TotalRows     int            `gorm:"not null"`
	ProcessedRows int            `gorm:"not null"`
	SuccessCount  int            `gorm:"not null"`
	ErrorCount    int            `gorm:"not null"`
	Errors        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

func (ImportJobModel) TableName() string { return "import_jobs" }
