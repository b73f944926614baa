package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"readshelf/pkg/domain"
)

const migrateLockID int64 = 51820417

// OpenPostgres opens the DB and runs auto-migrations under an advisory lock.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &ImportJobModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return db, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GormBookStore implements BookStore using GORM + Postgres.
type GormBookStore struct {
	db *gorm.DB
}

// NewGormBookStore wraps an opened database.
func NewGormBookStore(db *gorm.DB) *GormBookStore {
	return &GormBookStore{db: db}
}

// FindByUserAndBookKey returns every record of the user sharing bookKey.
func (s *GormBookStore) FindByUserAndBookKey(ctx context.Context, userID, bookKey string) ([]domain.BookRecord, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND book_key = ?", userID, bookKey).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// BatchPutBooks inserts a batch in a single statement.
func (s *GormBookStore) BatchPutBooks(ctx context.Context, books []domain.BookRecord) error {
	if len(books) > MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(books), MaxBatchSize)
	}
	if len(books) == 0 {
		return nil
	}
	models := make([]BookModel, 0, len(books))
	for _, b := range books {
		models = append(models, bookToModel(b))
	}
	return s.db.WithContext(ctx).Create(&models).Error
}

// PutBook stores or updates a book.
func (s *GormBookStore) PutBook(ctx context.Context, b domain.BookRecord) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"book_key", "title", "author", "status", "rating", "notes", "updated_at"}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormBookStore) GetBook(ctx context.Context, userID, bookID string) (domain.BookRecord, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ? AND book_id = ?", userID, bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.BookRecord{}, false, nil
		}
		return domain.BookRecord{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooksByUser returns a user's books ordered by created_at.
func (s *GormBookStore) ListBooksByUser(ctx context.Context, userID string) ([]domain.BookRecord, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// DeleteBook removes a book.
func (s *GormBookStore) DeleteBook(ctx context.Context, userID, bookID string) error {
	return s.db.WithContext(ctx).Delete(&BookModel{}, "user_id = ? AND book_id = ?", userID, bookID).Error
}

func bookToModel(b domain.BookRecord) BookModel {
	return BookModel{
		UserID:    b.UserID,
		BookID:    b.BookID,
		BookKey:   b.BookKey,
		Title:     b.Title,
		Author:    b.Author,
		Status:    string(b.Status),
		Rating:    b.Rating,
		Notes:     b.Notes,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.BookRecord {
	return domain.BookRecord{
		UserID:    m.UserID,
		BookID:    m.BookID,
		BookKey:   m.BookKey,
		Title:     m.Title,
		Author:    m.Author,
		Status:    domain.BookStatus(m.Status),
		Rating:    m.Rating,
		Notes:     m.Notes,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func booksFromModels(models []BookModel) []domain.BookRecord {
	res := make([]domain.BookRecord, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res
}
