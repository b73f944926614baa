package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"readshelf/pkg/domain"
	"readshelf/pkg/store"
	"readshelf/pkg/validation"
)

var (
	// ErrImportNotFound is returned when no import job exists for the user.
	ErrImportNotFound = errors.New("import not found")
	// ErrBookNotFound is returned when the user owns no book with that id.
	ErrBookNotFound = errors.New("book not found")
	// ErrDuplicateBook is returned when the user already has a book with the same title and author.
	ErrDuplicateBook = errors.New("book already exists")
	// ErrInvalidUserID is returned when a user id cannot be a single object key segment.
	ErrInvalidUserID = errors.New("user id cannot address an upload key")
)

const defaultUploadURLTTL = time.Hour

// UploadPresigner issues time-bounded write handles for one object key.
type UploadPresigner interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Books        store.BookStore
	Jobs         store.ImportJobStore
	Uploads      UploadPresigner
	UploadURLTTL time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
	NewID        func() string
}

// App issues upload intents, reads import status and manages single books.
type App struct {
	books        store.BookStore
	jobs         store.ImportJobStore
	uploads      UploadPresigner
	validator    *validation.Validator
	uploadURLTTL time.Duration
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// UploadIntent is returned to a client that wants to upload an import file.
type UploadIntent struct {
	ImportID    string    `json:"importId"`
	WriteHandle string    `json:"writeHandle"`
	ObjectKey   string    `json:"objectKey"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Books == nil {
		return nil, errors.New("book store required")
	}
	if cfg.Jobs == nil {
		return nil, errors.New("import job store required")
	}
	if cfg.Uploads == nil {
		return nil, errors.New("upload presigner required")
	}
	ttl := cfg.UploadURLTTL
	if ttl <= 0 {
		ttl = defaultUploadURLTTL
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
		books:        cfg.Books,
		jobs:         cfg.Jobs,
		uploads:      cfg.Uploads,
		validator:    validation.New(),
		uploadURLTTL: ttl,
		logger:       logger,
		now:          now,
		newID:        newID,
	}, nil
}

// CreateImport records a processing job and returns a write handle scoped to
// the job's object key. Nothing is returned unless the job was stored.
func (a *App) CreateImport(ctx context.Context, userID string) (UploadIntent, error) {
	if strings.TrimSpace(userID) == "" {
		return UploadIntent{}, errors.New("user id required")
	}
	now := a.now()
	importID := a.newID()
	key := domain.ImportObjectKey(userID, importID)
	if parsedUser, parsedImport, err := domain.ParseImportObjectKey(key); err != nil || parsedUser != userID || parsedImport != importID {
		return UploadIntent{}, fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	if err := a.jobs.CreateJob(ctx, domain.NewImportJob(importID, userID, now)); err != nil {
		return UploadIntent{}, fmt.Errorf("create import job: %w", err)
	}
	url, err := a.uploads.PresignPut(ctx, key, a.uploadURLTTL)
	if err != nil {
		a.logger.Error("presign import upload", "import_id", importID, "user_id", userID, "err", err)
		return UploadIntent{}, fmt.Errorf("presign upload: %w", err)
	}
	return UploadIntent{
		ImportID:    importID,
		WriteHandle: url,
		ObjectKey:   key,
		ExpiresAt:   now.Add(a.uploadURLTTL),
	}, nil
}

// GetImportStatus returns the job verbatim.
func (a *App) GetImportStatus(ctx context.Context, userID, importID string) (domain.ImportJob, error) {
	job, ok, err := a.jobs.GetJob(ctx, importID, userID)
	if err != nil {
		return domain.ImportJob{}, err
	}
	if !ok {
		return domain.ImportJob{}, ErrImportNotFound
	}
	return job, nil
}

// CreateBook validates input and stores a new book unless the user already
// has one with the same title and author.
func (a *App) CreateBook(ctx context.Context, userID string, input validation.BookInput) (domain.BookRecord, error) {
	input = normalizeInput(input)
	if err := a.validator.Validate(input); err != nil {
		return domain.BookRecord{}, err
	}
	bookKey := domain.BookKey(input.Title, input.Author)
	if err := a.ensureUniqueKey(ctx, userID, bookKey, ""); err != nil {
		return domain.BookRecord{}, err
	}
	now := a.now()
	book := applyInput(domain.BookRecord{
		UserID:    userID,
		BookID:    a.newID(),
		CreatedAt: now,
	}, input, now)
	if err := a.books.PutBook(ctx, book); err != nil {
		return domain.BookRecord{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// ListBooks returns every book of the user.
func (a *App) ListBooks(ctx context.Context, userID string) ([]domain.BookRecord, error) {
	return a.books.ListBooksByUser(ctx, userID)
}

// GetBook returns one book of the user.
func (a *App) GetBook(ctx context.Context, userID, bookID string) (domain.BookRecord, error) {
	book, ok, err := a.books.GetBook(ctx, userID, bookID)
	if err != nil {
		return domain.BookRecord{}, err
	}
	if !ok {
		return domain.BookRecord{}, ErrBookNotFound
	}
	return book, nil
}

// UpdateBook replaces the editable fields of a book.
func (a *App) UpdateBook(ctx context.Context, userID, bookID string, input validation.BookInput) (domain.BookRecord, error) {
	existing, err := a.GetBook(ctx, userID, bookID)
	if err != nil {
		return domain.BookRecord{}, err
	}
	input = normalizeInput(input)
	if err := a.validator.Validate(input); err != nil {
		return domain.BookRecord{}, err
	}
	bookKey := domain.BookKey(input.Title, input.Author)
	if bookKey != existing.BookKey {
		if err := a.ensureUniqueKey(ctx, userID, bookKey, bookID); err != nil {
			return domain.BookRecord{}, err
		}
	}
	book := applyInput(existing, input, a.now())
	if err := a.books.PutBook(ctx, book); err != nil {
		return domain.BookRecord{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// DeleteBook removes one book of the user.
func (a *App) DeleteBook(ctx context.Context, userID, bookID string) error {
	if _, err := a.GetBook(ctx, userID, bookID); err != nil {
		return err
	}
	return a.books.DeleteBook(ctx, userID, bookID)
}

func (a *App) ensureUniqueKey(ctx context.Context, userID, bookKey, selfID string) error {
	matches, err := a.books.FindByUserAndBookKey(ctx, userID, bookKey)
	if err != nil {
		return fmt.Errorf("lookup book key: %w", err)
	}
	for _, m := range matches {
		if m.BookID != selfID {
			return ErrDuplicateBook
		}
	}
	return nil
}

func normalizeInput(in validation.BookInput) validation.BookInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Status = strings.TrimSpace(in.Status)
	in.Notes = strings.TrimSpace(in.Notes)
	return in
}

func applyInput(book domain.BookRecord, in validation.BookInput, now time.Time) domain.BookRecord {
	book.Title = in.Title
	book.Author = in.Author
	book.BookKey = domain.BookKey(in.Title, in.Author)
	book.Status = domain.BookStatus(in.Status)
	book.Rating = in.Rating
	book.Notes = in.Notes
	book.UpdatedAt = now
	return book
}
