package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"readshelf/pkg/domain"
	"readshelf/pkg/storage"
	"readshelf/pkg/store"
	"readshelf/pkg/validation"
)

type failingPresigner struct{}

func (failingPresigner) PresignPut(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("storage unavailable")
}

type failingJobStore struct {
	store.ImportJobStore
}

func (failingJobStore) CreateJob(context.Context, domain.ImportJob) error {
	return errors.New("write throttled")
}

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestApp(t *testing.T, jobs store.ImportJobStore, uploads UploadPresigner) *App {
	t.Helper()
	ids := []string{"id-1", "id-2", "id-3", "id-4"}
	a, err := New(Config{
		Books:   store.NewMemoryBookStore(),
		Jobs:    jobs,
		Uploads: uploads,
		Now:     func() time.Time { return fixedNow },
		NewID: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestCreateImportCreatesProcessingJob(t *testing.T) {
	jobs := store.NewMemoryImportJobStore()
	a := newTestApp(t, jobs, storage.NewMemoryStore())
	ctx := context.Background()

	intent, err := a.CreateImport(ctx, "user-1")
	if err != nil {
		t.Fatalf("create import: %v", err)
	}
	if intent.ImportID != "id-1" || intent.ObjectKey != "uploads/user-1/id-1.csv" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if !strings.HasPrefix(intent.WriteHandle, "memory:///uploads/user-1/id-1.csv") {
		t.Fatalf("write handle = %q", intent.WriteHandle)
	}
	if !intent.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("expiresAt = %v, want %v", intent.ExpiresAt, fixedNow.Add(time.Hour))
	}

	job, err := a.GetImportStatus(ctx, "user-1", intent.ImportID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if job.Stage != domain.StageProcessing || job.TotalRows != 0 || job.ErrorCount != 0 || len(job.Errors) != 0 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestCreateImportReturnsNoHandleWhenJobFails(t *testing.T) {
	a := newTestApp(t, failingJobStore{}, storage.NewMemoryStore())
	intent, err := a.CreateImport(context.Background(), "user-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if intent.WriteHandle != "" {
		t.Fatalf("write handle must not be returned: %+v", intent)
	}
}

func TestCreateImportRejectsUserIDsOutsideOneKeySegment(t *testing.T) {
	jobs := store.NewMemoryImportJobStore()
	a := newTestApp(t, jobs, storage.NewMemoryStore())
	ctx := context.Background()
	for _, userID := range []string{"../admin", "a/b", "..", " padded "} {
		intent, err := a.CreateImport(ctx, userID)
		if !errors.Is(err, ErrInvalidUserID) {
			t.Fatalf("user %q: expected ErrInvalidUserID, got %v", userID, err)
		}
		if intent.WriteHandle != "" {
			t.Fatalf("user %q: write handle must not be returned", userID)
		}
	}
	if _, ok, _ := jobs.GetJob(ctx, "id-1", "../admin"); ok {
		t.Fatalf("no job may be created for a rejected user id")
	}
}

func TestCreateImportFailsWhenPresignFails(t *testing.T) {
	a := newTestApp(t, store.NewMemoryImportJobStore(), failingPresigner{})
	if _, err := a.CreateImport(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected presign error")
	}
}

func TestGetImportStatusIsScopedAndIdempotent(t *testing.T) {
	a := newTestApp(t, store.NewMemoryImportJobStore(), storage.NewMemoryStore())
	ctx := context.Background()
	intent, err := a.CreateImport(ctx, "user-1")
	if err != nil {
		t.Fatalf("create import: %v", err)
	}
	first, err := a.GetImportStatus(ctx, "user-1", intent.ImportID)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := a.GetImportStatus(ctx, "user-1", intent.ImportID)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reads differ: %+v vs %+v", first, second)
	}
	if _, err := a.GetImportStatus(ctx, "user-2", intent.ImportID); !errors.Is(err, ErrImportNotFound) {
		t.Fatalf("expected ErrImportNotFound for other user, got %v", err)
	}
}

func TestCreateBookRejectsDuplicateKey(t *testing.T) {
	a := newTestApp(t, store.NewMemoryImportJobStore(), storage.NewMemoryStore())
	ctx := context.Background()
	book, err := a.CreateBook(ctx, "user-1", validation.BookInput{Title: " Dune ", Author: "Frank Herbert", Status: "READING", Rating: 5})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.Title != "Dune" || book.BookKey != "dune#frank herbert" || !book.CreatedAt.Equal(book.UpdatedAt) {
		t.Fatalf("unexpected book: %+v", book)
	}
	_, err = a.CreateBook(ctx, "user-1", validation.BookInput{Title: "DUNE", Author: "frank herbert", Status: "WISHLIST"})
	if !errors.Is(err, ErrDuplicateBook) {
		t.Fatalf("expected ErrDuplicateBook, got %v", err)
	}
	if _, err := a.CreateBook(ctx, "user-2", validation.BookInput{Title: "Dune", Author: "Frank Herbert", Status: "READING"}); err != nil {
		t.Fatalf("other users may own the same title: %v", err)
	}
}

func TestCreateBookReturnsValidationError(t *testing.T) {
	a := newTestApp(t, store.NewMemoryImportJobStore(), storage.NewMemoryStore())
	_, err := a.CreateBook(context.Background(), "user-1", validation.BookInput{Title: "A", Author: "B", Status: "BORROWED"})
	var vErr *validation.Error
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(vErr.Fields) != 2 {
		t.Fatalf("expected two field errors, got %+v", vErr.Fields)
	}
}

func TestUpdateBookKeepsCreatedAtAndChecksKey(t *testing.T) {
	a := newTestApp(t, store.NewMemoryImportJobStore(), storage.NewMemoryStore())
	ctx := context.Background()
	dune, err := a.CreateBook(ctx, "user-1", validation.BookInput{Title: "Dune", Author: "Frank Herbert", Status: "READING"})
	if err != nil {
		t.Fatalf("create dune: %v", err)
	}
	if _, err := a.CreateBook(ctx, "user-1", validation.BookInput{Title: "Emma", Author: "Jane Austen", Status: "WISHLIST"}); err != nil {
		t.Fatalf("create emma: %v", err)
	}

	updated, err := a.UpdateBook(ctx, "user-1", dune.BookID, validation.BookInput{Title: "Dune", Author: "Frank Herbert", Status: "COMPLETED", Rating: 4})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.StatusCompleted || !updated.CreatedAt.Equal(dune.CreatedAt) {
		t.Fatalf("unexpected update: %+v", updated)
	}
	_, err = a.UpdateBook(ctx, "user-1", dune.BookID, validation.BookInput{Title: "emma", Author: "JANE AUSTEN", Status: "READING"})
	if !errors.Is(err, ErrDuplicateBook) {
		t.Fatalf("expected ErrDuplicateBook, got %v", err)
	}
	if _, err := a.UpdateBook(ctx, "user-2", dune.BookID, validation.BookInput{Title: "Dune", Author: "Frank Herbert", Status: "READING"}); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestDeleteBook(t *testing.T) {
	a := newTestApp(t, store.NewMemoryImportJobStore(), storage.NewMemoryStore())
	ctx := context.Background()
	book, err := a.CreateBook(ctx, "user-1", validation.BookInput{Title: "Dune", Author: "Frank Herbert", Status: "READING"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.DeleteBook(ctx, "user-1", book.BookID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := a.GetBook(ctx, "user-1", book.BookID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound after delete, got %v", err)
	}
	if err := a.DeleteBook(ctx, "user-1", book.BookID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound on second delete, got %v", err)
	}
}
