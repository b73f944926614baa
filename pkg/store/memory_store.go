package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"readshelf/pkg/domain"
)

type bookID struct {
	userID string
	bookID string
}

// MemoryBookStore keeps catalog entries in-process with the same
// (userId, bookKey) secondary lookup as the table store.
type MemoryBookStore struct {
	mu     sync.RWMutex
	books  map[bookID]domain.BookRecord
	byKey  map[string]map[string]map[string]struct{} // user -> bookKey -> bookIds
	orders []bookID
}

// NewMemoryBookStore initializes an empty in-memory store.
func NewMemoryBookStore() *MemoryBookStore {
	return &MemoryBookStore{
		books: make(map[bookID]domain.BookRecord),
		byKey: make(map[string]map[string]map[string]struct{}),
	}
}

// FindByUserAndBookKey returns records of the user sharing bookKey.
func (m *MemoryBookStore) FindByUserAndBookKey(_ context.Context, userID, bookKey string) ([]domain.BookRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byKey[userID][bookKey]
	res := make([]domain.BookRecord, 0, len(ids))
	for id := range ids {
		res = append(res, m.books[bookID{userID: userID, bookID: id}])
	}
	sort.Slice(res, func(i, j int) bool { return res[i].BookID < res[j].BookID })
	return res, nil
}

// BatchPutBooks stores every record of the batch.
func (m *MemoryBookStore) BatchPutBooks(_ context.Context, books []domain.BookRecord) error {
	if len(books) > MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(books), MaxBatchSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range books {
		m.putLocked(b)
	}
	return nil
}

// PutBook stores or replaces a record.
func (m *MemoryBookStore) PutBook(_ context.Context, b domain.BookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(b)
	return nil
}

// GetBook returns a record by identity.
func (m *MemoryBookStore) GetBook(_ context.Context, userID, id string) (domain.BookRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[bookID{userID: userID, bookID: id}]
	return b, ok, nil
}

// ListBooksByUser returns a user's books in insertion order.
func (m *MemoryBookStore) ListBooksByUser(_ context.Context, userID string) ([]domain.BookRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.BookRecord, 0)
	for _, id := range m.orders {
		if id.userID != userID {
			continue
		}
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

// DeleteBook removes a record and its index entry.
func (m *MemoryBookStore) DeleteBook(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bookID{userID: userID, bookID: id}
	b, ok := m.books[key]
	if !ok {
		return nil
	}
	m.unindexLocked(b)
	delete(m.books, key)
	for i, existing := range m.orders {
		if existing == key {
			m.orders = append(m.orders[:i], m.orders[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryBookStore) putLocked(b domain.BookRecord) {
	key := bookID{userID: b.UserID, bookID: b.BookID}
	if prev, exists := m.books[key]; exists {
		m.unindexLocked(prev)
	} else {
		m.orders = append(m.orders, key)
	}
	m.books[key] = b
	keys, ok := m.byKey[b.UserID]
	if !ok {
		keys = make(map[string]map[string]struct{})
		m.byKey[b.UserID] = keys
	}
	ids, ok := keys[b.BookKey]
	if !ok {
		ids = make(map[string]struct{})
		keys[b.BookKey] = ids
	}
	ids[b.BookID] = struct{}{}
}

func (m *MemoryBookStore) unindexLocked(b domain.BookRecord) {
	ids := m.byKey[b.UserID][b.BookKey]
	delete(ids, b.BookID)
	if len(ids) == 0 {
		delete(m.byKey[b.UserID], b.BookKey)
	}
}
