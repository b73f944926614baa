package storage

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Get(ctx, "uploads/u/i.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Put(ctx, "uploads/u/i.csv", bytes.NewReader([]byte("title")), 5, "text/csv"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := s.Get(ctx, "uploads/u/i.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data[0] = 'X'
	again, _ := s.Get(ctx, "uploads/u/i.csv")
	if string(again) != "title" {
		t.Fatalf("stored object mutated through returned slice: %q", again)
	}
	if err := s.Delete(ctx, "uploads/u/i.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "uploads/u/i.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}
}

func TestMemoryStorePresignPut(t *testing.T) {
	raw, err := NewMemoryStore().PresignPut(context.Background(), "uploads/u/i.csv", time.Hour)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if u.Scheme != "memory" || u.Path != "/uploads/u/i.csv" || u.Query().Get("method") != "PUT" {
		t.Fatalf("unexpected presigned url %q", raw)
	}
	expires, err := time.Parse(time.RFC3339, u.Query().Get("expires"))
	if err != nil {
		t.Fatalf("parse expires: %v", err)
	}
	if d := time.Until(expires); d <= 0 || d > time.Hour+time.Minute {
		t.Fatalf("expires %v not within the hour", expires)
	}
}
