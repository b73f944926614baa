package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	infos []notification.Info
}

func (f *fakeListener) ObjectCreatedNotifications(ctx context.Context, _, _ string) <-chan notification.Info {
	ch := make(chan notification.Info, len(f.infos))
	for _, info := range f.infos {
		ch <- info
	}
	f.infos = nil
	close(ch)
	return ch
}

func TestMinioSourceHandlesCreatedRecords(t *testing.T) {
	created := notification.Event{EventName: "s3:ObjectCreated:Put"}
	created.S3.Bucket.Name = "imports"
	created.S3.Object.Key = "uploads%2Fu1%2Fi1.csv"
	removed := notification.Event{EventName: "s3:ObjectRemoved:Delete"}
	removed.S3.Bucket.Name = "imports"
	removed.S3.Object.Key = "uploads%2Fu1%2Fi0.csv"

	listener := &fakeListener{infos: []notification.Info{{Records: []notification.Event{created, removed}}}}
	src, err := NewMinioSource(listener, MinioSourceConfig{Prefix: "uploads/", Suffix: ".csv", Concurrency: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []ObjectCreated
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(_ context.Context, ev ObjectCreated) error {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("source did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ObjectCreated{{Bucket: "imports", Key: "uploads/u1/i1.csv"}}, got)
}

func TestNewMinioSourceRequiresListener(t *testing.T) {
	_, err := NewMinioSource(nil, MinioSourceConfig{})
	assert.Error(t, err)
}
