// Package events delivers "object created" notifications from object storage
// to an import handler.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7/pkg/notification"
)

const objectCreatedPrefix = "s3:ObjectCreated:"

// ErrMalformedEvent is returned for payloads that carry no usable object location.
var ErrMalformedEvent = errors.New("malformed storage event")

// ObjectCreated is the location of a newly written object.
type ObjectCreated struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Handler processes one object-created event.
type Handler func(ctx context.Context, ev ObjectCreated) error

// Source delivers events to a handler until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, handle Handler) error
}

type s3EventPayload struct {
	Records []notification.Event `json:"Records"`
}

// DecodeS3Event extracts object-created records from an S3/MinIO
// notification document. Records of other event types are dropped.
func DecodeS3Event(payload []byte) ([]ObjectCreated, error) {
	var doc s3EventPayload
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(doc.Records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrMalformedEvent)
	}
	out := make([]ObjectCreated, 0, len(doc.Records))
	for _, record := range doc.Records {
		ev, ok, err := fromNotificationEvent(record)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// fromNotificationEvent converts one record; keys arrive URL-escaped.
func fromNotificationEvent(record notification.Event) (ObjectCreated, bool, error) {
	if !strings.HasPrefix(record.EventName, objectCreatedPrefix) {
		return ObjectCreated{}, false, nil
	}
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return ObjectCreated{}, false, fmt.Errorf("%w: object key: %v", ErrMalformedEvent, err)
	}
	if key == "" || record.S3.Bucket.Name == "" {
		return ObjectCreated{}, false, fmt.Errorf("%w: missing bucket or key", ErrMalformedEvent)
	}
	return ObjectCreated{Bucket: record.S3.Bucket.Name, Key: key}, true, nil
}
