package domain

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	// UploadPrefix is the first segment of every import object key.
	UploadPrefix = "uploads"
	uploadExt    = ".csv"
)

// ErrMalformedObjectKey reports an object key that does not follow uploads/{userId}/{importId}.csv.
var ErrMalformedObjectKey = errors.New("malformed import object key")

// ImportObjectKey builds the storage location for an import upload.
func ImportObjectKey(userID, importID string) string {
	return path.Join(UploadPrefix, userID, importID+uploadExt)
}

// ParseImportObjectKey recovers the user and import ids from an upload key.
// When the ids are recoverable but the key is otherwise invalid, they are
// returned together with ErrMalformedObjectKey so the job can still be addressed.
func ParseImportObjectKey(key string) (userID, importID string, err error) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) != 3 || parts[0] != UploadPrefix {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedObjectKey, key)
	}
	userID = strings.TrimSpace(parts[1])
	name := parts[2]
	ext := path.Ext(name)
	importID = strings.TrimSpace(strings.TrimSuffix(name, ext))
	if userID == "" || importID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedObjectKey, key)
	}
	if ext != uploadExt {
		return userID, importID, fmt.Errorf("%w: unexpected extension %q", ErrMalformedObjectKey, ext)
	}
	return userID, importID, nil
}
