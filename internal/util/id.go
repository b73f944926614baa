package util

import "github.com/google/uuid"

// NewID returns a random UUID string used for request ids and consumer names.
func NewID() string {
	return uuid.NewString()
}
