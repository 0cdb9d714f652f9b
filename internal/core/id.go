package core

import "github.com/google/uuid"

// NewID returns a time-ordered UUID (v7) so workspace rows sort by creation
// without a separate sequence column.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
