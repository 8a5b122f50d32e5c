package history

import (
	"context"
	"errors"
)

var (
	errMissingDatabase = errors.New("history: database handle is required")
	errMissingBaseURL  = errors.New("history: base url is required")
	// ErrInvalidLimit indicates a non-positive history page size.
	ErrInvalidLimit = errors.New("history: limit must be positive")
)

// Store persists and retrieves chat history records. Both backends share the
// same contract: Insert stamps the current time, Recent returns up to limit
// of the newest records ordered ascending by timestamp, and records that fail
// validation on read are skipped individually.
type Store interface {
	Insert(ctx context.Context, user, content string) error
	Recent(ctx context.Context, limit int) ([]Message, error)
}
