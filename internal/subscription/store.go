package subscription

import (
	"context"
	"errors"
)

var (
	errMissingDatabase = errors.New("subscription: database handle is required")
	errMissingBaseURL  = errors.New("subscription: base url is required")
)

// Store persists push subscriptions keyed by user identifier. Insert follows
// the overwrite policy: a user id holds at most one active subscription, and
// a new subscribe replaces whatever that user held before. Remove deletes all
// of a user's subscriptions and reports ErrNoSubscriptions when there were
// none.
type Store interface {
	Insert(ctx context.Context, record Record) error
	Remove(ctx context.Context, userID string) error
	IsSubscribed(ctx context.Context, userID string) (bool, error)
	AllExcluding(ctx context.Context, userID string) ([]Record, error)
}
