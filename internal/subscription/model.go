package subscription

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRecord indicates a subscription with missing key material.
	ErrInvalidRecord = errors.New("subscription: invalid record")
	// ErrNoSubscriptions indicates a removal for a user id that holds no
	// subscriptions. Stores report it so the HTTP boundary can surface a
	// client error; callers that treat removal as best-effort may ignore it.
	ErrNoSubscriptions = errors.New("subscription: no subscriptions for user")
)

// Record is one push subscription: the browser-issued endpoint plus the key
// material required to encrypt payloads for it.
type Record struct {
	Endpoint  string `json:"endpoint"`
	AuthKey   string `json:"auth_key"`
	P256dhKey string `json:"p256dh_key"`
	UserID    string `json:"user_id"`
}

// Validate reports whether the record carries everything push delivery needs.
func (r Record) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Endpoint) == "" {
		return fmt.Errorf("%w: empty endpoint", ErrInvalidRecord)
	}
	if r.AuthKey == "" || r.P256dhKey == "" {
		return fmt.Errorf("%w: missing key material", ErrInvalidRecord)
	}
	return nil
}

// PushSubscription is the relational row backing one Record.
type PushSubscription struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Endpoint  string `gorm:"column:endpoint;size:255;not null;uniqueIndex:idx_push_subscriptions_endpoint"`
	AuthKey   string `gorm:"column:auth_key;type:text;not null"`
	P256dhKey string `gorm:"column:p256dh_key;type:text;not null"`
	UserID    string `gorm:"column:user_id;size:190;not null;index:idx_push_subscriptions_user"`
}

// TableName provides the explicit table binding for GORM.
func (PushSubscription) TableName() string {
	return "push_subscriptions"
}

func (p PushSubscription) record() Record {
	return Record{
		Endpoint:  p.Endpoint,
		AuthKey:   p.AuthKey,
		P256dhKey: p.P256dhKey,
		UserID:    p.UserID,
	}
}
