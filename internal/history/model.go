package history

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidContent indicates a history record with no message body.
	ErrInvalidContent = errors.New("history: invalid message content")
	// ErrInvalidSentAt indicates a history record with a non-positive timestamp.
	ErrInvalidSentAt = errors.New("history: invalid sent_at timestamp")
)

// Message is one persisted chat history record. The sender name may be empty
// when the author never set a display name.
type Message struct {
	ID      uint    `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	User    string  `gorm:"column:user;size:190;not null;default:''" json:"user"`
	Content string  `gorm:"column:content;type:text;not null" json:"content"`
	SentAt  float64 `gorm:"column:sent_at;not null;index:idx_chat_messages_sent_at" json:"sent_at"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "chat_messages"
}

// Validate reports whether the record is usable on the read path. Stores skip
// records that fail validation instead of aborting the batch.
func (m Message) Validate() error {
	if m.Content == "" {
		return fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if m.SentAt <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSentAt, m.SentAt)
	}
	return nil
}

// Time converts the epoch-seconds timestamp into the provided location for
// display. A nil location falls back to UTC.
func (m Message) Time(location *time.Location) time.Time {
	if location == nil {
		location = time.UTC
	}
	seconds, fraction := math.Modf(m.SentAt)
	return time.Unix(int64(seconds), int64(fraction*float64(time.Second))).In(location)
}
