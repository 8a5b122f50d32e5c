package history

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SQLiteStoreConfig bundles the dependencies for the relational backend.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStore keeps chat history in the relational database through GORM.
type SQLiteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStore constructs the relational history backend.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Insert stamps the current time and persists one history record.
func (s *SQLiteStore) Insert(ctx context.Context, user, content string) error {
	record := Message{
		User:    user,
		Content: content,
		SentAt:  epochSeconds(s.clock()),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// Recent returns up to limit of the newest records ordered ascending by
// timestamp. Records that fail validation are skipped with a logged warning.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	var records []Message
	if err := s.db.WithContext(ctx).
		Order("sent_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(records))
	for _, record := range records {
		if err := record.Validate(); err != nil {
			s.logger.Warn("skipping malformed history record",
				zap.Uint("record_id", record.ID),
				zap.Error(err))
			continue
		}
		messages = append(messages, record)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt < messages[j].SentAt
	})
	return messages, nil
}

func epochSeconds(moment time.Time) float64 {
	return float64(moment.UnixNano()) / float64(time.Second)
}
