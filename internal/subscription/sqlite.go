package subscription

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SQLiteStoreConfig bundles the dependencies for the relational backend.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// SQLiteStore keeps push subscriptions in the relational database through GORM.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore constructs the relational subscription backend.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: cfg.Database, logger: logger}, nil
}

// Insert stores one subscription, replacing anything the user id held before
// and any stale row claiming the same endpoint.
func (s *SQLiteStore) Insert(ctx context.Context, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? OR endpoint = ?", record.UserID, record.Endpoint).
			Delete(&PushSubscription{}).Error; err != nil {
			return err
		}
		row := PushSubscription{
			Endpoint:  record.Endpoint,
			AuthKey:   record.AuthKey,
			P256dhKey: record.P256dhKey,
			UserID:    record.UserID,
		}
		return tx.Create(&row).Error
	})
}

// Remove deletes every subscription held by the user id.
func (s *SQLiteStore) Remove(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&PushSubscription{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNoSubscriptions
	}
	return nil
}

// IsSubscribed reports whether the user id holds at least one subscription.
func (s *SQLiteStore) IsSubscribed(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&PushSubscription{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AllExcluding returns every subscription held by a different user id.
func (s *SQLiteStore) AllExcluding(ctx context.Context, userID string) ([]Record, error) {
	var rows []PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id <> ?", userID).
		Order("user_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record := row.record()
		if err := record.Validate(); err != nil {
			s.logger.Warn("skipping malformed push subscription",
				zap.Uint("record_id", row.ID),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
