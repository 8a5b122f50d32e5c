package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCollapseDuplicateSubscriptions = "2026-08-12_collapse_duplicate_subscriptions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCollapseDuplicateSubscriptions, apply: collapseDuplicateSubscriptions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// collapseDuplicateSubscriptions enforces the at-most-one-subscription-per-user
// policy on databases written before it existed, keeping each user's newest row.
func collapseDuplicateSubscriptions(db *gorm.DB) error {
	return db.Exec(`DELETE FROM push_subscriptions WHERE id NOT IN (
		SELECT MAX(id) FROM push_subscriptions GROUP BY user_id
	);`).Error
}
