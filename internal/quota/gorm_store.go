package quota

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaUsage is the persisted usage row.
type QuotaUsage struct {
	UsageKey  string    `gorm:"primaryKey;size:64"`
	Used      int       `gorm:"not null;default:0"`
	ResetAt   time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

// GormStore keeps quota records in SQL so they survive restarts.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the usage table and returns a store on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&QuotaUsage{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Times are stored in UTC at second precision so equality checks behave
// the same on SQLite and MySQL.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (s *GormStore) Peek(ctx context.Context, key string) (Record, bool, error) {
	var row QuotaUsage
	res := s.db.WithContext(ctx).Where("usage_key = ?", key).Limit(1).Find(&row)
	if res.Error != nil {
		return Record{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return Record{}, false, nil
	}
	return Record{Count: row.Used, ResetAt: row.ResetAt}, true, nil
}

func (s *GormStore) Consume(ctx context.Context, key string, limit int, now, nextReset time.Time) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&QuotaUsage{UsageKey: key, ResetAt: dbTime(nextReset)}).Error; err != nil {
			return err
		}

		var row QuotaUsage
		if err := tx.Where("usage_key = ?", key).First(&row).Error; err != nil {
			return err
		}
		if !now.Before(row.ResetAt) {
			if err := tx.Model(&QuotaUsage{}).
				Where("usage_key = ? AND reset_at = ?", key, dbTime(row.ResetAt)).
				Updates(map[string]any{"used": 0, "reset_at": dbTime(nextReset)}).Error; err != nil {
				return err
			}
		}

		upd := tx.Model(&QuotaUsage{}).
			Where("usage_key = ? AND used < ?", key, limit).
			UpdateColumn("used", gorm.Expr("used + ?", 1))
		if upd.Error != nil {
			return upd.Error
		}
		ok = upd.RowsAffected == 1

		if err := tx.Where("usage_key = ?", key).First(&row).Error; err != nil {
			return err
		}
		rec = Record{Count: row.Used, ResetAt: row.ResetAt}
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, ok, nil
}

func (s *GormStore) Reset(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("usage_key = ?", key).Delete(&QuotaUsage{}).Error
}

// Close is a no-op; the datastore owns the connection.
func (s *GormStore) Close() error { return nil }
