// Package datastore persists identification history with gorm on SQLite or
// MySQL.
package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// Interface abstracts the database backend.
type Interface interface {
	Open() error
	Close() error
	// Gorm exposes the connection so other stores can share it.
	Gorm() *gorm.DB
	SaveIdentification(ctx context.Context, id *Identification) error
	RecentIdentifications(ctx context.Context, chatID int64, limit int) ([]Identification, error)
	// CountIdentifications counts rows since the given time. A zero chatID
	// counts every chat and a zero since counts all time.
	CountIdentifications(ctx context.Context, chatID int64, since time.Time) (int64, error)
	TopSpecies(ctx context.Context, chatID int64, since time.Time, limit int) ([]SpeciesCount, error)
	DeleteChatHistory(ctx context.Context, chatID int64) (int64, error)
}

// DataStore implements Interface on an open gorm connection.
type DataStore struct {
	DB     *gorm.DB
	Logger logger.Logger
}

// New returns the store selected by settings.Type, unopened. Unknown types
// yield nil.
func New(settings *conf.DatabaseSettings) Interface {
	log := logger.Global().Module("datastore")
	switch settings.Type {
	case "", "sqlite":
		return &SQLiteStore{DataStore: DataStore{Logger: log}, Path: settings.SQLite.Path}
	case "mysql":
		m := settings.MySQL
		return &MySQLStore{DataStore: DataStore{Logger: log}, DSN: MySQLDSN(m.Username, m.Password, m.Host, m.Port, m.Database)}
	default:
		return nil
	}
}

func (ds *DataStore) gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.NewGormAdapter(ds.Logger, 200*time.Millisecond)}
}

// Gorm returns the underlying connection.
func (ds *DataStore) Gorm() *gorm.DB {
	return ds.DB
}

func (ds *DataStore) ready() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

// performAutoMigration creates or updates the schema.
func performAutoMigration(db *gorm.DB, log logger.Logger, dbType string) error {
	start := time.Now()
	if err := db.AutoMigrate(&Identification{}); err != nil {
		return dbError(err, "auto_migrate")
	}
	log.Debug("database migration completed",
		logger.String("db_type", dbType),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// SaveIdentification inserts one row.
func (ds *DataStore) SaveIdentification(ctx context.Context, id *Identification) error {
	if err := ds.ready(); err != nil {
		return err
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	if err := ds.DB.WithContext(ctx).Create(id).Error; err != nil {
		return dbError(err, "save_identification")
	}
	return nil
}

// RecentIdentifications returns the newest rows of a chat.
func (ds *DataStore) RecentIdentifications(ctx context.Context, chatID int64, limit int) ([]Identification, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	var rows []Identification
	err := ds.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "recent_identifications")
	}
	return rows, nil
}

func scoped(q *gorm.DB, chatID int64, since time.Time) *gorm.DB {
	if chatID != 0 {
		q = q.Where("chat_id = ?", chatID)
	}
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	return q
}

// CountIdentifications counts matching rows.
func (ds *DataStore) CountIdentifications(ctx context.Context, chatID int64, since time.Time) (int64, error) {
	if err := ds.ready(); err != nil {
		return 0, err
	}
	var n int64
	if err := scoped(ds.DB.WithContext(ctx).Model(&Identification{}), chatID, since).Count(&n).Error; err != nil {
		return 0, dbError(err, "count_identifications")
	}
	return n, nil
}

// TopSpecies returns the most identified species, most frequent first.
func (ds *DataStore) TopSpecies(ctx context.Context, chatID int64, since time.Time, limit int) ([]SpeciesCount, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	var rows []SpeciesCount
	err := scoped(ds.DB.WithContext(ctx).Model(&Identification{}), chatID, since).
		Select("scientific_name, MAX(common_name) AS common_name, COUNT(*) AS count").
		Group("scientific_name").
		Order("count DESC, scientific_name ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "top_species")
	}
	return rows, nil
}

// DeleteChatHistory removes every row of a chat and returns how many went.
func (ds *DataStore) DeleteChatHistory(ctx context.Context, chatID int64) (int64, error) {
	if err := ds.ready(); err != nil {
		return 0, err
	}
	res := ds.DB.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&Identification{})
	if res.Error != nil {
		return 0, dbError(res.Error, "delete_chat_history")
	}
	return res.RowsAffected, nil
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
