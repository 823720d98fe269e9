package app

import (
	"context"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
)

// redisDialTimeout bounds the initial PING to the quota Redis.
const redisDialTimeout = 5 * time.Second

// OpenDatastore opens the history database, or returns nil when it is
// disabled.
func OpenDatastore(settings *conf.Settings) (datastore.Interface, error) {
	if !settings.Database.Enabled {
		return nil, nil
	}
	ds := datastore.New(&settings.Database)
	if ds == nil {
		return nil, errors.Newf("unsupported database type %q", settings.Database.Type).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := ds.Open(); err != nil {
		return nil, err
	}
	return ds, nil
}

// OpenQuotaStore builds the store named by quota.store. The database store
// shares the connection of ds, which must be open.
func OpenQuotaStore(ctx context.Context, settings *conf.Settings, ds datastore.Interface) (quota.Store, error) {
	switch settings.Quota.Store {
	case "", "memory":
		return quota.NewMemoryStore(settings.Quota.SweepEvery), nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		defer cancel()
		r := settings.Redis
		store, err := quota.DialRedisStore(dialCtx, r.Addr, r.Password, r.DB, r.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "database":
		if ds == nil || ds.Gorm() == nil {
			return nil, errors.Newf("quota.store is database but the database is disabled").
				Component("app").
				Category(errors.CategoryConfiguration).
				Build()
		}
		store, err := quota.NewGormStore(ds.Gorm())
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Newf("unknown quota store %q", settings.Quota.Store).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewTracker applies the quota settings to store.
func NewTracker(settings *conf.Settings, store quota.Store) *quota.Tracker {
	q := settings.Quota
	return quota.NewTracker(store, quota.Config{
		GroupLimit:   q.GroupLimit,
		PrivateLimit: q.PrivateLimit,
		ResetWeekday: q.Weekday(),
		ResetHour:    q.ResetHour,
		Location:     q.Location(),
	}, quota.WithLogger(logger.Global().Module("quota")))
}

// closeDataStore closes the database and logs the result.
func closeDataStore(store datastore.Interface, log logger.Logger) {
	if err := store.Close(); err != nil {
		log.Error("failed to close database", logger.Error(err))
		return
	}
	log.Info("database closed")
}
