package quota

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func TestGormStoreConsume(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := t.Context()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	reset := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		rec, ok, err := store.Consume(ctx, "user:1", 3, now, reset)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, rec.Count)
	}
	rec, ok, err := store.Consume(ctx, "user:1", 3, now, reset)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, rec.Count)
	assert.True(t, rec.ResetAt.Equal(reset))
}

func TestGormStoreRolloverAndReset(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := t.Context()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	reset := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	next := time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)

	_, _, err := store.Consume(ctx, "group:-3", 1, now, reset)
	require.NoError(t, err)

	rec, ok, err := store.Consume(ctx, "group:-3", 1, reset.Add(time.Minute), next)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.ResetAt.Equal(next))

	require.NoError(t, store.Reset(ctx, "group:-3"))
	_, found, err := store.Peek(ctx, "group:-3")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTrackerOverGormStore(t *testing.T) {
	tr, _ := newTestTracker(t, newSQLiteStore(t))
	key := Key{Scope: ScopeGroup, ID: -44}

	res, err := tr.Consume(t.Context(), key)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 9, res.Remaining)

	st, err := tr.CheckLimit(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Used)
}
