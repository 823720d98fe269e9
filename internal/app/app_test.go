package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/bot"
	"github.com/tphakala/wildlife-id-bot/internal/buildinfo"
	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/events"
	"github.com/tphakala/wildlife-id-bot/internal/mediagroup"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
)

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Quota = conf.QuotaSettings{
		GroupLimit:   20,
		PrivateLimit: 10,
		ResetWeekday: "monday",
		ResetHour:    0,
		Timezone:     "UTC",
		Store:        "memory",
	}
	return s
}

func TestOpenQuotaStoreMemory(t *testing.T) {
	store, err := OpenQuotaStore(t.Context(), testSettings(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.IsType(t, &quota.MemoryStore{}, store)
}

func TestOpenQuotaStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s := testSettings()
	s.Quota.Store = "redis"
	s.Redis.Addr = mr.Addr()
	s.Redis.KeyPrefix = "test:"

	store, err := OpenQuotaStore(t.Context(), s, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tracker := NewTracker(s, store)
	res, err := tracker.Consume(t.Context(), quota.Key{Scope: quota.ScopeUser, ID: 42})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, mr.Keys())
}

func TestOpenQuotaStoreDatabase(t *testing.T) {
	s := testSettings()
	s.Quota.Store = "database"

	_, err := OpenQuotaStore(t.Context(), s, nil)
	require.Error(t, err, "database store needs an open datastore")

	s.Database.Enabled = true
	s.Database.Type = "sqlite"
	s.Database.SQLite.Path = filepath.Join(t.TempDir(), "bot.db")
	ds, err := OpenDatastore(s)
	require.NoError(t, err)
	require.NotNil(t, ds)
	t.Cleanup(func() { _ = ds.Close() })

	store, err := OpenQuotaStore(t.Context(), s, ds)
	require.NoError(t, err)
	assert.IsType(t, &quota.GormStore{}, store)

	tracker := NewTracker(s, store)
	key := quota.Key{Scope: quota.ScopeGroup, ID: -100}
	_, err = tracker.Consume(t.Context(), key)
	require.NoError(t, err)
	st, err := tracker.CheckLimit(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Used)
	assert.Equal(t, 20, st.Limit)
}

func TestOpenQuotaStoreUnknown(t *testing.T) {
	s := testSettings()
	s.Quota.Store = "etcd"
	_, err := OpenQuotaStore(t.Context(), s, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}

func TestOpenDatastoreDisabled(t *testing.T) {
	ds, err := OpenDatastore(testSettings())
	require.NoError(t, err)
	assert.Nil(t, ds)
}

func TestNewTrackerAppliesLimits(t *testing.T) {
	s := testSettings()
	store := quota.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	tracker := NewTracker(s, store)
	assert.Equal(t, 20, tracker.Limit(quota.Key{Scope: quota.ScopeGroup, ID: -1}))
	assert.Equal(t, 10, tracker.Limit(quota.Key{Scope: quota.ScopeUser, ID: 1}))

	// Wednesday; the next Monday midnight UTC is five days later.
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), tracker.NextReset(now))
}

type alertTransport struct {
	chat.Transport
	dst  chat.Destination
	text string
}

func (f *alertTransport) SendText(_ context.Context, dst chat.Destination, text string, _ int) (int, error) {
	f.dst, f.text = dst, text
	return 1, nil
}

func TestAdminChatForwardsAlerts(t *testing.T) {
	tr := &alertTransport{}
	c := &adminChat{transport: tr, chatID: 555}

	assert.True(t, c.Accepts(events.KindAlert))
	assert.False(t, c.Accepts(events.KindIdentification))

	err := c.Process(t.Context(), events.Alert{
		Title:     "Classifier unavailable",
		Message:   "retries exhausted",
		Severity:  events.SeverityError,
		Component: "classifier",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(555), tr.dst.ChatID)
	assert.Contains(t, tr.text, "[error] Classifier unavailable")
	assert.Contains(t, tr.text, "component: classifier")
}

func TestStatsSnapshot(t *testing.T) {
	a := &App{
		info:     buildinfo.NewContext("1.2.3", "", ""),
		started:  time.Now().Add(-time.Minute),
		requests: requests.NewManager(requests.DefaultConfig()),
		results:  resultcache.New[bot.CachedResult](time.Hour, 0),
		fullRes:  resultcache.New[bool](time.Hour, 0),
		offers:   resultcache.New[bot.Offer](time.Hour, 0),
		groups:   mediagroup.New(time.Second, 2*time.Second),
	}
	t.Cleanup(func() {
		a.results.Close()
		a.fullRes.Close()
		a.offers.Close()
	})

	a.requests.CreateRequest(requests.Owner{UserID: 1, ChatID: 1, ChatType: chat.ChatPrivate, MessageID: 10})
	a.results.Set("1:panthera tigris", bot.CachedResult{})

	snap, ok := statsProvider{app: a}.Snapshot(t.Context()).(Snapshot)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", snap.Version)
	assert.Equal(t, int64(1), snap.Requests.Total)
	assert.Equal(t, 1, snap.Requests.Active)
	assert.Equal(t, 1, snap.Caches.Results)
	assert.Zero(t, snap.PendingGroups)
	assert.Nil(t, snap.Events)
	assert.Nil(t, snap.Photos)
}
