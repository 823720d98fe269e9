package requests

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockClock is a manually advanced Clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock { return &MockClock{now: t} }

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu       sync.Mutex
	created  int
	finished map[Status]int
	evicted  int
}

func (r *recorder) RequestCreated() {
	r.mu.Lock()
	r.created++
	r.mu.Unlock()
}

func (r *recorder) RequestFinished(s Status, _ time.Duration) {
	r.mu.Lock()
	if r.finished == nil {
		r.finished = map[Status]int{}
	}
	r.finished[s]++
	r.mu.Unlock()
}

func (r *recorder) RequestEvicted() {
	r.mu.Lock()
	r.evicted++
	r.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *MockClock, *recorder) {
	t.Helper()
	clock := NewMockClock(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	rec := &recorder{}
	m := NewManager(DefaultConfig(),
		WithClock(clock),
		WithLogger(logger.NewDiscardLogger()),
		WithRecorder(rec))
	return m, clock, rec
}

func owner(user, chatID int64) Owner {
	return Owner{UserID: user, ChatID: chatID, ChatType: chat.ChatPrivate}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "expired", StatusExpired.String())
	assert.Equal(t, "unknown", Status(42).String())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestCreateRequestUniqueIDs(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.cfg.MaxPerUser = 1000

	seen := make(map[string]bool)
	for i := range 200 {
		r := m.CreateRequest(owner(int64(i%3), 1))
		require.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
		assert.Equal(t, StatusPending, r.Status)
	}
}

func TestCreateRequestEvictsOldestAtCeiling(t *testing.T) {
	m, clock, rec := newTestManager(t)

	var ids []string
	for range 5 {
		ids = append(ids, m.CreateRequest(owner(1, 1)).ID)
		clock.Advance(time.Second)
	}
	// Other users are unaffected.
	m.CreateRequest(owner(2, 1))

	sixth := m.CreateRequest(owner(1, 1))
	_, ok := m.GetRequest(ids[0])
	assert.False(t, ok, "oldest request must be evicted")
	for _, id := range ids[1:] {
		_, ok := m.GetRequest(id)
		assert.True(t, ok)
	}
	_, ok = m.GetRequest(sixth.ID)
	assert.True(t, ok)

	st := m.Stats()
	assert.Equal(t, int64(1), st.Evicted)
	assert.Equal(t, int64(1), st.Expired)
	assert.Equal(t, 6, st.Active)
	assert.Equal(t, 1, rec.evicted)
	assert.Equal(t, 7, rec.created)
}

func TestTerminalRequestsDoNotCountTowardCeiling(t *testing.T) {
	m, _, _ := newTestManager(t)
	for range 5 {
		r := m.CreateRequest(owner(1, 1))
		require.NoError(t, m.UpdateStatus(r.ID, StatusProcessing))
		require.NoError(t, m.UpdateStatus(r.ID, StatusCompleted))
	}
	m.CreateRequest(owner(1, 1))
	assert.Equal(t, int64(0), m.Stats().Evicted)
}

func TestGetRequestReturnsCopy(t *testing.T) {
	m, _, _ := newTestManager(t)
	r := m.CreateRequest(owner(1, 1), WithTarget("bird"), WithLocation("Hanoi", &Coordinates{Latitude: 21, Longitude: 105}))
	r.Target = "changed"
	r.Coordinates.Latitude = 0

	got, ok := m.GetRequest(r.ID)
	require.True(t, ok)
	assert.Equal(t, "bird", got.Target)
	assert.InDelta(t, 21.0, got.Coordinates.Latitude, 1e-9)
}

func TestUpdateStatusTransitions(t *testing.T) {
	m, clock, rec := newTestManager(t)
	r := m.CreateRequest(owner(1, 1))

	require.NoError(t, m.UpdateStatus(r.ID, StatusProcessing))
	err := m.UpdateStatus(r.ID, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = m.UpdateStatus(r.ID, StatusProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	clock.Advance(4 * time.Second)
	require.NoError(t, m.UpdateStatus(r.ID, StatusFailed, WithError(errors.New("blurry"))))
	got, _ := m.GetRequest(r.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.EqualError(t, got.Err, "blurry")
	assert.Equal(t, clock.Now(), got.CompletedAt)

	assert.ErrorIs(t, m.UpdateStatus(r.ID, StatusCompleted), ErrInvalidTransition)
	assert.ErrorIs(t, m.Update(r.ID, WithTarget("x")), ErrInvalidTransition)
	assert.ErrorIs(t, m.UpdateStatus("missing", StatusProcessing), ErrRequestNotFound)
	assert.ErrorIs(t, m.Update("missing"), ErrRequestNotFound)
	assert.Equal(t, 1, rec.finished[StatusFailed])
}

func TestFindPendingRequestScoping(t *testing.T) {
	m, clock, _ := newTestManager(t)

	_, ok := m.FindPendingRequest(1, 10)
	assert.False(t, ok)

	noImage := m.CreateRequest(owner(1, 10))
	_, ok = m.FindPendingRequest(1, 10)
	assert.False(t, ok, "requests without an image are not resumable")

	clock.Advance(time.Second)
	inChat10 := m.CreateRequest(owner(1, 10), WithBuffer([]byte{1}, "image/jpeg"), WithWaiting(WaitLocation))
	clock.Advance(time.Second)
	inChat20 := m.CreateRequest(owner(1, 20), WithBuffer([]byte{2}, "image/jpeg"))

	got, ok := m.FindPendingRequest(1, 10)
	require.True(t, ok)
	assert.Equal(t, inChat10.ID, got.ID)
	assert.True(t, got.WaitingFor.Has(WaitLocation))
	assert.False(t, got.WaitingFor.Has(WaitTarget))

	got, ok = m.FindPendingRequest(1, 0)
	require.True(t, ok)
	assert.Equal(t, inChat20.ID, got.ID, "chat 0 matches the newest in any chat")

	_, ok = m.FindPendingRequest(2, 10)
	assert.False(t, ok, "other users never match")

	require.NoError(t, m.UpdateStatus(inChat10.ID, StatusProcessing))
	_, ok = m.FindPendingRequest(1, 10)
	assert.False(t, ok)
	_ = noImage
}

func TestBatchRequestIsResumable(t *testing.T) {
	m, _, _ := newTestManager(t)
	r := m.CreateRequest(owner(1, 10), WithBatch([]BatchPhoto{{MessageID: 1, Data: []byte{1}}}))
	got, ok := m.FindPendingRequest(1, 10)
	require.True(t, ok)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, got.IsBatch)
}

func TestCompleteFailAndRemoveAreIdempotent(t *testing.T) {
	m, clock, _ := newTestManager(t)
	a := m.CreateRequest(owner(1, 1))
	b := m.CreateRequest(owner(1, 1))

	clock.Advance(2 * time.Second)
	m.CompleteAndRemove(a.ID)
	m.CompleteAndRemove(a.ID)
	m.FailAndRemove(b.ID, errors.New("no match"))
	m.FailAndRemove(b.ID, nil)
	assert.False(t, m.Remove(a.ID))

	st := m.Stats()
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, 0, st.Active)
	assert.Equal(t, 2*time.Second, st.AverageDuration)
}

func TestClearUserRequests(t *testing.T) {
	m, _, _ := newTestManager(t)
	for range 3 {
		m.CreateRequest(owner(1, 1))
	}
	done := m.CreateRequest(owner(1, 1))
	require.NoError(t, m.UpdateStatus(done.ID, StatusCompleted))
	other := m.CreateRequest(owner(2, 1))

	assert.Equal(t, 3, m.ClearUserRequests(1))
	assert.Equal(t, 0, m.ClearUserRequests(1))
	_, ok := m.GetRequest(done.ID)
	assert.False(t, ok)
	_, ok = m.GetRequest(other.ID)
	assert.True(t, ok)
	assert.Equal(t, int64(3), m.Stats().Expired)
}

func TestSweep(t *testing.T) {
	m, clock, _ := newTestManager(t)

	pending := m.CreateRequest(owner(1, 1), WithBuffer([]byte{0xff, 0xd8}, "image/jpeg"))
	processing := m.CreateRequest(owner(2, 1))
	require.NoError(t, m.UpdateStatus(processing.ID, StatusProcessing))
	finished := m.CreateRequest(owner(3, 1))
	require.NoError(t, m.UpdateStatus(finished.ID, StatusCompleted))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, SweepResult{}, m.Sweep())

	clock.Advance(time.Minute + time.Second) // 3m01s
	assert.Equal(t, SweepResult{Expired: 1, Removed: 1}, m.Sweep())
	_, ok := m.GetRequest(processing.ID)
	assert.False(t, ok, "timed out request leaves every index")
	_, ok = m.FindPendingRequest(2, 1)
	assert.False(t, ok)

	clock.Advance(2 * time.Minute) // 5m01s
	res := m.Sweep()
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 2, res.Removed, "pending request expired and completed request past grace")
	_, ok = m.GetRequest(pending.ID)
	assert.False(t, ok)
	_, ok = m.FindPendingRequest(1, 1)
	assert.False(t, ok)
	_, ok = m.GetRequest(finished.ID)
	assert.False(t, ok)

	st := m.Stats()
	assert.Equal(t, 0, st.Active)
	assert.Equal(t, int64(2), st.Expired)
	assert.Equal(t, SweepResult{}, m.Sweep())
}

func TestStartStop(t *testing.T) {
	m := NewManager(Config{SweepInterval: 5 * time.Millisecond, PendingTimeout: time.Millisecond},
		WithLogger(logger.NewDiscardLogger()))
	r := m.CreateRequest(owner(1, 1))

	m.Start(t.Context())
	m.Start(t.Context())
	assert.Eventually(t, func() bool {
		_, ok := m.GetRequest(r.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), m.Stats().Expired)
	m.Stop()
	m.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	m, _, _ := newTestManager(t)
	var wg sync.WaitGroup
	for u := range 8 {
		wg.Go(func() {
			for i := range 50 {
				r := m.CreateRequest(owner(int64(u), 1), WithBuffer([]byte(fmt.Sprint(i)), "image/jpeg"))
				_, _ = m.FindPendingRequest(int64(u), 1)
				_ = m.UpdateStatus(r.ID, StatusProcessing)
				if i%2 == 0 {
					m.CompleteAndRemove(r.ID)
				} else {
					m.FailAndRemove(r.ID, nil)
				}
				m.Sweep()
			}
		})
	}
	wg.Wait()
	st := m.Stats()
	assert.Equal(t, int64(400), st.Total)
	assert.Equal(t, int64(200), st.Completed)
	assert.Equal(t, int64(200), st.Failed)
	assert.Equal(t, 0, st.Active)
}
