package requests

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// Config bounds request lifetimes.
type Config struct {
	MaxPerUser        int
	SweepInterval     time.Duration
	PendingTimeout    time.Duration
	ProcessingTimeout time.Duration
	TerminalGrace     time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxPerUser:        5,
		SweepInterval:     time.Minute,
		PendingTimeout:    5 * time.Minute,
		ProcessingTimeout: 3 * time.Minute,
		TerminalGrace:     5 * time.Minute,
	}
}

// Manager owns all live requests. All mutation goes through its methods so
// the sweeper and the pipeline never race on a request.
type Manager struct {
	cfg      Config
	clock    Clock
	log      logger.Logger
	recorder Recorder

	mu       sync.Mutex
	requests map[string]*Request
	byUser   map[int64][]string // creation order

	total, completed, failed, expired, evicted int64
	completedDur                               time.Duration

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) ManagerOption { return func(m *Manager) { m.clock = c } }

// WithLogger replaces the module logger.
func WithLogger(l logger.Logger) ManagerOption { return func(m *Manager) { m.log = l } }

// WithRecorder attaches a lifecycle event sink.
func WithRecorder(r Recorder) ManagerOption { return func(m *Manager) { m.recorder = r } }

// NewManager creates a manager. Zero config fields take DefaultConfig values.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	def := DefaultConfig()
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = def.MaxPerUser
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = def.PendingTimeout
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = def.ProcessingTimeout
	}
	if cfg.TerminalGrace <= 0 {
		cfg.TerminalGrace = def.TerminalGrace
	}

	m := &Manager{
		cfg:      cfg,
		clock:    realClock{},
		requests: make(map[string]*Request),
		byUser:   make(map[int64][]string),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = logger.Global().Module("requests")
	}
	return m
}

// CreateRequest registers a new pending request. When the user is at the
// ceiling their oldest live request is expired first.
func (m *Manager) CreateRequest(owner Owner, opts ...Option) Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if live := m.liveForUserLocked(owner.UserID); len(live) >= m.cfg.MaxPerUser {
		oldest := live[0]
		m.finishLocked(oldest, StatusExpired, now)
		m.evicted++
		if m.recorder != nil {
			m.recorder.RequestEvicted()
		}
		m.removeLocked(oldest.ID)
		m.log.Info("evicted oldest request at per-user limit",
			logger.String("request_id", oldest.ID),
			logger.Int64("user_id", owner.UserID),
			logger.Int("limit", m.cfg.MaxPerUser))
	}

	r := &Request{
		ID:        m.newIDLocked(),
		UserID:    owner.UserID,
		ChatID:    owner.ChatID,
		ChatType:  owner.ChatType,
		ThreadID:  owner.ThreadID,
		MessageID: owner.MessageID,
		Status:    StatusPending,
		CreatedAt: now,
	}
	for _, o := range opts {
		o(r)
	}
	m.requests[r.ID] = r
	m.byUser[r.UserID] = append(m.byUser[r.UserID], r.ID)
	m.total++
	if m.recorder != nil {
		m.recorder.RequestCreated()
	}

	m.log.Debug("request created",
		logger.String("request_id", r.ID),
		logger.Int64("user_id", r.UserID),
		logger.Int64("chat_id", r.ChatID))
	return r.clone()
}

func (m *Manager) newIDLocked() string {
	for {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		if _, exists := m.requests[id.String()]; !exists {
			return id.String()
		}
	}
}

func (m *Manager) liveForUserLocked(userID int64) []*Request {
	var live []*Request
	for _, id := range m.byUser[userID] {
		if r, ok := m.requests[id]; ok && !r.Status.Terminal() {
			live = append(live, r)
		}
	}
	return live
}

// GetRequest returns a copy of the request.
func (m *Manager) GetRequest(id string) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return Request{}, false
	}
	return r.clone(), true
}

// FindPendingRequest returns the user's most recent pending request that
// carries an image and belongs to chatID. chatID 0 matches any chat.
func (m *Manager) FindPendingRequest(userID, chatID int64) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byUser[userID]
	for i := len(ids) - 1; i >= 0; i-- {
		r, ok := m.requests[ids[i]]
		if !ok || r.Status != StatusPending || !r.HasImage() {
			continue
		}
		if chatID != 0 && r.ChatID != chatID {
			continue
		}
		return r.clone(), true
	}
	return Request{}, false
}

// UpdateStatus moves a request forward and applies opts. Status never moves
// backwards and terminal requests are frozen.
func (m *Manager) UpdateStatus(id string, status Status, opts ...Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if status.rank() <= r.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, status)
	}
	for _, o := range opts {
		o(r)
	}
	if status.Terminal() {
		m.finishLocked(r, status, m.clock.Now())
	} else {
		r.Status = status
	}
	return nil
}

// Update applies opts without changing status. Terminal requests are frozen.
func (m *Manager) Update(id string, opts ...Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, r.Status)
	}
	for _, o := range opts {
		o(r)
	}
	return nil
}

// finishLocked records a terminal transition.
func (m *Manager) finishLocked(r *Request, status Status, now time.Time) {
	r.Status = status
	r.CompletedAt = now
	d := now.Sub(r.CreatedAt)
	switch status {
	case StatusCompleted:
		m.completed++
		m.completedDur += d
	case StatusFailed:
		m.failed++
	case StatusExpired:
		m.expired++
	}
	if m.recorder != nil {
		m.recorder.RequestFinished(status, d)
	}
}

func (m *Manager) removeLocked(id string) bool {
	r, ok := m.requests[id]
	if !ok {
		return false
	}
	delete(m.requests, id)
	ids := slices.DeleteFunc(m.byUser[r.UserID], func(s string) bool { return s == id })
	if len(ids) == 0 {
		delete(m.byUser, r.UserID)
	} else {
		m.byUser[r.UserID] = ids
	}
	return true
}

// CompleteAndRemove marks the request completed, unless it already ended,
// and removes it. Unknown IDs are ignored.
func (m *Manager) CompleteAndRemove(id string) {
	m.endAndRemove(id, StatusCompleted, nil)
}

// FailAndRemove marks the request failed with err and removes it.
func (m *Manager) FailAndRemove(id string, err error) {
	m.endAndRemove(id, StatusFailed, err)
}

func (m *Manager) endAndRemove(id string, status Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return
	}
	if !r.Status.Terminal() {
		if err != nil {
			r.Err = err
		}
		m.finishLocked(r, status, m.clock.Now())
	}
	m.removeLocked(id)
}

// Remove drops the request without recording an outcome.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

// ClearUserRequests expires and removes every request of the user and
// returns how many were still live.
func (m *Manager) ClearUserRequests(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cleared := 0
	for _, id := range slices.Clone(m.byUser[userID]) {
		r := m.requests[id]
		if r != nil && !r.Status.Terminal() {
			m.finishLocked(r, StatusExpired, now)
			cleared++
		}
		m.removeLocked(id)
	}
	return cleared
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Expired int
	Removed int
}

// Sweep expires and removes requests past their timeout. Completed and
// failed requests are removed once the grace period has passed.
func (m *Manager) Sweep() SweepResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var res SweepResult
	for id, r := range m.requests {
		age := now.Sub(r.CreatedAt)
		switch {
		case r.Status.Terminal():
			if now.Sub(r.CompletedAt) >= m.cfg.TerminalGrace {
				m.removeLocked(id)
				res.Removed++
			}
		case r.Status == StatusPending && age >= m.cfg.PendingTimeout,
			r.Status == StatusProcessing && age >= m.cfg.ProcessingTimeout:
			m.log.Info("request expired",
				logger.String("request_id", id),
				logger.String("status", r.Status.String()),
				logger.Duration("age", age))
			m.finishLocked(r, StatusExpired, now)
			m.removeLocked(id)
			res.Expired++
			res.Removed++
		}
	}
	return res
}

// Start runs Sweep every SweepInterval until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.stopped = make(chan struct{})
	go m.sweepLoop(ctx, m.stopped)
}

func (m *Manager) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if res := m.Sweep(); res.Expired > 0 || res.Removed > 0 {
				m.log.Debug("sweep finished",
					logger.Int("expired", res.Expired),
					logger.Int("removed", res.Removed))
			}
		}
	}
}

// Stop stops the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.stopped
	m.cancel = nil
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Total:     m.total,
		Completed: m.completed,
		Failed:    m.failed,
		Expired:   m.expired,
		Evicted:   m.evicted,
	}
	for _, r := range m.requests {
		if !r.Status.Terminal() {
			s.Active++
		}
	}
	if m.completed > 0 {
		s.AverageDuration = m.completedDur / time.Duration(m.completed)
	}
	return s
}
