// Package quota enforces the weekly identification allowance per group chat
// and per private user.
//
// A Tracker combines a reset schedule with a Store. Records are created
// lazily on first use and roll over to the next reset boundary when read
// after their ResetAt. Exhaustion is reported through return values; errors
// only mean the store failed.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// Scope distinguishes group allowances from private ones.
type Scope int

const (
	ScopeGroup Scope = iota
	ScopeUser
)

func (s Scope) String() string {
	if s == ScopeUser {
		return "user"
	}
	return "group"
}

// Key identifies one allowance. The scope selects the limit.
type Key struct {
	Scope Scope
	ID    int64
}

// String renders "group:<chatID>" or "user:<userID>".
func (k Key) String() string {
	return k.Scope.String() + ":" + strconv.FormatInt(k.ID, 10)
}

// KeyFor picks the allowance a message counts against. Shared chats count
// against the chat, private chats against the user.
func KeyFor(chatType chat.ChatType, chatID, userID int64) Key {
	if chatType.IsGroup() {
		return Key{Scope: ScopeGroup, ID: chatID}
	}
	return Key{Scope: ScopeUser, ID: userID}
}

// ParseKey parses the String form of a Key.
func ParseKey(s string) (Key, error) {
	prefix, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Key{}, fmt.Errorf("invalid quota key %q: want group:<id> or user:<id>", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("invalid quota key %q: %w", s, err)
	}
	switch prefix {
	case "group":
		return Key{Scope: ScopeGroup, ID: n}, nil
	case "user":
		return Key{Scope: ScopeUser, ID: n}, nil
	}
	return Key{}, fmt.Errorf("invalid quota key %q: unknown scope %q", s, prefix)
}

// Status is the read-only view returned by CheckLimit.
type Status struct {
	Allowed   bool
	Used      int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ConsumeResult reports the outcome of Consume.
type ConsumeResult struct {
	Success   bool
	Used      int
	Remaining int
	ResetAt   time.Time
}

// Config holds limits and the reset schedule.
type Config struct {
	GroupLimit   int
	PrivateLimit int
	ResetWeekday time.Weekday
	ResetHour    int
	Location     *time.Location
}

// Tracker is safe for concurrent use; atomicity comes from the Store.
type Tracker struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   logger.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the tracker logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// NewTracker returns a tracker over store.
func NewTracker(store Store, cfg Config, opts ...Option) *Tracker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	t := &Tracker{store: store, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	if t.log == nil {
		t.log = logger.Global().Module("quota")
	}
	return t
}

// Limit returns the allowance for key.
func (t *Tracker) Limit(key Key) int {
	if key.Scope == ScopeUser {
		return t.cfg.PrivateLimit
	}
	return t.cfg.GroupLimit
}

// NextReset returns the next reset boundary after now.
func (t *Tracker) NextReset(now time.Time) time.Time {
	return NextReset(now, t.cfg.ResetWeekday, t.cfg.ResetHour, t.cfg.Location)
}

// CheckLimit reads the allowance without consuming it. A record whose
// reset time has passed reads as unused.
func (t *Tracker) CheckLimit(ctx context.Context, key Key) (Status, error) {
	now := t.now()
	limit := t.Limit(key)

	rec, found, err := t.store.Peek(ctx, key.String())
	if err != nil {
		return Status{}, t.storeError(err, "check", key)
	}
	if !found || !now.Before(rec.ResetAt) {
		rec = Record{Count: 0, ResetAt: t.NextReset(now)}
	}

	remaining := max(limit-rec.Count, 0)
	return Status{
		Allowed:   rec.Count < limit,
		Used:      rec.Count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   rec.ResetAt,
	}, nil
}

// Consume takes one unit when the allowance is not exhausted.
func (t *Tracker) Consume(ctx context.Context, key Key) (ConsumeResult, error) {
	now := t.now()
	limit := t.Limit(key)

	rec, ok, err := t.store.Consume(ctx, key.String(), limit, now, t.NextReset(now))
	if err != nil {
		return ConsumeResult{}, t.storeError(err, "consume", key)
	}

	res := ConsumeResult{
		Success:   ok,
		Used:      rec.Count,
		Remaining: max(limit-rec.Count, 0),
		ResetAt:   rec.ResetAt,
	}
	if ok {
		t.log.Debug("quota consumed",
			logger.String("key", key.String()),
			logger.Int("remaining", res.Remaining))
	} else {
		t.log.Info("quota exhausted",
			logger.String("key", key.String()),
			logger.Time("reset_at", res.ResetAt))
	}
	return res, nil
}

// Reset clears the record for key.
func (t *Tracker) Reset(ctx context.Context, key Key) error {
	if err := t.store.Reset(ctx, key.String()); err != nil {
		return t.storeError(err, "reset", key)
	}
	t.log.Info("quota reset", logger.String("key", key.String()))
	return nil
}

func (t *Tracker) storeError(err error, op string, key Key) error {
	return errors.New(err).
		Component("quota").
		Category(errors.CategoryStorage).
		Context("operation", op).
		Context("key", key.String()).
		Build()
}
