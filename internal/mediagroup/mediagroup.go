// Package mediagroup gathers the photos of one album (media group) that
// arrive as separate messages and releases them as a single batch.
package mediagroup

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
)

const (
	DefaultWindow  = time.Second
	DefaultMaxWait = 5 * time.Second
)

// Photo is one album item.
type Photo struct {
	FileID    string
	MessageID int
	MimeType  string
	Caption   string
}

// Owner identifies who sent the album and where replies go.
type Owner struct {
	ChatID   int64
	ChatType chat.ChatType
	ThreadID int
	UserID   int64
}

// Batch is a released album. Photos keep arrival order.
type Batch struct {
	GroupID string
	Owner
	Photos []Photo
}

// Caption returns the first non-empty caption in the batch.
func (b Batch) Caption() string {
	for _, p := range b.Photos {
		if p.Caption != "" {
			return p.Caption
		}
	}
	return ""
}

type group struct {
	batch    Batch
	timer    *time.Timer
	deadline time.Time
	released chan struct{}
	once     sync.Once
}

// Collector batches album photos. Each group has its own debounce timer:
// every photo pushes release back by the window, but never past MaxWait
// from the first photo.
type Collector struct {
	window  time.Duration
	maxWait time.Duration

	mu     sync.Mutex
	groups map[string]*group
}

// New creates a collector. Non-positive durations take the defaults.
func New(window, maxWait time.Duration) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxWait < window {
		maxWait = max(DefaultMaxWait, window)
	}
	return &Collector{window: window, maxWait: maxWait, groups: make(map[string]*group)}
}

// Add records photo under groupID. The call that opens a group blocks until
// the group is released and returns the batch with true; every other call
// returns immediately with false. If ctx ends while waiting the group is
// released early, so the caller still gets what has arrived.
//
// A photo arriving after its group was released opens a new group.
func (c *Collector) Add(ctx context.Context, groupID string, photo Photo, owner Owner) (Batch, bool) {
	now := time.Now()

	c.mu.Lock()
	if g, ok := c.groups[groupID]; ok {
		g.batch.Photos = append(g.batch.Photos, photo)
		wait := min(c.window, time.Until(g.deadline))
		g.timer.Reset(max(wait, 0))
		c.mu.Unlock()
		return Batch{}, false
	}

	g := &group{
		batch:    Batch{GroupID: groupID, Owner: owner, Photos: []Photo{photo}},
		deadline: now.Add(c.maxWait),
		released: make(chan struct{}),
	}
	g.timer = time.AfterFunc(c.window, func() { c.release(groupID, g) })
	c.groups[groupID] = g
	c.mu.Unlock()

	select {
	case <-g.released:
	case <-ctx.Done():
		c.release(groupID, g)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	b := g.batch
	b.Photos = append([]Photo(nil), g.batch.Photos...)
	return b, true
}

func (c *Collector) release(groupID string, g *group) {
	c.mu.Lock()
	if c.groups[groupID] == g {
		delete(c.groups, groupID)
	}
	g.timer.Stop()
	c.mu.Unlock()
	g.once.Do(func() { close(g.released) })
}

// Flush releases every open group immediately.
func (c *Collector) Flush() {
	c.mu.Lock()
	open := make([]*group, 0, len(c.groups))
	for id, g := range c.groups {
		open = append(open, g)
		delete(c.groups, id)
		g.timer.Stop()
	}
	c.mu.Unlock()

	for _, g := range open {
		g.once.Do(func() { close(g.released) })
	}
}

// Pending returns the number of open groups.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}
