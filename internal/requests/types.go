// Package requests tracks identification requests from creation to a
// terminal state, enforcing a per-user ceiling and expiring stale entries.
package requests

import (
	"errors"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
)

var (
	ErrRequestNotFound   = errors.New("request not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a request.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

func (s Status) rank() int {
	switch {
	case s.Terminal():
		return 2
	case s == StatusProcessing:
		return 1
	default:
		return 0
	}
}

// WaitingFor records which details the bot asked the user for.
type WaitingFor uint8

const (
	WaitLocation WaitingFor = 1 << iota
	WaitTarget
)

// Has reports whether w includes f.
func (w WaitingFor) Has(f WaitingFor) bool { return w&f != 0 }

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// BatchPhoto is one normalized album image. Failure is set instead of
// Data when the photo could not be loaded.
type BatchPhoto struct {
	MessageID   int
	Data        []byte
	MimeType    string
	Coordinates *Coordinates
	Failure     string
}

// Request is a snapshot of one tracked identification. The Manager hands
// out copies; byte slices are shared and must be treated as read-only.
type Request struct {
	ID          string
	UserID      int64
	ChatID      int64
	ChatType    chat.ChatType
	ThreadID    int
	MessageID   int
	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time
	Err         error

	Buffer          []byte
	MimeType        string
	PromptMessageID int

	Target      string
	Location    string
	Coordinates *Coordinates
	IsBatch     bool
	BatchPhotos []BatchPhoto
	WaitingFor  WaitingFor
}

// Destination returns where replies for r go.
func (r Request) Destination() chat.Destination {
	return chat.Destination{ChatID: r.ChatID, ThreadID: r.ThreadID}
}

// HasImage reports whether the request carries photo data.
func (r Request) HasImage() bool {
	return len(r.Buffer) > 0 || (r.IsBatch && len(r.BatchPhotos) > 0)
}

func (r *Request) clone() Request {
	c := *r
	if r.BatchPhotos != nil {
		c.BatchPhotos = append([]BatchPhoto(nil), r.BatchPhotos...)
	}
	if r.Coordinates != nil {
		coords := *r.Coordinates
		c.Coordinates = &coords
	}
	return c
}

// Owner identifies who created a request and where.
type Owner struct {
	UserID    int64
	ChatID    int64
	ChatType  chat.ChatType
	ThreadID  int
	MessageID int
}

// Option mutates pipeline fields of a request.
type Option func(*Request)

// WithBuffer attaches the downloaded photo and its MIME type.
func WithBuffer(data []byte, mime string) Option {
	return func(r *Request) { r.Buffer, r.MimeType = data, mime }
}

// WithBatch marks the request as an album and copies its photos.
func WithBatch(photos []BatchPhoto) Option {
	return func(r *Request) {
		r.IsBatch = true
		r.BatchPhotos = append([]BatchPhoto(nil), photos...)
	}
}

// WithTarget sets the organism the user asked about.
func WithTarget(target string) Option {
	return func(r *Request) { r.Target = target }
}

// WithLocation sets the location label and, when non-nil, coordinates.
func WithLocation(label string, coords *Coordinates) Option {
	return func(r *Request) {
		r.Location = label
		if coords != nil {
			c := *coords
			r.Coordinates = &c
		}
	}
}

// WithWaiting records which reply the request is waiting for.
func WithWaiting(w WaitingFor) Option {
	return func(r *Request) { r.WaitingFor = w }
}

// WithPromptMessage records the message ID of the bot's prompt.
func WithPromptMessage(id int) Option {
	return func(r *Request) { r.PromptMessageID = id }
}

// WithError records the failure cause.
func WithError(err error) Option {
	return func(r *Request) { r.Err = err }
}

// Stats is a snapshot of manager counters.
type Stats struct {
	Total           int64
	Completed       int64
	Failed          int64
	Expired         int64 // includes Evicted
	Evicted         int64
	Active          int
	AverageDuration time.Duration // over completed requests
}

// Recorder receives lifecycle events, typically for metrics.
type Recorder interface {
	RequestCreated()
	RequestFinished(status Status, duration time.Duration)
	RequestEvicted()
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
