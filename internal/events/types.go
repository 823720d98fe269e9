// Package events fans bot events out to asynchronous consumers such as the
// MQTT publisher and the shoutrrr notifier, so delivery never blocks the
// identification pipeline.
package events

import (
	"context"
	"time"
)

// Kind identifies the type of an Event.
type Kind string

const (
	KindIdentification Kind = "identification"
	KindAlert          Kind = "alert"
)

// Event is anything the bus can carry.
type Event interface {
	Kind() Kind
}

// Identification is published after a photo was identified and delivered.
type Identification struct {
	RequestID      string    `json:"request_id"`
	ChatID         int64     `json:"chat_id"`
	ChatType       string    `json:"chat_type"`
	UserID         int64     `json:"user_id"`
	ScientificName string    `json:"scientific_name"`
	CommonName     string    `json:"common_name,omitempty"`
	Confidence     float64   `json:"confidence"`
	Location       string    `json:"location,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	Batch          bool      `json:"batch"`
	Timestamp      time.Time `json:"timestamp"`
}

// Kind implements Event.
func (Identification) Kind() Kind { return KindIdentification }

// Severity of an Alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert is an operator notification.
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Component string
	Timestamp time.Time
}

// Kind implements Event.
func (Alert) Kind() Kind { return KindAlert }

// Consumer processes events of the kinds it accepts.
type Consumer interface {
	Name() string
	Accepts(k Kind) bool
	Process(ctx context.Context, e Event) error
}

// Stats contains runtime statistics for monitoring.
type Stats struct {
	Received       uint64
	Processed      uint64
	Dropped        uint64
	ConsumerErrors uint64
}
