// Package chat defines transport-neutral message, callback and keyboard types
// and the Transport interface the bot talks to.
package chat

import (
	"context"
	"strings"
)

// ChatType classifies the conversation a message came from.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// IsGroup reports whether the chat is shared by several users.
func (t ChatType) IsGroup() bool {
	return t == ChatGroup || t == ChatSupergroup || t == ChatChannel
}

// Destination addresses an outgoing message. ThreadID is zero outside forum topics.
type Destination struct {
	ChatID   int64
	ThreadID int
}

// User is the sender of a message or callback.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

// DisplayName returns @username when set, otherwise the first name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}

// Photo references the largest size of an attached photo.
type Photo struct {
	FileID   string
	UniqueID string
	Width    int
	Height   int
	FileSize int
}

// Location is a shared map pin.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Message is an incoming chat message.
type Message struct {
	ID           int
	ChatID       int64
	ChatType     ChatType
	ThreadID     int
	From         User
	Text         string
	Caption      string
	Photo        *Photo
	Document     *Photo // image sent as a file
	DocumentMIME string
	Location     *Location
	MediaGroupID string
	ReplyTo      *Message
}

// Destination returns where replies to m should go.
func (m *Message) Destination() Destination {
	return Destination{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

// Image returns the attached photo, or an image document.
func (m *Message) Image() (*Photo, string) {
	if m.Photo != nil {
		return m.Photo, "image/jpeg"
	}
	if m.Document != nil && strings.HasPrefix(m.DocumentMIME, "image/") {
		return m.Document, m.DocumentMIME
	}
	return nil, ""
}

// Command returns the bot command and its arguments when the text (or
// caption) starts with '/'. A "@botname" suffix on the command is stripped.
func (m *Message) Command() (string, string) {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return ParseCommand(text)
}

// ParseCommand splits "/cmd@bot args" into ("cmd", "args").
func ParseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, args, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

// Callback is a button press on an inline keyboard.
type Callback struct {
	ID       string
	From     User
	Message  *Message
	Data     string
	ChatType ChatType
}

// Update is one event from the transport. Exactly one field is set.
type Update struct {
	ID       int
	Message  *Message
	Callback *Callback
}

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons.
type Keyboard [][]Button

// Row builds a single-row keyboard.
func Row(buttons ...Button) Keyboard {
	return Keyboard{buttons}
}

// OutgoingPhoto is an image to send.
type OutgoingPhoto struct {
	Data     []byte
	Name     string
	Caption  string
	Keyboard Keyboard
	ReplyTo  int
}

// Transport is the chat platform the bot is attached to.
type Transport interface {
	// Self returns the bot's username without '@'.
	Self() string
	SendText(ctx context.Context, dst Destination, text string, replyTo int) (int, error)
	SendTextWithKeyboard(ctx context.Context, dst Destination, text string, replyTo int, kb Keyboard) (int, error)
	SendPhoto(ctx context.Context, dst Destination, photo OutgoingPhoto) (int, error)
	SendDocument(ctx context.Context, dst Destination, name string, data []byte, caption string) (int, error)
	DeleteMessage(ctx context.Context, dst Destination, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	Updates(ctx context.Context) (<-chan Update, error)
}
