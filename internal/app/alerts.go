package app

import (
	"context"
	"fmt"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/events"
)

// adminChat forwards alerts to an operator chat through the bot itself.
type adminChat struct {
	transport chat.Transport
	chatID    int64
}

func (a *adminChat) Name() string { return "admin_chat" }

func (a *adminChat) Accepts(k events.Kind) bool { return k == events.KindAlert }

func (a *adminChat) Process(ctx context.Context, e events.Event) error {
	alert, ok := e.(events.Alert)
	if !ok {
		return nil
	}
	text := fmt.Sprintf("[%s] %s\n%s", alert.Severity, alert.Title, alert.Message)
	if alert.Component != "" {
		text += "\ncomponent: " + alert.Component
	}
	_, err := a.transport.SendText(ctx, chat.Destination{ChatID: a.chatID}, text, 0)
	return err
}
