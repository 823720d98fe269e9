package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
)

const topSpeciesLimit = 5

func (b *Bot) handleCommand(ctx context.Context, m *chat.Message, cmd, args string) {
	switch cmd {
	case "start", "help":
		b.reply(ctx, m, "help", helpText)
	case "info":
		b.reply(ctx, m, "info", b.infoText(ctx, m))
	case "identify":
		b.identifyByReply(ctx, m, args)
	case "skip":
		b.skip(ctx, m)
	case "usage", "quota":
		b.reply(ctx, m, "usage", b.usageText(ctx, m))
	case "clear":
		b.clear(ctx, m)
	default:
		if !m.ChatType.IsGroup() {
			b.reply(ctx, m, "unknown_command", "Unknown command. Send /help to see what I can do.")
		}
	}
}

func (b *Bot) identifyByReply(ctx context.Context, m *chat.Message, target string) {
	if m.ReplyTo == nil {
		b.reply(ctx, m, "identify_usage", "Reply to a photo with /identify to identify it.")
		return
	}
	photo, _ := m.ReplyTo.Image()
	if photo == nil {
		b.reply(ctx, m, "identify_usage", "The message you replied to has no photo.")
		return
	}
	b.startSingle(ctx, requests.Owner{
		UserID:    m.From.ID,
		ChatID:    m.ChatID,
		ChatType:  m.ChatType,
		ThreadID:  m.ThreadID,
		MessageID: m.ReplyTo.ID,
	}, photo.FileID, target)
}

func (b *Bot) skip(ctx context.Context, m *chat.Message) {
	r, ok := b.Requests.FindPendingRequest(m.From.ID, m.ChatID)
	if !ok || r.WaitingFor == 0 {
		b.reply(ctx, m, "skip", "Nothing to skip.")
		return
	}
	b.deleteMessage(ctx, r.Destination(), r.PromptMessageID)
	b.process(ctx, r.ID, requests.WithWaiting(0))
}

func (b *Bot) usageText(ctx context.Context, m *chat.Message) string {
	key := quota.KeyFor(m.ChatType, m.ChatID, m.From.ID)
	st, err := b.Quota.CheckLimit(ctx, key)
	if err != nil {
		b.log.Warn("quota lookup failed", logger.String("key", key.String()), logger.Error(err))
		return "Usage information is unavailable right now."
	}

	who := "You have"
	if key.Scope == quota.ScopeGroup {
		who = "This chat has"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s used %d of %d identifications this week (%d left).\nThe limit resets %s.",
		who, st.Used, st.Limit, st.Remaining, formatReset(st.ResetAt))

	if b.History != nil {
		since := st.ResetAt.AddDate(0, 0, -7)
		top, err := b.History.TopSpecies(ctx, m.ChatID, since, topSpeciesLimit)
		if err != nil {
			b.log.Warn("top species lookup failed", logger.Int64("chat_id", m.ChatID), logger.Error(err))
		}
		if len(top) > 0 {
			sb.WriteString("\n\nMost identified this week:")
			for _, s := range top {
				name := s.CommonName
				if name == "" {
					name = s.ScientificName
				}
				fmt.Fprintf(&sb, "\n• %s × %d", name, s.Count)
			}
		}
	}
	return sb.String()
}

func (b *Bot) infoText(ctx context.Context, m *chat.Message) string {
	var sb strings.Builder
	sb.WriteString("Wildlife ID bot")
	if b.cfg.Version != "" {
		sb.WriteString(" " + b.cfg.Version)
	}
	sb.WriteString("\nIdentifies animals in photos. Names are checked against GBIF, " +
		"bird names against eBird, places are looked up on OpenStreetMap and " +
		"reference photos come from Wikipedia.")

	s := b.Requests.Stats()
	fmt.Fprintf(&sb, "\n\nUptime: %s\nRequests: %d total, %d completed, %d failed, %d expired, %d active",
		time.Since(b.start).Round(time.Second), s.Total, s.Completed, s.Failed, s.Expired, s.Active)
	if s.AverageDuration > 0 {
		fmt.Fprintf(&sb, "\nAverage processing time: %s", s.AverageDuration.Round(100*time.Millisecond))
	}

	if b.History != nil {
		if n, err := b.History.CountIdentifications(ctx, m.ChatID, time.Time{}); err == nil {
			fmt.Fprintf(&sb, "\nIdentifications in this chat: %d", n)
		}
	}
	return sb.String()
}

// clear forgets this chat's cached results and the user's live requests.
// Stored history is only deleted from private chats.
func (b *Bot) clear(ctx context.Context, m *chat.Message) {
	results := b.Results.ClearChat(m.ChatID)
	b.FullRes.ClearChat(m.From.ID)
	live := b.Requests.ClearUserRequests(m.From.ID)

	var history int64
	if b.History != nil && !m.ChatType.IsGroup() {
		n, err := b.History.DeleteChatHistory(ctx, m.ChatID)
		if err != nil {
			b.log.Warn("failed to delete history", logger.Int64("chat_id", m.ChatID), logger.Error(err))
		}
		history = n
	}

	b.log.Info("chat cleared",
		logger.Int64("chat_id", m.ChatID),
		logger.Int64("user_id", m.From.ID),
		logger.Int("results", results),
		logger.Int("requests", live),
		logger.Int64("history", history))
	b.reply(ctx, m, "clear", fmt.Sprintf("Cleared %d cached results and %d pending requests.", results, live))
}
