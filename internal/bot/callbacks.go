package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
)

const expiredText = "This result has expired. Send the photo again to identify it."

func (b *Bot) handleCallback(ctx context.Context, cb *chat.Callback) {
	if cb.Message == nil {
		b.answer(ctx, cb, "")
		return
	}
	switch {
	case strings.HasPrefix(cb.Data, callbackDetails):
		b.details(ctx, cb, strings.TrimPrefix(cb.Data, callbackDetails))
	case strings.HasPrefix(cb.Data, callbackFullRes):
		b.fullRes(ctx, cb, strings.TrimPrefix(cb.Data, callbackFullRes))
	case strings.HasPrefix(cb.Data, callbackIdentify):
		b.identifyOffer(ctx, cb, strings.TrimPrefix(cb.Data, callbackIdentify))
	default:
		b.log.Debug("unknown callback data", logger.String("data", cb.Data))
		b.answer(ctx, cb, "")
	}
}

func (b *Bot) details(ctx context.Context, cb *chat.Callback, species string) {
	res, ok := b.Results.Get(resultcache.Key(cb.Message.ChatID, species))
	if !ok {
		b.answer(ctx, cb, "Result expired")
		_, _ = b.send(ctx, "expired", cb.Message.Destination(), expiredText, cb.Message.ID, nil)
		return
	}
	b.answer(ctx, cb, "")
	_, _ = b.send(ctx, "details", cb.Message.Destination(), detailsText(res.Identification), cb.Message.ID, nil)
}

// fullRes sends the photo to the tapping user in private, once per species.
func (b *Bot) fullRes(ctx context.Context, cb *chat.Callback, species string) {
	res, ok := b.Results.Get(resultcache.Key(cb.Message.ChatID, species))
	if !ok {
		b.answer(ctx, cb, "Result expired")
		return
	}
	sentKey := resultcache.Key(cb.From.ID, species)
	if _, sent := b.FullRes.Get(sentKey); sent {
		b.answer(ctx, cb, "Already sent to you in private.")
		return
	}

	name := strings.ReplaceAll(resultcache.Canonical(res.ScientificName), " ", "_") + ".jpg"
	_, err := b.Transport.SendDocument(ctx, chat.Destination{ChatID: cb.From.ID}, name, res.Photo, resultCaption(res.Identification))
	b.Metrics.MessageSent("fullres", err)
	if err != nil {
		b.log.Info("full resolution photo not delivered",
			logger.Int64("user_id", cb.From.ID),
			logger.Error(err))
		b.answer(ctx, cb, "Start a private chat with me first, then tap again.")
		return
	}
	b.FullRes.Set(sentKey, true)
	b.answer(ctx, cb, "Sent to you in private.")
}

// identifyOffer runs an offered group photo on behalf of whoever tapped.
func (b *Bot) identifyOffer(ctx context.Context, cb *chat.Callback, value string) {
	msgID, err := strconv.Atoi(value)
	if err != nil {
		b.answer(ctx, cb, "")
		return
	}
	key := offerKey(cb.Message.ChatID, msgID)
	o, ok := b.Offers.Get(key)
	if !ok {
		b.answer(ctx, cb, "This offer has expired.")
		return
	}
	// Two users tapping at once may both get here; the offer message is
	// deleted on the first pass so the window is small.
	b.Offers.Delete(key)
	b.answer(ctx, cb, "Identifying…")
	b.deleteMessage(ctx, cb.Message.Destination(), cb.Message.ID)

	b.startSingle(ctx, requests.Owner{
		UserID:    cb.From.ID,
		ChatID:    o.ChatID,
		ChatType:  o.ChatType,
		ThreadID:  o.ThreadID,
		MessageID: o.MessageID,
	}, o.FileID, "")
}
