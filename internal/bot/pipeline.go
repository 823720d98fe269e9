package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/classifier"
	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/events"
	"github.com/tphakala/wildlife-id-bot/internal/imagemeta"
	"github.com/tphakala/wildlife-id-bot/internal/imageprovider"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/mediagroup"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/render"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
)

var errQuotaExhausted = errors.NewStd("quota exhausted")

// parseTrigger reports whether text addresses the bot, through /identify
// or an @mention, and returns the remaining text as the target.
func (b *Bot) parseTrigger(text string) (bool, string) {
	text = strings.TrimSpace(text)
	if cmd, args := chat.ParseCommand(text); cmd != "" {
		return cmd == "identify", args
	}
	if self := b.Transport.Self(); self != "" {
		mention := "@" + strings.ToLower(self)
		if i := strings.Index(strings.ToLower(text), mention); i >= 0 {
			rest := text[:i] + text[i+len(mention):]
			return true, strings.Join(strings.Fields(rest), " ")
		}
	}
	return false, text
}

func (b *Bot) handlePhoto(ctx context.Context, m *chat.Message, photo *chat.Photo, mime string) {
	triggered, target := b.parseTrigger(m.Caption)

	if m.MediaGroupID != "" {
		batch, first := b.Groups.Add(ctx, m.MediaGroupID,
			mediagroup.Photo{FileID: photo.FileID, MessageID: m.ID, MimeType: mime, Caption: m.Caption},
			mediagroup.Owner{ChatID: m.ChatID, ChatType: m.ChatType, ThreadID: m.ThreadID, UserID: m.From.ID})
		if first {
			b.startBatch(ctx, batch)
		}
		return
	}

	if m.ChatType.IsGroup() && !triggered {
		b.offer(ctx, m, photo, mime)
		return
	}

	owner := requests.Owner{
		UserID:    m.From.ID,
		ChatID:    m.ChatID,
		ChatType:  m.ChatType,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
	}
	b.startSingle(ctx, owner, photo.FileID, target)
}

// offer answers an untriggered group photo with an Identify button.
func (b *Bot) offer(ctx context.Context, m *chat.Message, photo *chat.Photo, mime string) {
	if !b.cfg.GroupOfferButton {
		return
	}
	b.Offers.Set(offerKey(m.ChatID, m.ID), Offer{
		ChatID:    m.ChatID,
		ChatType:  m.ChatType,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		FileID:    photo.FileID,
		MimeType:  mime,
	})
	kb := chat.Row(chat.Button{Text: "Identify", Data: callbackIdentify + fmt.Sprint(m.ID)})
	_, _ = b.send(ctx, "offer", m.Destination(), "Should I identify this animal?", m.ID, kb)
}

// checkQuota reports whether key has allowance left and tells the chat when
// it does not. A store failure lets the request through; Consume decides.
func (b *Bot) checkQuota(ctx context.Context, key quota.Key, dst chat.Destination, replyTo int) bool {
	st, err := b.Quota.CheckLimit(ctx, key)
	if err != nil {
		b.log.Warn("quota check failed", logger.String("key", key.String()), logger.Error(err))
		return true
	}
	if st.Allowed {
		return true
	}
	b.Metrics.QuotaExhausted(key.Scope.String())
	_, _ = b.send(ctx, "quota", dst, quotaExhaustedText(st, key), replyTo, nil)
	return false
}

func (b *Bot) startSingle(ctx context.Context, owner requests.Owner, fileID, target string) {
	key := quota.KeyFor(owner.ChatType, owner.ChatID, owner.UserID)
	dst := chat.Destination{ChatID: owner.ChatID, ThreadID: owner.ThreadID}
	if !b.checkQuota(ctx, key, dst, owner.MessageID) {
		return
	}

	r := b.Requests.CreateRequest(owner, requests.WithTarget(target))
	photo, reason, err := b.loadPhoto(ctx, fileID, owner.MessageID)
	if err != nil {
		b.fail(ctx, r, reason, err)
		return
	}

	label := ""
	if photo.Coordinates != nil {
		label = b.reverseLabel(ctx, *photo.Coordinates)
	}
	b.prepare(ctx, r.ID, 1,
		requests.WithBuffer(photo.Data, photo.MimeType),
		requests.WithLocation(label, photo.Coordinates))
}

// loadPhoto downloads a photo, reads its GPS tags and normalizes it. The
// returned reason describes a failure to the user.
func (b *Bot) loadPhoto(ctx context.Context, fileID string, messageID int) (requests.BatchPhoto, string, error) {
	data, err := b.Transport.DownloadFile(ctx, fileID)
	if err != nil {
		return requests.BatchPhoto{}, reasonDownloadFailed, err
	}

	// EXIF does not survive normalization.
	var coords *requests.Coordinates
	if c, ok := imagemeta.ReadLocation(data); ok {
		coords = &requests.Coordinates{Latitude: c.Latitude, Longitude: c.Longitude}
	}

	norm, err := imagemeta.Normalize(data, b.cfg.MaxImageSide, b.cfg.JPEGQuality)
	if err != nil {
		return requests.BatchPhoto{}, reasonUnsupportedImage, err
	}
	return requests.BatchPhoto{
		MessageID:   messageID,
		Data:        norm.Data,
		MimeType:    norm.MimeType,
		Coordinates: coords,
	}, "", nil
}

// prepare stores the loaded image and either starts processing or asks for
// what is missing. The waiting state is committed before the prompt goes
// out so a fast reply always finds it.
func (b *Bot) prepare(ctx context.Context, id string, photos int, opts ...requests.Option) {
	r, ok := b.Requests.GetRequest(id)
	if !ok {
		return
	}
	for _, o := range opts {
		o(&r)
	}

	var wait requests.WaitingFor
	if r.Coordinates == nil && r.Location == "" {
		wait |= requests.WaitLocation
	}
	if b.cfg.AskTarget && r.Target == "" {
		wait |= requests.WaitTarget
	}
	if wait == 0 {
		b.process(ctx, id, opts...)
		return
	}

	if err := b.Requests.Update(id, append(opts, requests.WithWaiting(wait))...); err != nil {
		b.absorb(err, "prompt", id)
		return
	}
	msgID, err := b.send(ctx, "prompt", r.Destination(), promptText(wait, photos), r.MessageID, nil)
	if err != nil {
		b.Requests.FailAndRemove(id, err)
		return
	}
	b.absorb(b.Requests.Update(id, requests.WithPromptMessage(msgID)), "prompt", id)
}

// handleReply resumes the user's most recent waiting request in this chat
// with a text answer or a shared map location.
func (b *Bot) handleReply(ctx context.Context, m *chat.Message, text string, loc *chat.Location) {
	r, ok := b.Requests.FindPendingRequest(m.From.ID, m.ChatID)
	if !ok || r.WaitingFor == 0 {
		if !m.ChatType.IsGroup() {
			b.reply(ctx, m, "no_pending", "No pending request found. Send a photo to start.")
		}
		return
	}
	// In groups only replies to the prompt count, so chatter is not taken
	// as an answer.
	if m.ChatType.IsGroup() && (m.ReplyTo == nil || m.ReplyTo.ID != r.PromptMessageID) {
		return
	}

	opts := []requests.Option{requests.WithWaiting(0)}
	if loc != nil {
		c := requests.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude}
		opts = append(opts, requests.WithLocation(b.reverseLabel(ctx, c), &c))
	} else {
		place, target := splitReply(text, r.WaitingFor)
		if place != "" {
			label, coords := b.resolvePlace(ctx, place)
			opts = append(opts, requests.WithLocation(label, coords))
		}
		if target != "" {
			opts = append(opts, requests.WithTarget(target))
		}
	}

	b.deleteMessage(ctx, r.Destination(), r.PromptMessageID)
	b.process(ctx, r.ID, opts...)
}

// splitReply reads "place; target" when both were asked for, otherwise the
// whole text answers the single question.
func splitReply(text string, w requests.WaitingFor) (place, target string) {
	text = strings.TrimSpace(text)
	switch {
	case w.Has(requests.WaitLocation) && w.Has(requests.WaitTarget):
		place, target, _ = strings.Cut(text, ";")
		return strings.TrimSpace(place), strings.TrimSpace(target)
	case w.Has(requests.WaitLocation):
		return text, ""
	default:
		return "", text
	}
}

func (b *Bot) resolvePlace(ctx context.Context, text string) (string, *requests.Coordinates) {
	if b.Geocoder == nil {
		return text, nil
	}
	p, ok, err := b.Geocoder.Resolve(ctx, text)
	if err != nil {
		b.log.Warn("geocoding failed", logger.String("query", text), logger.Error(err))
		return text, nil
	}
	if !ok {
		return text, nil
	}
	return p.Label, &requests.Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}
}

func (b *Bot) reverseLabel(ctx context.Context, c requests.Coordinates) string {
	fallback := fmt.Sprintf("%.4f, %.4f", c.Latitude, c.Longitude)
	if b.Geocoder == nil {
		return fallback
	}
	p, ok, err := b.Geocoder.Reverse(ctx, c.Latitude, c.Longitude)
	if err != nil {
		b.log.Debug("reverse geocoding failed", logger.Error(err))
		return fallback
	}
	if !ok || p.Label == "" {
		return fallback
	}
	return p.Label
}

// process claims the request and runs classification and delivery. A
// request that was already claimed, cleared or expired is left alone.
func (b *Bot) process(ctx context.Context, id string, opts ...requests.Option) {
	ctx = logger.WithTraceID(ctx, id)
	if err := b.Requests.UpdateStatus(id, requests.StatusProcessing, opts...); err != nil {
		b.absorb(err, "processing", id)
		return
	}
	r, ok := b.Requests.GetRequest(id)
	if !ok {
		return
	}

	key := quota.KeyFor(r.ChatType, r.ChatID, r.UserID)
	if !b.checkQuota(ctx, key, r.Destination(), r.MessageID) {
		b.Requests.FailAndRemove(id, errQuotaExhausted)
		return
	}

	if r.IsBatch {
		b.processBatch(ctx, r, key)
		return
	}
	b.processSingle(ctx, r, key)
}

func (b *Bot) processSingle(ctx context.Context, r requests.Request, key quota.Key) {
	res, err := b.classify(ctx, r, r.Buffer, r.MimeType)
	if err != nil {
		b.fail(ctx, r, failureReason(err), err)
		return
	}
	if !res.Identified {
		_, _ = b.send(ctx, "quality", r.Destination(), reasonMessage(res.Reason, res.QualityIssue, res.Suggestion), r.MessageID, nil)
		b.Requests.FailAndRemove(r.ID, fmt.Errorf("not identified: %s", res.Reason))
		return
	}

	id := b.crossReference(ctx, res, r)
	cached := CachedResult{Identification: id, Photo: r.Buffer, MimeType: r.MimeType}
	b.Results.Set(resultcache.Key(r.ChatID, id.ScientificName), cached)

	cached.Reference = b.reference(ctx, id.ScientificName)
	if err := b.deliver(ctx, r.Destination(), r.MessageID, cached); err != nil {
		b.Requests.FailAndRemove(r.ID, err)
		return
	}

	b.consume(ctx, key, r.ID)
	b.record(ctx, r, id, false)
	b.Requests.CompleteAndRemove(r.ID)
}

// consume takes one quota unit after a delivered identification.
func (b *Bot) consume(ctx context.Context, key quota.Key, requestID string) bool {
	res, err := b.Quota.Consume(ctx, key)
	if err != nil {
		b.log.Error("quota consume failed",
			logger.String("request_id", requestID),
			logger.String("key", key.String()),
			logger.Error(err))
		return true
	}
	if !res.Success {
		b.Metrics.QuotaExhausted(key.Scope.String())
		return false
	}
	b.Metrics.QuotaConsumed(key.Scope.String())
	return true
}

func (b *Bot) classify(ctx context.Context, r requests.Request, data []byte, mime string) (classifier.Result, error) {
	hints := classifier.Hints{Location: r.Location, Target: r.Target}
	if c := r.Coordinates; c != nil {
		lat, lon := c.Latitude, c.Longitude
		hints.Latitude, hints.Longitude = &lat, &lon
	}

	start := time.Now()
	res, err := b.Classifier.Classify(ctx, data, mime, hints)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		b.Metrics.Classification("error", elapsed)
		b.log.Error("classification failed",
			logger.String("request_id", r.ID),
			logger.Duration("duration", elapsed),
			logger.Error(err))
		if errors.Is(err, classifier.ErrRetriesExhausted) {
			b.alert(ctx, "Classifier unavailable", err)
		}
	case res.Identified:
		b.Metrics.Classification("identified", elapsed)
		b.log.Info("photo identified",
			logger.String("request_id", r.ID),
			logger.String("species", res.ScientificName),
			logger.Float64("confidence", res.Confidence),
			logger.Duration("duration", elapsed))
	default:
		b.Metrics.Classification("not_identified", elapsed)
		b.log.Info("photo not identified",
			logger.String("request_id", r.ID),
			logger.String("reason", res.Reason))
	}
	return res, err
}

func failureReason(err error) string {
	if errors.Is(err, classifier.ErrRetriesExhausted) {
		return reasonServiceUnavailable
	}
	return reasonInternal
}

// fail tells the user why the request ended and removes it.
func (b *Bot) fail(ctx context.Context, r requests.Request, reason string, err error) {
	b.log.WithContext(ctx).Warn("request failed",
		logger.String("request_id", r.ID),
		logger.String("reason", reason),
		logger.Error(err))
	_, _ = b.send(ctx, "failure", r.Destination(), reasonMessage(reason, "", ""), r.MessageID, nil)
	b.Requests.FailAndRemove(r.ID, err)
}

func (b *Bot) alert(_ context.Context, title string, err error) {
	if b.Events == nil {
		return
	}
	b.Events.Publish(events.Alert{
		Title:     title,
		Message:   err.Error(),
		Severity:  events.SeverityError,
		Component: "classifier",
		Timestamp: time.Now(),
	})
}

func (b *Bot) reference(ctx context.Context, scientificName string) *imageprovider.Image {
	if b.Photos == nil {
		return nil
	}
	img, err := b.Photos.Fetch(ctx, scientificName)
	if err != nil {
		if !errors.Is(err, imageprovider.ErrImageNotFound) {
			b.log.Warn("reference photo lookup failed",
				logger.String("species", scientificName),
				logger.Error(err))
		}
		return nil
	}
	return &img
}

func resultKeyboard(scientificName string) chat.Keyboard {
	return chat.Row(
		chat.Button{Text: "Details", Data: speciesCallback(callbackDetails, scientificName)},
		chat.Button{Text: "Full resolution", Data: speciesCallback(callbackFullRes, scientificName)},
	)
}

// deliver sends the composite with follow-up buttons, falling back to a
// text message when rendering or the photo upload fails.
func (b *Bot) deliver(ctx context.Context, dst chat.Destination, replyTo int, res CachedResult) error {
	kb := resultKeyboard(res.ScientificName)
	caption := resultCaption(res.Identification)

	if b.Renderer != nil {
		refURL, attribution := "", ""
		if res.Reference != nil {
			refURL, attribution = res.Reference.URL, res.Reference.Attribution()
		}
		img, err := b.Renderer.Render(ctx, refURL, render.Card{
			Photo:          res.Photo,
			CommonName:     res.CommonName,
			ScientificName: res.ScientificName,
			Confidence:     res.Confidence,
			Location:       res.Location,
			Lines:          cardLines(res.Identification),
			Attribution:    attribution,
		})
		if err == nil {
			_, err = b.Transport.SendPhoto(ctx, dst, chat.OutgoingPhoto{
				Data:     img,
				Name:     "identification.jpg",
				Caption:  caption,
				Keyboard: kb,
				ReplyTo:  replyTo,
			})
			b.Metrics.MessageSent("result", err)
			if err == nil {
				return nil
			}
		}
		b.log.Warn("composite delivery failed, sending text",
			logger.String("species", res.ScientificName),
			logger.Error(err))
	}

	_, err := b.send(ctx, "result", dst, caption, replyTo, kb)
	return err
}

func (b *Bot) record(ctx context.Context, r requests.Request, id Identification, batch bool) {
	var lat, lon *float64
	if c := id.Coordinates; c != nil {
		la, lo := c.Latitude, c.Longitude
		lat, lon = &la, &lo
	}
	now := time.Now().UTC()

	if b.History != nil {
		row := &datastore.Identification{
			RequestID:      r.ID,
			ChatID:         r.ChatID,
			UserID:         r.UserID,
			ScientificName: id.ScientificName,
			CommonName:     id.CommonName,
			Location:       id.Location,
			Confidence:     id.Confidence,
			Latitude:       lat,
			Longitude:      lon,
			Batch:          batch,
			CreatedAt:      now,
		}
		if err := b.History.SaveIdentification(ctx, row); err != nil {
			b.log.Warn("failed to save identification", logger.String("request_id", r.ID), logger.Error(err))
		}
	}
	if b.Events != nil {
		b.Events.Publish(events.Identification{
			RequestID:      r.ID,
			ChatID:         r.ChatID,
			ChatType:       string(r.ChatType),
			UserID:         r.UserID,
			ScientificName: id.ScientificName,
			CommonName:     id.CommonName,
			Confidence:     id.Confidence,
			Location:       id.Location,
			Latitude:       lat,
			Longitude:      lon,
			Batch:          batch,
			Timestamp:      now,
		})
	}
}
