package bot

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/mediagroup"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
)

// maxParallelDownloads bounds concurrent album downloads.
const maxParallelDownloads = 4

// startBatch loads a released album and prepares it as one request.
func (b *Bot) startBatch(ctx context.Context, batch mediagroup.Batch) {
	triggered, target := b.parseTrigger(batch.Caption())
	if batch.ChatType.IsGroup() && !triggered {
		return
	}

	firstMsg := batch.Photos[0].MessageID
	owner := requests.Owner{
		UserID:    batch.UserID,
		ChatID:    batch.ChatID,
		ChatType:  batch.ChatType,
		ThreadID:  batch.ThreadID,
		MessageID: firstMsg,
	}
	key := quota.KeyFor(owner.ChatType, owner.ChatID, owner.UserID)
	dst := chat.Destination{ChatID: owner.ChatID, ThreadID: owner.ThreadID}
	if !b.checkQuota(ctx, key, dst, firstMsg) {
		return
	}

	r := b.Requests.CreateRequest(owner, requests.WithTarget(target))
	log := b.log.With(logger.String("request_id", r.ID), logger.String("media_group", batch.GroupID))

	photos := make([]requests.BatchPhoto, len(batch.Photos))
	var g errgroup.Group
	g.SetLimit(maxParallelDownloads)
	for i, p := range batch.Photos {
		g.Go(func() error {
			loaded, reason, err := b.loadPhoto(ctx, p.FileID, p.MessageID)
			if err != nil {
				log.Warn("album photo could not be loaded",
					logger.Int("message_id", p.MessageID),
					logger.String("reason", reason),
					logger.Error(err))
				photos[i] = requests.BatchPhoto{MessageID: p.MessageID, Failure: reason}
				return nil
			}
			photos[i] = loaded
			return nil
		})
	}
	_ = g.Wait()

	var coords *requests.Coordinates
	loaded := 0
	for _, p := range photos {
		if p.Failure != "" {
			continue
		}
		loaded++
		if coords == nil && p.Coordinates != nil {
			coords = p.Coordinates
		}
	}
	if loaded == 0 {
		b.fail(ctx, r, photos[0].Failure, fmt.Errorf("none of %d album photos could be loaded", len(photos)))
		return
	}
	log.Info("album loaded", logger.Int("photos", len(photos)), logger.Int("loaded", loaded))

	label := ""
	if coords != nil {
		label = b.reverseLabel(ctx, *coords)
	}
	b.prepare(ctx, r.ID, len(photos),
		requests.WithBatch(photos),
		requests.WithLocation(label, coords))
}

// processBatch classifies album photos one by one. Identified photos are
// admitted up to the remaining allowance and the rest are reported as
// skipped. Results are grouped by species so every species gets one
// composite, followed by a summary. A species group takes one quota unit
// per photo once its composite was sent.
func (b *Bot) processBatch(ctx context.Context, r requests.Request, key quota.Key) {
	var (
		groups   []*speciesGroup
		bySpec   = make(map[string]*speciesGroup)
		failures []string
		ids      []Identification
		stopWith string
	)

	allowance := len(r.BatchPhotos)
	if st, err := b.Quota.CheckLimit(ctx, key); err != nil {
		b.log.Warn("quota check failed", logger.String("key", key.String()), logger.Error(err))
	} else {
		allowance = st.Remaining
	}

	for _, p := range r.BatchPhotos {
		if p.Failure != "" {
			failures = append(failures, p.Failure)
			continue
		}
		if stopWith != "" {
			failures = append(failures, stopWith)
			continue
		}

		res, err := b.classify(ctx, r, p.Data, p.MimeType)
		if err != nil {
			reason := failureReason(err)
			failures = append(failures, reason)
			if reason == reasonServiceUnavailable || ctx.Err() != nil {
				stopWith = reason
			}
			continue
		}
		if !res.Identified {
			failures = append(failures, res.Reason)
			continue
		}
		if allowance <= 0 {
			b.Metrics.QuotaExhausted(key.Scope.String())
			failures = append(failures, reasonQuotaExhausted)
			stopWith = reasonQuotaExhausted
			continue
		}
		allowance--

		id := b.crossReference(ctx, res, r)
		ids = append(ids, id)
		species := resultcache.Canonical(id.ScientificName)
		if g, ok := bySpec[species]; ok {
			g.count++
			continue
		}
		g := &speciesGroup{
			result: CachedResult{Identification: id, Photo: p.Data, MimeType: p.MimeType},
			count:  1,
		}
		bySpec[species] = g
		groups = append(groups, g)
		b.Results.Set(resultcache.Key(r.ChatID, id.ScientificName), g.result)
	}

	for _, g := range groups {
		g.result.Reference = b.reference(ctx, g.result.ScientificName)
		if err := b.deliver(ctx, r.Destination(), r.MessageID, g.result); err != nil {
			b.log.Warn("failed to deliver album result",
				logger.String("request_id", r.ID),
				logger.String("species", g.result.ScientificName),
				logger.Error(err))
			continue
		}
		for range g.count {
			if !b.consume(ctx, key, r.ID) {
				b.log.Info("album result delivered past the allowance",
					logger.String("request_id", r.ID),
					logger.String("key", key.String()))
				break
			}
		}
	}
	for _, id := range ids {
		b.record(ctx, r, id, true)
	}

	_, _ = b.send(ctx, "summary", r.Destination(), batchSummary(len(r.BatchPhotos), groups, tallyFailures(failures)), r.MessageID, nil)

	if len(groups) == 0 {
		b.Requests.FailAndRemove(r.ID, fmt.Errorf("no photo of %d identified", len(r.BatchPhotos)))
		return
	}
	b.Requests.CompleteAndRemove(r.ID)
}
