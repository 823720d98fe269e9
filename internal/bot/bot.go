// Package bot dispatches chat updates and runs the identification pipeline:
// download, metadata, prompting, classification, cross-referencing and
// delivery of the composite result.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/imagemeta"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/mediagroup"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
)

// Config controls pipeline behaviour.
type Config struct {
	// AskTarget prompts for what to identify when no caption named it.
	AskTarget bool
	// GroupOfferButton answers untriggered group photos with an Identify button.
	GroupOfferButton bool
	MaxImageSide     int
	JPEGQuality      int
	// ChildTaxaLimit bounds the species listed for genus-level results.
	ChildTaxaLimit int
	// TaskTimeout bounds one update handler. Prompts do not count, since
	// the handler returns once the prompt is sent.
	TaskTimeout time.Duration
	Version     string
}

// Deps are the collaborators of a Bot. Transport, Requests, Quota, Results,
// FullRes, Offers, Groups and Classifier are required; the rest are
// optional and skipped when nil.
type Deps struct {
	Transport  chat.Transport
	Requests   *requests.Manager
	Quota      *quota.Tracker
	Results    *resultcache.Cache[CachedResult]
	FullRes    *resultcache.Cache[bool]
	Offers     *resultcache.Cache[Offer]
	Groups     *mediagroup.Collector
	Classifier Classifier

	Species  SpeciesDatabase
	Taxonomy TaxonomySource
	Geocoder Geocoder
	Photos   ReferencePhotos
	Renderer Renderer
	History  History
	Events   Publisher
	Metrics  Metrics
	Logger   logger.Logger
}

// Bot handles updates from one transport.
type Bot struct {
	cfg Config
	Deps
	log   logger.Logger
	start time.Time
	tasks sync.WaitGroup
}

// New validates deps and returns a Bot.
func New(cfg Config, deps Deps) (*Bot, error) {
	var missing []string
	if deps.Transport == nil {
		missing = append(missing, "transport")
	}
	if deps.Requests == nil {
		missing = append(missing, "request manager")
	}
	if deps.Quota == nil {
		missing = append(missing, "quota tracker")
	}
	if deps.Results == nil || deps.FullRes == nil || deps.Offers == nil {
		missing = append(missing, "result caches")
	}
	if deps.Groups == nil {
		missing = append(missing, "media group collector")
	}
	if deps.Classifier == nil {
		missing = append(missing, "classifier")
	}
	if len(missing) > 0 {
		return nil, errors.Newf("bot is missing %s", strings.Join(missing, ", ")).
			Component("bot").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if cfg.MaxImageSide <= 0 {
		cfg.MaxImageSide = imagemeta.DefaultMaxSide
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = imagemeta.DefaultQuality
	}
	if cfg.ChildTaxaLimit <= 0 {
		cfg.ChildTaxaLimit = 8
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Global().Module("bot")
	}

	return &Bot{cfg: cfg, Deps: deps, log: deps.Logger, start: time.Now()}, nil
}

// Run dispatches updates until the channel closes or ctx ends, then waits
// for in-flight handlers. Handlers run with their own context so a
// shutdown lets them finish delivering.
func (b *Bot) Run(ctx context.Context, updates <-chan chat.Update) {
	b.log.Info("bot started", logger.String("username", b.Transport.Self()))
	defer b.log.Info("bot stopped")

	for {
		select {
		case <-ctx.Done():
			b.Wait()
			return
		case u, ok := <-updates:
			if !ok {
				b.Wait()
				return
			}
			b.Dispatch(u)
		}
	}
}

// Dispatch handles u on its own goroutine.
func (b *Bot) Dispatch(u chat.Update) {
	kind := updateKind(u)
	b.Metrics.Update(kind)
	b.Metrics.TaskStarted()
	b.tasks.Go(func() {
		defer b.Metrics.TaskDone()

		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.TaskTimeout)
		defer cancel()
		b.supervise(ctx, kind, func(ctx context.Context) { b.handleUpdate(ctx, u) })
	})
}

// Wait blocks until every dispatched handler returned.
func (b *Bot) Wait() {
	b.tasks.Wait()
}

// supervise runs fn and turns a panic into a logged, reported error so one
// update cannot take down the others.
func (b *Bot) supervise(ctx context.Context, kind string, fn func(ctx context.Context)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := errors.Newf("panic in %s handler: %v", kind, r).
			Component("bot").
			Category(errors.CategoryPanic).
			Context("update_kind", kind).
			Context("stack", string(debug.Stack())).
			Build()
		b.log.Error("update handler panicked",
			logger.String("kind", kind),
			logger.Error(err))
		errors.Report(err)
		b.Metrics.Panic()
	}()
	fn(ctx)
}

func updateKind(u chat.Update) string {
	switch {
	case u.Callback != nil:
		return "callback"
	case u.Message == nil:
		return "other"
	case u.Message.Photo != nil || u.Message.Document != nil:
		return "photo"
	case strings.HasPrefix(strings.TrimSpace(u.Message.Text), "/"):
		return "command"
	case u.Message.Location != nil:
		return "location"
	default:
		return "text"
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u chat.Update) {
	if u.Callback != nil {
		b.handleCallback(ctx, u.Callback)
		return
	}
	m := u.Message
	if m == nil {
		return
	}
	if photo, mime := m.Image(); photo != nil {
		b.handlePhoto(ctx, m, photo, mime)
		return
	}
	if cmd, args := chat.ParseCommand(m.Text); cmd != "" {
		b.handleCommand(ctx, m, cmd, args)
		return
	}
	if m.Location != nil {
		b.handleReply(ctx, m, "", m.Location)
		return
	}
	if strings.TrimSpace(m.Text) != "" {
		b.handleReply(ctx, m, m.Text, nil)
	}
}

// Snapshot implements the stats endpoint of the side HTTP server.
func (b *Bot) Snapshot(ctx context.Context) any {
	s := b.Requests.Stats()
	snap := map[string]any{
		"uptime_seconds": int64(time.Since(b.start).Seconds()),
		"requests": map[string]any{
			"total":            s.Total,
			"completed":        s.Completed,
			"failed":           s.Failed,
			"expired":          s.Expired,
			"evicted":          s.Evicted,
			"active":           s.Active,
			"average_duration": s.AverageDuration.String(),
		},
		"caches": map[string]int{
			"results": b.Results.ItemCount(),
			"fullres": b.FullRes.ItemCount(),
			"offers":  b.Offers.ItemCount(),
		},
		"media_groups_pending": b.Groups.Pending(),
	}
	if b.History != nil {
		if n, err := b.History.CountIdentifications(ctx, 0, time.Time{}); err == nil {
			snap["identifications_total"] = n
		}
	}
	return snap
}

// send wraps transport sends with logging and metrics. Failures are
// returned so callers can fall back, but never escalate further.
func (b *Bot) send(ctx context.Context, kind string, dst chat.Destination, text string, replyTo int, kb chat.Keyboard) (int, error) {
	var (
		id  int
		err error
	)
	if len(kb) > 0 {
		id, err = b.Transport.SendTextWithKeyboard(ctx, dst, text, replyTo, kb)
	} else {
		id, err = b.Transport.SendText(ctx, dst, text, replyTo)
	}
	b.Metrics.MessageSent(kind, err)
	if err != nil {
		b.log.Warn("failed to send message",
			logger.String("kind", kind),
			logger.Int64("chat_id", dst.ChatID),
			logger.Error(err))
	}
	return id, err
}

func (b *Bot) reply(ctx context.Context, m *chat.Message, kind, text string) {
	_, _ = b.send(ctx, kind, m.Destination(), text, m.ID, nil)
}

func (b *Bot) deleteMessage(ctx context.Context, dst chat.Destination, id int) {
	if id == 0 {
		return
	}
	if err := b.Transport.DeleteMessage(ctx, dst, id); err != nil {
		b.log.Debug("failed to delete message",
			logger.Int64("chat_id", dst.ChatID),
			logger.Int("message_id", id),
			logger.Error(err))
	}
}

func (b *Bot) answer(ctx context.Context, cb *chat.Callback, text string) {
	if err := b.Transport.AnswerCallback(ctx, cb.ID, text); err != nil {
		b.log.Debug("failed to answer callback", logger.String("callback_id", cb.ID), logger.Error(err))
	}
}

// absorb logs request manager errors, which mean the request was already
// finished elsewhere (sweep, /clear or a duplicate resume).
func (b *Bot) absorb(err error, op, requestID string) {
	if err == nil {
		return
	}
	b.log.Warn(fmt.Sprintf("request %s skipped", op),
		logger.String("request_id", requestID),
		logger.Error(err))
}
