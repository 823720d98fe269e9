// Package telegram adapts the Telegram Bot API to chat.Transport.
package telegram

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/privacy"
)

const (
	defaultPollTimeout  = 60
	defaultSendRate     = 25
	defaultChatSendRate = 1
	pollRetryDelay      = 3 * time.Second
	maxFloodRetries     = 2
	maxDownloadSize     = 20 << 20

	// idle per-chat limiters are pruned once the map grows past this
	limiterPruneThreshold = 1024
	limiterIdleTTL        = 10 * time.Minute
)

var allowedUpdates = []string{"message", "callback_query"}

// Config configures the Telegram adapter.
type Config struct {
	Token        string
	APIEndpoint  string
	PollTimeout  int
	SendRate     float64
	ChatSendRate float64
	Debug        bool
}

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	UploadFiles(endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type chatLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Transport implements chat.Transport on top of the Bot API.
type Transport struct {
	api      botAPI
	self     string
	http     *httpclient.Client
	cfg      Config
	log      logger.Logger
	global   *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
	limMu    sync.Mutex
	limiters map[int64]*chatLimiter
}

var _ chat.Transport = (*Transport)(nil)

// New authenticates with the Bot API and returns a ready transport. hc is
// used for both API calls and file downloads; its response header timeout
// must exceed the long poll timeout.
func New(cfg Config, hc *httpclient.Client) (*Transport, error) {
	if cfg.Token == "" {
		return nil, errors.Newf("telegram bot token is required").
			Component("telegram").
			Category(errors.CategoryConfiguration).
			Build()
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	start := time.Now()
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, hc.HTTPClient())
	if err != nil {
		return nil, errors.New(err).
			Component("telegram").
			Category(errors.CategoryTransport).
			Context("operation", "get_me").
			Timing("telegram-auth", time.Since(start)).
			Build()
	}
	api.Debug = cfg.Debug

	t := newTransport(api, api.Self.UserName, cfg, hc)
	t.log.Info("authorized with Telegram", logger.String("username", api.Self.UserName))
	return t, nil
}

func newTransport(api botAPI, self string, cfg Config, hc *httpclient.Client) *Transport {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = defaultSendRate
	}
	if cfg.ChatSendRate <= 0 {
		cfg.ChatSendRate = defaultChatSendRate
	}
	return &Transport{
		api:      api,
		self:     self,
		http:     hc,
		cfg:      cfg,
		log:      logger.Global().Module("telegram"),
		global:   rate.NewLimiter(rate.Limit(cfg.SendRate), int(cfg.SendRate)+1),
		sleep:    sleepContext,
		limiters: make(map[int64]*chatLimiter),
	}
}

// Self returns the bot username.
func (t *Transport) Self() string { return t.self }

// SendText sends a plain text message.
func (t *Transport) SendText(ctx context.Context, dst chat.Destination, text string, replyTo int) (int, error) {
	return t.SendTextWithKeyboard(ctx, dst, text, replyTo, nil)
}

// SendTextWithKeyboard sends a text message with an optional inline keyboard.
func (t *Transport) SendTextWithKeyboard(ctx context.Context, dst chat.Destination, text string, replyTo int, kb chat.Keyboard) (int, error) {
	params := baseParams(dst, replyTo)
	params.AddNonEmpty("text", text)
	params.AddBool("disable_web_page_preview", true)
	if err := addKeyboard(params, kb); err != nil {
		return 0, err
	}
	msg, err := t.send(ctx, dst.ChatID, "sendMessage", func() (*tgbotapi.APIResponse, error) {
		return t.api.MakeRequest("sendMessage", params)
	})
	return msg.MessageID, err
}

// SendPhoto uploads an image with caption and keyboard.
func (t *Transport) SendPhoto(ctx context.Context, dst chat.Destination, photo chat.OutgoingPhoto) (int, error) {
	params := baseParams(dst, photo.ReplyTo)
	params.AddNonEmpty("caption", photo.Caption)
	if err := addKeyboard(params, photo.Keyboard); err != nil {
		return 0, err
	}
	name := photo.Name
	if name == "" {
		name = "photo.jpg"
	}
	files := []tgbotapi.RequestFile{{Name: "photo", Data: tgbotapi.FileBytes{Name: name, Bytes: photo.Data}}}
	msg, err := t.send(ctx, dst.ChatID, "sendPhoto", func() (*tgbotapi.APIResponse, error) {
		return t.api.UploadFiles("sendPhoto", params, files)
	})
	return msg.MessageID, err
}

// SendDocument uploads data as a file attachment.
func (t *Transport) SendDocument(ctx context.Context, dst chat.Destination, name string, data []byte, caption string) (int, error) {
	params := baseParams(dst, 0)
	params.AddNonEmpty("caption", caption)
	files := []tgbotapi.RequestFile{{Name: "document", Data: tgbotapi.FileBytes{Name: name, Bytes: data}}}
	msg, err := t.send(ctx, dst.ChatID, "sendDocument", func() (*tgbotapi.APIResponse, error) {
		return t.api.UploadFiles("sendDocument", params, files)
	})
	return msg.MessageID, err
}

// DeleteMessage removes a message the bot sent.
func (t *Transport) DeleteMessage(ctx context.Context, dst chat.Destination, messageID int) error {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", dst.ChatID)
	params.AddNonZero("message_id", messageID)
	_, err := t.request(ctx, dst.ChatID, "deleteMessage", func() (*tgbotapi.APIResponse, error) {
		return t.api.MakeRequest("deleteMessage", params)
	})
	return err
}

// AnswerCallback acknowledges a button press, optionally showing a toast.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := make(tgbotapi.Params)
	params.AddNonEmpty("callback_query_id", callbackID)
	params.AddNonEmpty("text", text)
	_, err := t.request(ctx, 0, "answerCallbackQuery", func() (*tgbotapi.APIResponse, error) {
		return t.api.MakeRequest("answerCallbackQuery", params)
	})
	return err
}

// DownloadFile resolves fileID and fetches its content.
func (t *Transport) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	start := time.Now()
	link, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, t.wrap(err, "getFile").Context("file_id", fileID).Build()
	}

	resp, err := t.http.Get(ctx, link)
	if err != nil {
		return nil, t.wrap(err, "download").Build()
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.log.Debug("failed to close download body", logger.Error(cerr))
		}
	}()
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, t.wrap(err, "download").Build()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, t.wrap(err, "download").Build()
	}
	if len(data) > maxDownloadSize {
		return nil, errors.Newf("file exceeds %d bytes", maxDownloadSize).
			Component("telegram").
			Category(errors.CategoryLimit).
			Context("file_id", fileID).
			Build()
	}
	t.log.Debug("file downloaded",
		logger.Int("bytes", len(data)),
		logger.Duration("duration", time.Since(start)))
	return data, nil
}

// Updates long-polls getUpdates until ctx is cancelled. The channel is
// closed when polling stops.
func (t *Transport) Updates(ctx context.Context) (<-chan chat.Update, error) {
	out := make(chan chat.Update, 100)
	go func() {
		defer close(out)
		offset := 0
		for ctx.Err() == nil {
			raw, err := t.getUpdates(offset)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.log.Warn("failed to get updates, retrying", logger.Error(err))
				if t.sleep(ctx, pollRetryDelay) != nil {
					return
				}
				continue
			}
			for _, r := range raw {
				u, id, ok := convertUpdate(r)
				if id >= offset {
					offset = id + 1
				}
				if !ok {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Transport) getUpdates(offset int) ([]json.RawMessage, error) {
	params := make(tgbotapi.Params)
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", t.cfg.PollTimeout)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return nil, err
	}
	resp, err := t.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (t *Transport) send(ctx context.Context, chatID int64, method string, call func() (*tgbotapi.APIResponse, error)) (tgbotapi.Message, error) {
	resp, err := t.request(ctx, chatID, method, call)
	if err != nil {
		return tgbotapi.Message{}, err
	}
	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return tgbotapi.Message{}, t.wrap(err, method).Build()
	}
	return msg, nil
}

// request waits for the global and per-chat limiters, then calls the API.
// Flood-control replies are retried after the advertised delay.
func (t *Transport) request(ctx context.Context, chatID int64, method string, call func() (*tgbotapi.APIResponse, error)) (*tgbotapi.APIResponse, error) {
	for attempt := 0; ; attempt++ {
		if err := t.global.Wait(ctx); err != nil {
			return nil, t.wrap(err, method).Category(errors.CategoryCancellation).Build()
		}
		if chatID != 0 {
			if err := t.chatLimiter(chatID).Wait(ctx); err != nil {
				return nil, t.wrap(err, method).Category(errors.CategoryCancellation).Build()
			}
		}

		resp, err := call()
		if err == nil {
			return resp, nil
		}

		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 && attempt < maxFloodRetries {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			t.log.Warn("telegram flood control, backing off",
				logger.String("method", method),
				logger.Int64("chat_id", chatID),
				logger.Duration("retry_after", wait))
			if serr := t.sleep(ctx, wait); serr != nil {
				return nil, t.wrap(serr, method).Category(errors.CategoryCancellation).Build()
			}
			continue
		}

		b := t.wrap(err, method).Context("chat_id", chatID)
		if apiErr != nil {
			b = b.Context("error_code", apiErr.Code)
		}
		return nil, b.Build()
	}
}

func (t *Transport) chatLimiter(chatID int64) *rate.Limiter {
	t.limMu.Lock()
	defer t.limMu.Unlock()

	now := time.Now()
	if cl, ok := t.limiters[chatID]; ok {
		cl.lastUsed = now
		return cl.limiter
	}
	if len(t.limiters) >= limiterPruneThreshold {
		for id, cl := range t.limiters {
			if now.Sub(cl.lastUsed) > limiterIdleTTL {
				delete(t.limiters, id)
			}
		}
	}
	cl := &chatLimiter{
		limiter:  rate.NewLimiter(rate.Limit(t.cfg.ChatSendRate), 3),
		lastUsed: now,
	}
	t.limiters[chatID] = cl
	return cl.limiter
}

// wrap scrubs err first; download failures carry the bot token in the URL.
func (t *Transport) wrap(err error, method string) *errors.ErrorBuilder {
	return errors.New(privacy.WrapError(err)).
		Component("telegram").
		Category(errors.CategoryTransport).
		Context("method", method)
}

func baseParams(dst chat.Destination, replyTo int) tgbotapi.Params {
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", dst.ChatID)
	params.AddNonZero("message_thread_id", dst.ThreadID)
	params.AddNonZero("reply_to_message_id", replyTo)
	if replyTo != 0 {
		params.AddBool("allow_sending_without_reply", true)
	}
	return params
}

func addKeyboard(params tgbotapi.Params, kb chat.Keyboard) error {
	if len(kb) == 0 {
		return nil
	}
	if err := params.AddInterface("reply_markup", toMarkup(kb)); err != nil {
		return errors.New(err).
			Component("telegram").
			Category(errors.CategoryValidation).
			Context("operation", "encode_keyboard").
			Build()
	}
	return nil
}

func toMarkup(kb chat.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
