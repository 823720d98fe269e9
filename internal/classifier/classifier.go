// Package classifier calls the external vision classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// ErrRetriesExhausted is wrapped by Classify when every attempt failed on a
// retryable error.
var ErrRetriesExhausted = errors.NewStd("classifier retries exhausted")

// ErrAttemptTimeout is wrapped when a single attempt ran out of its own
// time budget while the caller's context was still live.
var ErrAttemptTimeout = errors.NewStd("classifier attempt timed out")

const maxResponseBody = 1 << 20

// Config configures the classifier client.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Client is an HTTP client for the classification endpoint.
type Client struct {
	cfg   Config
	http  *httpclient.Client
	log   logger.Logger
	sleep func(context.Context, time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithSleep replaces the backoff sleep. Tests use it to skip waiting.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a classifier client.
func New(cfg Config, hc *httpclient.Client, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Newf("classifier endpoint is required").
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{
		cfg:   cfg,
		http:  hc,
		log:   logger.Global().Module("classifier"),
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Classify sends one image to the service. Rate-limit shaped failures and
// per-attempt timeouts are retried with exponential backoff and jitter;
// anything else fails at once.
func (c *Client) Classify(ctx context.Context, image []byte, mime string, hints Hints) (Result, error) {
	body, err := json.Marshal(request{
		Model:    c.cfg.Model,
		MimeType: mime,
		Image:    base64.StdEncoding.EncodeToString(image),
		Hints:    hints,
	})
	if err != nil {
		return Result{}, errors.New(err).Component("classifier").Category(errors.CategoryClassifier).Build()
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, err := c.attempt(ctx, body)
		if err == nil {
			if attempt > 1 {
				c.log.Info("classification succeeded after retry",
					logger.Int("attempt", attempt),
					logger.Duration("elapsed", time.Since(start)))
			}
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == c.cfg.MaxAttempts {
			break
		}

		wait := c.backoff(attempt, err)
		c.log.Warn("classifier busy, backing off",
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err))
		if err := c.sleep(ctx, wait); err != nil {
			return Result{}, errors.New(err).
				Component("classifier").
				Category(errors.CategoryCancellation).
				Context("attempt", attempt).
				Build()
		}
	}

	if IsRetryable(lastErr) {
		return Result{}, errors.New(fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)).
			Component("classifier").
			Category(errors.CategoryClassifier).
			Context("attempts", c.cfg.MaxAttempts).
			Timing("classify", time.Since(start)).
			Build()
	}
	return Result{}, lastErr
}

func (c *Client) attempt(parent context.Context, body []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	res, err := c.post(ctx, body)
	if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{}, errors.New(fmt.Errorf("%w: %w", ErrAttemptTimeout, err)).
			Component("classifier").
			Category(errors.CategoryTimeout).
			Context("timeout_seconds", c.cfg.Timeout.Seconds()).
			Build()
	}
	return res, err
}

func (c *Client) post(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return Result{}, errors.New(err).
			Component("classifier").
			Category(errors.CategoryNetwork).
			Build()
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Result{}, errors.New(err).Component("classifier").Category(errors.CategoryNetwork).Build()
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, errors.New(fmt.Errorf("invalid classifier response: %w", err)).
			Component("classifier").
			Category(errors.CategoryClassifier).
			Build()
	}
	if res.Identified && strings.TrimSpace(res.ScientificName) == "" {
		return Result{}, errors.Newf("classifier response identified without a scientific name").
			Component("classifier").
			Category(errors.CategoryClassifier).
			Build()
	}
	if !res.Identified && res.Reason == "" {
		res.Reason = ReasonPoorQuality
	}
	res.ScientificName = strings.Join(strings.Fields(res.ScientificName), " ")
	return res, nil
}

// backoff returns base*2^(attempt-1) plus up to 50% jitter, capped at the
// max and raised to any Retry-After the server sent.
func (c *Client) backoff(attempt int, err error) time.Duration {
	d := c.cfg.BaseBackoff << (attempt - 1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d)/2 + 1))
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		d = min(se.RetryAfter, c.cfg.MaxBackoff)
	}
	return d
}

// IsRetryable reports whether err is a per-attempt timeout or rate-limit
// shaped: HTTP 429 or 503, or a body mentioning RESOURCE_EXHAUSTED or a
// rate limit.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) {
		return true
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable {
			return true
		}
		return isRateLimitText(se.Body)
	}
	return isRateLimitText(err.Error())
}

func isRateLimitText(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "resource_exhausted") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "rate-limit") ||
		strings.Contains(s, "quota exceeded")
}
