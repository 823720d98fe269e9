package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

const maxRetries = 3

// Client provides taxonomy lookups against the eBird API.
type Client struct {
	config  Config
	http    *httpclient.Client
	cache   *cache.Cache
	limiter *rate.Limiter
	log     logger.Logger

	firstCall sync.Once

	metrics struct {
		mu          sync.Mutex
		apiCalls    int64
		cacheHits   int64
		cacheMisses int64
		apiErrors   int64
	}
}

// NewClient creates a new eBird API client.
func NewClient(config Config, hc *httpclient.Client) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.Newf("eBird API key is required").
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	}

	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.RateLimit <= 0 {
		config.RateLimit = def.RateLimit
	}

	c := &Client{
		config:  config,
		http:    hc,
		cache:   cache.New(config.CacheTTL, config.CacheTTL*2),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     logger.Global().Module("ebird"),
	}
	c.log.Info("eBird client initialized",
		logger.String("base_url", config.BaseURL),
		logger.Duration("cache_ttl", config.CacheTTL))
	return c, nil
}

// GetTaxonomy returns the full taxonomy in locale. It is fetched once per
// cache TTL.
func (c *Client) GetTaxonomy(ctx context.Context, locale string) ([]TaxonomyEntry, error) {
	cacheKey := "taxonomy:" + locale
	if cached, found := c.cache.Get(cacheKey); found {
		if taxonomy, ok := cached.([]TaxonomyEntry); ok {
			c.countCache(true)
			return taxonomy, nil
		}
	}
	c.countCache(false)

	q := url.Values{"fmt": {"json"}}
	if locale != "" {
		q.Set("locale", locale)
	}
	var taxonomy []TaxonomyEntry
	if err := c.doRequestWithRetry(ctx, c.config.BaseURL+"/ref/taxonomy/ebird?"+q.Encode(), &taxonomy); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, taxonomy, cache.DefaultExpiration)
	c.log.Debug("eBird taxonomy cached",
		logger.Int("entries", len(taxonomy)),
		logger.String("locale", locale))
	return taxonomy, nil
}

// taxonomyIndex maps lower-cased scientific names to entries.
func (c *Client) taxonomyIndex(ctx context.Context) (map[string]TaxonomyEntry, error) {
	cacheKey := "index:" + c.config.Locale
	if cached, found := c.cache.Get(cacheKey); found {
		if idx, ok := cached.(map[string]TaxonomyEntry); ok {
			return idx, nil
		}
	}
	taxonomy, err := c.GetTaxonomy(ctx, c.config.Locale)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]TaxonomyEntry, len(taxonomy))
	for _, e := range taxonomy {
		idx[strings.ToLower(e.ScientificName)] = e
	}
	c.cache.Set(cacheKey, idx, cache.DefaultExpiration)
	return idx, nil
}

// LookupScientific finds the species-level entry for a scientific name.
// Subspecies entries resolve to the species they report as.
func (c *Client) LookupScientific(ctx context.Context, scientificName string) (TaxonomyEntry, bool, error) {
	idx, err := c.taxonomyIndex(ctx)
	if err != nil {
		return TaxonomyEntry{}, false, err
	}
	entry, ok := idx[strings.ToLower(strings.Join(strings.Fields(scientificName), " "))]
	if !ok {
		return TaxonomyEntry{}, false, nil
	}
	if entry.Category != "species" && entry.ReportAs != "" {
		for _, e := range idx {
			if e.SpeciesCode == entry.ReportAs {
				return e, true, nil
			}
		}
	}
	return entry, true, nil
}

// GetSpeciesTaxonomy retrieves a single entry by species code.
func (c *Client) GetSpeciesTaxonomy(ctx context.Context, speciesCode string) (*TaxonomyEntry, error) {
	cacheKey := "species:" + speciesCode + ":" + c.config.Locale
	if cached, found := c.cache.Get(cacheKey); found {
		if entry, ok := cached.(*TaxonomyEntry); ok {
			c.countCache(true)
			return entry, nil
		}
	}
	c.countCache(false)

	q := url.Values{"fmt": {"json"}}
	if c.config.Locale != "" {
		q.Set("locale", c.config.Locale)
	}
	var entries []TaxonomyEntry
	endpoint := fmt.Sprintf("%s/ref/taxonomy/ebird/%s?%s", c.config.BaseURL, url.PathEscape(speciesCode), q.Encode())
	if err := c.doRequestWithRetry(ctx, endpoint, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Newf("species not found: %s", speciesCode).
			Category(errors.CategoryNotFound).
			Context("species_code", speciesCode).
			Component("ebird").
			Build()
	}

	entry := &entries[0]
	c.cache.Set(cacheKey, entry, cache.DefaultExpiration)
	return entry, nil
}

func (c *Client) countCache(hit bool) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	if hit {
		c.metrics.cacheHits++
	} else {
		c.metrics.cacheMisses++
	}
}

func (c *Client) countCall(failed bool) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	c.metrics.apiCalls++
	if failed {
		c.metrics.apiErrors++
	}
}

// doRequest performs one rate-limited, authenticated GET.
func (c *Client) doRequest(ctx context.Context, endpoint string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}
	req.Header.Set("X-eBirdApiToken", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(reqCtx, req)
	if err != nil {
		c.countCall(true)
		return errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", endpoint).
			Component("ebird").
			Build()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countCall(true)
		return errors.Newf("failed to read response body: %w", err).
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			Component("ebird").
			Build()
	}

	if resp.StatusCode >= 400 {
		c.countCall(true)
		detail := strings.TrimSpace(string(body))
		var apiErr Error
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
			detail = apiErr.Detail
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.log.Error("eBird API authentication failed, check ebird.apikey",
				logger.Int("status_code", resp.StatusCode))
		}
		return errors.Newf("eBird API error (status %d): %s", resp.StatusCode, detail).
			Category(getErrorCategory(resp.StatusCode)).
			Context("status_code", resp.StatusCode).
			Component("ebird").
			Build()
	}

	if err := json.Unmarshal(body, result); err != nil {
		c.countCall(true)
		return errors.Newf("failed to parse response: %w", err).
			Category(errors.CategoryIntegration).
			Context("response_size", len(body)).
			Component("ebird").
			Build()
	}

	c.countCall(false)
	c.firstCall.Do(func() {
		c.log.Info("eBird API authentication successful")
	})
	return nil
}

// doRequestWithRetry retries transient failures with linear backoff.
func (c *Client) doRequestWithRetry(ctx context.Context, endpoint string, result any) error {
	var lastErr error
	for attempt := range maxRetries {
		err := c.doRequest(ctx, endpoint, result)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(attempt+1) * 500 * time.Millisecond
			c.log.Warn("eBird API request failed, retrying",
				logger.Int("attempt", attempt+1),
				logger.Duration("delay", delay),
				logger.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return false
	}
	switch ee.Category {
	case errors.CategoryConfiguration, errors.CategoryNotFound, errors.CategoryValidation, errors.CategoryIntegration:
		return false
	}
	if code, ok := ee.GetContext()["status_code"].(int); ok {
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return true
}

// ClearCache drops all cached taxonomy.
func (c *Client) ClearCache() {
	c.cache.Flush()
}

// Metrics is a snapshot of client counters.
type Metrics struct {
	APICalls    int64 `json:"api_calls"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APIErrors   int64 `json:"api_errors"`
	CacheItems  int   `json:"cache_items"`
}

// GetMetrics returns current client metrics.
func (c *Client) GetMetrics() Metrics {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	return Metrics{
		APICalls:    c.metrics.apiCalls,
		CacheHits:   c.metrics.cacheHits,
		CacheMisses: c.metrics.cacheMisses,
		APIErrors:   c.metrics.apiErrors,
		CacheItems:  c.cache.ItemCount(),
	}
}

// getErrorCategory maps HTTP status codes to error categories.
func getErrorCategory(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryConfiguration
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	case http.StatusNotFound:
		return errors.CategoryNotFound
	default:
		return errors.CategoryNetwork
	}
}
