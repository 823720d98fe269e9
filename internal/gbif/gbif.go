// Package gbif is a client for the GBIF species API: name matching,
// child taxa and occurrence counts near a location.
package gbif

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// Match is the backbone match for a name.
type Match struct {
	UsageKey         int    `json:"usageKey"`
	AcceptedUsageKey int    `json:"acceptedUsageKey"`
	ScientificName   string `json:"scientificName"`
	CanonicalName    string `json:"canonicalName"`
	Rank             string `json:"rank"`
	Status           string `json:"status"`
	Confidence       int    `json:"confidence"`
	MatchType        string `json:"matchType"` // EXACT, FUZZY, HIGHERRANK, NONE
	Synonym          bool   `json:"synonym"`
	Kingdom          string `json:"kingdom"`
	Phylum           string `json:"phylum"`
	Class            string `json:"class"`
	Order            string `json:"order"`
	Family           string `json:"family"`
	Genus            string `json:"genus"`
	Species          string `json:"species"`
}

// Found reports whether GBIF matched the name to a taxon at all.
func (m Match) Found() bool {
	return m.UsageKey != 0 && m.MatchType != "NONE"
}

// TaxonKey returns the accepted key for synonyms, otherwise the usage key.
func (m Match) TaxonKey() int {
	if m.Synonym && m.AcceptedUsageKey != 0 {
		return m.AcceptedUsageKey
	}
	return m.UsageKey
}

// Taxon is a child taxon.
type Taxon struct {
	Key            int    `json:"key"`
	ScientificName string `json:"scientificName"`
	CanonicalName  string `json:"canonicalName"`
	Rank           string `json:"rank"`
	VernacularName string `json:"vernacularName"`
}

// Config configures the client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	CacheTTL        time.Duration
	OccurrenceRange float64 // degrees of latitude and longitude around a point
	RateLimit       float64
}

// Client queries GBIF. Responses are cached.
type Client struct {
	cfg     Config
	http    *httpclient.Client
	cache   *cache.Cache
	limiter *rate.Limiter
	log     logger.Logger
}

// New creates a GBIF client.
func New(cfg Config, hc *httpclient.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.gbif.org/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.OccurrenceRange <= 0 {
		cfg.OccurrenceRange = 0.5
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		cache:   cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 2),
		log:     logger.Global().Module("gbif"),
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	start := time.Now()
	if err := c.http.GetJSON(ctx, endpoint, nil, out); err != nil {
		category := errors.CategoryNetwork
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == 404 {
			category = errors.CategoryNotFound
		}
		return errors.New(err).
			Component("gbif").
			Category(category).
			Context("path", path).
			Timing("gbif_request", time.Since(start)).
			Build()
	}
	return nil
}

// Match resolves name against the GBIF backbone. The bool is false when
// nothing matched.
func (c *Client) Match(ctx context.Context, name string) (Match, bool, error) {
	name = strings.Join(strings.Fields(name), " ")
	key := "match:" + strings.ToLower(name)
	if v, ok := c.cache.Get(key); ok {
		m := v.(Match)
		return m, m.Found(), nil
	}

	var m Match
	if err := c.get(ctx, "/species/match", url.Values{"name": {name}}, &m); err != nil {
		return Match{}, false, err
	}
	c.cache.Set(key, m, cache.DefaultExpiration)
	c.log.Debug("gbif match",
		logger.String("name", name),
		logger.String("canonical", m.CanonicalName),
		logger.String("match_type", m.MatchType),
		logger.Int("confidence", m.Confidence))
	return m, m.Found(), nil
}

// Children lists up to limit direct child taxa of taxonKey.
func (c *Client) Children(ctx context.Context, taxonKey, limit int) ([]Taxon, error) {
	key := fmt.Sprintf("children:%d:%d", taxonKey, limit)
	if v, ok := c.cache.Get(key); ok {
		return v.([]Taxon), nil
	}

	var page struct {
		Results []Taxon `json:"results"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/species/"+strconv.Itoa(taxonKey)+"/children", q, &page); err != nil {
		return nil, err
	}
	c.cache.Set(key, page.Results, cache.DefaultExpiration)
	return page.Results, nil
}

// CheckOccurrence counts recorded occurrences of taxonKey within the
// configured range around lat/lon.
func (c *Client) CheckOccurrence(ctx context.Context, taxonKey int, lat, lon float64) (int, error) {
	r := c.cfg.OccurrenceRange
	key := fmt.Sprintf("occ:%d:%.2f:%.2f", taxonKey, lat, lon)
	if v, ok := c.cache.Get(key); ok {
		return v.(int), nil
	}

	q := url.Values{
		"taxonKey":         {strconv.Itoa(taxonKey)},
		"decimalLatitude":  {fmt.Sprintf("%.4f,%.4f", lat-r, lat+r)},
		"decimalLongitude": {fmt.Sprintf("%.4f,%.4f", lon-r, lon+r)},
		"limit":            {"0"},
	}
	var res struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "/occurrence/search", q, &res); err != nil {
		return 0, err
	}
	c.cache.Set(key, res.Count, cache.DefaultExpiration)
	return res.Count, nil
}
