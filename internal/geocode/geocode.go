// Package geocode resolves free-text place names and coordinates through
// a Nominatim server.
package geocode

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

// Place is a resolved location.
type Place struct {
	Label     string
	Latitude  float64
	Longitude float64
	Country   string
}

// Config configures the Nominatim client.
type Config struct {
	BaseURL   string
	Email     string
	RateLimit float64 // requests per second; the public server allows 1
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// Nominatim implements forward and reverse lookups.
type Nominatim struct {
	cfg     Config
	http    *httpclient.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	log     logger.Logger
}

// New creates a Nominatim client.
func New(cfg Config, hc *httpclient.Client) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &Nominatim{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		cache:   cache.New(cfg.CacheTTL, time.Hour),
		log:     logger.Global().Module("geocode"),
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		County      string `json:"county"`
		State       string `json:"state"`
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
	Error string `json:"error"`
}

func (r searchResult) place() (Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid latitude %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("invalid longitude %q: %w", r.Lon, err)
	}
	return Place{Label: r.label(), Latitude: lat, Longitude: lon, Country: r.Address.Country}, nil
}

// label builds "locality, region, country" from the address, falling back
// to the display name.
func (r searchResult) label() string {
	a := r.Address
	var parts []string
	for _, p := range []string{firstNonEmpty(a.City, a.Town, a.Village, r.Name), firstNonEmpty(a.State, a.County), a.Country} {
		if p != "" && (len(parts) == 0 || parts[len(parts)-1] != p) {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return r.DisplayName
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (n *Nominatim) query(ctx context.Context, path string, q url.Values, out any) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	if n.cfg.Email != "" {
		q.Set("email", n.cfg.Email)
	}
	if err := n.http.GetJSON(ctx, n.cfg.BaseURL+path+"?"+q.Encode(), nil, out); err != nil {
		return errors.New(err).
			Component("geocode").
			Category(errors.CategoryNetwork).
			Context("path", path).
			Build()
	}
	return nil
}

// Resolve geocodes free text. The bool is false when nothing matched.
func (n *Nominatim) Resolve(ctx context.Context, text string) (Place, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Place{}, false, nil
	}
	key := "q:" + strings.ToLower(text)
	if v, ok := n.cache.Get(key); ok {
		p := v.(*Place)
		if p == nil {
			return Place{}, false, nil
		}
		return *p, true, nil
	}

	var results []searchResult
	if err := n.query(ctx, "/search", url.Values{"q": {text}, "limit": {"1"}}, &results); err != nil {
		return Place{}, false, err
	}
	if len(results) == 0 {
		n.cache.Set(key, (*Place)(nil), cache.DefaultExpiration)
		return Place{}, false, nil
	}
	p, err := results[0].place()
	if err != nil {
		return Place{}, false, errors.New(err).Component("geocode").Category(errors.CategoryIntegration).Build()
	}
	n.cache.Set(key, &p, cache.DefaultExpiration)
	n.log.Debug("place resolved",
		logger.String("query", text),
		logger.String("label", p.Label))
	return p, true, nil
}

// Reverse labels a coordinate pair.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Place, bool, error) {
	key := fmt.Sprintf("r:%.3f:%.3f", lat, lon)
	if v, ok := n.cache.Get(key); ok {
		p := v.(*Place)
		if p == nil {
			return Place{}, false, nil
		}
		return *p, true, nil
	}

	var res searchResult
	q := url.Values{
		"lat":  {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":  {strconv.FormatFloat(lon, 'f', 6, 64)},
		"zoom": {"10"},
	}
	if err := n.query(ctx, "/reverse", q, &res); err != nil {
		return Place{}, false, err
	}
	if res.Error != "" {
		n.cache.Set(key, (*Place)(nil), cache.DefaultExpiration)
		return Place{}, false, nil
	}
	p := Place{Label: res.label(), Latitude: lat, Longitude: lon, Country: res.Address.Country}
	n.cache.Set(key, &p, cache.DefaultExpiration)
	return p, true, nil
}
