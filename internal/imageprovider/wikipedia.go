package imageprovider

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"cgt.name/pkg/go-mwclient"
	"cgt.name/pkg/go-mwclient/params"
	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

const (
	wikiProviderName = "wikimedia"

	// User-Agent per the Wikimedia robot policy:
	// https://foundation.wikimedia.org/wiki/Policy:Wikimedia_Foundation_User-Agent_Policy
	userAgentName    = "wildlife-id-bot"
	userAgentContact = "https://github.com/tphakala/wildlife-id-bot"
	userAgentLibrary = "go-mwclient"
)

// mediaWiki is the subset of the MediaWiki client used here.
type mediaWiki interface {
	Get(p params.Values) (*jason.Object, error)
}

// WikipediaConfig configures the Wikipedia provider.
type WikipediaConfig struct {
	APIURL     string
	ThumbSize  int
	RateLimit  float64
	MaxRetries int
	Version    string
}

// WikipediaProvider looks up the lead image of a species article.
type WikipediaProvider struct {
	client     mediaWiki
	limiter    *rate.Limiter
	thumbSize  int
	maxRetries int
	retryWait  time.Duration
	log        logger.Logger
}

type wikiMediaAuthor struct {
	name        string
	URL         string
	licenseName string
	licenseURL  string
}

// buildUserAgent formats <client>/<version> (<contact>) <library> <go version>.
func buildUserAgent(appVersion string) string {
	if appVersion == "" {
		appVersion = "unknown"
	}
	return fmt.Sprintf("%s/%s (%s) %s %s",
		userAgentName, appVersion, userAgentContact, userAgentLibrary, runtime.Version())
}

// NewWikipediaProvider creates a provider backed by the MediaWiki API.
func NewWikipediaProvider(cfg WikipediaConfig) (*WikipediaProvider, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://en.wikipedia.org/w/api.php"
	}
	client, err := mwclient.New(cfg.APIURL, buildUserAgent(cfg.Version))
	if err != nil {
		return nil, errors.New(err).
			Component("imageprovider").
			Category(errors.CategoryConfiguration).
			Context("provider", wikiProviderName).
			Context("api_url", cfg.APIURL).
			Build()
	}
	return newWikipediaProvider(client, cfg), nil
}

func newWikipediaProvider(client mediaWiki, cfg WikipediaConfig) *WikipediaProvider {
	if cfg.ThumbSize <= 0 {
		cfg.ThumbSize = 640
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &WikipediaProvider{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 2),
		thumbSize:  cfg.ThumbSize,
		maxRetries: cfg.MaxRetries,
		retryWait:  time.Second,
		log:        logger.Global().Module("imageprovider").With(logger.String("provider", wikiProviderName)),
	}
}

// Fetch returns the lead image and attribution of the species article.
func (w *WikipediaProvider) Fetch(ctx context.Context, scientificName string) (Image, error) {
	thumbURL, fileName, err := w.queryThumbnail(ctx, scientificName)
	if err != nil {
		return Image{}, err
	}

	author, err := w.queryAuthorInfo(ctx, fileName)
	if err != nil {
		if !errors.Is(err, ErrImageNotFound) {
			return Image{}, errors.Newf("unable to retrieve image attribution for species: %s", scientificName).
				Component("imageprovider").
				Category(errors.CategoryImageFetch).
				Context("provider", wikiProviderName).
				Context("file", fileName).
				Build()
		}
		author = &wikiMediaAuthor{name: "Unknown", licenseName: "Unknown"}
	}

	w.log.Debug("reference image resolved",
		logger.String("species", scientificName),
		logger.String("file", fileName),
		logger.String("license", author.licenseName))

	return Image{
		URL:            thumbURL,
		ScientificName: scientificName,
		AuthorName:     author.name,
		AuthorURL:      author.URL,
		LicenseName:    author.licenseName,
		LicenseURL:     author.licenseURL,
		SourceProvider: wikiProviderName,
	}, nil
}

// queryWithRetry rate limits and retries a MediaWiki query with exponential
// backoff.
func (w *WikipediaProvider) queryWithRetry(ctx context.Context, p params.Values) (*jason.Object, error) {
	var lastErr error
	for attempt := range w.maxRetries {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("imageprovider").
				Category(errors.CategoryCancellation).
				Context("operation", "rate_limiter_wait").
				Build()
		}

		resp, err := w.client.Get(p)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		w.log.Warn("wikipedia query failed",
			logger.String("titles", p["titles"]),
			logger.Int("attempt", attempt+1),
			logger.Error(err))

		if attempt == w.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.retryWait * time.Duration(1<<attempt)):
		}
	}

	return nil, errors.New(lastErr).
		Component("imageprovider").
		Category(errors.CategoryNetwork).
		Context("provider", wikiProviderName).
		Context("max_retries", w.maxRetries).
		Context("api_action", p["action"]).
		Build()
}

// firstPage returns the first page of a query response. A missing page, a
// structured API error or an empty result all map to ErrImageNotFound.
func (w *WikipediaProvider) firstPage(ctx context.Context, p params.Values) (*jason.Object, error) {
	resp, err := w.queryWithRetry(ctx, p)
	if err != nil {
		return nil, err
	}

	query, err := resp.GetObject("query")
	if err != nil {
		if apiErr, errCheck := resp.GetObject("error"); errCheck == nil {
			code, _ := apiErr.GetString("code")
			w.log.Debug("wikipedia returned an API error", logger.String("code", code))
		}
		return nil, ErrImageNotFound
	}
	pages, err := query.GetObjectArray("pages")
	if err != nil || len(pages) == 0 {
		return nil, ErrImageNotFound
	}
	if missing, _ := pages[0].GetBoolean("missing"); missing {
		return nil, ErrImageNotFound
	}
	return pages[0], nil
}

func (w *WikipediaProvider) queryThumbnail(ctx context.Context, scientificName string) (thumbURL, fileName string, err error) {
	page, err := w.firstPage(ctx, params.Values{
		"action":        "query",
		"format":        "json",
		"formatversion": "2",
		"prop":          "pageimages",
		"piprop":        "thumbnail|name",
		"pilicense":     "free",
		"titles":        scientificName,
		"pithumbsize":   strconv.Itoa(w.thumbSize),
		"redirects":     "",
	})
	if err != nil {
		return "", "", err
	}
	if thumbURL, err = page.GetString("thumbnail", "source"); err != nil {
		return "", "", ErrImageNotFound
	}
	if fileName, err = page.GetString("pageimage"); err != nil {
		return "", "", ErrImageNotFound
	}
	return thumbURL, fileName, nil
}

func (w *WikipediaProvider) queryAuthorInfo(ctx context.Context, fileName string) (*wikiMediaAuthor, error) {
	page, err := w.firstPage(ctx, params.Values{
		"action":        "query",
		"format":        "json",
		"formatversion": "2",
		"prop":          "imageinfo",
		"iiprop":        "extmetadata",
		"titles":        "File:" + fileName,
		"redirects":     "",
	})
	if err != nil {
		return nil, err
	}

	info, err := page.GetObjectArray("imageinfo")
	if err != nil || len(info) == 0 {
		return nil, ErrImageNotFound
	}
	meta, err := info[0].GetObject("extmetadata")
	if err != nil {
		return nil, ErrImageNotFound
	}

	artistHTML, _ := meta.GetString("Artist", "value")
	licenseName, _ := meta.GetString("LicenseShortName", "value")
	licenseURL, _ := meta.GetString("LicenseUrl", "value")

	var authorName, authorURL string
	if artistHTML != "" {
		authorURL, authorName, err = extractArtistInfo(artistHTML)
		if err != nil {
			authorName = html2text.HTML2Text(artistHTML)
		}
	}
	if authorName == "" {
		authorName = "Unknown"
	}
	if licenseName == "" {
		licenseName = "Unknown"
	}
	return &wikiMediaAuthor{
		name:        strings.TrimSpace(authorName),
		URL:         authorURL,
		licenseName: licenseName,
		licenseURL:  licenseURL,
	}, nil
}

// extractArtistInfo pulls the artist name and link out of the attribution
// HTML. Wikipedia user links win over other links; with no links at all
// the plain text is returned.
func extractArtistInfo(htmlStr string) (href, text string, err error) {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", "", errors.Newf("failed to parse artist attribution HTML: %v", err).
			Component("imageprovider").
			Category(errors.CategoryImageFetch).
			Build()
	}

	links := findLinks(doc)
	for _, link := range links {
		if h := extractHref(link); strings.Contains(h, "/wiki/User:") {
			return h, extractText(link), nil
		}
	}
	if len(links) > 0 {
		return extractHref(links[0]), extractText(links[0]), nil
	}
	return "", html2text.HTML2Text(htmlStr), nil
}

func findLinks(doc *html.Node) []*html.Node {
	var links []*html.Node
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			links = append(links, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return links
}

func extractHref(link *html.Node) string {
	for _, attr := range link.Attr {
		if attr.Key == "href" {
			return attr.Val
		}
	}
	return ""
}

func extractText(link *html.Node) string {
	if link.FirstChild == nil {
		return ""
	}
	var b bytes.Buffer
	if err := html.Render(&b, link.FirstChild); err != nil {
		return ""
	}
	return html2text.HTML2Text(b.String())
}
