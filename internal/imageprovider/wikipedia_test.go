package imageprovider

import (
	"context"
	"sync"
	"testing"
	"time"

	"cgt.name/pkg/go-mwclient/params"
	"github.com/antonholmquist/jason"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

type fakeWiki struct {
	mu        sync.Mutex
	responses map[string]string // keyed by prop
	failures  int
	calls     []params.Values
}

func (f *fakeWiki) Get(p params.Values) (*jason.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.failures > 0 {
		f.failures--
		return nil, errors.NewStd("connection reset by peer")
	}
	body, ok := f.responses[p["prop"]]
	if !ok {
		body = `{"query":{"pages":[{"title":"x","missing":true}]}}`
	}
	return jason.NewObjectFromBytes([]byte(body))
}

const thumbnailResponse = `{"query":{"pages":[{"title":"Halcyon smyrnensis",
	"thumbnail":{"source":"https://upload.wikimedia.org/kingfisher.jpg","width":640,"height":480},
	"pageimage":"Kingfisher.jpg"}]}}`

const imageInfoResponse = `{"query":{"pages":[{"title":"File:Kingfisher.jpg","imageinfo":[{"extmetadata":{
	"Artist":{"value":"<a href=\"https://commons.wikimedia.org/wiki/User:JaneDoe\">Jane Doe</a>"},
	"LicenseShortName":{"value":"CC BY-SA 4.0"},
	"LicenseUrl":{"value":"https://creativecommons.org/licenses/by-sa/4.0"}}}]}]}}`

func newTestProvider(f *fakeWiki) *WikipediaProvider {
	p := newWikipediaProvider(f, WikipediaConfig{ThumbSize: 320, RateLimit: 1000})
	p.retryWait = time.Millisecond
	return p
}

func TestWikipediaFetch(t *testing.T) {
	f := &fakeWiki{responses: map[string]string{
		"pageimages": thumbnailResponse,
		"imageinfo":  imageInfoResponse,
	}}
	p := newTestProvider(f)

	img, err := p.Fetch(t.Context(), "Halcyon smyrnensis")
	require.NoError(t, err)
	assert.Equal(t, "https://upload.wikimedia.org/kingfisher.jpg", img.URL)
	assert.Equal(t, "Jane Doe", img.AuthorName)
	assert.Equal(t, "https://commons.wikimedia.org/wiki/User:JaneDoe", img.AuthorURL)
	assert.Equal(t, "CC BY-SA 4.0", img.LicenseName)
	assert.Equal(t, "Jane Doe, CC BY-SA 4.0", img.Attribution())
	assert.Equal(t, wikiProviderName, img.SourceProvider)

	require.Len(t, f.calls, 2)
	assert.Equal(t, "320", f.calls[0]["pithumbsize"])
	assert.Equal(t, "File:Kingfisher.jpg", f.calls[1]["titles"])
}

func TestWikipediaMissingPage(t *testing.T) {
	p := newTestProvider(&fakeWiki{})
	_, err := p.Fetch(t.Context(), "Nonexistus fictus")
	require.ErrorIs(t, err, ErrImageNotFound)
}

func TestWikipediaMissingAuthorUsesDefaults(t *testing.T) {
	f := &fakeWiki{responses: map[string]string{"pageimages": thumbnailResponse}}
	img, err := newTestProvider(f).Fetch(t.Context(), "Halcyon smyrnensis")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", img.AuthorName)
	assert.Equal(t, "Unknown", img.LicenseName)
}

func TestWikipediaRetriesTransientErrors(t *testing.T) {
	f := &fakeWiki{failures: 2, responses: map[string]string{
		"pageimages": thumbnailResponse,
		"imageinfo":  imageInfoResponse,
	}}
	img, err := newTestProvider(f).Fetch(t.Context(), "Halcyon smyrnensis")
	require.NoError(t, err)
	assert.NotEmpty(t, img.URL)
	assert.Len(t, f.calls, 4)
}

func TestWikipediaGivesUpAfterRetries(t *testing.T) {
	f := &fakeWiki{failures: 10}
	_, err := newTestProvider(f).Fetch(t.Context(), "Halcyon smyrnensis")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrImageNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.Len(t, f.calls, 3)
}

func TestExtractArtistInfo(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		wantHref string
		wantText string
	}{
		{
			name:     "user link preferred",
			html:     `<a href="https://example.org/x">Other</a> by <a href="//commons.wikimedia.org/wiki/User:Bob">Bob</a>`,
			wantHref: "//commons.wikimedia.org/wiki/User:Bob",
			wantText: "Bob",
		},
		{
			name:     "first link fallback",
			html:     `<a href="https://flickr.com/people/alice">Alice</a>`,
			wantHref: "https://flickr.com/people/alice",
			wantText: "Alice",
		},
		{
			name:     "plain text",
			html:     `<span>Carol Smith</span>`,
			wantText: "Carol Smith",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			href, text, err := extractArtistInfo(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHref, href)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

type countingProvider struct {
	mu    sync.Mutex
	calls int
	img   Image
	err   error
}

func (c *countingProvider) Fetch(_ context.Context, name string) (Image, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return Image{}, c.err
	}
	img := c.img
	img.ScientificName = name
	return img, nil
}

func TestCacheHitsAndNegativeEntries(t *testing.T) {
	p := &countingProvider{img: Image{URL: "https://img.test/a.jpg"}}
	c := NewCache(p, time.Hour, time.Minute)

	img, err := c.Fetch(t.Context(), "Varanus salvator")
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/a.jpg", img.URL)
	assert.False(t, img.CachedAt.IsZero())

	_, err = c.Fetch(t.Context(), "  varanus   SALVATOR ")
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)

	p.err = ErrImageNotFound
	_, err = c.Fetch(t.Context(), "Nonexistus fictus")
	require.ErrorIs(t, err, ErrImageNotFound)
	_, err = c.Fetch(t.Context(), "Nonexistus fictus")
	require.ErrorIs(t, err, ErrImageNotFound)
	assert.Equal(t, 2, p.calls)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.NegativeHits)
}

func TestCacheDoesNotRememberTransientErrors(t *testing.T) {
	p := &countingProvider{err: errors.NewStd("timeout")}
	c := NewCache(p, time.Hour, time.Minute)

	_, err := c.Fetch(t.Context(), "Varanus salvator")
	require.Error(t, err)
	_, err = c.Fetch(t.Context(), "Varanus salvator")
	require.Error(t, err)
	assert.Equal(t, 2, p.calls)
}
