package geocode

import (
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
)

func newTestGeocoder(t *testing.T) (*Nominatim, *httpmock.MockTransport) {
	t.Helper()
	hc, err := httpclient.New(&httpclient.Config{UserAgent: "wildlife-id-bot-test"})
	require.NoError(t, err)
	mock := httpmock.NewMockTransport()
	hc.HTTPClient().Transport = mock
	return New(Config{BaseURL: "https://nominatim.test", Email: "ops@example.org", RateLimit: 1000}, hc), mock
}

func TestResolve(t *testing.T) {
	g, mock := newTestGeocoder(t)
	mock.RegisterResponder(http.MethodGet, `=~^https://nominatim\.test/search`,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "jsonv2", q.Get("format"))
			assert.Equal(t, "ops@example.org", q.Get("email"))
			if q.Get("q") == "Bukit Timah" {
				return httpmock.NewStringResponse(http.StatusOK, `[{
					"lat":"1.3546","lon":"103.7763","name":"Bukit Timah",
					"display_name":"Bukit Timah, Central, Singapore",
					"address":{"village":"Bukit Timah","state":"Central","country":"Singapore"}}]`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
		})

	p, ok, err := g.Resolve(t.Context(), " Bukit Timah ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bukit Timah, Central, Singapore", p.Label)
	assert.InDelta(t, 1.3546, p.Latitude, 1e-6)
	assert.InDelta(t, 103.7763, p.Longitude, 1e-6)

	_, ok, err = g.Resolve(t.Context(), "Atlantis")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = g.Resolve(t.Context(), "atlantis")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, mock.GetTotalCallCount(), "misses are cached too")

	_, ok, err = g.Resolve(t.Context(), "   ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReverse(t *testing.T) {
	g, mock := newTestGeocoder(t)
	mock.RegisterResponder(http.MethodGet, `=~^https://nominatim\.test/reverse`,
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("lat") == "0.000000" {
				return httpmock.NewStringResponse(http.StatusOK, `{"error":"Unable to geocode"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{
				"display_name":"Helsinki, Uusimaa, Finland",
				"address":{"city":"Helsinki","state":"Uusimaa","country":"Finland"}}`), nil
		})

	p, ok, err := g.Reverse(t.Context(), 60.17, 24.94)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Helsinki, Uusimaa, Finland", p.Label)
	assert.InDelta(t, 60.17, p.Latitude, 1e-9)

	_, ok, err = g.Reverse(t.Context(), 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveServerError(t *testing.T) {
	g, mock := newTestGeocoder(t)
	mock.RegisterResponder(http.MethodGet, `=~^https://nominatim\.test/search`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, _, err := g.Resolve(t.Context(), "Oslo")
	require.Error(t, err)
}
