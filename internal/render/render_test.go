package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
)

func jpegFixture(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestRenderer(t *testing.T) (*Renderer, *httpmock.MockTransport) {
	t.Helper()
	hc, err := httpclient.New(nil)
	require.NoError(t, err)
	mock := httpmock.NewMockTransport()
	hc.HTTPClient().Transport = mock
	return New(Config{Width: 640}, hc), mock
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	return img
}

func TestRenderWithReference(t *testing.T) {
	r, mock := newTestRenderer(t)
	ref := jpegFixture(t, 200, 150, color.RGBA{G: 255, A: 255})
	mock.RegisterResponder(http.MethodGet, "https://upload.test/ref.jpg",
		httpmock.NewBytesResponder(http.StatusOK, ref))

	out, err := r.Render(t.Context(), "https://upload.test/ref.jpg", Card{
		Photo:          jpegFixture(t, 300, 200, color.RGBA{R: 255, A: 255}),
		CommonName:     "Collared Kingfisher",
		ScientificName: "Todiramphus chloris",
		Confidence:     0.91,
		Location:       "Singapore",
		Lines:          []string{"Family: Alcedinidae", " "},
		Attribution:    "Jane Doe, CC BY-SA 4.0",
	})
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, 640, img.Bounds().Dx())
	// panel + 4 caption lines
	assert.Equal(t, 640*3/8+2*padding+4*lineHeight, img.Bounds().Dy())

	left := color.NRGBAModel.Convert(img.At(10, 10)).(color.NRGBA)
	right := color.NRGBAModel.Convert(img.At(630, 10)).(color.NRGBA)
	assert.Greater(t, left.R, left.G, "submitted photo on the left")
	assert.Greater(t, right.G, right.R, "reference photo on the right")
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestRenderFallsBackWithoutReference(t *testing.T) {
	r, mock := newTestRenderer(t)
	mock.RegisterResponder(http.MethodGet, "https://upload.test/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))

	photo := jpegFixture(t, 300, 200, color.RGBA{B: 255, A: 255})
	out, err := r.Render(t.Context(), "https://upload.test/missing.jpg", Card{Photo: photo, ScientificName: "Varanus salvator"})
	require.NoError(t, err)
	img := decode(t, out)
	assert.Equal(t, 640*9/16+2*padding+lineHeight, img.Bounds().Dy())

	_, err = r.Render(t.Context(), "", Card{Photo: photo, ScientificName: "Varanus salvator"})
	require.NoError(t, err)
}

func TestRenderRejectsBadPhoto(t *testing.T) {
	r, _ := newTestRenderer(t)
	_, err := r.Render(t.Context(), "", Card{Photo: []byte("nope")})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageProcessing))
}

func TestCaptionLines(t *testing.T) {
	assert.Equal(t, []string{"Varanus salvator"}, captionLines(Card{ScientificName: "Varanus salvator"}))
	assert.Equal(t,
		[]string{"Asian Water Monitor (Varanus salvator)  87%", "Location: Sungei Buloh"},
		captionLines(Card{CommonName: "Asian Water Monitor", ScientificName: "Varanus salvator", Confidence: 0.87, Location: "Sungei Buloh"}))
}
