// Package imagemeta reads embedded photo metadata and normalizes images
// before classification.
package imagemeta

import (
	"bytes"
	"image"
	"math"

	// Decoders for formats users commonly upload.
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

// DefaultMaxSide bounds the longest edge of a normalized image.
const DefaultMaxSide = 1600

// DefaultQuality is the JPEG quality of normalized images.
const DefaultQuality = 90

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// ReadLocation returns the GPS position stored in the EXIF block. The bool
// is false when the image has no EXIF data or no usable GPS tags. It must be
// called on the original bytes since normalization strips EXIF.
func ReadLocation(data []byte) (Coordinates, bool) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return Coordinates{}, false
	}
	lat, lon, err := x.LatLong()
	if err != nil || math.IsNaN(lat) || math.IsNaN(lon) {
		return Coordinates{}, false
	}
	if lat == 0 && lon == 0 {
		return Coordinates{}, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: lat, Longitude: lon}, true
}

// Normalized is a re-encoded image.
type Normalized struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Normalize applies the EXIF orientation, downsizes so that neither side
// exceeds maxSide, and re-encodes as JPEG.
func Normalize(data []byte, maxSide, quality int) (Normalized, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Normalized{}, errors.New(err).
			Component("imagemeta").
			Category(errors.CategoryImageProcessing).
			Context("operation", "decode").
			Context("size", len(data)).
			Build()
	}

	b := img.Bounds()
	if b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Normalized{}, errors.New(err).
			Component("imagemeta").
			Category(errors.CategoryImageProcessing).
			Context("operation", "encode").
			Build()
	}

	b = img.Bounds()
	return Normalized{Data: buf.Bytes(), MimeType: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// DecodeConfig reports the dimensions of an encoded image without decoding
// its pixels.
func DecodeConfig(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, errors.New(err).Component("imagemeta").Category(errors.CategoryImageProcessing).Build()
	}
	return cfg.Width, cfg.Height, nil
}
