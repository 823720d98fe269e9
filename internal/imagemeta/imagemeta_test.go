package imagemeta

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// withGPS splices an APP1 EXIF segment holding only a GPS IFD into a JPEG.
func withGPS(t *testing.T, jpg []byte, lat, lon [3]uint32, latRef, lonRef byte) []byte {
	t.Helper()
	be := binary.BigEndian
	tiff := make([]byte, 128)
	copy(tiff, "MM")
	be.PutUint16(tiff[2:], 42)
	be.PutUint32(tiff[4:], 8)

	// IFD0: a single GPS IFD pointer.
	be.PutUint16(tiff[8:], 1)
	entry := func(off int, tag, typ uint16, count, value uint32) {
		be.PutUint16(tiff[off:], tag)
		be.PutUint16(tiff[off+2:], typ)
		be.PutUint32(tiff[off+4:], count)
		be.PutUint32(tiff[off+8:], value)
	}
	entry(10, 0x8825, 4, 1, 26)
	be.PutUint32(tiff[22:], 0)

	// GPS IFD at 26 with rationals at 80 and 104.
	be.PutUint16(tiff[26:], 4)
	entry(28, 0x0001, 2, 2, uint32(latRef)<<24)
	entry(40, 0x0002, 5, 3, 80)
	entry(52, 0x0003, 2, 2, uint32(lonRef)<<24)
	entry(64, 0x0004, 5, 3, 104)
	be.PutUint32(tiff[76:], 0)
	for i, v := range lat {
		be.PutUint32(tiff[80+i*8:], v)
		be.PutUint32(tiff[84+i*8:], 1)
	}
	for i, v := range lon {
		be.PutUint32(tiff[104+i*8:], v)
		be.PutUint32(tiff[108+i*8:], 1)
	}

	payload := append([]byte("Exif\x00\x00"), tiff...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	be.PutUint16(seg[2:], uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

func TestReadLocation(t *testing.T) {
	jpg := encodeJPEG(t, testImage(32, 32))

	_, ok := ReadLocation(jpg)
	assert.False(t, ok, "plain JPEG has no EXIF")

	tagged := withGPS(t, jpg, [3]uint32{1, 21, 0}, [3]uint32{103, 49, 12}, 'N', 'E')
	c, ok := ReadLocation(tagged)
	require.True(t, ok)
	assert.InDelta(t, 1.35, c.Latitude, 1e-6)
	assert.InDelta(t, 103.82, c.Longitude, 1e-6)

	null := withGPS(t, jpg, [3]uint32{0, 0, 0}, [3]uint32{0, 0, 0}, 'N', 'E')
	_, ok = ReadLocation(null)
	assert.False(t, ok, "null island is treated as missing")

	_, ok = ReadLocation([]byte("not an image"))
	assert.False(t, ok)
}

func TestNormalizeDownscales(t *testing.T) {
	jpg := encodeJPEG(t, testImage(2400, 1200))

	n, err := Normalize(jpg, 1600, 85)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", n.MimeType)
	assert.Equal(t, 1600, n.Width)
	assert.Equal(t, 800, n.Height)

	w, h, err := DecodeConfig(n.Data)
	require.NoError(t, err)
	assert.Equal(t, 1600, w)
	assert.Equal(t, 800, h)
}

func TestNormalizeKeepsSmallImagesAndConvertsPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(300, 200)))

	n, err := Normalize(buf.Bytes(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 300, n.Width)
	assert.Equal(t, 200, n.Height)

	_, format, err := image.DecodeConfig(bytes.NewReader(n.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"), 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageProcessing))
}
