// Package render composes the result card: the submitted photo beside a
// reference photo, with a caption band underneath.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/httpclient"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

const (
	maxReferenceBytes = 10 << 20
	padding           = 16
	lineHeight        = 18
)

var (
	background = color.NRGBA{R: 24, G: 28, B: 32, A: 255}
	titleColor = color.NRGBA{R: 250, G: 250, B: 250, A: 255}
	textColor  = color.NRGBA{R: 190, G: 196, B: 204, A: 255}
)

// Card is the content of one result image.
type Card struct {
	Photo          []byte
	CommonName     string
	ScientificName string
	Confidence     float64
	Location       string
	Lines          []string
	Attribution    string
}

// Config configures the renderer.
type Config struct {
	Width        int
	JPEGQuality  int
	FetchTimeout time.Duration
}

// Renderer draws result cards.
type Renderer struct {
	cfg  Config
	http *httpclient.Client
	log  logger.Logger
}

// New creates a Renderer. hc is used to download reference photos and may
// be nil, in which case cards are drawn without one.
func New(cfg Config, hc *httpclient.Client) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 88
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Renderer{cfg: cfg, http: hc, log: logger.Global().Module("render")}
}

// Render draws the card as a JPEG. photoURL is the reference photo; when it
// is empty or cannot be fetched the submitted photo fills the whole width.
func (r *Renderer) Render(ctx context.Context, photoURL string, card Card) ([]byte, error) {
	subject, err := imaging.Decode(bytes.NewReader(card.Photo), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.New(err).
			Component("render").
			Category(errors.CategoryImageProcessing).
			Context("operation", "decode_photo").
			Build()
	}

	var reference image.Image
	if photoURL != "" && r.http != nil {
		reference, err = r.fetchReference(ctx, photoURL)
		if err != nil {
			r.log.Warn("reference photo unavailable, rendering without it",
				logger.String("url", photoURL),
				logger.Error(err))
		}
	}

	width := r.cfg.Width
	panelH := width * 3 / 8
	if reference == nil {
		panelH = width * 9 / 16
	}
	lines := captionLines(card)
	captionH := padding*2 + len(lines)*lineHeight

	canvas := imaging.New(width, panelH+captionH, background)
	if reference == nil {
		canvas = imaging.Paste(canvas, imaging.Fill(subject, width, panelH, imaging.Center, imaging.Lanczos), image.Pt(0, 0))
	} else {
		half := width / 2
		canvas = imaging.Paste(canvas, imaging.Fill(subject, half, panelH, imaging.Center, imaging.Lanczos), image.Pt(0, 0))
		canvas = imaging.Paste(canvas, imaging.Fill(reference, width-half, panelH, imaging.Center, imaging.Lanczos), image.Pt(half, 0))
	}

	y := panelH + padding + lineHeight - 5
	for i, line := range lines {
		col := textColor
		if i == 0 {
			col = titleColor
		}
		drawText(canvas, padding, y, line, col)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(r.cfg.JPEGQuality)); err != nil {
		return nil, errors.New(err).
			Component("render").
			Category(errors.CategoryImageProcessing).
			Context("operation", "encode").
			Build()
	}
	return buf.Bytes(), nil
}

func (r *Renderer) fetchReference(ctx context.Context, url string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	resp, err := r.http.Get(ctx, url)
	if err != nil {
		return nil, errors.New(err).Component("render").Category(errors.CategoryImageFetch).Build()
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, errors.New(err).Component("render").Category(errors.CategoryImageFetch).Build()
	}
	defer resp.Body.Close()

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxReferenceBytes))
	if err != nil {
		return nil, errors.New(err).Component("render").Category(errors.CategoryImageProcessing).Build()
	}
	return img, nil
}

func captionLines(card Card) []string {
	title := card.CommonName
	if title == "" {
		title = card.ScientificName
	} else if card.ScientificName != "" {
		title = fmt.Sprintf("%s (%s)", card.CommonName, card.ScientificName)
	}
	if card.Confidence > 0 {
		title += fmt.Sprintf("  %.0f%%", card.Confidence*100)
	}

	lines := []string{title}
	if card.Location != "" {
		lines = append(lines, "Location: "+card.Location)
	}
	for _, l := range card.Lines {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if card.Attribution != "" {
		lines = append(lines, "Reference photo: "+card.Attribution)
	}
	return lines
}

func drawText(dst *image.NRGBA, x, y int, s string, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	maxChars := (dst.Bounds().Dx() - 2*x) / basicfont.Face7x13.Advance
	if maxChars > 3 && len([]rune(s)) > maxChars {
		s = string([]rune(s)[:maxChars-3]) + "..."
	}
	d.DrawString(s)
}
