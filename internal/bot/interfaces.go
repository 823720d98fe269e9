package bot

import (
	"context"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/classifier"
	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/ebird"
	"github.com/tphakala/wildlife-id-bot/internal/events"
	"github.com/tphakala/wildlife-id-bot/internal/gbif"
	"github.com/tphakala/wildlife-id-bot/internal/geocode"
	"github.com/tphakala/wildlife-id-bot/internal/imageprovider"
	"github.com/tphakala/wildlife-id-bot/internal/render"
)

// Classifier identifies the animal in a photo.
type Classifier interface {
	Classify(ctx context.Context, image []byte, mime string, hints classifier.Hints) (classifier.Result, error)
}

// SpeciesDatabase is the taxonomic backbone used to check classifier names.
type SpeciesDatabase interface {
	Match(ctx context.Context, name string) (gbif.Match, bool, error)
	Children(ctx context.Context, taxonKey, limit int) ([]gbif.Taxon, error)
	CheckOccurrence(ctx context.Context, taxonKey int, lat, lon float64) (int, error)
}

// TaxonomySource supplies authoritative bird names.
type TaxonomySource interface {
	LookupScientific(ctx context.Context, scientificName string) (ebird.TaxonomyEntry, bool, error)
}

// Geocoder turns place names into coordinates and back.
type Geocoder interface {
	Resolve(ctx context.Context, text string) (geocode.Place, bool, error)
	Reverse(ctx context.Context, lat, lon float64) (geocode.Place, bool, error)
}

// ReferencePhotos finds a representative photo for a species.
type ReferencePhotos interface {
	Fetch(ctx context.Context, scientificName string) (imageprovider.Image, error)
}

// Renderer builds the composite result image.
type Renderer interface {
	Render(ctx context.Context, photoURL string, card render.Card) ([]byte, error)
}

// History stores delivered identifications.
type History interface {
	SaveIdentification(ctx context.Context, id *datastore.Identification) error
	CountIdentifications(ctx context.Context, chatID int64, since time.Time) (int64, error)
	TopSpecies(ctx context.Context, chatID int64, since time.Time, limit int) ([]datastore.SpeciesCount, error)
	DeleteChatHistory(ctx context.Context, chatID int64) (int64, error)
}

// Publisher hands events to asynchronous consumers.
type Publisher interface {
	Publish(e events.Event) bool
}

// Metrics receives pipeline counters.
type Metrics interface {
	QuotaConsumed(scope string)
	QuotaExhausted(scope string)
	Classification(outcome string, d time.Duration)
	Update(kind string)
	Panic()
	MessageSent(kind string, err error)
	TaskStarted()
	TaskDone()
}

type nopMetrics struct{}

func (nopMetrics) QuotaConsumed(string)                 {}
func (nopMetrics) QuotaExhausted(string)                {}
func (nopMetrics) Classification(string, time.Duration) {}
func (nopMetrics) Update(string)                        {}
func (nopMetrics) Panic()                               {}
func (nopMetrics) MessageSent(string, error)            {}
func (nopMetrics) TaskStarted()                         {}
func (nopMetrics) TaskDone()                            {}
