package bot

import (
	"strconv"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/classifier"
	"github.com/tphakala/wildlife-id-bot/internal/imageprovider"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
)

// Identification is a classifier result after cross-referencing.
type Identification struct {
	ScientificName string
	CommonName     string
	Rank           string
	Confidence     float64
	Taxonomy       classifier.Taxonomy
	Description    string
	SimilarSpecies []string

	// OriginalName is the classifier's name when the species database
	// corrected it.
	OriginalName string
	TaxonKey     int
	Children     []string
	// Occurrences is -1 when no occurrence check ran.
	Occurrences int

	Location    string
	Coordinates *requests.Coordinates
	Reference   *imageprovider.Image
}

// DisplayName is the common name when known, otherwise the scientific name.
func (id Identification) DisplayName() string {
	if id.CommonName != "" {
		return id.CommonName
	}
	return id.ScientificName
}

// CachedResult is what follow-up buttons read back.
type CachedResult struct {
	Identification
	Photo    []byte
	MimeType string
}

// Offer is an untriggered group photo waiting for someone to tap Identify.
type Offer struct {
	ChatID    int64
	ChatType  chat.ChatType
	ThreadID  int
	MessageID int
	FileID    string
	MimeType  string
}

func offerKey(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

// Callback data prefixes.
const (
	callbackDetails  = "d:"
	callbackFullRes  = "f:"
	callbackIdentify = "i:"
)

// speciesCallback builds button data for a species result. The token is the
// species part of the result cache key, so it fits Telegram's 64-byte limit.
func speciesCallback(prefix, scientificName string) string {
	return prefix + resultcache.Token(scientificName)
}

// Failure reasons that do not come from the classifier.
const (
	reasonQuotaExhausted     = "quota_exhausted"
	reasonDownloadFailed     = "download_failed"
	reasonUnsupportedImage   = "unsupported_image"
	reasonServiceUnavailable = "service_unavailable"
	reasonInternal           = "internal_error"
)
