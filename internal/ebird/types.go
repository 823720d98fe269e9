// Package ebird looks up bird taxonomy in the eBird API v2 so identified
// birds get their preferred common name and family.
package ebird

import "time"

// TaxonomyEntry is one row of the eBird taxonomy.
type TaxonomyEntry struct {
	ScientificName string  `json:"sciName"`
	CommonName     string  `json:"comName"`
	SpeciesCode    string  `json:"speciesCode"`
	Category       string  `json:"category"` // species, issf, spuh, slash, hybrid...
	TaxonOrder     float64 `json:"taxonOrder"`
	Order          string  `json:"order"`
	FamilyCode     string  `json:"familyCode"`
	FamilyComName  string  `json:"familyComName"`
	FamilySciName  string  `json:"familySciName"`
	ReportAs       string  `json:"reportAs,omitempty"`
	Extinct        bool    `json:"extinct,omitempty"`
}

// Config holds configuration for the eBird client.
type Config struct {
	APIKey    string
	BaseURL   string
	Locale    string
	Timeout   time.Duration
	CacheTTL  time.Duration
	RateLimit float64 // requests per second
}

// Error is an eBird API error body.
type Error struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	return e.Detail
}

// DefaultConfig returns a Config with the public endpoint and conservative limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://api.ebird.org/v2",
		Locale:    "en",
		Timeout:   30 * time.Second,
		CacheTTL:  24 * time.Hour, // taxonomy changes yearly
		RateLimit: 10,
	}
}
