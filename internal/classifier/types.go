package classifier

import "strings"

// Quality-failure reason codes returned by the classification service. The
// set is defined by the service; unknown codes pass through unchanged.
const (
	ReasonLowResolution  = "low_resolution"
	ReasonObstructed     = "obstructed"
	ReasonTooDistant     = "too_distant"
	ReasonPoorQuality    = "poor_quality"
	ReasonNoAnimal       = "no_animal"
	ReasonTargetNotFound = "target_not_found"
)

// Hints carries optional context sent alongside the image.
type Hints struct {
	Location  string   `json:"location,omitempty"`
	Target    string   `json:"target,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Taxonomy is the ranked lineage of an identified organism.
type Taxonomy struct {
	Kingdom string `json:"kingdom,omitempty"`
	Phylum  string `json:"phylum,omitempty"`
	Class   string `json:"class,omitempty"`
	Order   string `json:"order,omitempty"`
	Family  string `json:"family,omitempty"`
	Genus   string `json:"genus,omitempty"`
	Species string `json:"species,omitempty"`
}

// Result is either an identification or a quality failure. Quality
// failures are values, not errors.
type Result struct {
	Identified     bool     `json:"identified"`
	ScientificName string   `json:"scientific_name,omitempty"`
	CommonName     string   `json:"common_name,omitempty"`
	Rank           string   `json:"rank,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Taxonomy       Taxonomy `json:"taxonomy"`
	Description    string   `json:"description,omitempty"`
	SimilarSpecies []string `json:"similar_species_considered,omitempty"`

	Reason       string `json:"reason,omitempty"`
	QualityIssue string `json:"quality_issue,omitempty"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// IsGenusLevel reports whether the identification stopped at genus.
func (r Result) IsGenusLevel() bool {
	if strings.EqualFold(r.Rank, "genus") {
		return true
	}
	return r.Rank == "" && r.ScientificName != "" && !strings.Contains(strings.TrimSpace(r.ScientificName), " ")
}

// IsBird reports whether the organism belongs to class Aves.
func (r Result) IsBird() bool {
	return strings.EqualFold(r.Taxonomy.Class, "aves")
}

type request struct {
	Model    string `json:"model,omitempty"`
	MimeType string `json:"mime_type"`
	Image    string `json:"image"`
	Hints    Hints  `json:"hints"`
}
