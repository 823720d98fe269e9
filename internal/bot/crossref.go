package bot

import (
	"context"
	"strings"

	"github.com/tphakala/wildlife-id-bot/internal/classifier"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
)

// crossReference turns a classifier result into an Identification. Every
// lookup is best-effort: a failure leaves the affected field as the
// classifier reported it.
func (b *Bot) crossReference(ctx context.Context, res classifier.Result, r requests.Request) Identification {
	id := Identification{
		ScientificName: res.ScientificName,
		CommonName:     titleName(res.CommonName),
		Rank:           strings.ToLower(res.Rank),
		Confidence:     res.Confidence,
		Taxonomy:       res.Taxonomy,
		Description:    res.Description,
		SimilarSpecies: res.SimilarSpecies,
		Occurrences:    -1,
		Location:       r.Location,
		Coordinates:    r.Coordinates,
	}
	log := b.log.With(logger.String("request_id", r.ID), logger.String("species", res.ScientificName))

	if b.Species != nil {
		b.checkSpeciesDatabase(ctx, &id, res, r, log)
	}
	if b.Taxonomy != nil && (res.IsBird() || strings.EqualFold(id.Taxonomy.Class, "Aves")) {
		entry, ok, err := b.Taxonomy.LookupScientific(ctx, id.ScientificName)
		switch {
		case err != nil:
			log.Warn("bird taxonomy lookup failed", logger.Error(err))
		case ok && entry.CommonName != "" && entry.CommonName != id.CommonName:
			log.Debug("common name corrected from bird taxonomy",
				logger.String("from", id.CommonName),
				logger.String("to", entry.CommonName))
			id.CommonName = entry.CommonName
		}
	}
	return id
}

func (b *Bot) checkSpeciesDatabase(ctx context.Context, id *Identification, res classifier.Result, r requests.Request, log logger.Logger) {
	m, ok, err := b.Species.Match(ctx, id.ScientificName)
	if err != nil {
		log.Warn("species database match failed", logger.Error(err))
		return
	}
	if !ok {
		log.Debug("species database has no match")
		return
	}

	id.TaxonKey = m.TaxonKey()
	// Synonyms resolve to the accepted species; a higher-rank match
	// says nothing about the species name.
	canonical := strings.TrimSpace(m.CanonicalName)
	if m.Synonym && m.Species != "" {
		canonical = m.Species
	}
	if canonical != "" && m.MatchType != "HIGHERRANK" && !strings.EqualFold(canonical, id.ScientificName) {
		id.OriginalName = id.ScientificName
		id.ScientificName = canonical
		log.Info("scientific name corrected by species database", logger.String("canonical", canonical))
	}
	if id.Taxonomy.Class == "" {
		id.Taxonomy.Class = m.Class
	}
	if id.Taxonomy.Family == "" {
		id.Taxonomy.Family = m.Family
	}
	if id.Taxonomy.Genus == "" {
		id.Taxonomy.Genus = m.Genus
	}
	if m.Rank != "" && id.Rank == "" {
		id.Rank = strings.ToLower(m.Rank)
	}

	if res.IsGenusLevel() || id.Rank == "genus" {
		children, err := b.Species.Children(ctx, id.TaxonKey, b.cfg.ChildTaxaLimit)
		if err != nil {
			log.Warn("child taxa lookup failed", logger.Error(err))
		}
		for _, c := range children {
			name := c.CanonicalName
			if name == "" {
				name = c.ScientificName
			}
			if name != "" {
				id.Children = append(id.Children, name)
			}
		}
	}

	if r.Coordinates != nil && id.TaxonKey != 0 {
		n, err := b.Species.CheckOccurrence(ctx, id.TaxonKey, r.Coordinates.Latitude, r.Coordinates.Longitude)
		if err != nil {
			log.Warn("occurrence check failed", logger.Error(err))
			return
		}
		id.Occurrences = n
	}
}
