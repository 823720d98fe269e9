package bot

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/wildlife-id-bot/internal/classifier"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
)

// titleName capitalizes a lower-case common name. Names that already carry
// capitals are kept as given ("McCown's Longspur").
func titleName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || s != strings.ToLower(s) {
		return s
	}
	// Casers are stateful and cannot be shared between goroutines.
	return cases.Title(language.English).String(s)
}

const helpText = `Send me a photo of an animal and I will try to identify it.

• Add a caption to say what to look at, e.g. "the bird on the left".
• I will ask where the photo was taken unless the photo carries GPS data.
  Reply with the place, optionally followed by "; what to identify".
• Send several photos as one album to identify them together.
• In groups, caption the photo with /identify or mention me.

Commands:
/identify [target] - reply to a photo to identify it
/skip - continue without the missing details
/usage - show this week's remaining identifications
/clear - forget cached results and pending requests
/info - about this bot`

func reasonMessage(reason, issue, suggestion string) string {
	var msg string
	switch reason {
	case classifier.ReasonLowResolution:
		msg = "The photo resolution is too low to identify the animal."
	case classifier.ReasonObstructed:
		msg = "The animal is too obstructed to identify."
	case classifier.ReasonTooDistant:
		msg = "The animal is too far away to identify."
	case classifier.ReasonPoorQuality:
		msg = "The photo quality is too poor to identify the animal."
	case classifier.ReasonNoAnimal:
		msg = "I could not find an animal in this photo."
	case classifier.ReasonTargetNotFound:
		msg = "I could not find what you described in this photo."
	case reasonQuotaExhausted:
		msg = "The weekly identification limit was reached."
	case reasonDownloadFailed:
		msg = "I could not download the photo."
	case reasonUnsupportedImage:
		msg = "I could not read this image format."
	case reasonServiceUnavailable:
		msg = "The identification service is busy. Please try again in a few minutes."
	case reasonInternal:
		msg = "Something went wrong while identifying the photo."
	default:
		msg = "I could not identify the animal (" + strings.ReplaceAll(reason, "_", " ") + ")."
	}
	if issue != "" {
		msg += "\n" + issue
	}
	if suggestion != "" {
		msg += "\nTip: " + suggestion
	}
	return msg
}

// reasonLabel is the short form used in batch summaries.
func reasonLabel(reason string) string {
	switch reason {
	case classifier.ReasonLowResolution:
		return "resolution too low"
	case classifier.ReasonObstructed:
		return "animal obstructed"
	case classifier.ReasonTooDistant:
		return "animal too distant"
	case classifier.ReasonPoorQuality:
		return "poor photo quality"
	case classifier.ReasonNoAnimal:
		return "no animal found"
	case classifier.ReasonTargetNotFound:
		return "target not found"
	case reasonQuotaExhausted:
		return "weekly limit reached"
	case reasonDownloadFailed:
		return "download failed"
	case reasonUnsupportedImage:
		return "unsupported image"
	case reasonServiceUnavailable:
		return "service busy"
	case reasonInternal:
		return "internal error"
	}
	return strings.ReplaceAll(reason, "_", " ")
}

func formatReset(t time.Time) string {
	return t.Format("Mon 2 Jan 15:04 MST")
}

func quotaExhaustedText(s quota.Status, key quota.Key) string {
	who := "This chat has"
	if key.Scope == quota.ScopeUser {
		who = "You have"
	}
	return fmt.Sprintf("%s used all %d identifications for this week. The limit resets %s.",
		who, s.Limit, formatReset(s.ResetAt))
}

func promptText(w requests.WaitingFor, batchSize int) string {
	subject, verb := "this photo", "was"
	if batchSize > 1 {
		subject, verb = fmt.Sprintf("these %d photos", batchSize), "were"
	}
	switch {
	case w.Has(requests.WaitLocation) && w.Has(requests.WaitTarget):
		return fmt.Sprintf("Where %s %s taken? Reply with the place, optionally followed by \"; what to identify\" "+
			"(e.g. \"Bukit Timah, Singapore; the lizard\"). You can also share a map location, or send /skip.", verb, subject)
	case w.Has(requests.WaitLocation):
		return fmt.Sprintf("Where %s %s taken? Reply with the place or share a map location. Send /skip to continue without it.", verb, subject)
	default:
		return fmt.Sprintf("What should I identify in %s? Reply with a short description or send /skip.", subject)
	}
}

func formatConfidence(c float64) string {
	if c <= 0 {
		return ""
	}
	if c <= 1 {
		c *= 100
	}
	return fmt.Sprintf("%.0f%%", c)
}

// resultCaption is the caption of the composite photo.
func resultCaption(id Identification) string {
	var sb strings.Builder
	if id.CommonName != "" {
		fmt.Fprintf(&sb, "%s (%s)", id.CommonName, id.ScientificName)
	} else {
		sb.WriteString(id.ScientificName)
	}
	if c := formatConfidence(id.Confidence); c != "" {
		fmt.Fprintf(&sb, "\nConfidence: %s", c)
	}
	if id.Location != "" {
		fmt.Fprintf(&sb, "\nLocation: %s", id.Location)
	}
	if id.Occurrences > 0 {
		fmt.Fprintf(&sb, "\nRecorded nearby %d times", id.Occurrences)
	} else if id.Occurrences == 0 {
		sb.WriteString("\nNo recorded sightings nearby")
	}
	if id.Reference != nil {
		if a := id.Reference.Attribution(); a != "" {
			fmt.Fprintf(&sb, "\nReference photo: %s", a)
		}
	}
	return sb.String()
}

// cardLines are the extra lines drawn under the composite.
func cardLines(id Identification) []string {
	var lines []string
	if t := id.Taxonomy; t.Family != "" {
		lines = append(lines, "Family: "+t.Family)
	}
	if id.OriginalName != "" {
		lines = append(lines, "Classifier suggested: "+id.OriginalName)
	}
	if len(id.Children) > 0 {
		lines = append(lines, "Possible species: "+strings.Join(id.Children, ", "))
	}
	return lines
}

// detailsText is the reply to the Details button.
func detailsText(id Identification) string {
	var sb strings.Builder
	sb.WriteString(resultCaption(id))

	t := id.Taxonomy
	var ranks []string
	for _, r := range []struct{ name, value string }{
		{"Kingdom", t.Kingdom}, {"Phylum", t.Phylum}, {"Class", t.Class},
		{"Order", t.Order}, {"Family", t.Family}, {"Genus", t.Genus},
	} {
		if r.value != "" {
			ranks = append(ranks, r.name+": "+r.value)
		}
	}
	if len(ranks) > 0 {
		sb.WriteString("\n\n" + strings.Join(ranks, "\n"))
	}
	if id.OriginalName != "" {
		fmt.Fprintf(&sb, "\n\nName corrected from %s.", id.OriginalName)
	}
	if id.Description != "" {
		sb.WriteString("\n\n" + id.Description)
	}
	if len(id.Children) > 0 {
		sb.WriteString("\n\nIdentified to genus level. Species in this genus include: " + strings.Join(id.Children, ", ") + ".")
	}
	if len(id.SimilarSpecies) > 0 {
		sb.WriteString("\n\nSimilar species considered: " + strings.Join(id.SimilarSpecies, ", ") + ".")
	}
	return sb.String()
}

type speciesGroup struct {
	result CachedResult
	count  int
}

type failureGroup struct {
	reason string
	count  int
}

// batchSummary renders the aggregate report of an album.
func batchSummary(total int, species []*speciesGroup, failures []failureGroup) string {
	var sb strings.Builder
	identified := 0
	for _, g := range species {
		identified += g.count
	}
	fmt.Fprintf(&sb, "Identified %d of %d photos.", identified, total)
	if len(species) > 0 {
		sb.WriteString("\n")
		for _, g := range species {
			fmt.Fprintf(&sb, "\n• %s", g.result.DisplayName())
			if g.result.CommonName != "" {
				fmt.Fprintf(&sb, " (%s)", g.result.ScientificName)
			}
			if g.count > 1 {
				fmt.Fprintf(&sb, " × %d", g.count)
			}
		}
	}
	if len(failures) > 0 {
		sb.WriteString("\n\nNot identified:")
		for _, f := range failures {
			fmt.Fprintf(&sb, "\n• %s: %d", reasonLabel(f.reason), f.count)
		}
	}
	return sb.String()
}

// tallyFailures groups reasons in first-seen order.
func tallyFailures(reasons []string) []failureGroup {
	var out []failureGroup
	for _, r := range reasons {
		i := slices.IndexFunc(out, func(f failureGroup) bool { return f.reason == r })
		if i < 0 {
			out = append(out, failureGroup{reason: r, count: 1})
			continue
		}
		out[i].count++
	}
	return out
}
