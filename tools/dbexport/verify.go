package main

import (
	"context"
	"fmt"
	"io"

	"gorm.io/gorm"

	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
)

const sampleSize = 5

// Verifier compares source and target after an export.
type Verifier struct {
	source *gorm.DB
	target *gorm.DB
	out    io.Writer
}

// NewVerifier returns a verifier for the two databases.
func NewVerifier(source, target *gorm.DB, out io.Writer) *Verifier {
	return &Verifier{source: source, target: target, out: out}
}

// Verify checks row counts and spot-checks sampled rows.
func (v *Verifier) Verify(ctx context.Context) error {
	if err := v.verifyCounts(ctx); err != nil {
		return fmt.Errorf("count verification failed: %w", err)
	}
	if err := v.sampleIdentifications(ctx); err != nil {
		return fmt.Errorf("identification sampling failed: %w", err)
	}
	if err := v.sampleQuotaUsage(ctx); err != nil {
		return fmt.Errorf("quota sampling failed: %w", err)
	}
	return nil
}

func (v *Verifier) verifyCounts(ctx context.Context) error {
	tables := []struct {
		name  string
		model any
	}{
		{"identifications", &datastore.Identification{}},
		{"quota_usages", &quota.QuotaUsage{}},
	}

	fmt.Fprintf(v.out, "%-25s %12s %12s %8s\n", "Table", "Source", "Target", "Match")
	mismatch := false
	for _, t := range tables {
		var src, dst int64
		if err := v.source.WithContext(ctx).Model(t.model).Count(&src).Error; err != nil {
			return fmt.Errorf("failed to count source %s: %w", t.name, err)
		}
		if err := v.target.WithContext(ctx).Model(t.model).Count(&dst).Error; err != nil {
			return fmt.Errorf("failed to count target %s: %w", t.name, err)
		}
		match := "yes"
		// The target may already hold rows from another install.
		if dst < src {
			match = "no"
			mismatch = true
		}
		fmt.Fprintf(v.out, "%-25s %12d %12d %8s\n", t.name, src, dst, match)
	}
	if mismatch {
		return fmt.Errorf("target is missing rows")
	}
	return nil
}

func (v *Verifier) sampleIdentifications(ctx context.Context) error {
	var rows []datastore.Identification
	if err := v.source.WithContext(ctx).Order("RANDOM()").Limit(sampleSize).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to fetch source samples: %w", err)
	}
	for i := range rows {
		src := &rows[i]
		var dst datastore.Identification
		if err := v.target.WithContext(ctx).First(&dst, src.ID).Error; err != nil {
			return fmt.Errorf("identification %d not found in target: %w", src.ID, err)
		}
		if src.ChatID != dst.ChatID || src.UserID != dst.UserID {
			return fmt.Errorf("identification %d: owner mismatch", src.ID)
		}
		if src.ScientificName != dst.ScientificName {
			return fmt.Errorf("identification %d: ScientificName mismatch (%s vs %s)", src.ID, src.ScientificName, dst.ScientificName)
		}
		if src.Confidence != dst.Confidence {
			return fmt.Errorf("identification %d: Confidence mismatch (%f vs %f)", src.ID, src.Confidence, dst.Confidence)
		}
	}
	fmt.Fprintf(v.out, "  identifications: %d samples verified\n", len(rows))
	return nil
}

func (v *Verifier) sampleQuotaUsage(ctx context.Context) error {
	var rows []quota.QuotaUsage
	if err := v.source.WithContext(ctx).Order("RANDOM()").Limit(sampleSize).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to fetch source samples: %w", err)
	}
	for _, src := range rows {
		var dst quota.QuotaUsage
		if err := v.target.WithContext(ctx).Where("usage_key = ?", src.UsageKey).First(&dst).Error; err != nil {
			return fmt.Errorf("quota key %s not found in target: %w", src.UsageKey, err)
		}
		if !src.ResetAt.Equal(dst.ResetAt) {
			continue // the target has its own, newer window
		}
		if src.Used != dst.Used {
			return fmt.Errorf("quota key %s: Used mismatch (%d vs %d)", src.UsageKey, src.Used, dst.Used)
		}
	}
	fmt.Fprintf(v.out, "  quota_usages: %d samples verified\n", len(rows))
	return nil
}
