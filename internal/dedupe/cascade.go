package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rangeatlas/occurrence-cli/internal/config"
	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

// Cascade reconciles the same observation published by multiple sources.
// Steps run strictly in order: a later step sees only records that
// survived earlier steps, because excluded records drop out of queries.
type Cascade struct {
	store store.Store
	steps []config.CascadeStep
	log   *zap.Logger
}

func NewCascade(st store.Store, steps []config.CascadeStep) *Cascade {
	return &Cascade{
		store: st,
		steps: steps,
		log:   zap.L().With(zap.String("component", "cascade")),
	}
}

// Run executes all enabled steps and returns the total exclusion count.
func (c *Cascade) Run(ctx context.Context) (int, error) {
	total := 0
	for _, step := range c.steps {
		if step.Disabled {
			c.log.Info("skipping disabled step", zap.String("step", step.Name))
			continue
		}
		n, err := c.runStep(ctx, step)
		if err != nil {
			return total, eris.Wrapf(err, "cascade: step %s", step.Name)
		}
		c.log.Info("step finished", zap.String("step", step.Name), zap.Int("excluded", n))
		total += n
	}
	return total, nil
}

func (c *Cascade) runStep(ctx context.Context, step config.CascadeStep) (int, error) {
	higher, err := c.store.GetSource(ctx, step.Higher)
	if err != nil {
		return 0, err
	}
	var lowerIDs []int64
	lowerByID := make(map[int64]string)
	for _, name := range step.Lower {
		src, err := c.store.GetSource(ctx, name)
		if err != nil {
			return 0, err
		}
		lowerIDs = append(lowerIDs, src.ID)
		lowerByID[src.ID] = src.Name
	}

	// One species at a time keeps the working set bounded.
	speciesIDs, err := c.store.DistinctSpecies(ctx, append([]int64{higher.ID}, lowerIDs...))
	if err != nil {
		return 0, err
	}

	excluded := 0
	for _, speciesID := range speciesIDs {
		higherRecs, err := c.store.ListOccurrences(ctx, store.OccurrenceFilter{
			SourceID:  higher.ID,
			SpeciesID: speciesID,
		})
		if err != nil {
			return excluded, err
		}
		if len(higherRecs) == 0 {
			continue
		}
		higherKeys := make(map[string]struct{}, len(higherRecs))
		for _, rec := range higherRecs {
			higherKeys[rec.UniqueKey] = struct{}{}
		}

		for _, lowerID := range lowerIDs {
			lowerRecs, err := c.store.ListOccurrences(ctx, store.OccurrenceFilter{
				SourceID:  lowerID,
				SpeciesID: speciesID,
			})
			if err != nil {
				return excluded, err
			}
			for _, rec := range lowerRecs {
				candidate, ok := matchValue(step, rec)
				if !ok {
					continue
				}
				if _, hit := higherKeys[candidate]; !hit {
					continue
				}
				just := fmt.Sprintf("duplicate of %s record %s", higher.Name, candidate)
				if err := c.store.AddExclusion(ctx, rec.ID, occurrence.ReasonDuplicateAcrossSource, just); err != nil {
					return excluded, err
				}
				c.log.Debug("excluded cross-source duplicate",
					zap.Int64("id", rec.ID),
					zap.String("source", lowerByID[lowerID]),
					zap.String("matched_key", candidate))
				excluded++
			}
		}
	}
	return excluded, nil
}

// matchValue derives the comparison key for a lower-priority record under
// a step's rule. Exact steps compare unique keys as-is. Suffix steps split
// the configured field on the delimiter and take the last segment, guarded
// by an expected institution code to avoid unrelated identifier collisions.
func matchValue(step config.CascadeStep, rec occurrence.Occurrence) (string, bool) {
	switch step.Rule {
	case config.RuleExact:
		return rec.UniqueKey, rec.UniqueKey != ""
	case config.RuleSuffix:
		if step.GuardValue != "" && !strings.EqualFold(rec.InstitutionCode, step.GuardValue) {
			return "", false
		}
		raw := rec.UniqueKey
		if step.MatchField == "uri" {
			raw = rec.URI
		}
		if raw == "" {
			return "", false
		}
		delim := step.Delimiter
		if delim == "" {
			delim = "/"
		}
		parts := strings.Split(raw, delim)
		last := parts[len(parts)-1]
		return last, last != ""
	}
	return "", false
}
