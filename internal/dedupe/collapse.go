// Package dedupe removes redundant occurrence records in two passes:
// collapsing identical records within one source, then reconciling the
// same observation re-published across sources in priority order.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

// Collapser finds groups of records from one source and species that share
// an identical date and geometry, keeps one per group and excludes the rest.
type Collapser struct {
	store store.Store
	log   *zap.Logger
}

func NewCollapser(st store.Store) *Collapser {
	return &Collapser{
		store: st,
		log:   zap.L().With(zap.String("component", "collapse")),
	}
}

// CollapseSource runs the collapse over every species present in one
// source. Returns the number of records excluded.
func (c *Collapser) CollapseSource(ctx context.Context, sourceID int64) (int, error) {
	speciesIDs, err := c.store.DistinctSpecies(ctx, []int64{sourceID})
	if err != nil {
		return 0, err
	}

	total := 0
	for _, speciesID := range speciesIDs {
		n, err := c.collapseSpecies(ctx, sourceID, speciesID)
		if err != nil {
			return total, err
		}
		total += n
	}
	c.log.Info("collapse finished", zap.Int64("source_id", sourceID), zap.Int("excluded", total))
	return total, nil
}

// collapseSpecies groups one source+species partition by (date, geometry).
// Records without a date never collapse. Listing is id-ascending, so the
// last record seen in a group is the highest id and is the one retained.
func (c *Collapser) collapseSpecies(ctx context.Context, sourceID, speciesID int64) (int, error) {
	records, err := c.store.ListOccurrences(ctx, store.OccurrenceFilter{
		SourceID:    sourceID,
		SpeciesID:   speciesID,
		RequireDate: true,
	})
	if err != nil {
		return 0, eris.Wrapf(err, "collapse: list species %d", speciesID)
	}

	groups := make(map[string][]int64)
	var order []string
	for _, rec := range records {
		key := groupKey(rec)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec.ID)
	}

	excluded := 0
	for _, key := range order {
		ids := groups[key]
		if len(ids) < 2 {
			continue
		}
		// Every id but the last (highest) is redundant.
		for _, id := range ids[:len(ids)-1] {
			just := fmt.Sprintf("identical date and geometry as record %d", ids[len(ids)-1])
			if err := c.store.AddExclusion(ctx, id, occurrence.ReasonDuplicateWithinSource, just); err != nil {
				return excluded, err
			}
			excluded++
		}
	}
	return excluded, nil
}

func groupKey(rec occurrence.Occurrence) string {
	var minD, maxD string
	if rec.MinDate != nil {
		minD = rec.MinDate.UTC().Format(time.RFC3339)
	}
	if rec.MaxDate != nil {
		maxD = rec.MaxDate.UTC().Format(time.RFC3339)
	}
	return minD + "|" + maxD + "|" + string(rec.Geom)
}
