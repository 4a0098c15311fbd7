// Package exclusion manages the ledger of records withheld from
// downstream range maps. Exclusions are soft: the occurrence row stays
// in place and is filtered out of queries until the exclusion is undone.
package exclusion

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

// Ledger records and reverses exclusions against the store.
type Ledger struct {
	store store.Store
	log   *zap.Logger
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		log:   zap.L().With(zap.String("component", "exclusion")),
	}
}

// Exclude marks an occurrence as withheld for the given reason. Repeating
// the same exclusion is a no-op.
func (l *Ledger) Exclude(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason, justification string) error {
	if _, err := l.store.GetOccurrence(ctx, occurrenceID); err != nil {
		return eris.Wrapf(err, "exclusion: exclude %d", occurrenceID)
	}
	if err := l.store.AddExclusion(ctx, occurrenceID, reason, justification); err != nil {
		return err
	}
	l.log.Debug("excluded occurrence",
		zap.Int64("occurrence_id", occurrenceID),
		zap.String("reason", string(reason)))
	return nil
}

// Undo removes a single exclusion. The occurrence reappears in queries
// once no exclusions remain against it.
func (l *Ledger) Undo(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason) error {
	if err := l.store.RemoveExclusion(ctx, occurrenceID, reason); err != nil {
		return err
	}
	l.log.Info("exclusion undone",
		zap.Int64("occurrence_id", occurrenceID),
		zap.String("reason", string(reason)))
	return nil
}

func (l *Ledger) IsExcluded(ctx context.Context, occurrenceID int64) (bool, error) {
	return l.store.IsExcluded(ctx, occurrenceID)
}

func (l *Ledger) List(ctx context.Context, occurrenceID int64) ([]occurrence.Exclusion, error) {
	return l.store.ListExclusions(ctx, occurrenceID)
}
