package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
)

// OccurrenceFilter specifies criteria for listing occurrences. Zero values
// mean "no constraint". Results are always ordered by internal id ascending
// so that every consumer sees a deterministic sequence.
type OccurrenceFilter struct {
	SourceID        int64  `json:"source_id,omitempty"`
	SpeciesID       int64  `json:"species_id,omitempty"`
	UniqueKey       string `json:"unique_key,omitempty"`
	IncludeExcluded bool   `json:"include_excluded,omitempty"`
	RequireDate     bool   `json:"require_date,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

// IngestEntry records the outcome of one admission batch for later review.
type IngestEntry struct {
	ID          int64           `json:"id"`
	DatasetID   string          `json:"dataset_id"`
	SourceID    int64           `json:"source_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
}

// SourceCount is a per-provider count of non-excluded occurrences.
type SourceCount struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

// Store defines the persistence interface for the reconciliation pipeline.
// All operations are transactionally safe at the single-row level; the
// admission engine relies on that, not on batch transactions.
type Store interface {
	// Sources
	UpsertSource(ctx context.Context, name string, priority int) (*occurrence.Source, error)
	GetSource(ctx context.Context, name string) (*occurrence.Source, error)
	ListSources(ctx context.Context) ([]occurrence.Source, error)

	// Datasets
	CreateDataset(ctx context.Context, sourceID int64, restrictions string) (*occurrence.Dataset, error)

	// Species
	GetOrCreateSpecies(ctx context.Context, scientificName string) (int64, error)

	// Occurrences
	InsertOccurrence(ctx context.Context, o *occurrence.Occurrence) (int64, error)
	UpdateOccurrence(ctx context.Context, id int64, upd occurrence.Update) error
	DeleteOccurrence(ctx context.Context, id int64) error
	GetOccurrence(ctx context.Context, id int64) (*occurrence.Occurrence, error)
	ListOccurrences(ctx context.Context, f OccurrenceFilter) ([]occurrence.Occurrence, error)

	// IdentityIndex returns unique key → internal id for every occurrence of
	// a source, excluded rows included: an excluded record still owns its key
	// so re-imports update it rather than duplicate it.
	IdentityIndex(ctx context.Context, sourceID int64) (map[string]int64, error)

	// DistinctSpecies lists species ids having non-excluded occurrences in
	// any of the given sources, ascending.
	DistinctSpecies(ctx context.Context, sourceIDs []int64) ([]int64, error)

	// Exclusion ledger. AddExclusion is idempotent per (occurrence, reason).
	AddExclusion(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason, justification string) error
	RemoveExclusion(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason) error
	IsExcluded(ctx context.Context, occurrenceID int64) (bool, error)
	ListExclusions(ctx context.Context, occurrenceID int64) ([]occurrence.Exclusion, error)

	// Ingest log
	RecordIngest(ctx context.Context, entry *IngestEntry) error
	ListIngests(ctx context.Context, limit int) ([]IngestEntry, error)
	CountBySource(ctx context.Context) ([]SourceCount, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
