// Package occurrence defines the core data model for species occurrence
// records, their providers, load batches, and exclusion annotations.
package occurrence

import (
	"bytes"
	"time"
)

// QualityGrade is the provider-reported confidence tier of an observation.
type QualityGrade string

const (
	GradeResearch    QualityGrade = "research"
	GradeNonResearch QualityGrade = "non_research"
)

// Basis-of-record values as normalized from provider feeds.
const (
	BasisObservation   = "observation"
	BasisFossil        = "fossil_specimen"
	BasisSpecimen      = "preserved_specimen"
	BasisMachine       = "machine_observation"
	BasisLiving        = "living_specimen"
	BasisMaterialCite  = "material_citation"
	BasisOccurrenceRec = "occurrence"
)

// ExclusionReason is a reason code on an exclusion annotation.
type ExclusionReason string

const (
	ReasonDuplicateWithinSource ExclusionReason = "duplicate-within-source"
	ReasonDuplicateAcrossSource ExclusionReason = "duplicate-across-source"
	ReasonFlaggedBad            ExclusionReason = "flagged-bad"
)

// Action is the outcome of admitting a single incoming record.
type Action string

const (
	ActionNew              Action = "new"
	ActionDuplicate        Action = "duplicate"
	ActionUpdated          Action = "updated"
	ActionDeleted          Action = "deleted"
	ActionRejectFossil     Action = "reject_fossil"
	ActionRejectNoCoords   Action = "reject_no_coordinates"
	ActionRejectInaccurate Action = "reject_inaccurate"
	ActionRejectGrade      Action = "reject_non_research"
)

// Source identifies a provider feed and its position in the cross-source
// priority order. Lower Priority values outrank higher ones.
type Source struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Dataset is one load batch from a Source.
type Dataset struct {
	ID           string    `json:"id"`
	SourceID     int64     `json:"source_id"`
	DateReceived time.Time `json:"date_received"`
	Restrictions string    `json:"restrictions,omitempty"`
}

// Species is a taxon row. Scientific names are normalized before lookup so
// that the same taxon resolves to one id across provider feeds.
type Species struct {
	ID             int64  `json:"id"`
	ScientificName string `json:"scientific_name"`
	CommonName     string `json:"common_name,omitempty"`
}

// Occurrence is one observation of one species from one provider feed.
// Geom holds the normalized geometry as EWKB; for points Longitude/Latitude
// carry the same coordinates for cheap non-spatial queries.
type Occurrence struct {
	ID              int64        `json:"id"`
	SourceID        int64        `json:"source_id"`
	DatasetID       string       `json:"dataset_id"`
	SpeciesID       int64        `json:"species_id"`
	UniqueKey       string       `json:"unique_key"`
	Geom            []byte       `json:"-"`
	Longitude       float64      `json:"longitude"`
	Latitude        float64      `json:"latitude"`
	MinDate         *time.Time   `json:"min_date,omitempty"`
	MaxDate         *time.Time   `json:"max_date,omitempty"`
	Accuracy        *float64     `json:"accuracy,omitempty"`
	Obscured        bool         `json:"obscured"`
	QualityGrade    QualityGrade `json:"quality_grade"`
	BasisOfRecord   string       `json:"basis_of_record,omitempty"`
	URI             string       `json:"uri,omitempty"`
	IndividualCount *int         `json:"individual_count,omitempty"`
	InstitutionCode string       `json:"institution_code,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Update carries the mutable fields applied to an existing occurrence when a
// re-import supplies a materially different obscured/geometry/accuracy state.
type Update struct {
	Geom      []byte
	Longitude float64
	Latitude  float64
	Accuracy  *float64
	Obscured  bool
	MinDate   *time.Time
	MaxDate   *time.Time
}

// Exclusion annotates an occurrence as logically absent for one reason.
// It never mutates or removes the underlying occurrence row.
type Exclusion struct {
	ID            int64           `json:"id"`
	OccurrenceID  int64           `json:"occurrence_id"`
	Reason        ExclusionReason `json:"reason"`
	Justification string          `json:"justification,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MaterialDiff reports whether an incoming obscured/geometry/accuracy state
// differs from what is stored, which drives the UPDATE vs DUPLICATE decision.
func (o *Occurrence) MaterialDiff(upd Update) bool {
	if o.Obscured != upd.Obscured {
		return true
	}
	if !floatPtrEqual(o.Accuracy, upd.Accuracy) {
		return true
	}
	return !bytes.Equal(o.Geom, upd.Geom)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
