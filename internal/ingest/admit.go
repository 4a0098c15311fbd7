package ingest

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rangeatlas/occurrence-cli/internal/config"
	"github.com/rangeatlas/occurrence-cli/internal/geo"
	"github.com/rangeatlas/occurrence-cli/internal/mapping"
	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

// Result reports what Admit did with one row.
type Result struct {
	Action  occurrence.Action
	ID      int64
	HasDate bool
}

// Admitter decides, per input row, whether to insert, update, delete or
// reject, consulting and maintaining the run's Index as it goes.
type Admitter struct {
	store   store.Store
	proj    geo.Projector
	box     geo.ObscureBox
	worstM  float64
	minYear int
	source  *occurrence.Source
	dataset *occurrence.Dataset
	idx     *Index
	log     *zap.Logger
}

func NewAdmitter(st store.Store, cfg config.IngestConfig, src *occurrence.Source, ds *occurrence.Dataset, idx *Index) *Admitter {
	return &Admitter{
		store:   st,
		proj:    geo.WGS84{},
		box:     geo.ObscureBox{Degrees: cfg.ObscureBoxDegrees, MetersPerDegLat: cfg.MetersPerDegLat, MetersPerDegLon: cfg.MetersPerDegLon},
		worstM:  cfg.WorstAccuracyM,
		minYear: cfg.MinYear,
		source:  src,
		dataset: ds,
		idx:     idx,
		log:     zap.L().With(zap.String("component", "ingest"), zap.String("source", src.Name)),
	}
}

// Admit processes one mapped row. First matching rule wins: fossil,
// missing coordinates, inaccurate, then the identity-index decision
// between new, downgrade-delete, update and duplicate. shapeGeom carries
// a line/polygon geometry from shapefile feeds; nil means "build a point
// from the row's coordinates".
func (a *Admitter) Admit(ctx context.Context, row *mapping.Row, shapeGeom []byte) (Result, error) {
	if isFossil(row.Get(mapping.AttrBasisOfRecord)) {
		return Result{Action: occurrence.ActionRejectFossil}, nil
	}

	obscured := parseBool(row.Get(mapping.AttrObscured))
	lon, lat, accuracy, obscured, ok := a.resolveGeometry(row, obscured)
	if !ok {
		return Result{Action: occurrence.ActionRejectNoCoords}, nil
	}

	if !obscured && accuracy != nil && *accuracy > a.worstM {
		return Result{Action: occurrence.ActionRejectInaccurate}, nil
	}

	x, y, err := a.proj.Project(lon, lat)
	if err != nil {
		return Result{}, eris.Wrap(err, "ingest: project coordinates")
	}
	geom := shapeGeom
	if geom == nil {
		geom, err = geo.PointWKB(x, y)
		if err != nil {
			return Result{}, eris.Wrap(err, "ingest: encode geometry")
		}
	}

	key := strings.TrimSpace(row.Get(mapping.AttrUniqueID))
	if key == "" {
		return Result{}, eris.New("ingest: row has no unique id")
	}
	name := strings.TrimSpace(row.Get(mapping.AttrSpecies))
	if name == "" {
		return Result{}, eris.New("ingest: row has no species name")
	}

	minDate, maxDate := parseDates(row, a.minYear)
	researchGrade := isResearchGrade(row)

	existingID, found := a.idx.Lookup(key)
	if !found {
		if !researchGrade {
			return Result{Action: occurrence.ActionRejectGrade}, nil
		}
		speciesID, err := a.idx.SpeciesID(ctx, a.store, name)
		if err != nil {
			return Result{}, err
		}
		rec := &occurrence.Occurrence{
			SourceID:        a.source.ID,
			DatasetID:       a.dataset.ID,
			SpeciesID:       speciesID,
			UniqueKey:       key,
			Geom:            geom,
			Longitude:       x,
			Latitude:        y,
			MinDate:         minDate,
			MaxDate:         maxDate,
			Accuracy:        accuracy,
			Obscured:        obscured,
			QualityGrade:    occurrence.GradeResearch,
			BasisOfRecord:   strings.TrimSpace(row.Get(mapping.AttrBasisOfRecord)),
			URI:             strings.TrimSpace(row.Get(mapping.AttrURI)),
			IndividualCount: parseIntPtr(row.Get(mapping.AttrIndividualCount)),
			InstitutionCode: strings.TrimSpace(row.Get(mapping.AttrInstitutionCode)),
		}
		id, err := a.store.InsertOccurrence(ctx, rec)
		if err != nil {
			return Result{}, err
		}
		a.idx.Put(key, id)
		return Result{Action: occurrence.ActionNew, ID: id, HasDate: minDate != nil}, nil
	}

	if !researchGrade {
		if err := a.store.DeleteOccurrence(ctx, existingID); err != nil {
			return Result{}, err
		}
		a.idx.Drop(key)
		a.log.Debug("deleted downgraded record", zap.Int64("id", existingID), zap.String("key", key))
		return Result{Action: occurrence.ActionDeleted, ID: existingID}, nil
	}

	stored, err := a.store.GetOccurrence(ctx, existingID)
	if err != nil {
		return Result{}, err
	}
	upd := occurrence.Update{
		Geom:      geom,
		Longitude: x,
		Latitude:  y,
		Accuracy:  accuracy,
		Obscured:  obscured,
		MinDate:   minDate,
		MaxDate:   maxDate,
	}
	if !stored.MaterialDiff(upd) {
		return Result{Action: occurrence.ActionDuplicate, ID: existingID, HasDate: minDate != nil}, nil
	}
	if err := a.store.UpdateOccurrence(ctx, existingID, upd); err != nil {
		return Result{}, err
	}
	return Result{Action: occurrence.ActionUpdated, ID: existingID, HasDate: minDate != nil}, nil
}

// resolveGeometry picks between public and private coordinate pairs.
// When the record is obscured and an unobscured private pair is present,
// the private pair wins and the provider accuracy is kept as supplied.
// Otherwise the public pair is used and, if still obscured, accuracy is
// estimated from the obscuring box size at that latitude.
func (a *Admitter) resolveGeometry(row *mapping.Row, obscured bool) (lon, lat float64, accuracy *float64, stillObscured, ok bool) {
	accuracy = parseFloatPtr(row.Get(mapping.AttrAccuracy))

	if obscured {
		plon, plonOK := parseFloat(row.Get(mapping.AttrPrivateLongitude))
		plat, platOK := parseFloat(row.Get(mapping.AttrPrivateLatitude))
		if plonOK && platOK {
			return plon, plat, accuracy, false, true
		}
	}

	lon, lonOK := parseFloat(row.Get(mapping.AttrLongitude))
	lat, latOK := parseFloat(row.Get(mapping.AttrLatitude))
	if !lonOK || !latOK {
		return 0, 0, nil, false, false
	}
	if obscured {
		est := a.box.ObscuredAccuracy(lat)
		accuracy = &est
	}
	return lon, lat, accuracy, obscured, true
}

func isFossil(basis string) bool {
	return strings.Contains(strings.ToLower(basis), "fossil")
}

// isResearchGrade treats sources without a quality-grade column as
// research grade throughout.
func isResearchGrade(row *mapping.Row) bool {
	if !row.Has(mapping.AttrQualityGrade) {
		return true
	}
	grade := strings.ToLower(strings.TrimSpace(row.Get(mapping.AttrQualityGrade)))
	return grade == "" || grade == string(occurrence.GradeResearch)
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "1", "yes", "obscured":
		return true
	}
	return false
}

func parseFloat(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseFloatPtr(raw string) *float64 {
	f, ok := parseFloat(raw)
	if !ok {
		return nil
	}
	return &f
}

func parseIntPtr(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
