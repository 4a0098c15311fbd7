package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rangeatlas/occurrence-cli/internal/config"
	"github.com/rangeatlas/occurrence-cli/internal/mapping"
	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testFields = mapping.Fields{
	mapping.AttrUniqueID:         "occurrenceID",
	mapping.AttrSpecies:          "scientificName",
	mapping.AttrLongitude:        "decimalLongitude",
	mapping.AttrLatitude:         "decimalLatitude",
	mapping.AttrPrivateLongitude: "privateLongitude",
	mapping.AttrPrivateLatitude:  "privateLatitude",
	mapping.AttrDate:             "eventDate",
	mapping.AttrAccuracy:         "coordinateUncertaintyInMeters",
	mapping.AttrObscured:         "obscured",
	mapping.AttrQualityGrade:     "qualityGrade",
	mapping.AttrBasisOfRecord:    "basisOfRecord",
	mapping.AttrURI:              "references",
	mapping.AttrIndividualCount:  "individualCount",
	mapping.AttrInstitutionCode:  "institutionCode",
}

var testHeader = []string{
	"occurrenceID", "scientificName", "decimalLongitude", "decimalLatitude",
	"privateLongitude", "privateLatitude", "eventDate",
	"coordinateUncertaintyInMeters", "obscured", "qualityGrade",
	"basisOfRecord", "references", "individualCount", "institutionCode",
}

// makeRow builds a mapped row from a baseline observation with the given
// columns overridden. An override of "-" blanks the column.
func makeRow(overrides map[string]string) *mapping.Row {
	base := map[string]string{
		"occurrenceID":                  "obs-1",
		"scientificName":                "Quercus alba",
		"decimalLongitude":              "-75.5",
		"decimalLatitude":               "45.1",
		"eventDate":                     "2021-05-04",
		"coordinateUncertaintyInMeters": "30",
		"basisOfRecord":                 "HumanObservation",
	}
	for col, v := range overrides {
		if v == "-" {
			delete(base, col)
			continue
		}
		base[col] = v
	}
	cells := make([]string, len(testHeader))
	for i, col := range testHeader {
		cells[i] = base[col]
	}
	row := mapping.NewRow(testFields, testHeader)
	row.Reset(cells)
	return row
}

func newIngestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestAdmitter(t *testing.T, st store.Store) *Admitter {
	t.Helper()
	ctx := context.Background()

	src, err := st.UpsertSource(ctx, "iNaturalist.ca", 1)
	require.NoError(t, err)
	ds, err := st.CreateDataset(ctx, src.ID, "")
	require.NoError(t, err)
	idx, err := BuildIndex(ctx, st, src.ID)
	require.NoError(t, err)

	cfg := config.IngestConfig{
		WorstAccuracyM:    1000,
		MinYear:           1700,
		ObscureBoxDegrees: 0.2,
		MetersPerDegLat:   111320,
		MetersPerDegLon:   111320,
	}
	return NewAdmitter(st, cfg, src, ds, idx)
}

func TestAdmit_RejectFossil(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	res, err := a.Admit(context.Background(), makeRow(map[string]string{"basisOfRecord": "FossilSpecimen"}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionRejectFossil, res.Action)
}

func TestAdmit_RejectNoCoordinates(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	for _, overrides := range []map[string]string{
		{"decimalLongitude": "-", "decimalLatitude": "-"},
		{"decimalLongitude": "not-a-number"},
	} {
		res, err := a.Admit(context.Background(), makeRow(overrides), nil)
		require.NoError(t, err)
		assert.Equal(t, occurrence.ActionRejectNoCoords, res.Action)
	}
}

func TestAdmit_RejectInaccurate(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	res, err := a.Admit(context.Background(), makeRow(map[string]string{"coordinateUncertaintyInMeters": "5000"}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionRejectInaccurate, res.Action)
}

func TestAdmit_ObscuredBypassesAccuracyThreshold(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	// An obscured record gets its accuracy estimated from the obscuring
	// box. The estimate far exceeds the threshold but the record is
	// still admitted.
	res, err := a.Admit(context.Background(), makeRow(map[string]string{
		"obscured":                      "true",
		"coordinateUncertaintyInMeters": "-",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionNew, res.Action)

	got, err := st.GetOccurrence(context.Background(), res.ID)
	require.NoError(t, err)
	assert.True(t, got.Obscured)
	require.NotNil(t, got.Accuracy)
	assert.Greater(t, *got.Accuracy, 1000.0)
}

func TestAdmit_ObscuredPrefersPrivateCoordinates(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	res, err := a.Admit(context.Background(), makeRow(map[string]string{
		"obscured":         "true",
		"privateLongitude": "-75.51",
		"privateLatitude":  "45.11",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionNew, res.Action)

	got, err := st.GetOccurrence(context.Background(), res.ID)
	require.NoError(t, err)
	assert.False(t, got.Obscured, "private coordinates are not obscured")
	assert.InDelta(t, -75.51, got.Longitude, 1e-9)
	assert.InDelta(t, 45.11, got.Latitude, 1e-9)
	require.NotNil(t, got.Accuracy)
	assert.Equal(t, 30.0, *got.Accuracy, "provider accuracy kept as supplied")
}

func TestAdmit_RejectNonResearch(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	res, err := a.Admit(context.Background(), makeRow(map[string]string{"qualityGrade": "casual"}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionRejectGrade, res.Action)

	list, err := st.ListOccurrences(context.Background(), store.OccurrenceFilter{IncludeExcluded: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAdmit_NewThenDuplicate(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)
	ctx := context.Background()

	res, err := a.Admit(ctx, makeRow(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionNew, res.Action)
	assert.True(t, res.HasDate)

	// Same record again within the same run hits the index entry the
	// first admission wrote.
	res2, err := a.Admit(ctx, makeRow(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionDuplicate, res2.Action)
	assert.Equal(t, res.ID, res2.ID)
}

func TestAdmit_UpdateOnMaterialChange(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)
	ctx := context.Background()

	res, err := a.Admit(ctx, makeRow(nil), nil)
	require.NoError(t, err)
	require.Equal(t, occurrence.ActionNew, res.Action)

	res2, err := a.Admit(ctx, makeRow(map[string]string{"coordinateUncertaintyInMeters": "15"}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionUpdated, res2.Action)
	assert.Equal(t, res.ID, res2.ID)

	got, err := st.GetOccurrence(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Accuracy)
	assert.Equal(t, 15.0, *got.Accuracy)
}

func TestAdmit_UpdateWhenPrivateCoordinatesArrive(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)
	ctx := context.Background()

	// First export only carries the obscured public point.
	res, err := a.Admit(ctx, makeRow(map[string]string{
		"obscured":                      "true",
		"coordinateUncertaintyInMeters": "-",
	}), nil)
	require.NoError(t, err)
	require.Equal(t, occurrence.ActionNew, res.Action)

	stored, err := st.GetOccurrence(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, stored.Obscured)
	staleGeom := stored.Geom

	// A later export includes the private coordinates for the same
	// observation. The record is updated in place, not re-inserted.
	res2, err := a.Admit(ctx, makeRow(map[string]string{
		"obscured":         "true",
		"privateLongitude": "-75.51",
		"privateLatitude":  "45.11",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionUpdated, res2.Action)
	assert.Equal(t, res.ID, res2.ID)

	got, err := st.GetOccurrence(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, got.Obscured)
	assert.InDelta(t, -75.51, got.Longitude, 1e-9)
	assert.InDelta(t, 45.11, got.Latitude, 1e-9)
	assert.NotEqual(t, staleGeom, got.Geom)

	// Re-importing the improved row changes nothing further.
	res3, err := a.Admit(ctx, makeRow(map[string]string{
		"obscured":         "true",
		"privateLongitude": "-75.51",
		"privateLatitude":  "45.11",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionDuplicate, res3.Action)
}

func TestAdmit_DowngradeDeletes(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)
	ctx := context.Background()

	res, err := a.Admit(ctx, makeRow(nil), nil)
	require.NoError(t, err)
	require.Equal(t, occurrence.ActionNew, res.Action)

	res2, err := a.Admit(ctx, makeRow(map[string]string{"qualityGrade": "needs_id"}), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionDeleted, res2.Action)
	assert.Equal(t, res.ID, res2.ID)

	_, err = st.GetOccurrence(ctx, res.ID)
	assert.Error(t, err)

	// The key is free again, so a later research-grade row re-imports.
	res3, err := a.Admit(ctx, makeRow(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, occurrence.ActionNew, res3.Action)
	assert.NotEqual(t, res.ID, res3.ID)
}

func TestAdmit_ShapeGeometryStoredWhole(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	shape := []byte{0xAA, 0xBB, 0xCC}
	res, err := a.Admit(context.Background(), makeRow(nil), shape)
	require.NoError(t, err)
	require.Equal(t, occurrence.ActionNew, res.Action)

	got, err := st.GetOccurrence(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, shape, got.Geom)
}

func TestAdmit_MissingUniqueID(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)

	_, err := a.Admit(context.Background(), makeRow(map[string]string{"occurrenceID": "-"}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no unique id")
}

func TestAdmit_NormalizesSpeciesName(t *testing.T) {
	st := newIngestStore(t)
	a := newTestAdmitter(t, st)
	ctx := context.Background()

	res, err := a.Admit(ctx, makeRow(map[string]string{"scientificName": "quercus  ALBA"}), nil)
	require.NoError(t, err)
	require.Equal(t, occurrence.ActionNew, res.Action)

	id, err := st.GetOrCreateSpecies(ctx, "Quercus alba")
	require.NoError(t, err)
	got, err := st.GetOccurrence(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, id, got.SpeciesID)
}

func TestIsResearchGrade_UnmappedColumn(t *testing.T) {
	fields := mapping.Fields{
		mapping.AttrUniqueID:  "id",
		mapping.AttrSpecies:   "name",
		mapping.AttrLongitude: "lon",
		mapping.AttrLatitude:  "lat",
	}
	row := mapping.NewRow(fields, []string{"id", "name", "lon", "lat"})
	row.Reset([]string{"1", "Quercus alba", "-75.5", "45.1"})
	assert.True(t, isResearchGrade(row), "sources without a grade column are research grade")
}
