package occurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaterialDiff_NoChange(t *testing.T) {
	acc := 25.0
	o := &Occurrence{
		Geom:     []byte{1, 2, 3},
		Accuracy: &acc,
		Obscured: true,
	}
	upd := Update{
		Geom:     []byte{1, 2, 3},
		Accuracy: &acc,
		Obscured: true,
	}
	assert.False(t, o.MaterialDiff(upd))
}

func TestMaterialDiff_ObscuredCleared(t *testing.T) {
	o := &Occurrence{Geom: []byte{1}, Obscured: true}
	upd := Update{Geom: []byte{1}, Obscured: false}
	assert.True(t, o.MaterialDiff(upd))
}

func TestMaterialDiff_GeometryChanged(t *testing.T) {
	o := &Occurrence{Geom: []byte{1, 2, 3}}
	upd := Update{Geom: []byte{1, 2, 4}}
	assert.True(t, o.MaterialDiff(upd))
}

func TestMaterialDiff_AccuracyChanged(t *testing.T) {
	a, b := 25.0, 50.0
	o := &Occurrence{Geom: []byte{1}, Accuracy: &a}

	assert.True(t, o.MaterialDiff(Update{Geom: []byte{1}, Accuracy: &b}))
	assert.True(t, o.MaterialDiff(Update{Geom: []byte{1}, Accuracy: nil}))
	assert.False(t, o.MaterialDiff(Update{Geom: []byte{1}, Accuracy: &a}))
}

func TestMaterialDiff_DatesDoNotTrigger(t *testing.T) {
	// Dates ride along on updates but do not by themselves make a re-import
	// material.
	d := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	o := &Occurrence{Geom: []byte{1}}
	upd := Update{Geom: []byte{1}, MinDate: &d, MaxDate: &d}
	assert.False(t, o.MaterialDiff(upd))
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Quercus alba", "Quercus alba"},
		{"quercus  ALBA", "Quercus alba"},
		{"  Quercus   alba  ", "Quercus alba"},
		{"QUERCUS", "Quercus"},
		{"", ""},
		{"Aquila chrysaetos Canadensis", "Aquila chrysaetos canadensis"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}
