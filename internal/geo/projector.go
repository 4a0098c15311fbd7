// Package geo holds the narrow geometry surface the reconciliation core
// needs: building normalized point/line/polygon geometries as EWKB, a
// projection seam, and the obscured-coordinate accuracy estimate. All
// geometric comparison elsewhere is byte equality of normalized EWKB.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID of the normalized projection all stored geometries use.
const SRID = 4326

// Projector normalizes source coordinates into the storage projection.
// Implementations wrapping a full reprojection engine live outside this
// module; the shipped WGS84 projector covers feeds already in lon/lat.
type Projector interface {
	Project(lon, lat float64) (x, y float64, err error)
}

// WGS84 is a pass-through projector that validates and normalizes lon/lat.
type WGS84 struct{}

// Project validates the pair and wraps longitudes into [-180, 180].
func (WGS84) Project(lon, lat float64) (float64, float64, error) {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return 0, 0, eris.New("geo: NaN coordinate")
	}
	if lat < -90 || lat > 90 {
		return 0, 0, eris.Errorf("geo: latitude %v out of range", lat)
	}
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon, lat, nil
}

// PointWKB builds a normalized point geometry as EWKB.
func PointWKB(lon, lat float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}

// Centroid decodes an EWKB geometry and returns a representative lon/lat:
// the point itself for points, the bounds center otherwise.
func Centroid(data []byte) (lon, lat float64, err error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geo: decode geometry")
	}
	if p, ok := g.(*geom.Point); ok {
		return p.X(), p.Y(), nil
	}
	b := g.Bounds()
	return (b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2, nil
}
