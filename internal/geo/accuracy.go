package geo

import "math"

// ObscureBox holds the constants of the provider privacy-obscuring
// convention: public coordinates of sensitive records are randomized within
// a fixed-size degree box. All three values come from configuration.
type ObscureBox struct {
	Degrees         float64 // box edge length in degrees
	MetersPerDegLat float64
	MetersPerDegLon float64 // at the equator; scaled by cos(lat)
}

// ObscuredAccuracy estimates positional accuracy in meters for a record whose
// public coordinates were degraded to a Degrees-square box. The estimate is
// the half-diagonal of the box at the record's latitude: the farthest the
// true location can be from the published point.
func (b ObscureBox) ObscuredAccuracy(lat float64) float64 {
	h := b.Degrees * b.MetersPerDegLat
	w := b.Degrees * b.MetersPerDegLon * math.Cos(lat*math.Pi/180)
	return math.Sqrt(h*h+w*w) / 2
}
