package anchor

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/astromechza/geochat/pkg/position"
)

// MatchRadius is the distance in meters below which a new message merges into
// an existing anchor instead of creating a new one. The comparison is strict:
// an anchor at exactly this distance does not match.
const MatchRadius = 10.0

// earthRadiusMeters is the mean earth radius used to convert great-circle
// angles to meters.
const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between two
// latitude/longitude pairs.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * earthRadiusMeters
}

// Nearest returns the anchor closest to the given fix among those strictly
// within MatchRadius. When two anchors are equally close the one with the
// smaller ID wins, so the result does not depend on map iteration order.
// The second return is false when no anchor qualifies.
func Nearest(fix position.Fix, anchors map[string]Anchor) (Anchor, bool) {
	var best Anchor
	bestDistance := math.Inf(1)
	found := false
	for id, a := range anchors {
		d := Distance(fix.Latitude, fix.Longitude, a.Latitude, a.Longitude)
		if d >= MatchRadius {
			continue
		}
		if !found || d < bestDistance || (d == bestDistance && id < best.ID) {
			best = a
			bestDistance = d
			found = true
		}
	}
	return best, found
}
