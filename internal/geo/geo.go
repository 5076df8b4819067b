// Package geo maps coordinates to configured places.
package geo

import (
	"math"

	"github.com/smokelock/smokelock/internal/smokelock"
)

const earthRadiusMeters = 6_371_000

// Coord is a WGS84 coordinate in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Distance returns the great-circle distance in meters between two
// coordinates (haversine formula).
func Distance(a, b Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Resolve returns the first place in list order whose geofence contains
// the coordinate (distance <= radius, boundary inclusive). List order is
// significant configuration: with overlapping places, first wins, not
// nearest. Falls back to the reserved default place when nothing matches.
func Resolve(loc Coord, places []smokelock.Place) smokelock.Place {
	for _, p := range places {
		if Distance(loc, Coord{Lat: p.Latitude, Lon: p.Longitude}) <= p.RadiusMeters {
			return p
		}
	}
	return smokelock.DefaultPlace()
}

// ResolveUnknown handles the no-fix case (permission denied, no signal):
// always the default place.
func ResolveUnknown(places []smokelock.Place) smokelock.Place {
	return smokelock.DefaultPlace()
}
