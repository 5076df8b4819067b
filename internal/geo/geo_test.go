package geo

import (
	"math"
	"testing"

	"github.com/smokelock/smokelock/internal/smokelock"
)

func TestDistanceZero(t *testing.T) {
	c := Coord{Lat: 52.52, Lon: 13.405}
	if d := Distance(c, c); d != 0 {
		t.Errorf("expected zero distance, got %f", d)
	}
}

func TestDistanceKnown(t *testing.T) {
	// Berlin -> Hamburg, roughly 255 km.
	berlin := Coord{Lat: 52.52, Lon: 13.405}
	hamburg := Coord{Lat: 53.5511, Lon: 9.9937}

	d := Distance(berlin, hamburg)
	if d < 250_000 || d > 260_000 {
		t.Errorf("expected ~255km, got %f m", d)
	}
	// Symmetry.
	if back := Distance(hamburg, berlin); math.Abs(back-d) > 1e-6 {
		t.Errorf("distance not symmetric: %f vs %f", d, back)
	}
}

func TestResolveAtCenter(t *testing.T) {
	home := smokelock.Place{ID: "Home", Latitude: 52.52, Longitude: 13.405, RadiusMeters: 100}

	got := Resolve(Coord{Lat: 52.52, Lon: 13.405}, []smokelock.Place{home})
	if got.ID != "Home" {
		t.Errorf("expected Home, got %q", got.ID)
	}
}

func TestResolveBoundaryInclusive(t *testing.T) {
	center := Coord{Lat: 52.52, Lon: 13.405}
	// A point ~100 m east of center: 1 degree of longitude at this
	// latitude is about 67.8 km.
	point := Coord{Lat: 52.52, Lon: 13.405 + 100.0/67_800}
	radius := Distance(center, point)

	inside := smokelock.Place{ID: "Edge", Latitude: center.Lat, Longitude: center.Lon, RadiusMeters: radius}
	if got := Resolve(point, []smokelock.Place{inside}); got.ID != "Edge" {
		t.Errorf("boundary should be inclusive, got %q", got.ID)
	}

	// One meter beyond the radius no longer matches.
	outside := inside
	outside.RadiusMeters = radius - 1
	if got := Resolve(point, []smokelock.Place{outside}); got.ID != smokelock.DefaultPlaceID {
		t.Errorf("expected default beyond radius, got %q", got.ID)
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	point := Coord{Lat: 52.52, Lon: 13.405}
	// far is listed first with a huge radius; near is closer but second.
	far := smokelock.Place{ID: "Far", Latitude: 53.0, Longitude: 13.405, RadiusMeters: 100_000}
	near := smokelock.Place{ID: "Near", Latitude: 52.52, Longitude: 13.405, RadiusMeters: 100}

	got := Resolve(point, []smokelock.Place{far, near})
	if got.ID != "Far" {
		t.Errorf("expected first-in-list Far, got %q", got.ID)
	}
}

func TestResolveNoMatchReturnsDefault(t *testing.T) {
	home := smokelock.Place{ID: "Home", Latitude: 52.52, Longitude: 13.405, RadiusMeters: 50}

	got := Resolve(Coord{Lat: 48.8566, Lon: 2.3522}, []smokelock.Place{home})
	if got.ID != smokelock.DefaultPlaceID {
		t.Errorf("expected default place, got %q", got.ID)
	}
	if !math.IsInf(got.RadiusMeters, 1) {
		t.Errorf("default place radius must be +Inf, got %f", got.RadiusMeters)
	}
}

func TestResolveUnknown(t *testing.T) {
	home := smokelock.Place{ID: "Home", Latitude: 52.52, Longitude: 13.405, RadiusMeters: 50}
	if got := ResolveUnknown([]smokelock.Place{home}); got.ID != smokelock.DefaultPlaceID {
		t.Errorf("expected default place, got %q", got.ID)
	}
}
