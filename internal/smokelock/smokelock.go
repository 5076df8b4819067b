// Package smokelock defines the core domain types.
// It has zero external dependencies — everything here is pure Go.
package smokelock

import (
	"encoding/json"
	"math"
	"time"
)

// DefaultPlaceID is the reserved id of the location-independent place.
// It always exists and always matches when no configured place contains
// the current coordinate.
const DefaultPlaceID = "DEFAULT"

// Place is a named geofence with timer configuration. The display name
// doubles as the identifying key, uniformly, including in remote counter
// key names.
type Place struct {
	ID                   string  `json:"id"`
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
	RadiusMeters         float64 `json:"radiusMeters"`
	BaseDurationMinutes  int64   `json:"baseDurationMinutes"`
	IncrementStepSeconds int64   `json:"incrementStepSeconds"`
}

// DefaultPlace returns the reserved catch-all place. Its infinite radius
// guarantees it matches any coordinate.
func DefaultPlace() Place {
	return Place{
		ID:                   DefaultPlaceID,
		RadiusMeters:         math.Inf(1),
		BaseDurationMinutes:  40,
		IncrementStepSeconds: 1,
	}
}

// MarshalJSON renders the default place's infinite radius as null,
// since JSON has no representation for +Inf.
func (p Place) MarshalJSON() ([]byte, error) {
	type place Place
	if !math.IsInf(p.RadiusMeters, 1) {
		return json.Marshal(place(p))
	}
	return json.Marshal(struct {
		place
		RadiusMeters any `json:"radiusMeters"`
	}{place: place(p)})
}

// LockState is the process-wide persisted lock state, single instance.
// Locked with EndTimestampMS == 0 is an invariant violation that readers
// self-heal by unlocking.
type LockState struct {
	Locked         bool   `json:"locked"`
	EndTimestampMS int64  `json:"endTimestampMs"`
	PlaceID        string `json:"placeId"`
}

// Remaining returns the time left until the lock expires, clamped at zero.
func (s LockState) Remaining(now time.Time) time.Duration {
	if !s.Locked {
		return 0
	}
	rem := time.Duration(s.EndTimestampMS-now.UnixMilli()) * time.Millisecond
	if rem < 0 {
		return 0
	}
	return rem
}

// LockDuration computes the lock duration for a place at a given increment.
// The increment is the pre-lock counter value: the first lock of a place
// (increment 0) uses the pure base duration.
func LockDuration(p Place, increment int64) time.Duration {
	ms := p.BaseDurationMinutes*60_000 + increment*p.IncrementStepSeconds*1_000
	return time.Duration(ms) * time.Millisecond
}

// SmokeEvent is an immutable analytics record appended on every
// successful lock.
type SmokeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	PlaceID   string    `json:"placeId"`
	PlaceName string    `json:"placeName"`
}
