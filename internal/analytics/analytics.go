// Package analytics derives smoking statistics from the recorded event
// log. Everything is computed on demand with one pass over the events;
// nothing is precomputed or cached.
package analytics

import (
	"time"

	"github.com/smokelock/smokelock/internal/smokelock"
)

// Bucket aggregates events falling into one hour-of-day or day-of-week
// slot. AvgGapMS is nil when no gap starts in the slot.
type Bucket struct {
	Count    int    `json:"count"`
	AvgGapMS *int64 `json:"avgGapMs"`

	gapSum   int64
	gapCount int64
}

// Stats is the full statistics snapshot.
type Stats struct {
	TotalEvents  int            `json:"totalEvents"`
	SinceLastMS  int64          `json:"sinceLastMs"`
	CurrentGapMS int64          `json:"currentGapMs"`
	LongestGapMS int64          `json:"longestGapMs"`
	ByHour       [24]Bucket     `json:"byHour"`
	ByWeekday    [7]Bucket      `json:"byWeekday"` // 0 = Sunday
	ByPlace      map[string]int `json:"byPlace"`
}

// Compute aggregates events (oldest first) as of now. Bucketing uses
// the given timezone; a gap between two events is attributed to the
// earlier event's hour and weekday, where the gap began.
func Compute(events []smokelock.SmokeEvent, now time.Time, loc *time.Location) Stats {
	st := Stats{TotalEvents: len(events), ByPlace: make(map[string]int)}
	if len(events) == 0 {
		return st
	}

	for i, ev := range events {
		name := ev.PlaceName
		if name == "" {
			name = ev.PlaceID
		}
		st.ByPlace[name]++

		local := ev.Timestamp.In(loc)
		st.ByHour[local.Hour()].Count++
		st.ByWeekday[local.Weekday()].Count++

		if i+1 < len(events) {
			gap := events[i+1].Timestamp.Sub(ev.Timestamp).Milliseconds()
			if gap < 0 {
				gap = 0
			}
			st.ByHour[local.Hour()].addGap(gap)
			st.ByWeekday[local.Weekday()].addGap(gap)
			if gap > st.LongestGapMS {
				st.LongestGapMS = gap
			}
		}
	}

	current := now.Sub(events[len(events)-1].Timestamp).Milliseconds()
	if current < 0 {
		current = 0
	}
	st.SinceLastMS = current
	st.CurrentGapMS = current
	if current > st.LongestGapMS {
		st.LongestGapMS = current
	}

	for i := range st.ByHour {
		st.ByHour[i].finish()
	}
	for i := range st.ByWeekday {
		st.ByWeekday[i].finish()
	}
	return st
}

func (b *Bucket) addGap(ms int64) {
	b.gapSum += ms
	b.gapCount++
}

func (b *Bucket) finish() {
	if b.gapCount == 0 {
		return
	}
	avg := b.gapSum / b.gapCount
	b.AvgGapMS = &avg
}
