package engine

import (
	"fmt"
	"time"
)

// FormatDuration renders a remaining duration as "Xm Ys" or "Xs" for
// sub-minute values. Truncates, never rounds; durations are bounded to
// tens of minutes so hours are not shown.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}
