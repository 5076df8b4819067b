package engine

import (
	"sync"
	"time"
)

// Alarm schedules a single pending wake-up callback. Scheduling replaces
// any pending alarm; there is at most one, mirroring the single OS alarm
// slot the lock owns.
type Alarm interface {
	Schedule(at time.Time, fn func())
	Cancel()
}

type timerAlarm struct {
	mu    sync.Mutex
	timer *time.Timer
}

// NewAlarm returns a timer-backed Alarm.
func NewAlarm() Alarm {
	return &timerAlarm{}
}

func (a *timerAlarm) Schedule(at time.Time, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	a.timer = time.AfterFunc(d, fn)
}

func (a *timerAlarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
