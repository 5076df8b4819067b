// Package engine owns the lock state machine: duration computation,
// local persistence, the unlock alarm, and best-effort reconciliation
// with the remote counter store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smokelock/smokelock/internal/counter"
	"github.com/smokelock/smokelock/internal/geo"
	"github.com/smokelock/smokelock/internal/smokelock"
	"github.com/smokelock/smokelock/internal/store"
)

// ErrAlreadyLocked is returned by Lock while a lock is still running.
var ErrAlreadyLocked = errors.New("already locked")

const (
	defaultGracePeriod = 15 * time.Second
	defaultMaxEvents   = 2000
	mirrorTimeout      = 30 * time.Second
)

// Config assembles an Engine. Zero values get the recommended defaults.
type Config struct {
	Store       *store.Store
	Counter     *counter.Client
	Logger      *slog.Logger
	Alarm       Alarm
	GracePeriod time.Duration
	MaxEvents   int
	Now         func() time.Time
}

// State is the engine's observable snapshot.
type State struct {
	Locked         bool   `json:"locked"`
	EndTimestampMS int64  `json:"endTimestampMs"`
	PlaceID        string `json:"placeId,omitempty"`
	Increment      int64  `json:"increment"`
	RemainingMS    int64  `json:"remainingMs"`
	Remaining      string `json:"remaining"`
	Notice         string `json:"notice,omitempty"`
}

// LockResult reports a successful lock transition.
type LockResult struct {
	Place          smokelock.Place `json:"place"`
	DurationMS     int64           `json:"durationMs"`
	EndTimestampMS int64           `json:"endTimestampMs"`
}

// Engine serializes all state transitions behind one mutex. Remote
// mirrors run on an engine-owned background context so an in-flight sync
// outlives the request that triggered it.
type Engine struct {
	store   *store.Store
	counter *counter.Client
	logger  *slog.Logger
	alarm   Alarm
	broker  *Broker
	grace   time.Duration
	maxEv   int
	now     func() time.Time

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	lastLocalLock time.Time
	notice        string
}

func New(cfg Config) *Engine {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Alarm == nil {
		cfg.Alarm = NewAlarm()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   cfg.Store,
		counter: cfg.Counter,
		logger:  cfg.Logger,
		alarm:   cfg.Alarm,
		broker:  NewBroker(),
		grace:   cfg.GracePeriod,
		maxEv:   cfg.MaxEvents,
		now:     cfg.Now,
		bg:      bg,
		cancel:  cancel,
	}
}

// Close cancels the pending alarm and waits for in-flight mirrors.
func (e *Engine) Close() {
	e.alarm.Cancel()
	e.cancel()
	e.wg.Wait()
}

// Subscribe returns a channel of JSON state events. Callers must
// Unsubscribe when done.
func (e *Engine) Subscribe() chan []byte { return e.broker.Subscribe() }

func (e *Engine) Unsubscribe(ch chan []byte) { e.broker.Unsubscribe(ch) }

// Restore reschedules the unlock alarm after a restart, self-healing a
// lock that expired while the process was down.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.LockState(ctx)
	if err != nil {
		return err
	}
	if !st.Locked {
		return nil
	}
	if st.Remaining(e.now()) <= 0 {
		e.logger.Warn("lock expired while down, unlocking", "place", st.PlaceID)
		return e.unlockLocked(ctx, st)
	}
	end := time.UnixMilli(st.EndTimestampMS)
	e.alarm.Schedule(end, e.onAlarm)
	e.logger.Info("restored pending lock", "place", st.PlaceID, "end", end)
	return nil
}

// Lock transitions Unlocked -> Locked. The place is resolved from the
// caller's coordinate (nil = no fix, default place), the duration from
// remote config with the place's stored values as fallback. The local
// write is committed and observable before Lock returns; the remote
// mirror is fire-and-forget.
func (e *Engine) Lock(ctx context.Context, loc *geo.Coord) (LockResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.LockState(ctx)
	if err != nil {
		return LockResult{}, err
	}
	if st.Locked {
		if st.EndTimestampMS > 0 && st.Remaining(e.now()) > 0 {
			return LockResult{}, ErrAlreadyLocked
		}
		// Expired lock, or locked with a zero timestamp. The latter is
		// an invariant violation; both self-heal to unlocked here.
		e.logger.Warn("self-healing stale lock", "place", st.PlaceID, "end", st.EndTimestampMS)
		if err := e.unlockLocked(ctx, st); err != nil {
			return LockResult{}, err
		}
	}

	places, err := e.store.ListPlaces(ctx)
	if err != nil {
		return LockResult{}, err
	}
	var place smokelock.Place
	if loc == nil {
		place = geo.ResolveUnknown(places)
	} else {
		place = geo.Resolve(*loc, places)
	}

	base, step := e.durationConfig(ctx, place)
	increment, err := e.store.Increment(ctx, place.ID)
	if err != nil {
		return LockResult{}, err
	}

	cfg := place
	cfg.BaseDurationMinutes = base
	cfg.IncrementStepSeconds = step
	duration := smokelock.LockDuration(cfg, increment)

	now := e.now()
	end := now.Add(duration)
	newSt := smokelock.LockState{Locked: true, EndTimestampMS: end.UnixMilli(), PlaceID: place.ID}
	if err := e.store.ApplyLock(ctx, newSt); err != nil {
		return LockResult{}, fmt.Errorf("persisting lock: %w", err)
	}
	e.lastLocalLock = now

	e.alarm.Schedule(end, e.onAlarm)

	ev := smokelock.SmokeEvent{Timestamp: now, PlaceID: place.ID, PlaceName: place.ID}
	if err := e.store.AppendEvent(ctx, ev, e.maxEv); err != nil {
		e.logger.Warn("recording event failed", "error", err)
	}

	e.mirror(newSt, increment+1, true)
	e.publish(newSt)

	e.logger.Info("locked", "place", place.ID, "duration", FormatDuration(duration), "increment", increment)
	return LockResult{Place: place, DurationMS: duration.Milliseconds(), EndTimestampMS: end.UnixMilli()}, nil
}

// durationConfig prefers remote config (cache-first) and falls back to
// the place's locally stored values, so a lock never blocks on network
// availability. Falling back raises the transient notice.
func (e *Engine) durationConfig(ctx context.Context, place smokelock.Place) (base, step int64) {
	base, baseOK := e.counter.GetConfig(ctx, place.ID, counter.KeyBaseDuration)
	step, stepOK := e.counter.GetConfig(ctx, place.ID, counter.KeyIncrementStep)
	if !baseOK {
		base = place.BaseDurationMinutes
	}
	if !stepOK {
		step = place.IncrementStepSeconds
	}
	if !baseOK || !stepOK {
		e.notice = "remote configuration unreachable, using local defaults"
		e.logger.Warn("remote config unavailable", "place", place.ID)
	}
	return base, step
}

// Unlock transitions to Unlocked. Idempotent: unlocking twice leaves the
// same cleared state.
func (e *Engine) Unlock(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.LockState(ctx)
	if err != nil {
		return err
	}
	return e.unlockLocked(ctx, st)
}

// unlockLocked clears the state. Caller holds e.mu.
func (e *Engine) unlockLocked(ctx context.Context, st smokelock.LockState) error {
	newSt := smokelock.LockState{Locked: false, EndTimestampMS: 0, PlaceID: st.PlaceID}
	if err := e.store.SaveLockState(ctx, newSt); err != nil {
		return fmt.Errorf("persisting unlock: %w", err)
	}
	e.alarm.Cancel()
	e.mirror(newSt, -1, false)
	e.publish(newSt)
	e.logger.Info("unlocked", "place", st.PlaceID)
	return nil
}

// onAlarm is the scheduled unlock callback.
func (e *Engine) onAlarm() {
	if err := e.Unlock(e.bg); err != nil {
		e.logger.Error("alarm unlock failed", "error", err)
	}
}

// State returns the current snapshot, self-healing an expired or
// timestamp-less lock before reporting.
func (e *Engine) State(ctx context.Context) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.LockState(ctx)
	if err != nil {
		return State{}, err
	}
	if st.Locked && st.Remaining(e.now()) <= 0 {
		if err := e.unlockLocked(ctx, st); err != nil {
			return State{}, err
		}
		st = smokelock.LockState{PlaceID: st.PlaceID}
	}

	increment := int64(0)
	if st.PlaceID != "" {
		if increment, err = e.store.Increment(ctx, st.PlaceID); err != nil {
			return State{}, err
		}
	}

	rem := st.Remaining(e.now())
	return State{
		Locked:         st.Locked,
		EndTimestampMS: st.EndTimestampMS,
		PlaceID:        st.PlaceID,
		Increment:      increment,
		RemainingMS:    rem.Milliseconds(),
		Remaining:      FormatDuration(rem),
		Notice:         e.notice,
	}, nil
}

// SyncFromRemote reconciles with the remote store. While Unlocked it
// adopts an externally initiated lock with a future timestamp. While
// Locked it only tracks extensions (a different future timestamp); a
// remote unlock is never pulled in — local expiry is the sole authority
// for leaving Locked. A grace period after a local lock suppresses all
// inbound reconciliation so a not-yet-propagated mirror isn't misread.
func (e *Engine) SyncFromRemote(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.LockState(ctx)
	if err != nil {
		return err
	}
	if st.Locked && e.now().Sub(e.lastLocalLock) < e.grace {
		return nil
	}

	placeID := st.PlaceID
	if placeID == "" {
		placeID = smokelock.DefaultPlaceID
	}

	remoteLocked, ok1 := e.counter.Get(ctx, counter.Key(placeID, counter.KeyIsLocked))
	remoteEnd, ok2 := e.counter.Get(ctx, counter.Key(placeID, counter.KeyLockEndTimestamp))
	if !ok1 || !ok2 {
		e.notice = "remote state unreachable"
		return nil
	}
	e.notice = ""

	now := e.now()
	future := remoteLocked == 1 && remoteEnd > now.UnixMilli()

	switch {
	case !st.Locked && future:
		increment, ok := e.counter.Get(ctx, counter.Key(placeID, counter.KeyIncrement))
		if !ok {
			increment = 0
		}
		adopted := smokelock.LockState{Locked: true, EndTimestampMS: remoteEnd, PlaceID: placeID}
		if err := e.store.AdoptLock(ctx, adopted, increment); err != nil {
			return fmt.Errorf("adopting remote lock: %w", err)
		}
		e.alarm.Schedule(time.UnixMilli(remoteEnd), e.onAlarm)
		e.publish(adopted)
		e.logger.Info("adopted remote lock", "place", placeID, "end", remoteEnd, "increment", increment)

	case st.Locked && future && remoteEnd != st.EndTimestampMS:
		extended := smokelock.LockState{Locked: true, EndTimestampMS: remoteEnd, PlaceID: placeID}
		if err := e.store.SaveLockState(ctx, extended); err != nil {
			return fmt.Errorf("adopting remote extension: %w", err)
		}
		e.alarm.Schedule(time.UnixMilli(remoteEnd), e.onAlarm)
		e.publish(extended)
		e.logger.Info("adopted remote extension", "place", placeID, "end", remoteEnd)
	}
	return nil
}

// ResetIncrement zeroes one place's counter, locally and (best effort)
// remotely.
func (e *Engine) ResetIncrement(ctx context.Context, placeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.ResetIncrement(ctx, placeID); err != nil {
		return err
	}
	e.spawn(func(ctx context.Context) {
		if err := e.counter.Set(ctx, counter.Key(placeID, counter.KeyIncrement), 0); err != nil {
			e.logger.Warn("mirroring increment reset failed", "place", placeID, "error", err)
		}
	})
	return nil
}

// ResetEverything returns to first-run state.
func (e *Engine) ResetEverything(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.ResetEverything(ctx); err != nil {
		return err
	}
	e.alarm.Cancel()
	e.publish(smokelock.LockState{})
	return nil
}

// mirror pushes the new state to the remote store without blocking the
// caller and without affecting its result: failures are logged, raise
// the notice, and are otherwise swallowed. increment < 0 means "leave
// the remote increment alone".
func (e *Engine) mirror(st smokelock.LockState, increment int64, hit bool) {
	e.spawn(func(ctx context.Context) {
		locked := int64(0)
		if st.Locked {
			locked = 1
		}

		var failed bool
		if err := e.counter.Set(ctx, counter.Key(st.PlaceID, counter.KeyIsLocked), locked); err != nil {
			failed = true
		}
		if err := e.counter.Set(ctx, counter.Key(st.PlaceID, counter.KeyLockEndTimestamp), st.EndTimestampMS); err != nil {
			failed = true
		}
		if increment >= 0 {
			if err := e.counter.Set(ctx, counter.Key(st.PlaceID, counter.KeyIncrement), increment); err != nil {
				failed = true
			}
		}
		if hit {
			e.counter.TrackHit(ctx, counter.HitKey(st.PlaceID))
		}

		e.mu.Lock()
		if failed {
			e.notice = "state sync to remote failed"
			e.logger.Warn("remote mirror incomplete", "place", st.PlaceID)
		} else {
			e.notice = ""
		}
		e.mu.Unlock()
	})
}

// spawn runs fn on the engine's background context. Deliberately not
// tied to any request context: closing a screen must not cancel an
// in-flight sync.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.bg, mirrorTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *Engine) publish(st smokelock.LockState) {
	e.broker.Publish(StateEvent{
		Type:           "state",
		Locked:         st.Locked,
		EndTimestampMS: st.EndTimestampMS,
		PlaceID:        st.PlaceID,
		RemainingMS:    st.Remaining(e.now()).Milliseconds(),
	})
}
