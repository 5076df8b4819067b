// Package store handles SQLite persistence for lock state, places,
// per-place increments, remote-write credentials, and the event log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smokelock/smokelock/internal/smokelock"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// LockState reads the single persisted lock state row.
func (s *Store) LockState(ctx context.Context) (smokelock.LockState, error) {
	var st smokelock.LockState
	var locked int
	err := s.db.QueryRowContext(ctx, `
		SELECT is_locked, lock_end_timestamp, current_place_id
		FROM lock_state WHERE id = 1
	`).Scan(&locked, &st.EndTimestampMS, &st.PlaceID)
	if err != nil {
		return st, fmt.Errorf("reading lock state: %w", err)
	}
	st.Locked = locked == 1
	return st, nil
}

// SaveLockState overwrites the persisted lock state.
func (s *Store) SaveLockState(ctx context.Context, st smokelock.LockState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE lock_state
		SET is_locked = ?, lock_end_timestamp = ?, current_place_id = ?
		WHERE id = 1
	`, boolToInt(st.Locked), st.EndTimestampMS, st.PlaceID)
	return err
}

// ApplyLock commits a lock transition atomically: the new lock state and
// the place's increment bumped by one. The increment must be observable
// together with the state, never separately.
func (s *Store) ApplyLock(ctx context.Context, st smokelock.LockState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE lock_state
		SET is_locked = ?, lock_end_timestamp = ?, current_place_id = ?
		WHERE id = 1
	`, boolToInt(st.Locked), st.EndTimestampMS, st.PlaceID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO increments (place_id, value) VALUES (?, 1)
		ON CONFLICT(place_id) DO UPDATE SET value = value + 1
	`, st.PlaceID); err != nil {
		return err
	}

	return tx.Commit()
}

// AdoptLock commits a lock state pulled in from the remote store together
// with the remotely derived increment value.
func (s *Store) AdoptLock(ctx context.Context, st smokelock.LockState, increment int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE lock_state
		SET is_locked = ?, lock_end_timestamp = ?, current_place_id = ?
		WHERE id = 1
	`, boolToInt(st.Locked), st.EndTimestampMS, st.PlaceID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO increments (place_id, value) VALUES (?, ?)
		ON CONFLICT(place_id) DO UPDATE SET value = excluded.value
	`, st.PlaceID, increment); err != nil {
		return err
	}

	return tx.Commit()
}

// Increment returns the place's lock counter, zero if never locked.
func (s *Store) Increment(ctx context.Context, placeID string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM increments WHERE place_id = ?`, placeID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// ResetIncrement zeroes the place's lock counter.
func (s *Store) ResetIncrement(ctx context.Context, placeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM increments WHERE place_id = ?`, placeID)
	return err
}

// ResetEverything returns the daemon to first-run state: unlocked, all
// increments cleared. The event log is history and survives a reset.
func (s *Store) ResetEverything(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE lock_state SET is_locked = 0, lock_end_timestamp = 0, current_place_id = ''
		WHERE id = 1
	`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM increments`); err != nil {
		return err
	}

	return tx.Commit()
}

// ListPlaces returns configured places in their stored order. Order is
// significant: the resolver's first-match policy depends on it.
func (s *Store) ListPlaces(ctx context.Context) ([]smokelock.Place, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, latitude, longitude, radius_meters, base_duration_minutes, increment_step_seconds
		FROM places
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var places []smokelock.Place
	for rows.Next() {
		var p smokelock.Place
		if err := rows.Scan(&p.ID, &p.Latitude, &p.Longitude, &p.RadiusMeters,
			&p.BaseDurationMinutes, &p.IncrementStepSeconds); err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	return places, rows.Err()
}

// GetPlace looks up a configured place by id. The reserved default place
// is implicit and never stored.
func (s *Store) GetPlace(ctx context.Context, id string) (smokelock.Place, error) {
	if id == smokelock.DefaultPlaceID {
		return smokelock.DefaultPlace(), nil
	}
	var p smokelock.Place
	err := s.db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, radius_meters, base_duration_minutes, increment_step_seconds
		FROM places WHERE id = ?
	`, id).Scan(&p.ID, &p.Latitude, &p.Longitude, &p.RadiusMeters,
		&p.BaseDurationMinutes, &p.IncrementStepSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// SavePlace inserts a place at the end of the list, or updates it in
// place keeping its position.
func (s *Store) SavePlace(ctx context.Context, p smokelock.Place) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO places (id, latitude, longitude, radius_meters, base_duration_minutes, increment_step_seconds, position)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM places))
		ON CONFLICT(id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			radius_meters = excluded.radius_meters,
			base_duration_minutes = excluded.base_duration_minutes,
			increment_step_seconds = excluded.increment_step_seconds
	`, p.ID, p.Latitude, p.Longitude, p.RadiusMeters, p.BaseDurationMinutes, p.IncrementStepSeconds)
	return err
}

func (s *Store) DeletePlace(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM places WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Credential returns the cached admin key for a remote counter key.
func (s *Store) Credential(ctx context.Context, key string) (string, error) {
	var adminKey string
	err := s.db.QueryRowContext(ctx,
		`SELECT admin_key FROM credentials WHERE key = ?`, key).Scan(&adminKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return adminKey, err
}

func (s *Store) PutCredential(ctx context.Context, key, adminKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (key, admin_key) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET admin_key = excluded.admin_key
	`, key, adminKey)
	return err
}

func (s *Store) DeleteCredential(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key)
	return err
}

// AppendEvent records a smoke event and trims the log to maxEvents,
// discarding the oldest rows.
func (s *Store) AppendEvent(ctx context.Context, ev smokelock.SmokeEvent, maxEvents int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (timestamp, place_id, place_name) VALUES (?, ?, ?)
	`, ev.Timestamp.UnixMilli(), ev.PlaceID, ev.PlaceName); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY id DESC LIMIT ?
		)
	`, maxEvents); err != nil {
		return err
	}

	return tx.Commit()
}

// ListEvents returns all recorded events, oldest first.
func (s *Store) ListEvents(ctx context.Context) ([]smokelock.SmokeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, place_id, place_name FROM events ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []smokelock.SmokeEvent
	for rows.Next() {
		var ev smokelock.SmokeEvent
		var ts int64
		if err := rows.Scan(&ts, &ev.PlaceID, &ev.PlaceName); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
