package migrations_test

import (
	"context"
	"testing"

	"github.com/smokelock/smokelock/internal/database"
	"github.com/smokelock/smokelock/internal/migrations"
)

func TestMigrations(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	// Verify all tables exist by querying sqlite_master.
	want := []string{"lock_state", "places", "increments", "credentials", "events"}

	for _, table := range want {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}

	// The single lock_state row is seeded unlocked.
	var locked int
	if err := db.QueryRow("SELECT is_locked FROM lock_state WHERE id = 1").Scan(&locked); err != nil {
		t.Fatalf("reading lock_state: %v", err)
	}
	if locked != 0 {
		t.Errorf("expected initial state unlocked, got %d", locked)
	}

	// Running again is a no-op.
	if err := migrations.Run(db); err != nil {
		t.Fatalf("re-running migrations: %v", err)
	}
}
