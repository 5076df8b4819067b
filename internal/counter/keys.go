package counter

// Logical key names under the shared namespace. The desktop status-bar
// script reads the same keys, so the encoding is bit-exact interop:
// every key is "{placeID}_{logicalKey}".
const (
	KeyIsLocked         = "is_locked"
	KeyLockEndTimestamp = "lock_end_timestamp" // epoch milliseconds
	KeyIncrement        = "increment"

	KeyBaseDuration  = "base_duration_minutes"
	KeyIncrementStep = "increment_step_seconds"
)

// Key builds the namespaced counter key for a place.
func Key(placeID, logical string) string {
	return placeID + "_" + logical
}

// HitKey is the fire-and-forget lock counter for a place.
func HitKey(placeID string) string {
	return placeID + "_locks"
}

// configKeys returns the config key variants for a logical config name,
// newest schema first. Older suffixes stay readable so previously stored
// data keeps working.
func configKeys(placeID, logical string) []string {
	return []string{
		Key(placeID, logical+"_config_v2"),
		Key(placeID, logical+"_config"),
		Key(placeID, logical),
	}
}
