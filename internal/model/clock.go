package model

import "time"

// Normalize strips monotonic and zone information from t, returning the
// same wall-clock instant expressed as naive local time. Every datetime
// stored or compared in this system must pass through Normalize first;
// mixing a time.Time that still carries a non-local Location with one
// that doesn't produces comparisons that silently disagree across DST
// boundaries, which is exactly the bug this function exists to prevent.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(time.Local).Round(0)
}

// Now returns the current instant already normalized, the canonical way
// every component in this system should obtain "now".
func Now() time.Time {
	return Normalize(time.Now())
}
