package service

import "time"

// HasConflict reports whether both sides committed changes independently
// since lastSyncAt. A pair that never completed a sync can never conflict:
// the first handshake always proceeds and may overwrite one side.
func HasConflict(lastSyncAt *string, localLast, remoteLast string) bool {
	if lastSyncAt == nil {
		return false
	}
	return IsAfter(localLast, *lastSyncAt) && IsAfter(remoteLast, *lastSyncAt)
}

// IsAfter reports whether a is strictly newer than b. Both are compared
// chronologically when they parse as RFC3339. The lexical fallback exists
// only for values persisted by old installations; it is order-correct
// solely for the fixed-width UTC format this system writes, which is why
// new timestamps are validated at the boundary instead.
func IsAfter(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA == nil && errB == nil {
		return ta.After(tb)
	}
	return a > b
}

// ValidTimestamp reports whether value is acceptable as a peer-supplied
// logical timestamp.
func ValidTimestamp(value string) bool {
	_, err := time.Parse(time.RFC3339, value)
	return err == nil
}
