package service

import "testing"

func strPtr(s string) *string {
	return &s
}

func TestHasConflict_NeverSynced(t *testing.T) {
	if HasConflict(nil, "2024-03-01T10:00:00Z", "2024-03-01T11:00:00Z") {
		t.Error("expected no conflict for a pair that never synced")
	}
}

func TestHasConflict_BothChanged(t *testing.T) {
	lastSync := strPtr("2024-03-01T10:00:00Z")

	if !HasConflict(lastSync, "2024-03-01T12:00:00Z", "2024-03-01T11:00:00Z") {
		t.Error("expected conflict when both sides changed after the last sync")
	}
}

func TestHasConflict_OneSideUnchanged(t *testing.T) {
	lastSync := strPtr("2024-03-01T10:00:00Z")

	if HasConflict(lastSync, "2024-03-01T12:00:00Z", "2024-03-01T10:00:00Z") {
		t.Error("expected no conflict when only the local side changed")
	}
	if HasConflict(lastSync, "2024-03-01T10:00:00Z", "2024-03-01T12:00:00Z") {
		t.Error("expected no conflict when only the remote side changed")
	}
}

func TestHasConflict_EqualToLastSync(t *testing.T) {
	lastSync := strPtr("2024-03-01T10:00:00Z")

	if HasConflict(lastSync, "2024-03-01T10:00:00Z", "2024-03-01T10:00:00Z") {
		t.Error("expected no conflict when neither side moved past the last sync")
	}
}

func TestIsAfter_Chronological(t *testing.T) {
	if !IsAfter("2024-03-01T11:00:00Z", "2024-03-01T10:00:00Z") {
		t.Error("expected later timestamp to be after the earlier one")
	}
	if IsAfter("2024-03-01T10:00:00Z", "2024-03-01T11:00:00Z") {
		t.Error("expected earlier timestamp not to be after the later one")
	}
	if IsAfter("2024-03-01T10:00:00Z", "2024-03-01T10:00:00Z") {
		t.Error("expected equal timestamps not to be after each other")
	}
}

func TestIsAfter_OffsetAware(t *testing.T) {
	// Same instant written with different zone offsets.
	if IsAfter("2024-03-01T12:00:00+02:00", "2024-03-01T10:00:00Z") {
		t.Error("expected offset spellings of the same instant to compare equal")
	}
	if !IsAfter("2024-03-01T12:00:00+01:00", "2024-03-01T10:00:00Z") {
		t.Error("expected chronological comparison to honour the offset")
	}
}

func TestIsAfter_Antisymmetric(t *testing.T) {
	values := []string{
		"1970-01-01T00:00:00Z",
		"2024-03-01T10:00:00Z",
		"2024-03-01T11:00:00Z",
		"2025-01-01T00:00:00Z",
	}
	for i, a := range values {
		for j, b := range values {
			if i == j {
				continue
			}
			if IsAfter(a, b) == IsAfter(b, a) {
				t.Errorf("expected exactly one of IsAfter(%s,%s) and its inverse", a, b)
			}
		}
	}
}

func TestIsAfter_LexicalFallback(t *testing.T) {
	// Legacy values without a zone suffix fall back to string order.
	if !IsAfter("2024-03-01 11:00:00", "2024-03-01 10:00:00") {
		t.Error("expected lexical fallback to order legacy timestamps")
	}
	if IsAfter("not-a-timestamp", "z-sorts-later") {
		t.Error("expected lexical fallback to stay antisymmetric")
	}
}

func TestValidTimestamp(t *testing.T) {
	if !ValidTimestamp("2024-03-01T10:00:00Z") {
		t.Error("expected RFC3339 timestamp to be valid")
	}
	if !ValidTimestamp("1970-01-01T00:00:00Z") {
		t.Error("expected the epoch sentinel to be valid")
	}
	if ValidTimestamp("2024-03-01 10:00:00") {
		t.Error("expected a timestamp without zone to be rejected")
	}
	if ValidTimestamp("") {
		t.Error("expected an empty timestamp to be rejected")
	}
}
