package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestAsUnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(InvariantViolation, "create_edge", errors.New("missing target node"))
	wrapped := fmt.Errorf("diffengine: apply insert: %w", base)

	kind, ok := As(wrapped)
	if !ok || kind != InvariantViolation {
		t.Fatalf("As() = (%v, %v), want (invariant_violation, true)", kind, ok)
	}
}

func TestIsMatchesOnlyItsOwnKind(t *testing.T) {
	err := New(HallucinationDetected, "extract_entities", errors.New("span not found"))
	if !Is(err, HallucinationDetected) {
		t.Error("Is(err, HallucinationDetected) = false, want true")
	}
	if Is(err, InvariantViolation) {
		t.Error("Is(err, InvariantViolation) = true, want false")
	}
}

func TestAsFalseForPlainError(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Error("As() on a plain error = true, want false")
	}
}
