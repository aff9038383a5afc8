package apperr

import (
	"fmt"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	err := fmt.Errorf("create appointment: %w", NotFound("pet %s not found", "p1"))
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found, got %s", KindOf(err))
	}
	if KindOf(fmt.Errorf("boom")) != KindInternal {
		t.Fatal("expected internal for plain errors")
	}
	if Is(nil, KindNotFound) {
		t.Fatal("nil is not an error kind")
	}
}

func TestSlotUnavailableHasAlternatives(t *testing.T) {
	e, ok := As(SlotUnavailable(nil, "slot taken"))
	if !ok || e.Alternatives == nil || len(e.Alternatives) != 0 {
		t.Fatalf("expected empty non-nil alternatives, got %+v", e)
	}
}
