package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("commit allocation AL_1: %w", NotFound("allocation", "AL_1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound through wrap, got %v", err)
	}

	dual := fmt.Errorf("fertility model: %w: %w", errors.New("connection refused"), ErrInference)
	if !errors.Is(dual, ErrInference) {
		t.Fatalf("expected ErrInference through dual wrap, got %v", dual)
	}

	if errors.Is(Conflict("allocation", "AL_1"), ErrInvalidState) {
		t.Fatalf("conflict must not match invalid state")
	}
	if !errors.Is(InvalidState("allocation", "AL_1", "APPROVED"), ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState")
	}
}
