package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := E(CodeValidation, "engine.Buy", "keys %d below minimum %d", 0, 1)
	want := "engine.Buy: keys 0 below minimum 1 [validation]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeExternalDependency, "store.GetCurve", cause, "load curve")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if CodeOf(err) != CodeExternalDependency {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeExternalDependency)
	}
}

func TestCodeSurvivesFurtherWrapping(t *testing.T) {
	inner := E(CodeConcurrencyConflict, "store.CommitTrade", "stale version")
	outer := fmt.Errorf("buy failed: %w", inner)

	if !HasCode(outer, CodeConcurrencyConflict) {
		t.Error("code lost through fmt.Errorf wrapping")
	}
	if HasCode(outer, CodeNotFound) {
		t.Error("wrong code matched")
	}
}

func TestCodeOfUntyped(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if CodeOf(nil) != "" {
		t.Error("CodeOf(nil) should be empty")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := E(CodeNotFound, "engine.Curve", "curve missing")
	b := Wrap(CodeNotFound, "other.Op", errors.New("x"), "different message")
	if !errors.Is(b, a) {
		t.Error("errors with the same code should match via errors.Is")
	}
}
