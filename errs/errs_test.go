package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesFieldsAndCause(t *testing.T) {
	err := New(
		"registry",
		CodeMissionExpired,
		WithMessage("enlistment past deadline"),
		WithField("mission_id", "42"),
		WithField("user", "alice"),
		WithCause(errors.New("deadline 1700000000 < now 1700086400")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=registry") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=mission_expired") {
		t.Fatalf("expected code marker in error string: %s", out)
	}
	expectedFields := "fields=mission_id=\"42\",user=\"alice\""
	if !strings.Contains(out, expectedFields) {
		t.Fatalf("expected metadata %q in error string: %s", expectedFields, out)
	}
	if !strings.Contains(out, "cause=\"deadline 1700000000 < now 1700086400\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestCodeOfUnwrapsThroughWrapping(t *testing.T) {
	inner := New("stakes", CodeAlreadyEnlisted, WithMessage("duplicate stake"))
	wrapped := fmt.Errorf("enlist: %w", inner)

	if got := CodeOf(wrapped); got != CodeAlreadyEnlisted {
		t.Fatalf("expected already_enlisted, got %q", got)
	}
	if !Is(wrapped, CodeAlreadyEnlisted) {
		t.Fatalf("expected Is to match wrapped envelope")
	}
	if Is(wrapped, CodeNotFound) {
		t.Fatalf("unexpected match for unrelated code")
	}
}

func TestCodeOfPlainErrorIsInternal(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Fatalf("expected internal, got %q", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if e.Error() != "<nil>" {
		t.Fatalf("expected <nil>, got %q", e.Error())
	}
}
