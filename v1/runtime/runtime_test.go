package runtime

import (
	"errors"
	"testing"
)

func TestStatusErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := Errf("create_lock", StatusBackend, cause)
	want := "create_lock: backend failure: connection refused"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap to reach the cause")
	}

	bare := Errf("release", StatusInvalidHandle, nil)
	if bare.Error() != "release: invalid handle" {
		t.Fatalf("got %q", bare.Error())
	}
}

func TestHandle(t *testing.T) {
	var zero Handle
	if !zero.IsZero() {
		t.Fatal("zero handle should report IsZero")
	}
	h := NewHandle("compute", 3)
	if h.IsZero() {
		t.Fatal("minted handle should not be zero")
	}
	if h.TeamID() != "compute" || h.Seq() != 3 {
		t.Fatalf("unexpected handle %v", h)
	}
	if h.Key() != "teamlock:compute:3" {
		t.Fatalf("unexpected key %q", h.Key())
	}
	if h.String() != "compute#3" {
		t.Fatalf("unexpected string %q", h.String())
	}
}
