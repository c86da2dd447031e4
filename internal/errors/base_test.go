package errors

import (
	"errors"
	"testing"
)

func TestInvariantErrorMessage(t *testing.T) {
	err := &InvariantError{Tag: "DIDSC10001", Detail: "count 0"}
	if err.Error() != "invariant violation [DIDSC10001], detail: count 0" {
		t.Fatalf("error mismatch: %+v", err)
	}
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("invariant error should match ErrInvariant")
	}
}

func TestFailPanicsWithTag(t *testing.T) {
	defer func() {
		err := Recover(recover())
		if err == nil {
			t.Fatalf("expected panic")
		}
		if err.Tag != "TEST10001" {
			t.Fatalf("tag mismatch: got %s", err.Tag)
		}
	}()

	Assert(false, "TEST10001", "boom")
}

func TestAssertPassesWhenTrue(t *testing.T) {
	Assert(true, "TEST10002", "")
}
