package testutil

import (
	"testing"
)

// MustDo fails the test when err is not nil, naming the operation that failed.
func MustDo(t testing.TB, what string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s, expected no error, got err=%s", what, err)
	}
}

// Must fails the test on err and otherwise returns v. Useful for one-line
// setup of fixtures.
func Must[T any](t testing.TB, v T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatalf("expected no error, got err=%s", err)
	}
	return v
}
