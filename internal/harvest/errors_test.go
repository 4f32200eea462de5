package harvest

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	plain := E(CodeFetchFailed, "fetch %s returned %d", "https://example.com", 503)
	if plain.Error() != "fetch https://example.com returned 503" {
		t.Fatalf("unexpected message: %s", plain.Error())
	}

	cause := errors.New("connection refused")
	wrapped := Wrap(CodeFetchFailed, cause, "probe fetch")
	if wrapped.Error() != "probe fetch: connection refused" {
		t.Fatalf("unexpected wrapped message: %s", wrapped.Error())
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected wrapped error to match its cause")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"coded", E(CodeSourceBlocked, "429 from source"), CodeSourceBlocked},
		{"coded through fmt wrap", fmt.Errorf("run target: %w", E(CodeExtractionFailed, "no items node")), CodeExtractionFailed},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"uncoded", errors.New("boom"), CodeInternal},
		{"nil cause chain", Wrap(CodeStorageFailure, errors.New("pg down"), "put item"), CodeStorageFailure},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Fatalf("%s: CodeOf() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusPaused} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestCountersProcessed(t *testing.T) {
	t.Parallel()

	c := JobCounters{ItemsAccepted: 3, ItemsRejected: 2, ItemsNeedsReview: 1, ItemsExtracted: 9}
	if c.Processed() != 6 {
		t.Fatalf("Processed() = %d, want 6", c.Processed())
	}
}
