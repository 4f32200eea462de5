package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrdering(t *testing.T) {
	t.Parallel()
	q := newPriorityQueue()
	base := time.Now()
	q.Push("low", 9, base)
	q.Push("urgent", 1, base.Add(time.Second))
	q.Push("mid", 5, base.Add(2*time.Second))

	ctx := context.Background()
	for _, want := range []string{"urgent", "mid", "low"} {
		entry, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, want, entry.jobID)
	}
	require.Zero(t, q.Len())
}

func TestPriorityQueueTieBreaksBySubmission(t *testing.T) {
	t.Parallel()
	q := newPriorityQueue()
	base := time.Now()
	q.Push("second", 3, base.Add(time.Second))
	q.Push("first", 3, base)

	ctx := context.Background()
	entry, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", entry.jobID)
}

func TestPriorityQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	q := newPriorityQueue()
	popped := make(chan string, 1)
	go func() {
		entry, err := q.Pop(context.Background())
		if err == nil {
			popped <- entry.jobID
		}
	}()

	select {
	case id := <-popped:
		t.Fatalf("pop returned %q before push", id)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("late", 1, time.Now())
	select {
	case id := <-popped:
		require.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("pop never woke after push")
	}
}

func TestPriorityQueuePopHonorsContext(t *testing.T) {
	t.Parallel()
	q := newPriorityQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicyBounds(t *testing.T) {
	t.Parallel()
	p := newRetryPolicy(3, 100*time.Millisecond, time.Second)

	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(errFake, 4))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.True(t, p.ShouldRetry(errFake, 1))
	require.True(t, p.ShouldRetry(errFake, 3))

	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0), "attempt %d", attempt)
		require.LessOrEqual(t, d, time.Second, "attempt %d", attempt)
	}
}

var errFake = errTest("scripted failure")

type errTest string

func (e errTest) Error() string { return string(e) }
