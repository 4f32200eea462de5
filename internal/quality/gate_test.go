package quality

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quizforge/question-harvester/internal/harvest"
)

func TestGateDecisions(t *testing.T) {
	t.Parallel()

	th := Thresholds{Accept: 0.7, Reject: 0.4}
	cases := []struct {
		name  string
		score Score
		want  harvest.Decision
	}{
		{"accept at threshold", Score{Value: 0.7, StructuralPass: true}, harvest.DecisionAccept},
		{"accept above threshold", Score{Value: 0.95, StructuralPass: true}, harvest.DecisionAccept},
		{"review in between", Score{Value: 0.5, StructuralPass: true}, harvest.DecisionNeedsReview},
		{"reject below reject threshold", Score{Value: 0.39, StructuralPass: true}, harvest.DecisionReject},
		{"structural defect rejects high score", Score{Value: 0.99, StructuralPass: false}, harvest.DecisionReject},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Gate(tc.score, th))
		})
	}
}

func TestGateDeterministic(t *testing.T) {
	t.Parallel()

	th := Thresholds{Accept: 0.8, Reject: 0.3}
	s := Score{Value: 0.55, StructuralPass: true}
	first := Gate(s, th)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Gate(s, th))
	}
}
