package quality

import "github.com/quizforge/question-harvester/internal/harvest"

// Thresholds are operator-tuned gate boundaries. Accept must be >= Reject.
type Thresholds struct {
	Accept float64 `json:"accept" mapstructure:"accept"`
	Reject float64 `json:"reject" mapstructure:"reject"`
}

// Gate maps a score to an admission decision. It is a pure function:
// accept requires meeting the accept threshold with structure intact;
// reject follows from any structural defect or a score below the reject
// threshold; everything in between needs review.
func Gate(score Score, th Thresholds) harvest.Decision {
	if !score.StructuralPass || score.Value < th.Reject {
		return harvest.DecisionReject
	}
	if score.Value >= th.Accept {
		return harvest.DecisionAccept
	}
	return harvest.DecisionNeedsReview
}
