// Package quality scores extracted questions and gates their admission.
package quality

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// Structural defect labels recorded on scores.
const (
	DefectEmptyQuestion   = "empty_question"
	DefectShortQuestion   = "short_question"
	DefectTooFewOptions   = "too_few_options"
	DefectMissingAnswer   = "missing_answer"
	DefectAnswerNotOption = "answer_not_in_options"
)

// Score is the outcome of validating one raw item.
type Score struct {
	// Value is the combined quality estimate in [0,1].
	Value float64 `json:"value"`
	// StructuralPass is false when any hard check failed.
	StructuralPass bool `json:"structural_pass"`
	// Defects names the failed structural checks.
	Defects []string `json:"defects,omitempty"`
}

// Validator computes quality scores. The classifier is optional; when
// present its estimate is blended into the heuristic score.
type Validator struct {
	minQuestionLen int
	minOptions     int
	classifier     harvest.Classifier
	logger         *zap.Logger
}

// NewValidator creates a Validator. minQuestionLen and minOptions fall back
// to 10 characters and 2 options.
func NewValidator(minQuestionLen, minOptions int, classifier harvest.Classifier, logger *zap.Logger) *Validator {
	if minQuestionLen <= 0 {
		minQuestionLen = 10
	}
	if minOptions < 2 {
		minOptions = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		minQuestionLen: minQuestionLen,
		minOptions:     minOptions,
		classifier:     classifier,
		logger:         logger,
	}
}

// Score validates structure and estimates clarity/completeness for item.
func (v *Validator) Score(ctx context.Context, item harvest.RawItem) Score {
	s := Score{StructuralPass: true}
	question := strings.TrimSpace(item.Question)

	switch {
	case question == "":
		s.fail(DefectEmptyQuestion)
	case len(question) < v.minQuestionLen:
		s.fail(DefectShortQuestion)
	}

	options := distinctOptions(item.Options)
	if len(options) < v.minOptions {
		s.fail(DefectTooFewOptions)
	}

	answer := strings.TrimSpace(item.Answer)
	switch {
	case answer == "":
		s.fail(DefectMissingAnswer)
	case len(options) > 0 && !containsFold(options, answer):
		s.fail(DefectAnswerNotOption)
	}

	s.Value = v.heuristicScore(question, options, answer, item)
	if v.classifier != nil && s.StructuralPass {
		if est, err := v.classifier.Classify(ctx, question); err != nil {
			v.logger.Warn("classifier call failed, using heuristic score only", zap.Error(err))
		} else {
			s.Value = 0.6*s.Value + 0.4*clamp01(est)
		}
	}
	return s
}

// heuristicScore mixes completeness and clarity signals into [0,1].
func (v *Validator) heuristicScore(question string, options []string, answer string, item harvest.RawItem) float64 {
	if question == "" {
		return 0
	}
	var score float64

	// Completeness: the three mandatory parts carry most of the weight.
	if len(question) >= v.minQuestionLen {
		score += 0.35
	}
	if len(options) >= v.minOptions {
		score += 0.25
	}
	if answer != "" && containsFold(options, answer) {
		score += 0.2
	}

	// Clarity: interrogative phrasing and room to breathe.
	if strings.HasSuffix(question, "?") {
		score += 0.05
	}
	if len(options) >= 4 {
		score += 0.05
	}
	if strings.TrimSpace(item.Explanation) != "" {
		score += 0.05
	}

	// Extractor confidence nudges the estimate.
	score += 0.05 * clamp01(item.Confidence)
	return clamp01(score)
}

func (s *Score) fail(defect string) {
	s.StructuralPass = false
	s.Defects = append(s.Defects, defect)
}

func distinctOptions(options []string) []string {
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, opt := range options {
		norm := strings.ToLower(strings.TrimSpace(opt))
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, strings.TrimSpace(opt))
	}
	return out
}

func containsFold(options []string, answer string) bool {
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
