package quality

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/harvest"
)

func goodItem() harvest.RawItem {
	return harvest.RawItem{
		SourceID:    "examsource",
		Question:    "What is the chemical symbol for sodium?",
		Options:     []string{"Na", "So", "Sd", "Nm"},
		Answer:      "Na",
		Explanation: "Sodium derives from the Latin natrium.",
		Confidence:  0.9,
	}
}

func TestScoreWellFormedItem(t *testing.T) {
	t.Parallel()

	v := NewValidator(10, 2, nil, zap.NewNop())
	s := v.Score(context.Background(), goodItem())
	require.True(t, s.StructuralPass)
	require.Empty(t, s.Defects)
	require.GreaterOrEqual(t, s.Value, 0.8)
}

func TestScoreStructuralDefects(t *testing.T) {
	t.Parallel()

	v := NewValidator(10, 2, nil, zap.NewNop())
	ctx := context.Background()

	t.Run("one option and no answer", func(t *testing.T) {
		item := goodItem()
		item.Options = []string{"Na"}
		item.Answer = ""
		s := v.Score(ctx, item)
		require.False(t, s.StructuralPass)
		require.Contains(t, s.Defects, DefectTooFewOptions)
		require.Contains(t, s.Defects, DefectMissingAnswer)
	})

	t.Run("duplicate options collapse", func(t *testing.T) {
		item := goodItem()
		item.Options = []string{"Na", "na", " NA "}
		s := v.Score(ctx, item)
		require.False(t, s.StructuralPass)
		require.Contains(t, s.Defects, DefectTooFewOptions)
	})

	t.Run("answer not among options", func(t *testing.T) {
		item := goodItem()
		item.Answer = "Xe"
		s := v.Score(ctx, item)
		require.False(t, s.StructuralPass)
		require.Contains(t, s.Defects, DefectAnswerNotOption)
	})

	t.Run("short question", func(t *testing.T) {
		item := goodItem()
		item.Question = "Na?"
		s := v.Score(ctx, item)
		require.False(t, s.StructuralPass)
		require.Contains(t, s.Defects, DefectShortQuestion)
	})

	t.Run("empty question scores zero", func(t *testing.T) {
		item := goodItem()
		item.Question = "   "
		s := v.Score(ctx, item)
		require.False(t, s.StructuralPass)
		require.Zero(t, s.Value)
	})
}

type fixedClassifier struct {
	score float64
	err   error
}

func (c fixedClassifier) Classify(context.Context, string) (float64, error) {
	return c.score, c.err
}

func TestClassifierBlending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := NewValidator(10, 2, nil, zap.NewNop()).Score(ctx, goodItem())

	high := NewValidator(10, 2, fixedClassifier{score: 1}, zap.NewNop()).Score(ctx, goodItem())
	low := NewValidator(10, 2, fixedClassifier{score: 0}, zap.NewNop()).Score(ctx, goodItem())
	require.Greater(t, high.Value, low.Value)

	// A failing classifier falls back to the heuristic score.
	broken := NewValidator(10, 2, fixedClassifier{err: errors.New("model offline")}, zap.NewNop()).Score(ctx, goodItem())
	require.Equal(t, base.Value, broken.Value)
}
