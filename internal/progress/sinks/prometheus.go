package sinks

import (
	"context"

	"github.com/quizforge/question-harvester/internal/progress"
	"github.com/quizforge/question-harvester/internal/telemetry"
)

// PrometheusSink translates job lifecycle events into metrics. Fetch
// and item metrics are recorded at their point of origin, so this sink
// only covers the milestones no other component observes.
type PrometheusSink struct{}

// NewPrometheusSink builds a PrometheusSink.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Consume records lifecycle transitions.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobSubmitted, progress.StageJobStarted,
			progress.StageJobPaused, progress.StageJobResumed:
			telemetry.ObserveJob(string(evt.Status))
		case progress.StageJobFinished:
			telemetry.ObserveJob(string(evt.Status))
		}
	}
	return nil
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
