// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink over the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.SourceID != "" {
			fields = append(fields, zap.String("source", evt.SourceID))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", string(evt.Status)))
		}
		if evt.Decision != "" {
			fields = append(fields, zap.String("decision", string(evt.Decision)))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("duration", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("harvest progress", fields...)
	}
	return nil
}

// Close is a no-op; the logger is owned by the caller.
func (s *LogSink) Close(context.Context) error {
	return nil
}
