// Package progress defines the events emitted by the job manager and
// the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobSubmitted Stage = "JOB_SUBMITTED"
	StageJobStarted   Stage = "JOB_STARTED"
	StageJobPaused    Stage = "JOB_PAUSED"
	StageJobResumed   Stage = "JOB_RESUMED"
	StageJobRetried   Stage = "JOB_RETRIED"
	StageJobFinished  Stage = "JOB_FINISHED"
	StageItemGated    Stage = "ITEM_GATED"
)

// Event captures a single milestone of harvest progress.
type Event struct {
	// JobID identifies the job the milestone belongs to.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// SourceID scopes item events to the source that produced them.
	SourceID string
	// Status carries the job status for lifecycle events.
	Status harvest.JobStatus
	// Decision carries the gate outcome for item events.
	Decision harvest.Decision
	// Attempt is the executor attempt number for retry events.
	Attempt int
	// Dur captures run latency on finish events.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobSubmitted, StageJobStarted, StageJobPaused, StageJobResumed, StageJobRetried:
	case StageJobFinished:
		if e.Status == "" {
			return errors.New("finish event requires a status")
		}
	case StageItemGated:
		if e.Decision == "" {
			return errors.New("item event requires a decision")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
