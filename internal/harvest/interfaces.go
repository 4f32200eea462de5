package harvest

import (
	"context"
	"time"
)

// Driver fetches pages from one source. A driver instance is owned by a
// single running job and must not be shared.
type Driver interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
	Close() error
}

// Extractor turns a fetched page into raw items plus pagination facts.
type Extractor interface {
	Extract(page Page, target Target) (ExtractResult, error)
}

// Classifier scores free text for clarity and completeness in [0,1].
// Implementations wrap external models; the pipeline never calls one directly.
type Classifier interface {
	Classify(ctx context.Context, text string) (float64, error)
}

// JobStore persists job records. The job manager is the only writer.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, int, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// ItemStore persists processed items and answers duplicate-admission
// lookups by content fingerprint.
type ItemStore interface {
	PutItem(ctx context.Context, item ProcessedItem) error
	GetItem(ctx context.Context, id string) (ProcessedItem, error)
	FindByFingerprint(ctx context.Context, sourceID, fingerprint string) ([]ProcessedItem, error)
	RecentAccepted(ctx context.Context, category string, limit int) ([]ProcessedItem, error)
}

// RiskStore persists per-source anti-detection snapshots.
type RiskStore interface {
	UpsertRisk(ctx context.Context, state SourceRiskState) error
	GetRisk(ctx context.Context, sourceID string) (SourceRiskState, error)
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes accepted-item events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and item IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
