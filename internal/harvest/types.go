package harvest

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a harvest job.
type JobStatus string

// Job status values persisted in the job store. Terminal states are
// completed, failed, and cancelled; paused is re-entrant with running.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// FetchMethod tags how a page body was obtained.
type FetchMethod string

// Fetch methods recorded on pages and extracted items.
const (
	FetchMethodHTTP    FetchMethod = "http"
	FetchMethodBrowser FetchMethod = "browser"
)

// DriverKind selects the fetch implementation for a source.
type DriverKind string

// Driver kinds accepted in source configuration.
const (
	DriverKindHTTP    DriverKind = "http"
	DriverKindBrowser DriverKind = "browser"
)

// Selectors maps question fields to CSS selectors on a source's pages.
type Selectors struct {
	Item        string `json:"item" mapstructure:"item"`
	Question    string `json:"question" mapstructure:"question"`
	Options     string `json:"options" mapstructure:"options"`
	Answer      string `json:"answer" mapstructure:"answer"`
	Explanation string `json:"explanation,omitempty" mapstructure:"explanation"`
	NextPage    string `json:"next_page,omitempty" mapstructure:"next_page"`
}

// SourceConfig describes one external site questions are harvested from.
// Configs are immutable after startup; runtime risk lives in SourceRiskState.
type SourceConfig struct {
	ID           string            `json:"id" mapstructure:"id"`
	Name         string            `json:"name" mapstructure:"name"`
	BaseURL      string            `json:"base_url" mapstructure:"base_url"`
	Driver       DriverKind        `json:"driver" mapstructure:"driver"`
	Selectors    Selectors         `json:"selectors" mapstructure:"selectors"`
	DefaultDelay time.Duration     `json:"default_delay" mapstructure:"default_delay"`
	MaxSessions  int               `json:"max_sessions" mapstructure:"max_sessions"`
	Headers      map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

// Target identifies one category/URL-pattern slice of a source. The URL
// pattern carries a {page} token expanded by the executor.
type Target struct {
	SourceID    string `json:"source_id"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	URLPattern  string `json:"url_pattern"`
	PageCount   int    `json:"page_count,omitempty"`
	Weight      int    `json:"weight,omitempty"`
}

// JobSpec captures the client-supplied parameters of a harvest job.
// Lower priority values are scheduled first.
type JobSpec struct {
	Targets  []Target `json:"targets"`
	MaxItems int      `json:"max_items"`
	Priority int      `json:"priority"`
	Category string   `json:"category,omitempty"`
}

// JobError is the last job-level failure, kept verbatim for operators.
type JobError struct {
	Code    Code      `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Job is the metadata persisted for each submitted harvest request.
// All mutations flow through the job manager.
type Job struct {
	ID              string      `json:"id"`
	Spec            JobSpec     `json:"spec"`
	Status          JobStatus   `json:"status"`
	Submitted       time.Time   `json:"submitted_at"`
	Started         *time.Time  `json:"started_at,omitempty"`
	Finished        *time.Time  `json:"finished_at,omitempty"`
	Counters        JobCounters `json:"counters"`
	LastError       *JobError   `json:"last_error,omitempty"`
	PartialFailures []string    `json:"partial_failures,omitempty"`
}

// JobCounters tracks per-job progress.
type JobCounters struct {
	PagesFetched     int `json:"pages_fetched"`
	PagesFailed      int `json:"pages_failed"`
	ItemsExtracted   int `json:"items_extracted"`
	ItemsAccepted    int `json:"items_accepted"`
	ItemsRejected    int `json:"items_rejected"`
	ItemsNeedsReview int `json:"items_needs_review"`
	Retries          int `json:"retries"`
}

// Processed returns how many extracted items have passed through the
// quality pipeline, which is what the job item cap is measured against.
func (c JobCounters) Processed() int {
	return c.ItemsAccepted + c.ItemsRejected + c.ItemsNeedsReview
}

// Identity is the presentation a driver adopts toward one source.
type Identity struct {
	UserAgent      string `json:"user_agent"`
	AcceptLanguage string `json:"accept_language"`
	Platform       string `json:"platform"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	Epoch          int    `json:"epoch"`
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	JobID    string
	SourceID string
	URL      string
	Identity Identity
	Headers  http.Header
}

// Page is the result returned by a Driver implementation.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Method     FetchMethod
}

// RawItem is a question extracted from a page before quality processing.
type RawItem struct {
	JobID       string      `json:"job_id"`
	SourceID    string      `json:"source_id"`
	URL         string      `json:"url"`
	Page        int         `json:"page"`
	Category    string      `json:"category,omitempty"`
	Question    string      `json:"question"`
	Options     []string    `json:"options"`
	Answer      string      `json:"answer"`
	Explanation string      `json:"explanation,omitempty"`
	Method      FetchMethod `json:"method"`
	Confidence  float64     `json:"confidence"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

// Decision is the quality gate outcome for one item.
type Decision string

// Gate decisions.
const (
	DecisionAccept      Decision = "accept"
	DecisionReject      Decision = "reject"
	DecisionNeedsReview Decision = "needs_review"
)

// ProcessedItem is a RawItem after scoring, gating, and deduplication.
type ProcessedItem struct {
	ID          string        `json:"id"`
	Raw         RawItem       `json:"raw"`
	Fingerprint string        `json:"fingerprint"`
	Score       float64       `json:"quality_score"`
	Decision    Decision      `json:"decision"`
	ClusterID   string        `json:"cluster_id,omitempty"`
	CrossSource bool          `json:"cross_source,omitempty"`
	ProcessedIn time.Duration `json:"processing_duration"`
	ProcessedAt time.Time     `json:"processed_at"`
}

// DuplicateCluster groups items judged to be the same question.
// Similarities records each member's score against the representative.
type DuplicateCluster struct {
	ID             string             `json:"id"`
	Representative string             `json:"representative_id"`
	Members        []string           `json:"member_ids"`
	Similarities   map[string]float64 `json:"similarities,omitempty"`
	CrossSource    bool               `json:"cross_source"`
}

// SourceRiskState is the persisted summary of anti-detection state for
// one source. It is shared by every job targeting that source.
type SourceRiskState struct {
	SourceID          string     `json:"source_id"`
	Risk              float64    `json:"risk"`
	BackoffMultiplier float64    `json:"backoff_multiplier"`
	IdentityEpoch     int        `json:"identity_epoch"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ExtractResult is what an Extractor reports for one fetched page.
// Empty Items with HasNextPage set is an ordinary occurrence, not an error.
type ExtractResult struct {
	Items       []RawItem
	HasNextPage bool
	NextURL     string
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status   JobStatus
	SourceID string
	Page     int
	PerPage  int
}
