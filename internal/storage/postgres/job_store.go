package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// JobStore persists job records in the harvest_jobs table. The spec,
// counters, and error payloads are stored as JSONB.
type JobStore struct {
	db DB
}

// NewJobStore constructs a JobStore over an open pool.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, spec, status, submitted_at, started_at, finished_at, counters, last_error, partial_failures`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job harvest.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO harvest_jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, args...)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob replaces an existing job row.
func (s *JobStore) UpdateJob(ctx context.Context, job harvest.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
UPDATE harvest_jobs SET
	spec = $2,
	status = $3,
	submitted_at = $4,
	started_at = $5,
	finished_at = $6,
	counters = $7,
	last_error = $8,
	partial_failures = $9
WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

// GetJob fetches one job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (harvest.Job, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+jobColumns+` FROM harvest_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Job{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first, plus the
// total match count before pagination.
func (s *JobStore) ListJobs(ctx context.Context, filter harvest.JobFilter) ([]harvest.Job, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 1 << 30
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.db.Query(ctx, `
SELECT `+jobColumns+`, COUNT(*) OVER () AS total
FROM harvest_jobs
WHERE ($1 = '' OR status = $1)
  AND ($2 = '' OR EXISTS (
	SELECT 1 FROM jsonb_array_elements(spec->'targets') AS t
	WHERE t->>'source_id' = $2
  ))
ORDER BY submitted_at DESC
LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.SourceID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []harvest.Job
	total := 0
	for rows.Next() {
		job, n, err := scanJobWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		total = n
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// DeleteJob removes one job row.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM harvest_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

func jobArgs(job harvest.Job) ([]any, error) {
	spec, err := json.Marshal(job.Spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return nil, fmt.Errorf("marshal counters: %w", err)
	}
	var lastError []byte
	if job.LastError != nil {
		if lastError, err = json.Marshal(job.LastError); err != nil {
			return nil, fmt.Errorf("marshal last error: %w", err)
		}
	}
	var partials []byte
	if len(job.PartialFailures) > 0 {
		if partials, err = json.Marshal(job.PartialFailures); err != nil {
			return nil, fmt.Errorf("marshal partial failures: %w", err)
		}
	}
	return []any{
		job.ID, spec, string(job.Status), job.Submitted,
		job.Started, job.Finished, counters, lastError, partials,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (harvest.Job, error) {
	var (
		job       harvest.Job
		status    string
		spec      []byte
		counters  []byte
		lastError []byte
		partials  []byte
		started   *time.Time
		finished  *time.Time
	)
	if err := row.Scan(&job.ID, &spec, &status, &job.Submitted,
		&started, &finished, &counters, &lastError, &partials); err != nil {
		return harvest.Job{}, err
	}
	return decodeJob(job, status, spec, counters, lastError, partials, started, finished)
}

func scanJobWithTotal(row rowScanner) (harvest.Job, int, error) {
	var (
		job       harvest.Job
		status    string
		spec      []byte
		counters  []byte
		lastError []byte
		partials  []byte
		started   *time.Time
		finished  *time.Time
		total     int
	)
	if err := row.Scan(&job.ID, &spec, &status, &job.Submitted,
		&started, &finished, &counters, &lastError, &partials, &total); err != nil {
		return harvest.Job{}, 0, err
	}
	decoded, err := decodeJob(job, status, spec, counters, lastError, partials, started, finished)
	return decoded, total, err
}

func decodeJob(job harvest.Job, status string, spec, counters, lastError, partials []byte, started, finished *time.Time) (harvest.Job, error) {
	job.Status = harvest.JobStatus(status)
	job.Started = started
	job.Finished = finished
	if err := json.Unmarshal(spec, &job.Spec); err != nil {
		return harvest.Job{}, fmt.Errorf("unmarshal spec: %w", err)
	}
	if err := json.Unmarshal(counters, &job.Counters); err != nil {
		return harvest.Job{}, fmt.Errorf("unmarshal counters: %w", err)
	}
	if len(lastError) > 0 {
		job.LastError = &harvest.JobError{}
		if err := json.Unmarshal(lastError, job.LastError); err != nil {
			return harvest.Job{}, fmt.Errorf("unmarshal last error: %w", err)
		}
	}
	if len(partials) > 0 {
		if err := json.Unmarshal(partials, &job.PartialFailures); err != nil {
			return harvest.Job{}, fmt.Errorf("unmarshal partial failures: %w", err)
		}
	}
	return job, nil
}
