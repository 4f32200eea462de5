package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quizforge/question-harvester/internal/harvest"
)

func newJob(id string, status harvest.JobStatus, sourceID string, submitted time.Time) harvest.Job {
	return harvest.Job{
		ID: id,
		Spec: harvest.JobSpec{
			Targets:  []harvest.Target{{SourceID: sourceID, Category: "math", URLPattern: "https://x/{page}"}},
			MaxItems: 10,
		},
		Status:    status,
		Submitted: submitted,
	}
}

func TestJobStoreCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewJobStore()

	job := newJob("j1", harvest.JobStatusPending, "quizhub", time.Now())
	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusPending, got.Status)

	job.Status = harvest.JobStatusQueued
	require.NoError(t, store.UpdateJob(ctx, job))
	got, err = store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusQueued, got.Status)

	require.NoError(t, store.DeleteJob(ctx, "j1"))
	_, err = store.GetJob(ctx, "j1")
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.ErrorIs(t, store.UpdateJob(ctx, job), harvest.ErrNotFound)
}

func TestJobStoreListFiltersAndPaginates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewJobStore()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, newJob("a", harvest.JobStatusCompleted, "quizhub", base)))
	require.NoError(t, store.CreateJob(ctx, newJob("b", harvest.JobStatusRunning, "quizhub", base.Add(time.Hour))))
	require.NoError(t, store.CreateJob(ctx, newJob("c", harvest.JobStatusRunning, "examcentral", base.Add(2*time.Hour))))

	jobs, total, err := store.ListJobs(ctx, harvest.JobFilter{Status: harvest.JobStatusRunning})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "c", jobs[0].ID) // newest first

	jobs, total, err = store.ListJobs(ctx, harvest.JobFilter{SourceID: "quizhub"})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	jobs, total, err = store.ListJobs(ctx, harvest.JobFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, jobs, 1)
}

func processedItem(id, sourceID, fingerprint, category string, decision harvest.Decision, at time.Time) harvest.ProcessedItem {
	return harvest.ProcessedItem{
		ID:          id,
		Raw:         harvest.RawItem{SourceID: sourceID, Category: category, Question: "What is the capital of France?"},
		Fingerprint: fingerprint,
		Decision:    decision,
		ProcessedAt: at,
	}
}

func TestItemStoreFingerprintLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewItemStore()

	now := time.Now()
	require.NoError(t, store.PutItem(ctx, processedItem("i1", "quizhub", "fp1", "geo", harvest.DecisionAccept, now)))
	require.NoError(t, store.PutItem(ctx, processedItem("i2", "quizhub", "fp1", "geo", harvest.DecisionNeedsReview, now)))
	require.NoError(t, store.PutItem(ctx, processedItem("i3", "examcentral", "fp1", "geo", harvest.DecisionAccept, now)))

	matches, err := store.FindByFingerprint(ctx, "quizhub", "fp1")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	matches, err = store.FindByFingerprint(ctx, "examcentral", "fp1")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	_, err = store.GetItem(ctx, "missing")
	require.ErrorIs(t, err, harvest.ErrNotFound)
}

func TestItemStoreRecentAccepted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewItemStore()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutItem(ctx, processedItem("i1", "quizhub", "f1", "geo", harvest.DecisionAccept, base)))
	require.NoError(t, store.PutItem(ctx, processedItem("i2", "quizhub", "f2", "geo", harvest.DecisionAccept, base.Add(time.Minute))))
	require.NoError(t, store.PutItem(ctx, processedItem("i3", "quizhub", "f3", "math", harvest.DecisionAccept, base.Add(2*time.Minute))))
	require.NoError(t, store.PutItem(ctx, processedItem("i4", "quizhub", "f4", "geo", harvest.DecisionReject, base.Add(3*time.Minute))))

	recent, err := store.RecentAccepted(ctx, "geo", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "i2", recent[0].ID)

	recent, err = store.RecentAccepted(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
}

func TestRiskStoreUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewRiskStore()

	_, err := store.GetRisk(ctx, "quizhub")
	require.ErrorIs(t, err, harvest.ErrNotFound)

	require.NoError(t, store.UpsertRisk(ctx, harvest.SourceRiskState{SourceID: "quizhub", Risk: 0.4, IdentityEpoch: 1}))
	require.NoError(t, store.UpsertRisk(ctx, harvest.SourceRiskState{SourceID: "quizhub", Risk: 0.7, IdentityEpoch: 2}))

	state, err := store.GetRisk(ctx, "quizhub")
	require.NoError(t, err)
	require.Equal(t, 0.7, state.Risk)
	require.Equal(t, 2, state.IdentityEpoch)
}
