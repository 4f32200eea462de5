package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/question-harvester/internal/harvest"
)

func TestJobStoreCreateJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	job := harvest.Job{
		ID: "job-1",
		Spec: harvest.JobSpec{
			Targets:  []harvest.Target{{SourceID: "quizhub", Category: "math", URLPattern: "https://x/{page}"}},
			MaxItems: 50,
			Priority: 3,
		},
		Status:    harvest.JobStatusPending,
		Submitted: time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO harvest_jobs").
		WithArgs(job.ID, pgxmock.AnyArg(), "pending", job.Submitted,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateMissingJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	job := harvest.Job{ID: "ghost", Status: harvest.JobStatusRunning, Submitted: time.Now()}

	mock.ExpectExec("UPDATE harvest_jobs SET").
		WithArgs(job.ID, pgxmock.AnyArg(), "running", job.Submitted,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, store.UpdateJob(context.Background(), job), harvest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetJobRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)

	spec := harvest.JobSpec{
		Targets:  []harvest.Target{{SourceID: "quizhub", Category: "math", URLPattern: "https://x/{page}"}},
		MaxItems: 50,
	}
	specJSON, err := json.Marshal(spec)
	require.NoError(t, err)
	countersJSON, err := json.Marshal(harvest.JobCounters{PagesFetched: 7, ItemsAccepted: 4})
	require.NoError(t, err)
	submitted := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM harvest_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "spec", "status", "submitted_at", "started_at",
			"finished_at", "counters", "last_error", "partial_failures",
		}).AddRow("job-1", specJSON, "completed", submitted,
			(*time.Time)(nil), (*time.Time)(nil), countersJSON, []byte(nil), []byte(nil)))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusCompleted, job.Status)
	require.Equal(t, 50, job.Spec.MaxItems)
	require.Equal(t, 7, job.Counters.PagesFetched)
	require.Equal(t, 4, job.Counters.ItemsAccepted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestItemStorePutAndFindByFingerprint(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewItemStore(mock)
	item := harvest.ProcessedItem{
		ID:          "item-1",
		Raw:         harvest.RawItem{SourceID: "quizhub", Category: "math", Question: "What is 2+2?"},
		Fingerprint: "fp-abc",
		Score:       0.91,
		Decision:    harvest.DecisionAccept,
		ProcessedAt: time.Unix(1700000100, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO harvest_items").
		WithArgs(item.ID, "quizhub", "fp-abc", "math", "accept", 0.91,
			"", false, pgxmock.AnyArg(), item.ProcessedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PutItem(context.Background(), item))

	payload, err := json.Marshal(item)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT payload FROM harvest_items").
		WithArgs("quizhub", "fp-abc").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	matches, err := store.FindByFingerprint(context.Background(), "quizhub", "fp-abc")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "item-1", matches[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRiskStoreUpsertAndGet(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRiskStore(mock)
	updated := time.Unix(1700000200, 0).UTC()
	state := harvest.SourceRiskState{
		SourceID:          "quizhub",
		Risk:              0.55,
		BackoffMultiplier: 2.2,
		IdentityEpoch:     3,
		UpdatedAt:         updated,
	}

	mock.ExpectExec("INSERT INTO harvest_source_risk").
		WithArgs("quizhub", 0.55, 2.2, 3, pgxmock.AnyArg(), updated).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.UpsertRisk(context.Background(), state))

	mock.ExpectQuery("SELECT (.+) FROM harvest_source_risk").
		WithArgs("quizhub").
		WillReturnRows(pgxmock.NewRows([]string{
			"source_id", "risk", "backoff_multiplier", "identity_epoch", "cooldown_until", "updated_at",
		}).AddRow("quizhub", 0.55, 2.2, 3, (*time.Time)(nil), updated))

	got, err := store.GetRisk(context.Background(), "quizhub")
	require.NoError(t, err)
	require.Equal(t, state, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRiskStoreGetMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRiskStore(mock)
	mock.ExpectQuery("SELECT (.+) FROM harvest_source_risk").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{
			"source_id", "risk", "backoff_multiplier", "identity_epoch", "cooldown_until", "updated_at",
		}))

	_, err = store.GetRisk(context.Background(), "ghost")
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
