package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// RiskStore persists per-source anti-detection snapshots.
type RiskStore struct {
	db DB
}

// NewRiskStore constructs a RiskStore over an open pool.
func NewRiskStore(db DB) *RiskStore {
	return &RiskStore{db: db}
}

// UpsertRisk stores the latest snapshot for a source.
func (s *RiskStore) UpsertRisk(ctx context.Context, state harvest.SourceRiskState) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO harvest_source_risk
	(source_id, risk, backoff_multiplier, identity_epoch, cooldown_until, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (source_id) DO UPDATE SET
	risk = EXCLUDED.risk,
	backoff_multiplier = EXCLUDED.backoff_multiplier,
	identity_epoch = EXCLUDED.identity_epoch,
	cooldown_until = EXCLUDED.cooldown_until,
	updated_at = EXCLUDED.updated_at`,
		state.SourceID, state.Risk, state.BackoffMultiplier,
		state.IdentityEpoch, state.CooldownUntil, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert risk: %w", err)
	}
	return nil
}

// GetRisk fetches the snapshot for a source.
func (s *RiskStore) GetRisk(ctx context.Context, sourceID string) (harvest.SourceRiskState, error) {
	row := s.db.QueryRow(ctx, `
SELECT source_id, risk, backoff_multiplier, identity_epoch, cooldown_until, updated_at
FROM harvest_source_risk WHERE source_id = $1`, sourceID)

	var state harvest.SourceRiskState
	err := row.Scan(&state.SourceID, &state.Risk, &state.BackoffMultiplier,
		&state.IdentityEpoch, &state.CooldownUntil, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.SourceRiskState{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.SourceRiskState{}, fmt.Errorf("get risk: %w", err)
	}
	return state, nil
}
