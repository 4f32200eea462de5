package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// ItemStore persists processed items in the harvest_items table. The
// full item is stored as a JSONB payload next to the indexed columns.
type ItemStore struct {
	db DB
}

// NewItemStore constructs an ItemStore over an open pool.
func NewItemStore(db DB) *ItemStore {
	return &ItemStore{db: db}
}

// PutItem upserts a processed item.
func (s *ItemStore) PutItem(ctx context.Context, item harvest.ProcessedItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO harvest_items
	(id, source_id, fingerprint, category, decision, score, cluster_id, cross_source, payload, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	decision = EXCLUDED.decision,
	score = EXCLUDED.score,
	cluster_id = EXCLUDED.cluster_id,
	cross_source = EXCLUDED.cross_source,
	payload = EXCLUDED.payload,
	processed_at = EXCLUDED.processed_at`,
		item.ID, item.Raw.SourceID, item.Fingerprint, item.Raw.Category,
		string(item.Decision), item.Score, item.ClusterID, item.CrossSource,
		payload, item.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetItem fetches one item by ID.
func (s *ItemStore) GetItem(ctx context.Context, id string) (harvest.ProcessedItem, error) {
	row := s.db.QueryRow(ctx, `SELECT payload FROM harvest_items WHERE id = $1`, id)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return harvest.ProcessedItem{}, harvest.ErrNotFound
		}
		return harvest.ProcessedItem{}, fmt.Errorf("get item: %w", err)
	}
	return decodeItem(payload)
}

// FindByFingerprint returns items from the source with the same
// content fingerprint.
func (s *ItemStore) FindByFingerprint(ctx context.Context, sourceID, fingerprint string) ([]harvest.ProcessedItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT payload FROM harvest_items
WHERE source_id = $1 AND fingerprint = $2
ORDER BY processed_at`, sourceID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return collectItems(rows)
}

// RecentAccepted returns the latest accepted items, optionally limited
// to one category.
func (s *ItemStore) RecentAccepted(ctx context.Context, category string, limit int) ([]harvest.ProcessedItem, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.db.Query(ctx, `
SELECT payload FROM harvest_items
WHERE decision = 'accept' AND ($1 = '' OR category = $1)
ORDER BY processed_at DESC
LIMIT $2`, category, limit)
	if err != nil {
		return nil, fmt.Errorf("recent accepted: %w", err)
	}
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]harvest.ProcessedItem, error) {
	defer rows.Close()
	var items []harvest.ProcessedItem
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item, err := decodeItem(payload)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func decodeItem(payload []byte) (harvest.ProcessedItem, error) {
	var item harvest.ProcessedItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return harvest.ProcessedItem{}, fmt.Errorf("unmarshal item: %w", err)
	}
	return item, nil
}
