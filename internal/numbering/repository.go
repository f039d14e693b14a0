package numbering

import (
	"context"
	"fmt"

	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
)

// seedTables lists where existing numbers of each prefix live, so a counter
// created after data was imported continues from the highest number in use.
var seedTables = map[string]string{
	"SO": "sales_orders",
	"DO": "delivery_orders",
}

// PGStore keeps one counter row per scope in order_number_counters.
type PGStore struct {
	db db.DBTX
}

// NewPGStore constructs a counter store. Pass the reconciliation transaction
// so a rolled back unit also rolls back its numbers.
func NewPGStore(q db.DBTX) *PGStore {
	return &PGStore{db: q}
}

// Next increments the counter for scope and returns the new value.
func (s *PGStore) Next(ctx context.Context, scope string) (int64, error) {
	seed, err := s.seed(ctx, scope)
	if err != nil {
		return 0, err
	}
	const query = `
		INSERT INTO order_number_counters (scope, last_value, updated_at)
		VALUES ($1, $2 + 1, NOW())
		ON CONFLICT (scope) DO UPDATE
		SET last_value = order_number_counters.last_value + 1, updated_at = NOW()
		RETURNING last_value
	`
	var next int64
	if err := s.db.QueryRow(ctx, query, scope, seed).Scan(&next); err != nil {
		return 0, fmt.Errorf("numbering: increment %s: %w", scope, err)
	}
	return next, nil
}

func (s *PGStore) seed(ctx context.Context, scope string) (int64, error) {
	table, ok := seedTables[scope[:2]]
	if !ok {
		return 0, nil
	}
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(CAST(split_part(order_number, '-', 3) AS BIGINT)), 0)
		FROM %s
		WHERE order_number LIKE $1 || '-%%'
		  AND NOT EXISTS (SELECT 1 FROM order_number_counters WHERE scope = $1)
	`, table)
	var seed int64
	if err := s.db.QueryRow(ctx, query, scope).Scan(&seed); err != nil {
		return 0, fmt.Errorf("numbering: seed %s: %w", scope, err)
	}
	return seed, nil
}
