package shared

import (
	"context"
	"errors"
	"time"

	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
)

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db db.DBTX
}

// NewIdempotencyStore constructs the store. Passing a pgx.Tx scopes the key to
// that transaction, so a rollback forgets the key again.
func NewIdempotencyStore(q db.DBTX) *IdempotencyStore {
	return &IdempotencyStore{db: q}
}

var (
	// ErrIdempotencyConflict indicates a duplicate key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrIdempotencyKeyReused means the key was already claimed for another subject.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different request")
)

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Claim records key for subject. Claiming it again for the same subject returns
// ErrIdempotencyConflict; for another subject, ErrIdempotencyKeyReused.
func (s *IdempotencyStore) Claim(ctx context.Context, key, module, subject string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return errors.New("idempotency key and module required")
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key, module, subject, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (module, key) DO NOTHING`, key, module, subject, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var existing string
	if err := s.db.QueryRow(ctx,
		`SELECT subject FROM idempotency_keys WHERE module = $1 AND key = $2`, module, key).Scan(&existing); err != nil {
		return err
	}
	if existing != subject {
		return ErrIdempotencyKeyReused
	}
	return ErrIdempotencyConflict
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
