package reconcile

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/numbering"
	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
	"github.com/thiagu-r/dairy-sub000/internal/sales"
)

// Repos is the set of repositories bound to one reconciliation transaction.
type Repos struct {
	Sales      sales.Repository
	Delivery   delivery.Repository
	Numbers    *numbering.Allocator
	Masterdata masterdata.Repository

	// Savepoint runs fn so that its writes can be undone without aborting
	// the surrounding transaction.
	Savepoint func(ctx context.Context, fn func() error) error
}

// Store opens reconciliation transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Repos) error) error
	// Sales and Delivery read outside a transaction.
	Sales() sales.Repository
	Delivery() delivery.Repository
}

// Pool is the database handle PGStore needs. *pgxpool.Pool satisfies it.
type Pool interface {
	db.DBTX
	db.Beginner
}

// PGStore runs every unit in a serializable transaction, retried on
// serialization failures and deadlocks.
type PGStore struct {
	pool     Pool
	attempts int
	sales    sales.Repository
	delivery delivery.Repository
}

// NewPGStore constructs a PostgreSQL store.
func NewPGStore(pool Pool, attempts int) *PGStore {
	if attempts <= 0 {
		attempts = 3
	}
	return &PGStore{
		pool:     pool,
		attempts: attempts,
		sales:    sales.NewRepository(pool),
		delivery: delivery.NewRepository(pool),
	}
}

func (s *PGStore) Sales() sales.Repository       { return s.sales }
func (s *PGStore) Delivery() delivery.Repository { return s.delivery }

// WithTx implements Store.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context, Repos) error) error {
	return db.WithSerializable(ctx, s.pool, s.attempts, func(tx pgx.Tx) error {
		return fn(ctx, Repos{
			Sales:      sales.NewRepository(tx),
			Delivery:   delivery.NewRepository(tx),
			Numbers:    numbering.NewAllocator(numbering.NewPGStore(tx)),
			Masterdata: masterdata.NewRepository(tx),
			Savepoint: func(ctx context.Context, fn func() error) error {
				sp, err := tx.Begin(ctx)
				if err != nil {
					return err
				}
				if err := fn(); err != nil {
					_ = sp.Rollback(ctx)
					return err
				}
				return sp.Commit(ctx)
			},
		})
	})
}
