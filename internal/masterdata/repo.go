package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
)

// repo implements Repository interface
type repo struct {
	db db.DBTX
}

// NewRepository creates a new master data repository
func NewRepository(q db.DBTX) Repository {
	return &repo{db: q}
}

func (r *repo) GetSeller(ctx context.Context, id int64) (Seller, error) {
	query := `SELECT id, code, name, route_id, is_active, created_at FROM sellers WHERE id = $1`
	var s Seller
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.Code, &s.Name, &s.RouteID, &s.IsActive, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Seller{}, ErrNotFound
	}
	return s, err
}

func (r *repo) GetRoute(ctx context.Context, id int64) (Route, error) {
	query := `SELECT id, code, name, created_at FROM routes WHERE id = $1`
	var rt Route
	err := r.db.QueryRow(ctx, query, id).Scan(&rt.ID, &rt.Code, &rt.Name, &rt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Route{}, ErrNotFound
	}
	return rt, err
}

func (r *repo) GetProductByCode(ctx context.Context, code string) (Product, error) {
	query := `SELECT id, code, name, unit, is_active FROM products WHERE code = $1`
	var p Product
	err := r.db.QueryRow(ctx, query, code).Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *repo) ListProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id, code, name, unit, is_active FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.IsActive); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
