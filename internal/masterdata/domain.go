// Package masterdata holds the sellers, routes and products the order
// pipeline references.
package masterdata

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a missing master record.
var ErrNotFound = errors.New("masterdata: record not found")

// Route is a delivery round served by one vehicle.
type Route struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Seller is a retailer buying on a route.
type Seller struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	RouteID   int64     `json:"route_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Product is a sellable item.
type Product struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	IsActive bool   `json:"is_active"`
}

// Repository reads master data.
type Repository interface {
	GetSeller(ctx context.Context, id int64) (Seller, error)
	GetRoute(ctx context.Context, id int64) (Route, error)
	GetProductByCode(ctx context.Context, code string) (Product, error)
	ListProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
}
