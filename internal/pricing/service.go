package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/shared"
)

// ErrInvalidPlan indicates inconsistent plan metadata.
var ErrInvalidPlan = errors.New("pricing: invalid price plan")

// ProductLookup resolves product codes found in uploads.
type ProductLookup interface {
	GetProductByCode(ctx context.Context, code string) (masterdata.Product, error)
}

// Invalidator drops cached live prices.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Locker serializes cache refreshes across workers.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// PlanUpload carries the metadata of an uploaded price sheet.
type PlanUpload struct {
	Name      string     `json:"name" validate:"required,max=120"`
	SellerID  *int64     `json:"seller_id,omitempty" validate:"omitempty,gt=0"`
	ValidFrom time.Time  `json:"valid_from" validate:"required"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// UploadResult summarises an imported sheet.
type UploadResult struct {
	PlanID   int64 `json:"plan_id"`
	Products int   `json:"products"`
}

// Service manages price plans and the offline price cache.
type Service struct {
	repo        Repository
	products    ProductLookup
	invalidator Invalidator
	locker      Locker
	logger      *slog.Logger
}

// NewService constructs the pricing service. invalidator and locker may be nil.
func NewService(repo Repository, products ProductLookup, invalidator Invalidator, locker Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, products: products, invalidator: invalidator, locker: locker, logger: logger}
}

// UploadPlan imports a spreadsheet as a new active price plan.
func (s *Service) UploadPlan(ctx context.Context, req PlanUpload, sheet io.Reader) (*UploadResult, error) {
	if req.ValidTo != nil && req.ValidTo.Before(req.ValidFrom) {
		return nil, fmt.Errorf("%w: valid_to before valid_from", ErrInvalidPlan)
	}
	rows, err := ParseSheet(sheet)
	if err != nil {
		return nil, err
	}

	prices := make([]ProductPrice, 0, len(rows))
	var rowErrs []RowError
	for _, row := range rows {
		product, err := s.products.GetProductByCode(ctx, row.ProductCode)
		if errors.Is(err, masterdata.ErrNotFound) {
			rowErrs = append(rowErrs, RowError{Row: row.Row, Message: fmt.Sprintf("unknown product %s", row.ProductCode)})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup product %s: %w", row.ProductCode, err)
		}
		prices = append(prices, ProductPrice{ProductID: product.ID, Price: row.Price})
	}
	if len(rowErrs) > 0 {
		return nil, &UploadError{Rows: rowErrs}
	}

	plan := PricePlan{
		Name:      req.Name,
		SellerID:  req.SellerID,
		IsGeneral: req.SellerID == nil,
		ValidFrom: req.ValidFrom,
		ValidTo:   req.ValidTo,
		IsActive:  true,
	}
	var planID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		id, err := tx.CreatePlan(ctx, plan)
		if err != nil {
			return err
		}
		planID = id
		return tx.UpsertProductPrices(ctx, id, prices)
	})
	if err != nil {
		return nil, fmt.Errorf("store price plan: %w", err)
	}

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("invalidate price cache", slog.Any("error", err))
		}
	}
	s.logger.Info("price plan uploaded",
		slog.Int64("plan_id", planID),
		slog.Int("products", len(prices)),
		slog.Bool("general", plan.IsGeneral),
	)
	return &UploadResult{PlanID: planID, Products: len(prices)}, nil
}

// RefreshCache materializes the offline price cache from the plans active on date.
func (s *Service) RefreshCache(ctx context.Context, date time.Time) (int, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.PriceRefreshLockKey(date))
		if err != nil {
			return 0, err
		}
		defer release()
	}

	entries, err := s.repo.EffectivePlanPrices(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("load effective plan prices: %w", err)
	}
	var written int
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		n, err := tx.UpsertCacheEntries(ctx, entries)
		written = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("write price cache: %w", err)
	}
	s.logger.Info("price cache refreshed", slog.String("date", date.Format("2006-01-02")), slog.Int("entries", written))
	return written, nil
}
