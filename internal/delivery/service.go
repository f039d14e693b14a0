package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/pricing"
	"github.com/thiagu-r/dairy-sub000/internal/shared"
)

// Pricer prices items added by mobile clients.
type Pricer interface {
	ResolveCached(ctx context.Context, productID, sellerID int64, date time.Time) (pricing.Result, error)
}

// Locker serializes work per seller and delivery date.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service implements the delivery workflow outside the sales order pipeline.
type Service struct {
	repo      Repository
	pricer    Pricer
	locker    Locker
	directory Directory
	logger    *slog.Logger
	now       func() time.Time
}

// Directory resolves the master data an export names. masterdata.Repository
// satisfies it.
type Directory interface {
	GetRoute(ctx context.Context, id int64) (masterdata.Route, error)
	GetSeller(ctx context.Context, id int64) (masterdata.Seller, error)
	ListProducts(ctx context.Context, ids []int64) (map[int64]masterdata.Product, error)
}

// NewService creates a delivery service. locker may be nil.
func NewService(repo Repository, pricer Pricer, locker Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pricer: pricer, locker: locker, logger: logger, now: time.Now}
}

// WithDirectory makes exports print route, seller and product codes and
// names instead of ids.
func (s *Service) WithDirectory(d Directory) *Service {
	s.directory = d
	return s
}

// Get returns a delivery order with its items.
func (s *Service) Get(ctx context.Context, id int64) (*DeliveryOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of delivery orders and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]DeliveryOrder, int, error) {
	return s.repo.List(ctx, filter)
}

// Start sends a draft order out for delivery. Items are frozen from here on.
func (s *Service) Start(ctx context.Context, id, actorID int64) (*DeliveryOrder, error) {
	return s.transition(ctx, id, actorID, func(o *DeliveryOrder) (Status, error) {
		if !o.Status.CanStart() {
			return "", ErrCannotStart
		}
		return StatusInProgress, nil
	})
}

// Cancel cancels a draft or in-progress order.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (*DeliveryOrder, error) {
	return s.transition(ctx, id, actorID, func(o *DeliveryOrder) (Status, error) {
		if !o.Status.CanCancel() {
			return "", ErrCannotCancel
		}
		return StatusCancelled, nil
	})
}

func (s *Service) transition(ctx context.Context, id, actorID int64, next func(*DeliveryOrder) (Status, error)) (*DeliveryOrder, error) {
	var result *DeliveryOrder
	err := s.locked(ctx, id, func(ctx context.Context, repo Repository) error {
		order, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		status, err := next(order)
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, id, map[string]any{"status": status, "updated_by": actorID}); err != nil {
			return err
		}
		order.Status = status
		order.UpdatedBy = actorID
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("delivery order status changed",
		slog.Int64("delivery_order_id", id),
		slog.String("status", string(result.Status)))
	return result, nil
}

// AdjustDeliveredQuantity records the quantity actually handed over for one
// item and recalculates the order. The item is marked manually adjusted so
// later sales order changes keep the operator's figure.
func (s *Service) AdjustDeliveredQuantity(ctx context.Context, itemID int64, qty decimal.Decimal, actorID int64) (*DeliveryOrder, error) {
	if qty.IsNegative() {
		return nil, ErrInvalidQuantity
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var result *DeliveryOrder
	err = s.locked(ctx, item.DeliveryOrderID, func(ctx context.Context, repo Repository) error {
		order, err := repo.GetForUpdate(ctx, item.DeliveryOrderID)
		if err != nil {
			return err
		}
		if !order.Status.CanEdit() {
			return ErrCannotEdit
		}
		current, err := repo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		current.DeliveredQuantity = qty
		current.ManuallyAdjusted = true
		current.TotalPrice = LineTotal(qty, current.UnitPrice)
		if err := repo.UpdateItem(ctx, *current); err != nil {
			return err
		}
		if err := repo.Update(ctx, order.ID, map[string]any{"updated_by": actorID}); err != nil {
			return err
		}
		if _, err := Recalculate(ctx, repo, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Collection is a payment taken from the seller on delivery.
type Collection struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}

// RecordCollection stores the collected amount and recalculates balances.
func (s *Service) RecordCollection(ctx context.Context, id int64, c Collection, actorID int64) (*DeliveryOrder, error) {
	if c.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if !c.PaymentMethod.IsValid() {
		return nil, ErrInvalidPayment
	}
	var result *DeliveryOrder
	err := s.locked(ctx, id, func(ctx context.Context, repo Repository) error {
		order, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanEdit() {
			return ErrCannotEdit
		}
		if err := repo.Update(ctx, id, map[string]any{
			"amount_collected": c.Amount,
			"payment_method":   c.PaymentMethod,
			"updated_by":       actorID,
		}); err != nil {
			return err
		}
		order.AmountCollected = c.Amount
		order.PaymentMethod = c.PaymentMethod
		if _, err := Recalculate(ctx, repo, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SyncItem is one delivered line reported by a mobile client.
type SyncItem struct {
	ProductID         int64            `json:"product_id" validate:"required,gt=0"`
	DeliveredQuantity decimal.Decimal  `json:"delivered_quantity"`
	UnitPrice         *decimal.Decimal `json:"unit_price,omitempty"`
}

// SyncRequest is an offline delivery report uploaded by a mobile client.
type SyncRequest struct {
	SyncID           uuid.UUID        `json:"sync_id" validate:"required"`
	DeliveryOrderID  int64            `json:"delivery_order_id" validate:"required,gt=0"`
	Items            []SyncItem       `json:"items" validate:"dive"`
	AmountCollected  *decimal.Decimal `json:"amount_collected,omitempty"`
	PaymentMethod    PaymentMethod    `json:"payment_method,omitempty"`
	ActualDeliveryAt *time.Time       `json:"actual_delivery_at,omitempty"`
	ActorID          int64            `json:"-"`
}

// SyncResult is returned to the mobile client.
type SyncResult struct {
	Order    *DeliveryOrder `json:"order"`
	Replayed bool           `json:"replayed"`
}

// ApplyMobileSync applies a mobile delivery report. Item changes, the
// collection and the totals recalculation commit together. A sync id that was
// already applied returns the current order with Replayed set. On failure the
// order is marked sync failed.
func (s *Service) ApplyMobileSync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if req.SyncID == uuid.Nil {
		return nil, errors.New("delivery: sync id required")
	}
	if req.AmountCollected != nil && req.AmountCollected.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.IsValid() {
		return nil, ErrInvalidPayment
	}
	for _, it := range req.Items {
		if it.DeliveredQuantity.IsNegative() {
			return nil, fmt.Errorf("product %d: %w", it.ProductID, ErrInvalidQuantity)
		}
	}

	var result *DeliveryOrder
	err := s.locked(ctx, req.DeliveryOrderID, func(ctx context.Context, repo Repository) error {
		if err := repo.ClaimSync(ctx, req.SyncID, req.DeliveryOrderID); err != nil {
			return err
		}
		order, err := repo.GetForUpdate(ctx, req.DeliveryOrderID)
		if err != nil {
			return err
		}
		if !order.Status.CanEdit() {
			return ErrCannotEdit
		}
		if err := s.applySyncItems(ctx, repo, order, req.Items); err != nil {
			return err
		}

		now := s.now()
		updates := map[string]any{
			"sync_status":    SyncSynced,
			"last_synced_at": now,
			"updated_by":     req.ActorID,
		}
		if order.Status == StatusDraft {
			updates["status"] = StatusInProgress
			order.Status = StatusInProgress
		}
		if req.AmountCollected != nil {
			updates["amount_collected"] = *req.AmountCollected
			order.AmountCollected = *req.AmountCollected
		}
		if req.PaymentMethod != "" {
			updates["payment_method"] = req.PaymentMethod
			order.PaymentMethod = req.PaymentMethod
		}
		if req.ActualDeliveryAt != nil {
			updates["actual_delivery_at"] = *req.ActualDeliveryAt
			order.ActualDeliveryAt = req.ActualDeliveryAt
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return err
		}
		order.SyncStatus = SyncSynced
		order.LastSyncedAt = &now
		if _, err := Recalculate(ctx, repo, order); err != nil {
			return err
		}
		result = order
		return nil
	})

	switch {
	case err == nil:
		s.logger.Info("mobile sync applied",
			slog.Int64("delivery_order_id", req.DeliveryOrderID),
			slog.String("sync_id", req.SyncID.String()),
			slog.Int("items", len(req.Items)))
		return &SyncResult{Order: result}, nil
	case errors.Is(err, shared.ErrIdempotencyConflict):
		order, getErr := s.repo.Get(ctx, req.DeliveryOrderID)
		if getErr != nil {
			return nil, getErr
		}
		return &SyncResult{Order: order, Replayed: true}, nil
	case errors.Is(err, ErrSyncIDReused):
		return nil, err
	default:
		s.markSyncFailed(ctx, req.DeliveryOrderID, err)
		return nil, err
	}
}

func (s *Service) applySyncItems(ctx context.Context, repo Repository, order *DeliveryOrder, items []SyncItem) error {
	existing := make(map[int64]Item, len(order.Items))
	for _, it := range order.Items {
		existing[it.ProductID] = it
	}
	for _, in := range items {
		item, ok := existing[in.ProductID]
		if !ok {
			item = Item{DeliveryOrderID: order.ID, ProductID: in.ProductID, OrderedQuantity: decimal.Zero}
		}
		item.DeliveredQuantity = in.DeliveredQuantity
		item.ManuallyAdjusted = true
		if in.UnitPrice != nil {
			item.UnitPrice = *in.UnitPrice
			item.PriceSource = PriceSourceManual
		} else if !ok {
			res, err := s.pricer.ResolveCached(ctx, in.ProductID, order.SellerID, order.DeliveryDate)
			if err != nil {
				return fmt.Errorf("price product %d: %w", in.ProductID, err)
			}
			price, defaulted := res.Or(decimal.Zero)
			if defaulted {
				s.logger.Warn("no price found, defaulting to zero",
					slog.Int64("product_id", in.ProductID),
					slog.Int64("seller_id", order.SellerID),
					slog.Time("delivery_date", order.DeliveryDate))
			}
			item.UnitPrice = price
			item.PriceSource = string(res.Source)
		}
		item.TotalPrice = LineTotal(item.DeliveredQuantity, item.UnitPrice)

		if ok {
			if err := repo.UpdateItem(ctx, item); err != nil {
				return fmt.Errorf("product %d: %w", in.ProductID, err)
			}
			continue
		}
		id, err := repo.InsertItem(ctx, item)
		if err != nil {
			return fmt.Errorf("product %d: %w", in.ProductID, err)
		}
		item.ID = id
		existing[in.ProductID] = item
	}
	return nil
}

func (s *Service) markSyncFailed(ctx context.Context, id int64, cause error) {
	if errors.Is(cause, ErrNotFound) {
		return
	}
	if err := s.repo.Update(ctx, id, map[string]any{"sync_status": SyncFailed}); err != nil {
		s.logger.Error("failed to record sync failure",
			slog.Int64("delivery_order_id", id),
			slog.Any("error", err))
		return
	}
	s.logger.Warn("mobile sync failed",
		slog.Int64("delivery_order_id", id),
		slog.Any("error", cause))
}

// Drift describes an order whose stored totals disagreed with its items.
type Drift struct {
	DeliveryOrderID int64  `json:"delivery_order_id"`
	OrderNumber     string `json:"order_number"`
	Stored          Totals `json:"stored"`
	Recomputed      Totals `json:"recomputed"`
}

// AuditReport summarises a totals audit.
type AuditReport struct {
	Date    time.Time `json:"date"`
	Checked int       `json:"checked"`
	Drifted []Drift   `json:"drifted"`
}

const auditPageSize = 200

// AuditTotals recomputes the totals of every order on date and repairs the
// ones that drifted from their items.
func (s *Service) AuditTotals(ctx context.Context, date time.Time) (*AuditReport, error) {
	report := &AuditReport{Date: date}
	filter := ListFilter{From: &date, To: &date, Limit: auditPageSize}
	for {
		orders, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("audit totals: list orders: %w", err)
		}
		for _, o := range orders {
			drift, err := s.auditOrder(ctx, o.ID)
			if err != nil {
				return nil, err
			}
			report.Checked++
			if drift != nil {
				report.Drifted = append(report.Drifted, *drift)
			}
		}
		filter.Offset += len(orders)
		if len(orders) == 0 || filter.Offset >= total {
			break
		}
	}
	if len(report.Drifted) > 0 {
		s.logger.Warn("delivery totals drift repaired",
			slog.Time("date", date),
			slog.Int("checked", report.Checked),
			slog.Int("drifted", len(report.Drifted)))
	}
	return report, nil
}

func (s *Service) auditOrder(ctx context.Context, id int64) (*Drift, error) {
	var drift *Drift
	err := s.locked(ctx, id, func(ctx context.Context, repo Repository) error {
		order, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		stored := TotalsOf(*order)
		if ComputeTotals(order.Items, order.AmountCollected, order.OpeningBalance).Equal(stored) {
			return nil
		}
		recomputed, err := Recalculate(ctx, repo, order)
		if err != nil {
			return err
		}
		drift = &Drift{DeliveryOrderID: id, OrderNumber: order.OrderNumber, Stored: stored, Recomputed: recomputed}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit delivery order %d: %w", id, err)
	}
	return drift, nil
}

// locked runs fn in a transaction while holding the seller/date lock of the
// order.
func (s *Service) locked(ctx context.Context, orderID int64, fn func(context.Context, Repository) error) error {
	if s.locker != nil {
		order, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		release, err := s.locker.Acquire(ctx, shared.ReconcileLockKey(order.SellerID, order.DeliveryDate))
		if err != nil {
			return err
		}
		defer release()
	}
	return s.repo.WithTx(ctx, fn)
}
