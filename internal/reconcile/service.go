// Package reconcile keeps sales orders, their paired delivery orders and the
// delivery totals consistent. Every mutation runs as one transaction while
// holding the lock of the order's seller and delivery date.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/numbering"
	"github.com/thiagu-r/dairy-sub000/internal/pricing"
	"github.com/thiagu-r/dairy-sub000/internal/sales"
	"github.com/thiagu-r/dairy-sub000/internal/shared"
)

// Pricer resolves unit prices. Resolve walks the live price plans,
// ResolveCached the offline price cache first.
type Pricer interface {
	Resolve(ctx context.Context, productID, sellerID int64, date time.Time) (pricing.Result, error)
	ResolveCached(ctx context.Context, productID, sellerID int64, date time.Time) (pricing.Result, error)
}

// Locker serializes reconciliation per seller and delivery date.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Recorder receives reconciliation metrics.
type Recorder interface {
	ObserveReconcile(op string, elapsed time.Duration, err error)
	PriceDefaulted(path string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReconcile(string, time.Duration, error) {}
func (nopRecorder) PriceDefaulted(string)                         {}

// ItemInput is a sales order line as submitted by a caller. A nil UnitPrice
// is resolved from the price plans.
type ItemInput struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateSalesOrderRequest creates a sales order with its paired delivery order.
type CreateSalesOrderRequest struct {
	SellerID     int64       `json:"seller_id" validate:"required,gt=0"`
	DeliveryDate time.Time   `json:"delivery_date" validate:"required"`
	Notes        *string     `json:"notes,omitempty" validate:"omitempty,max=500"`
	Items        []ItemInput `json:"items" validate:"dive"`
}

// ItemUpdate changes a sales order line. ClearPrice drops the stored price so
// it is resolved again; it is ignored when UnitPrice is set.
type ItemUpdate struct {
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	ClearPrice bool             `json:"clear_price,omitempty"`
}

// Outcome is the state of both orders after a reconciliation unit.
type Outcome struct {
	SalesOrder    *sales.SalesOrder       `json:"sales_order"`
	DeliveryOrder *delivery.DeliveryOrder `json:"delivery_order,omitempty"`
}

// Service is the single entry point for sales order mutations.
type Service struct {
	store    Store
	pricer   Pricer
	locker   Locker
	recorder Recorder
	logger   *slog.Logger
}

// NewService constructs the reconciliation service. recorder may be nil.
func NewService(store Store, pricer Pricer, locker Locker, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{store: store, pricer: pricer, locker: locker, recorder: recorder, logger: logger}
}

// Get returns a sales order with its paired delivery order.
func (s *Service) Get(ctx context.Context, salesOrderID int64) (*Outcome, error) {
	so, err := s.store.Sales().Get(ctx, salesOrderID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{SalesOrder: so}
	do, err := s.store.Delivery().FindBySalesOrder(ctx, salesOrderID)
	switch {
	case err == nil:
		out.DeliveryOrder = do
	case !errors.Is(err, delivery.ErrNotFound):
		return nil, err
	}
	return out, nil
}

// List returns a page of sales orders.
func (s *Service) List(ctx context.Context, filter sales.ListFilter) ([]sales.SalesOrder, int, error) {
	return s.store.Sales().List(ctx, filter)
}

// CreateSalesOrder creates a draft sales order, its draft delivery order with
// the carried opening balance, and the initial lines of both.
func (s *Service) CreateSalesOrder(ctx context.Context, req CreateSalesOrderRequest, actorID int64) (out *Outcome, err error) {
	defer s.observe("create_sales_order", time.Now(), &err)

	if err := validateInputs(req.Items); err != nil {
		return nil, err
	}
	date := truncateDate(req.DeliveryDate)

	release, err := s.locker.Acquire(ctx, shared.ReconcileLockKey(req.SellerID, date))
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repos) error {
		seller, err := repos.Masterdata.GetSeller(ctx, req.SellerID)
		if errors.Is(err, masterdata.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownSeller, req.SellerID)
		}
		if err != nil {
			return err
		}
		if !seller.IsActive {
			return fmt.Errorf("%w: %d", ErrSellerInactive, seller.ID)
		}

		number, err := repos.Numbers.Next(ctx, numbering.KindSales, date)
		if err != nil {
			return err
		}
		so := sales.SalesOrder{
			OrderNumber:  number,
			SellerID:     seller.ID,
			DeliveryDate: date,
			Status:       sales.StatusDraft,
			Notes:        req.Notes,
			CreatedBy:    actorID,
			UpdatedBy:    actorID,
		}
		if so.ID, err = repos.Sales.Create(ctx, so); err != nil {
			return err
		}
		for _, in := range req.Items {
			if err := s.insertSalesItem(ctx, repos, &so, in); err != nil {
				return err
			}
		}
		if _, err := s.createDelivery(ctx, repos, &so, seller.RouteID, actorID); err != nil {
			return err
		}

		out, err = s.syncAndLoad(ctx, repos, so.ID, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("sales order created",
		slog.Int64("sales_order_id", out.SalesOrder.ID),
		slog.String("order_number", out.SalesOrder.OrderNumber),
		slog.String("delivery_order_number", out.DeliveryOrder.OrderNumber))
	return out, nil
}

// AddItem adds a line to a sales order and syncs the delivery order.
func (s *Service) AddItem(ctx context.Context, salesOrderID int64, in ItemInput, actorID int64) (out *Outcome, err error) {
	defer s.observe("add_item", time.Now(), &err)

	if err := validateInputs([]ItemInput{in}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, salesOrderID, actorID, func(ctx context.Context, repos Repos, so *sales.SalesOrder) error {
		if !so.Status.CanEditItems() {
			return sales.ErrCannotEditItems
		}
		return s.insertSalesItem(ctx, repos, so, in)
	})
}

// UpdateItem changes a sales order line and syncs the delivery order.
func (s *Service) UpdateItem(ctx context.Context, salesOrderID, itemID int64, upd ItemUpdate, actorID int64) (out *Outcome, err error) {
	defer s.observe("update_item", time.Now(), &err)

	if upd.Quantity != nil && !upd.Quantity.IsPositive() {
		return nil, sales.ErrInvalidQuantity
	}
	return s.mutate(ctx, salesOrderID, actorID, func(ctx context.Context, repos Repos, so *sales.SalesOrder) error {
		if !so.Status.CanEditItems() {
			return sales.ErrCannotEditItems
		}
		item, err := ownItem(ctx, repos, so.ID, itemID)
		if err != nil {
			return err
		}
		if upd.Quantity != nil {
			item.Quantity = *upd.Quantity
		}
		switch {
		case upd.UnitPrice != nil:
			item.UnitPrice = *upd.UnitPrice
			item.PriceSource = sales.PriceSourceManual
		case upd.ClearPrice:
			price, source, err := s.planPrice(ctx, item.ProductID, so.SellerID, so.DeliveryDate)
			if err != nil {
				return err
			}
			item.UnitPrice, item.PriceSource = price, source
		}
		return repos.Sales.UpdateItem(ctx, *item)
	})
}

// RemoveItem deletes a sales order line. The matching delivery line is
// deleted only while the delivery order is a draft; totals are recalculated
// either way.
func (s *Service) RemoveItem(ctx context.Context, salesOrderID, itemID int64, actorID int64) (out *Outcome, err error) {
	defer s.observe("remove_item", time.Now(), &err)

	return s.lockedUnit(ctx, salesOrderID, func(ctx context.Context, repos Repos) (*Outcome, error) {
		so, err := repos.Sales.GetForUpdate(ctx, salesOrderID)
		if err != nil {
			return nil, err
		}
		if !so.Status.CanEditItems() {
			return nil, sales.ErrCannotEditItems
		}
		item, err := ownItem(ctx, repos, so.ID, itemID)
		if err != nil {
			return nil, err
		}
		if err := repos.Sales.DeleteItem(ctx, item.ID); err != nil {
			return nil, err
		}
		if err := repos.Sales.Touch(ctx, so.ID, actorID); err != nil {
			return nil, err
		}

		do, err := repos.Delivery.FindBySalesOrder(ctx, so.ID)
		if errors.Is(err, delivery.ErrNotFound) {
			return s.load(ctx, repos, so.ID, nil)
		}
		if err != nil {
			return nil, err
		}
		if do.Status.AllowsItemSync() {
			for _, di := range do.Items {
				if di.ProductID == item.ProductID {
					if err := repos.Delivery.DeleteItem(ctx, di.ID); err != nil {
						return nil, err
					}
				}
			}
		}
		if _, err := delivery.Recalculate(ctx, repos.Delivery, do); err != nil {
			return nil, err
		}
		return s.load(ctx, repos, so.ID, do)
	})
}

// Sync brings the delivery order in line with the sales order, creating the
// delivery order when it is missing.
func (s *Service) Sync(ctx context.Context, salesOrderID, actorID int64) (out *Outcome, err error) {
	defer s.observe("sync", time.Now(), &err)

	return s.mutate(ctx, salesOrderID, actorID, func(context.Context, Repos, *sales.SalesOrder) error {
		return nil
	})
}

// SetStatus moves a sales order through its manual lifecycle. Cancelling also
// cancels the delivery order when it has not been completed. Delivered states
// are reached only through CompleteDelivery.
func (s *Service) SetStatus(ctx context.Context, salesOrderID int64, next sales.Status, actorID int64) (out *Outcome, err error) {
	defer s.observe("set_status", time.Now(), &err)

	if next == sales.StatusDelivered || next == sales.StatusPartiallyDelivered || !next.IsValid() {
		return nil, sales.ErrInvalidTransition
	}
	return s.lockedUnit(ctx, salesOrderID, func(ctx context.Context, repos Repos) (*Outcome, error) {
		so, err := repos.Sales.GetForUpdate(ctx, salesOrderID)
		if err != nil {
			return nil, err
		}
		if !so.Status.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s to %s", sales.ErrInvalidTransition, so.Status, next)
		}
		so.Status = next
		so.UpdatedBy = actorID
		if err := repos.Sales.UpdateStatus(ctx, *so); err != nil {
			return nil, err
		}

		do, err := repos.Delivery.FindBySalesOrder(ctx, so.ID)
		if errors.Is(err, delivery.ErrNotFound) {
			return s.load(ctx, repos, so.ID, nil)
		}
		if err != nil {
			return nil, err
		}
		if next == sales.StatusCancelled && do.Status.CanCancel() {
			if err := repos.Delivery.Update(ctx, do.ID, map[string]any{
				"status":     delivery.StatusCancelled,
				"updated_by": actorID,
			}); err != nil {
				return nil, err
			}
			do.Status = delivery.StatusCancelled
		}
		return s.load(ctx, repos, so.ID, do)
	})
}

// CompleteDelivery completes an in-progress delivery order and marks its
// sales order delivered, or partially delivered when any line fell short.
// Delivered quantities are copied back onto the sales lines.
func (s *Service) CompleteDelivery(ctx context.Context, deliveryOrderID int64, at time.Time, actorID int64) (result *delivery.DeliveryOrder, err error) {
	defer s.observe("complete_delivery", time.Now(), &err)

	current, err := s.store.Delivery().Get(ctx, deliveryOrderID)
	if err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, shared.ReconcileLockKey(current.SellerID, current.DeliveryDate))
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repos) error {
		do, err := repos.Delivery.GetForUpdate(ctx, deliveryOrderID)
		if err != nil {
			return err
		}
		if !do.Status.CanComplete() {
			return delivery.ErrCannotComplete
		}
		if err := repos.Delivery.Update(ctx, do.ID, map[string]any{
			"status":             delivery.StatusCompleted,
			"actual_delivery_at": at,
			"updated_by":         actorID,
		}); err != nil {
			return err
		}
		do.Status = delivery.StatusCompleted
		do.ActualDeliveryAt = &at
		if _, err := delivery.Recalculate(ctx, repos.Delivery, do); err != nil {
			return err
		}

		so, err := repos.Sales.GetForUpdate(ctx, do.SalesOrderID)
		if err != nil {
			return err
		}
		delivered := deliveredByProduct(do.Items)
		for i := range so.Items {
			it := &so.Items[i]
			qty := delivered[it.ProductID]
			if it.DeliveredQuantity.Equal(qty) {
				continue
			}
			it.DeliveredQuantity = qty
			if err := repos.Sales.UpdateItem(ctx, *it); err != nil {
				return err
			}
		}
		so.Status = sales.StatusDelivered
		if partiallyDelivered(do.Items) || shortSalesLine(so.Items) {
			so.Status = sales.StatusPartiallyDelivered
		}
		so.Delivered = true
		so.ActualDeliveryAt = &at
		so.UpdatedBy = actorID
		if err := repos.Sales.UpdateStatus(ctx, *so); err != nil {
			return err
		}
		result = do
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("delivery completed",
		slog.Int64("delivery_order_id", result.ID),
		slog.Int64("sales_order_id", result.SalesOrderID))
	return result, nil
}

// mutate runs fn on the locked sales order, then syncs and recalculates.
func (s *Service) mutate(ctx context.Context, salesOrderID, actorID int64, fn func(context.Context, Repos, *sales.SalesOrder) error) (*Outcome, error) {
	return s.lockedUnit(ctx, salesOrderID, func(ctx context.Context, repos Repos) (*Outcome, error) {
		so, err := repos.Sales.GetForUpdate(ctx, salesOrderID)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, repos, so); err != nil {
			return nil, err
		}
		if err := repos.Sales.Touch(ctx, so.ID, actorID); err != nil {
			return nil, err
		}
		return s.syncAndLoad(ctx, repos, so.ID, actorID)
	})
}

// lockedUnit takes the seller/date lock of a sales order and runs fn in a
// transaction.
func (s *Service) lockedUnit(ctx context.Context, salesOrderID int64, fn func(context.Context, Repos) (*Outcome, error)) (*Outcome, error) {
	current, err := s.store.Sales().Get(ctx, salesOrderID)
	if err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, shared.ReconcileLockKey(current.SellerID, current.DeliveryDate))
	if err != nil {
		return nil, err
	}
	defer release()

	var out *Outcome
	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repos) error {
		var err error
		out, err = fn(ctx, repos)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// syncAndLoad syncs the delivery order of a sales order and returns both.
func (s *Service) syncAndLoad(ctx context.Context, repos Repos, salesOrderID, actorID int64) (*Outcome, error) {
	so, err := repos.Sales.Get(ctx, salesOrderID)
	if err != nil {
		return nil, err
	}
	do, err := repos.Delivery.FindBySalesOrder(ctx, so.ID)
	if errors.Is(err, delivery.ErrNotFound) {
		seller, serr := repos.Masterdata.GetSeller(ctx, so.SellerID)
		if serr != nil {
			return nil, fmt.Errorf("create missing delivery order: %w", serr)
		}
		s.logger.Warn("delivery order missing for sales order, creating it",
			slog.Int64("sales_order_id", so.ID))
		do, err = s.createDelivery(ctx, repos, so, seller.RouteID, actorID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.syncItems(ctx, repos, so, do); err != nil {
		return nil, err
	}
	if _, err := delivery.Recalculate(ctx, repos.Delivery, do); err != nil {
		return nil, err
	}
	return &Outcome{SalesOrder: so, DeliveryOrder: do}, nil
}

// syncItems applies the synchronizer plan. Every failing line is collected;
// any failure fails the unit.
func (s *Service) syncItems(ctx context.Context, repos Repos, so *sales.SalesOrder, do *delivery.DeliveryOrder) error {
	plan := Plan(do, so.Items, do.Items)
	if plan.Empty() {
		return nil
	}

	var failed []ItemError
	record := func(op string, productID int64, err error) {
		if err != nil {
			failed = append(failed, ItemError{ProductID: productID, Op: op, Err: err})
		}
	}
	for _, it := range plan.Create {
		res, err := s.pricer.ResolveCached(ctx, it.ProductID, so.SellerID, so.DeliveryDate)
		if err != nil {
			record("price", it.ProductID, err)
			continue
		}
		price, defaulted := res.Or(decimal.Zero)
		if defaulted {
			s.priceDefaulted("cache", it.ProductID, so.SellerID, so.DeliveryDate)
		}
		it.UnitPrice = price
		it.PriceSource = string(res.Source)
		it.TotalPrice = delivery.LineTotal(it.DeliveredQuantity, it.UnitPrice)
		record("create", it.ProductID, repos.Savepoint(ctx, func() error {
			_, err := repos.Delivery.InsertItem(ctx, it)
			return err
		}))
	}
	for _, it := range plan.Update {
		record("update", it.ProductID, repos.Savepoint(ctx, func() error {
			return repos.Delivery.UpdateItem(ctx, it)
		}))
	}
	for _, it := range plan.Delete {
		record("delete", it.ProductID, repos.Savepoint(ctx, func() error {
			return repos.Delivery.DeleteItem(ctx, it.ID)
		}))
	}

	if len(failed) > 0 {
		return &SyncError{DeliveryOrderID: do.ID, Items: failed}
	}
	s.logger.Debug("delivery items synced",
		slog.Int64("delivery_order_id", do.ID),
		slog.Int("created", len(plan.Create)),
		slog.Int("updated", len(plan.Update)),
		slog.Int("deleted", len(plan.Delete)))
	return nil
}

// createDelivery creates the draft delivery order paired with so.
func (s *Service) createDelivery(ctx context.Context, repos Repos, so *sales.SalesOrder, routeID, actorID int64) (*delivery.DeliveryOrder, error) {
	opening, err := delivery.OpeningBalance(ctx, repos.Delivery, so.SellerID, so.DeliveryDate)
	if err != nil {
		return nil, err
	}
	if opening.Defaulted() {
		s.logger.Warn("no previous delivery, opening balance defaulted to zero",
			slog.Int64("seller_id", so.SellerID),
			slog.Time("delivery_date", so.DeliveryDate))
	}
	number, err := repos.Numbers.Next(ctx, numbering.KindDelivery, so.DeliveryDate)
	if err != nil {
		return nil, err
	}
	do := delivery.DeliveryOrder{
		OrderNumber:    number,
		RouteID:        routeID,
		SellerID:       so.SellerID,
		SalesOrderID:   so.ID,
		DeliveryDate:   so.DeliveryDate,
		OpeningBalance: opening.Amount,
		TotalBalance:   opening.Amount,
		PaymentMethod:  delivery.PaymentCash,
		Status:         delivery.StatusDraft,
		SyncStatus:     delivery.SyncPending,
		CreatedBy:      actorID,
		UpdatedBy:      actorID,
	}
	if do.ID, err = repos.Delivery.Create(ctx, do); err != nil {
		return nil, err
	}
	return &do, nil
}

func (s *Service) insertSalesItem(ctx context.Context, repos Repos, so *sales.SalesOrder, in ItemInput) error {
	item := sales.OrderItem{
		SalesOrderID:      so.ID,
		ProductID:         in.ProductID,
		Quantity:          in.Quantity,
		DeliveredQuantity: decimal.Zero,
	}
	if in.UnitPrice != nil {
		item.UnitPrice = *in.UnitPrice
		item.PriceSource = sales.PriceSourceManual
	} else {
		price, source, err := s.planPrice(ctx, in.ProductID, so.SellerID, so.DeliveryDate)
		if err != nil {
			return err
		}
		item.UnitPrice, item.PriceSource = price, source
	}
	_, err := repos.Sales.InsertItem(ctx, item)
	return err
}

// planPrice resolves a sales line price from the price plans, defaulting to
// zero when no plan prices the product.
func (s *Service) planPrice(ctx context.Context, productID, sellerID int64, date time.Time) (decimal.Decimal, string, error) {
	res, err := s.pricer.Resolve(ctx, productID, sellerID, date)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("price product %d: %w", productID, err)
	}
	price, defaulted := res.Or(decimal.Zero)
	if defaulted {
		s.priceDefaulted("plan", productID, sellerID, date)
	}
	return price, string(res.Source), nil
}

func (s *Service) priceDefaulted(path string, productID, sellerID int64, date time.Time) {
	s.recorder.PriceDefaulted(path)
	s.logger.Warn("no price found, defaulting to zero",
		slog.String("path", path),
		slog.Int64("product_id", productID),
		slog.Int64("seller_id", sellerID),
		slog.Time("delivery_date", date))
}

func (s *Service) load(ctx context.Context, repos Repos, salesOrderID int64, do *delivery.DeliveryOrder) (*Outcome, error) {
	so, err := repos.Sales.Get(ctx, salesOrderID)
	if err != nil {
		return nil, err
	}
	return &Outcome{SalesOrder: so, DeliveryOrder: do}, nil
}

func (s *Service) observe(op string, start time.Time, err *error) {
	s.recorder.ObserveReconcile(op, time.Since(start), *err)
	if *err != nil {
		s.logger.Debug("reconcile failed", slog.String("op", op), slog.Any("error", *err))
	}
}

func ownItem(ctx context.Context, repos Repos, salesOrderID, itemID int64) (*sales.OrderItem, error) {
	item, err := repos.Sales.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SalesOrderID != salesOrderID {
		return nil, sales.ErrItemNotFound
	}
	return item, nil
}

func validateInputs(items []ItemInput) error {
	seen := make(map[int64]bool, len(items))
	for _, in := range items {
		if !in.Quantity.IsPositive() {
			return fmt.Errorf("product %d: %w", in.ProductID, sales.ErrInvalidQuantity)
		}
		if seen[in.ProductID] {
			return fmt.Errorf("product %d: %w", in.ProductID, sales.ErrDuplicateProduct)
		}
		seen[in.ProductID] = true
	}
	return nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
