package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
	"github.com/thiagu-r/dairy-sub000/internal/shared"
)

const syncModule = "delivery.mobile_sync"

// Repository defines the interface for delivery order persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	// Read operations
	Get(ctx context.Context, id int64) (*DeliveryOrder, error)
	GetForUpdate(ctx context.Context, id int64) (*DeliveryOrder, error)
	FindBySalesOrder(ctx context.Context, salesOrderID int64) (*DeliveryOrder, error)
	PreviousForSeller(ctx context.Context, sellerID int64, before time.Time) (*DeliveryOrder, error)
	List(ctx context.Context, filter ListFilter) ([]DeliveryOrder, int, error)
	ListItems(ctx context.Context, orderID int64) ([]Item, error)
	GetItem(ctx context.Context, itemID int64) (*Item, error)

	// Write operations
	Create(ctx context.Context, order DeliveryOrder) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	UpdateTotals(ctx context.Context, id int64, totals Totals) error
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, itemID int64) error
	ClaimSync(ctx context.Context, syncID uuid.UUID, deliveryOrderID int64) error
}

// ListFilter narrows List results.
type ListFilter struct {
	From     *time.Time
	To       *time.Time
	RouteID  *int64
	SellerID *int64
	Status   *Status
	Limit    int
	Offset   int
}

// updatableColumns whitelists columns accepted by Update.
var updatableColumns = map[string]bool{
	"status":             true,
	"actual_delivery_at": true,
	"amount_collected":   true,
	"payment_method":     true,
	"sync_status":        true,
	"last_synced_at":     true,
	"delivery_time":      true,
	"loading_order_id":   true,
	"updated_by":         true,
}

type repository struct {
	db       db.DBTX
	beginner db.Beginner
}

// NewRepository creates a repository over a pool or an open transaction.
func NewRepository(q db.DBTX) Repository {
	b, _ := q.(db.Beginner)
	return &repository{db: q, beginner: b}
}

// WithTx wraps callback in a repeatable-read transaction. A repository that is
// already bound to a transaction runs fn inside it.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.beginner == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.beginner, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx})
	})
}

const orderColumns = `id, order_number, loading_order_id, route_id, seller_id, sales_order_id,
	delivery_date, delivery_time, actual_delivery_at, total_price, opening_balance,
	amount_collected, payment_method, balance_amount, total_balance, status, sync_status,
	last_synced_at, created_by, updated_by, created_at, updated_at`

func scanOrder(row pgx.Row) (*DeliveryOrder, error) {
	var (
		o  DeliveryOrder
		tm pgtype.Time
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.LoadingOrderID, &o.RouteID, &o.SellerID, &o.SalesOrderID,
		&o.DeliveryDate, &tm, &o.ActualDeliveryAt, &o.TotalPrice, &o.OpeningBalance,
		&o.AmountCollected, &o.PaymentMethod, &o.BalanceAmount, &o.TotalBalance, &o.Status, &o.SyncStatus,
		&o.LastSyncedAt, &o.CreatedBy, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if tm.Valid {
		at := o.DeliveryDate.Add(time.Duration(tm.Microseconds) * time.Microsecond)
		o.DeliveryTime = &at
	}
	return &o, nil
}

func timeOfDay(t *time.Time) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	h, m, s := t.Clock()
	us := (int64(h)*3600+int64(m)*60+int64(s))*1_000_000 + int64(t.Nanosecond()/1000)
	return pgtype.Time{Microseconds: us, Valid: true}
}

func (r *repository) Get(ctx context.Context, id int64) (*DeliveryOrder, error) {
	return r.getWithItems(ctx, `SELECT `+orderColumns+` FROM delivery_orders WHERE id = $1`, id)
}

// GetForUpdate loads the order and locks its row until the transaction ends.
func (r *repository) GetForUpdate(ctx context.Context, id int64) (*DeliveryOrder, error) {
	return r.getWithItems(ctx, `SELECT `+orderColumns+` FROM delivery_orders WHERE id = $1 FOR UPDATE`, id)
}

// FindBySalesOrder returns the (locked) delivery order linked to a sales order.
func (r *repository) FindBySalesOrder(ctx context.Context, salesOrderID int64) (*DeliveryOrder, error) {
	return r.getWithItems(ctx, `
		SELECT `+orderColumns+` FROM delivery_orders
		WHERE sales_order_id = $1
		ORDER BY id
		LIMIT 1
		FOR UPDATE`, salesOrderID)
}

func (r *repository) getWithItems(ctx context.Context, query string, arg int64) (*DeliveryOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	items, err := r.ListItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// PreviousForSeller returns the seller's latest delivery order strictly before
// the given date; ties on date go to the later delivery time.
func (r *repository) PreviousForSeller(ctx context.Context, sellerID int64, before time.Time) (*DeliveryOrder, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM delivery_orders
		WHERE seller_id = $1 AND delivery_date < $2
		ORDER BY delivery_date DESC, delivery_time DESC NULLS LAST, id DESC
		LIMIT 1
	`
	o, err := scanOrder(r.db.QueryRow(ctx, query, sellerID, before))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]DeliveryOrder, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.From != nil {
		add("delivery_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("delivery_date <= $%d", *filter.To)
	}
	if filter.RouteID != nil {
		add("route_id = $%d", *filter.RouteID)
	}
	if filter.SellerID != nil {
		add("seller_id = $%d", *filter.SellerID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM delivery_orders%s ORDER BY delivery_date, route_id, seller_id, id LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []DeliveryOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

const itemColumns = `id, delivery_order_id, product_id, ordered_quantity, delivered_quantity,
	unit_price, total_price, price_source, manually_adjusted, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.DeliveryOrderID, &it.ProductID, &it.OrderedQuantity, &it.DeliveredQuantity,
		&it.UnitPrice, &it.TotalPrice, &it.PriceSource, &it.ManuallyAdjusted, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *repository) ListItems(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM delivery_order_items WHERE delivery_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *repository) GetItem(ctx context.Context, itemID int64) (*Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM delivery_order_items WHERE id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return it, err
}

func (r *repository) Create(ctx context.Context, o DeliveryOrder) (int64, error) {
	query := `
		INSERT INTO delivery_orders (
			order_number, loading_order_id, route_id, seller_id, sales_order_id, delivery_date,
			delivery_time, total_price, opening_balance, amount_collected, payment_method,
			balance_amount, total_balance, status, sync_status, created_by, updated_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query,
		o.OrderNumber, o.LoadingOrderID, o.RouteID, o.SellerID, o.SalesOrderID, o.DeliveryDate,
		timeOfDay(o.DeliveryTime), o.TotalPrice, o.OpeningBalance, o.AmountCollected, o.PaymentMethod,
		o.BalanceAmount, o.TotalBalance, o.Status, o.SyncStatus, o.CreatedBy,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateOrder
		}
		return 0, fmt.Errorf("insert delivery order: %w", err)
	}
	return id, nil
}

// Update sets whitelisted delivery order columns.
func (r *repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	fields := make([]string, 0, len(updates))
	for field := range updates {
		if !updatableColumns[field] {
			return fmt.Errorf("delivery: column %q is not updatable", field)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for i, field := range fields {
		value := updates[field]
		if t, ok := value.(*time.Time); ok && field == "delivery_time" {
			value = timeOfDay(t)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, i+1))
		args = append(args, value)
	}
	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE delivery_orders SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), len(args))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTotals writes only the three derived money columns.
func (r *repository) UpdateTotals(ctx context.Context, id int64, t Totals) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE delivery_orders
		SET total_price = $2, balance_amount = $3, total_balance = $4
		WHERE id = $1
	`, id, t.TotalPrice, t.BalanceAmount, t.TotalBalance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) InsertItem(ctx context.Context, it Item) (int64, error) {
	query := `
		INSERT INTO delivery_order_items (
			delivery_order_id, product_id, ordered_quantity, delivered_quantity,
			unit_price, total_price, price_source, manually_adjusted, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query, it.DeliveryOrderID, it.ProductID, it.OrderedQuantity, it.DeliveredQuantity,
		it.UnitPrice, it.TotalPrice, it.PriceSource, it.ManuallyAdjusted).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateProduct
		}
		return 0, fmt.Errorf("insert delivery order item: %w", err)
	}
	return id, nil
}

func (r *repository) UpdateItem(ctx context.Context, it Item) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE delivery_order_items
		SET ordered_quantity = $2, delivered_quantity = $3, unit_price = $4, total_price = $5,
		    price_source = $6, manually_adjusted = $7, updated_at = NOW()
		WHERE id = $1
	`, it.ID, it.OrderedQuantity, it.DeliveredQuantity, it.UnitPrice, it.TotalPrice, it.PriceSource, it.ManuallyAdjusted)
	if err != nil {
		return fmt.Errorf("update delivery order item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *repository) DeleteItem(ctx context.Context, itemID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM delivery_order_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete delivery order item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ClaimSync records a mobile sync id against its delivery order. A repeat
// returns shared.ErrIdempotencyConflict; the same id for another order
// returns ErrSyncIDReused.
func (r *repository) ClaimSync(ctx context.Context, syncID uuid.UUID, deliveryOrderID int64) error {
	err := shared.NewIdempotencyStore(r.db).Claim(ctx, syncID.String(), syncModule, strconv.FormatInt(deliveryOrderID, 10))
	if errors.Is(err, shared.ErrIdempotencyKeyReused) {
		return ErrSyncIDReused
	}
	return err
}
