package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/thiagu-r/dairy-sub000/internal/platform/db"
)

// Repository persists sales orders and items.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, order SalesOrder) (int64, error)
	Get(ctx context.Context, id int64) (*SalesOrder, error)
	GetForUpdate(ctx context.Context, id int64) (*SalesOrder, error)
	GetItem(ctx context.Context, itemID int64) (*OrderItem, error)
	InsertItem(ctx context.Context, item OrderItem) (int64, error)
	UpdateItem(ctx context.Context, item OrderItem) error
	DeleteItem(ctx context.Context, itemID int64) error
	UpdateStatus(ctx context.Context, order SalesOrder) error
	Touch(ctx context.Context, id, userID int64) error
	List(ctx context.Context, filter ListFilter) ([]SalesOrder, int, error)
}

// ListFilter narrows List results.
type ListFilter struct {
	SellerID     *int64
	DeliveryDate *time.Time
	Status       *Status
	Limit        int
	Offset       int
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

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.beginner == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.beginner, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx})
	})
}

const orderColumns = `id, order_number, seller_id, delivery_date, status, delivered,
	actual_delivery_at, notes, created_by, updated_by, created_at, updated_at`

func scanOrder(row pgx.Row) (*SalesOrder, error) {
	var o SalesOrder
	err := row.Scan(&o.ID, &o.OrderNumber, &o.SellerID, &o.DeliveryDate, &o.Status, &o.Delivered,
		&o.ActualDeliveryAt, &o.Notes, &o.CreatedBy, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *repository) Create(ctx context.Context, order SalesOrder) (int64, error) {
	query := `
		INSERT INTO sales_orders (order_number, seller_id, delivery_date, status, delivered,
		                          notes, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $6, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query, order.OrderNumber, order.SellerID, order.DeliveryDate,
		order.Status, order.Notes, order.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateOrder
		}
		return 0, fmt.Errorf("insert sales order: %w", err)
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*SalesOrder, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1`, id)
}

// GetForUpdate loads the order and locks its row until the transaction ends.
func (r *repository) GetForUpdate(ctx context.Context, id int64) (*SalesOrder, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) get(ctx context.Context, query string, id int64) (*SalesOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

const itemColumns = `id, sales_order_id, product_id, quantity, delivered_quantity,
	unit_price, price_source, created_at, updated_at`

func scanItem(row pgx.Row) (*OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.SalesOrderID, &it.ProductID, &it.Quantity, &it.DeliveredQuantity,
		&it.UnitPrice, &it.PriceSource, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *repository) listItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM sales_order_items WHERE sales_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *repository) GetItem(ctx context.Context, itemID int64) (*OrderItem, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM sales_order_items WHERE id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return it, err
}

func (r *repository) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	query := `
		INSERT INTO sales_order_items (sales_order_id, product_id, quantity, delivered_quantity,
		                               unit_price, price_source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query, item.SalesOrderID, item.ProductID, item.Quantity,
		item.DeliveredQuantity, item.UnitPrice, item.PriceSource).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateProduct
		}
		return 0, fmt.Errorf("insert sales order item: %w", err)
	}
	return id, nil
}

func (r *repository) UpdateItem(ctx context.Context, item OrderItem) error {
	query := `
		UPDATE sales_order_items
		SET quantity = $2, delivered_quantity = $3, unit_price = $4, price_source = $5, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, item.ID, item.Quantity, item.DeliveredQuantity, item.UnitPrice, item.PriceSource)
	if err != nil {
		return fmt.Errorf("update sales order item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *repository) DeleteItem(ctx context.Context, itemID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sales_order_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete sales order item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, order SalesOrder) error {
	query := `
		UPDATE sales_orders
		SET status = $2, delivered = $3, actual_delivery_at = $4, updated_by = $5, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, order.ID, order.Status, order.Delivered, order.ActualDeliveryAt, order.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update sales order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Touch(ctx context.Context, id, userID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE sales_orders SET updated_by = $2, updated_at = NOW() WHERE id = $1`, id, userID)
	return err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]SalesOrder, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.SellerID != nil {
		add("seller_id = $%d", *filter.SellerID)
	}
	if filter.DeliveryDate != nil {
		add("delivery_date = $%d", *filter.DeliveryDate)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sales_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM sales_orders%s ORDER BY delivery_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []SalesOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}
