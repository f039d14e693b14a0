package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
)

const (
	ordersSheet = "Delivery Orders"
	itemsSheet  = "Items"

	exportPageSize    = 500
	exportConcurrency = 4
)

var (
	orderHeader = []any{"Order Number", "Route", "Seller", "Seller Name", "Delivery Date", "Status",
		"Opening Balance", "Total Price", "Amount Collected", "Payment Method", "Balance", "Total Balance"}
	itemHeader = []any{"Order Number", "Product", "Product Name", "Ordered", "Delivered",
		"Unit Price", "Line Total", "Price Source", "Adjusted"}

	titleCaser = cases.Title(language.English)
)

// statusLabel renders a status like "in_progress" as "In Progress".
func statusLabel(s Status) string {
	out := []rune(string(s))
	for i, r := range out {
		if r == '_' {
			out[i] = ' '
		}
	}
	return titleCaser.String(string(out))
}

// Export writes the orders matching filter as an xlsx workbook with an order
// sheet and an item sheet.
func (s *Service) Export(ctx context.Context, filter ListFilter, w io.Writer) error {
	orders, err := s.collect(ctx, filter)
	if err != nil {
		return err
	}
	if err := s.loadItems(ctx, orders); err != nil {
		return err
	}
	names, err := s.lookupNames(ctx, orders)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ordersSheet); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := f.SetSheetRow(ordersSheet, "A1", &orderHeader); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := f.SetSheetRow(itemsSheet, "A1", &itemHeader); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	itemRow := 2
	for i, o := range orders {
		seller := names.sellers[o.SellerID]
		row := []any{
			o.OrderNumber, names.route(o.RouteID), seller.code, seller.name,
			o.DeliveryDate.Format("2006-01-02"), statusLabel(o.Status),
			o.OpeningBalance.InexactFloat64(), o.TotalPrice.InexactFloat64(), o.AmountCollected.InexactFloat64(),
			string(o.PaymentMethod), o.BalanceAmount.InexactFloat64(), o.TotalBalance.InexactFloat64(),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ordersSheet, cellRef, &row); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		for _, it := range o.Items {
			product := names.products[it.ProductID]
			line := []any{
				o.OrderNumber, product.code, product.name,
				it.OrderedQuantity.InexactFloat64(), it.DeliveredQuantity.InexactFloat64(),
				it.UnitPrice.InexactFloat64(), it.TotalPrice.InexactFloat64(), it.PriceSource, it.ManuallyAdjusted,
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, itemRow)
			if err := f.SetSheetRow(itemsSheet, cellRef, &line); err != nil {
				return fmt.Errorf("export: %w", err)
			}
			itemRow++
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

func (s *Service) collect(ctx context.Context, filter ListFilter) ([]DeliveryOrder, error) {
	filter.Limit = exportPageSize
	filter.Offset = 0
	var all []DeliveryOrder
	for {
		page, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("export: list orders: %w", err)
		}
		all = append(all, page...)
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			return all, nil
		}
	}
}

func (s *Service) loadItems(ctx context.Context, orders []DeliveryOrder) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for i := range orders {
		g.Go(func() error {
			items, err := s.repo.ListItems(ctx, orders[i].ID)
			if err != nil {
				return fmt.Errorf("export: items of %s: %w", orders[i].OrderNumber, err)
			}
			orders[i].Items = items
			return nil
		})
	}
	return g.Wait()
}

type label struct{ code, name string }

// exportNames maps the ids an export references to master data codes and
// names. Ids without a record keep their number as code.
type exportNames struct {
	routes   map[int64]label
	sellers  map[int64]label
	products map[int64]label
}

func (n exportNames) route(id int64) string { return n.routes[id].code }

func fallbackLabel(id int64) label { return label{code: strconv.FormatInt(id, 10)} }

func (s *Service) lookupNames(ctx context.Context, orders []DeliveryOrder) (exportNames, error) {
	names := exportNames{
		routes:   make(map[int64]label),
		sellers:  make(map[int64]label),
		products: make(map[int64]label),
	}
	var productIDs []int64
	for _, o := range orders {
		names.routes[o.RouteID] = fallbackLabel(o.RouteID)
		names.sellers[o.SellerID] = fallbackLabel(o.SellerID)
		for _, it := range o.Items {
			if _, ok := names.products[it.ProductID]; !ok {
				names.products[it.ProductID] = fallbackLabel(it.ProductID)
				productIDs = append(productIDs, it.ProductID)
			}
		}
	}
	if s.directory == nil {
		return names, nil
	}

	for id := range names.routes {
		r, err := s.directory.GetRoute(ctx, id)
		switch {
		case errors.Is(err, masterdata.ErrNotFound):
		case err != nil:
			return names, fmt.Errorf("export: route %d: %w", id, err)
		default:
			names.routes[id] = label{code: r.Code, name: r.Name}
		}
	}
	for id := range names.sellers {
		sl, err := s.directory.GetSeller(ctx, id)
		switch {
		case errors.Is(err, masterdata.ErrNotFound):
		case err != nil:
			return names, fmt.Errorf("export: seller %d: %w", id, err)
		default:
			names.sellers[id] = label{code: sl.Code, name: sl.Name}
		}
	}
	if len(productIDs) > 0 {
		products, err := s.directory.ListProducts(ctx, productIDs)
		if err != nil {
			return names, fmt.Errorf("export: products: %w", err)
		}
		for id, p := range products {
			names.products[id] = label{code: p.Code, name: p.Name}
		}
	}
	return names, nil
}
