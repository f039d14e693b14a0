package delivery

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/thiagu-r/dairy-sub000/internal/masterdata"
	"github.com/thiagu-r/dairy-sub000/internal/platform/lock"
	"github.com/thiagu-r/dairy-sub000/internal/pricing"
)

const (
	milk int64 = 1
	curd int64 = 2
	ghee int64 = 3
)

func newTestService() (*Service, *mockRepository) {
	repo := newMockRepository()
	pricer := stubPricer{ghee: {Price: dec("45.00"), Source: pricing.SourceSellerCache}}
	return NewService(repo, pricer, lock.NewLocal(), nil), repo
}

func seedOrder(repo *mockRepository, status Status) int64 {
	return repo.addOrder(DeliveryOrder{
		OrderNumber:    "DO-20240303-0001",
		RouteID:        1,
		SellerID:       7,
		SalesOrderID:   11,
		DeliveryDate:   day(2024, 3, 3),
		OpeningBalance: dec("15"),
		Status:         status,
	},
		Item{ProductID: milk, OrderedQuantity: dec("10"), DeliveredQuantity: dec("10"), UnitPrice: dec("5")},
		Item{ProductID: curd, OrderedQuantity: dec("3"), DeliveredQuantity: dec("3"), UnitPrice: dec("2")},
	)
}

func itemFor(t *testing.T, order *DeliveryOrder, productID int64) Item {
	t.Helper()
	for _, it := range order.Items {
		if it.ProductID == productID {
			return it
		}
	}
	t.Fatalf("product %d not on order %d", productID, order.ID)
	return Item{}
}

func TestStartAndCancelTransitions(t *testing.T) {
	svc, repo := newTestService()
	id := seedOrder(repo, StatusDraft)

	order, err := svc.Start(context.Background(), id, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, order.Status)

	_, err = svc.Start(context.Background(), id, 42)
	assert.ErrorIs(t, err, ErrCannotStart)

	order, err = svc.Cancel(context.Background(), id, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, order.Status)

	_, err = svc.Cancel(context.Background(), id, 42)
	assert.ErrorIs(t, err, ErrCannotCancel)
}

func TestAdjustDeliveredQuantityMarksItemAndRecalculates(t *testing.T) {
	svc, repo := newTestService()
	id := seedOrder(repo, StatusInProgress)
	before, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	milkItem := itemFor(t, before, milk)

	order, err := svc.AdjustDeliveredQuantity(context.Background(), milkItem.ID, dec("8"), 42)
	require.NoError(t, err)

	adjusted := itemFor(t, order, milk)
	assert.True(t, adjusted.ManuallyAdjusted)
	assert.Equal(t, "40.00", adjusted.TotalPrice.StringFixed(2))
	assert.Equal(t, "46.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "61.00", order.TotalBalance.StringFixed(2))
}

func TestAdjustDeliveredQuantityRejectsInvalidInput(t *testing.T) {
	svc, repo := newTestService()
	id := seedOrder(repo, StatusCompleted)
	order, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	itemID := itemFor(t, order, milk).ID

	_, err = svc.AdjustDeliveredQuantity(context.Background(), itemID, dec("-1"), 42)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AdjustDeliveredQuantity(context.Background(), itemID, dec("2"), 42)
	assert.ErrorIs(t, err, ErrCannotEdit)

	_, err = svc.AdjustDeliveredQuantity(context.Background(), 999, dec("2"), 42)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRecordCollection(t *testing.T) {
	svc, repo := newTestService()
	id := seedOrder(repo, StatusInProgress)

	order, err := svc.RecordCollection(context.Background(), id, Collection{Amount: dec("40"), PaymentMethod: PaymentCash}, 42)
	require.NoError(t, err)

	assert.Equal(t, "56.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "16.00", order.BalanceAmount.StringFixed(2))
	assert.Equal(t, "31.00", order.TotalBalance.StringFixed(2))

	_, err = svc.RecordCollection(context.Background(), id, Collection{Amount: dec("1"), PaymentMethod: "barter"}, 42)
	assert.ErrorIs(t, err, ErrInvalidPayment)
	_, err = svc.RecordCollection(context.Background(), id, Collection{Amount: dec("-1"), PaymentMethod: PaymentCash}, 42)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyMobileSync(t *testing.T) {
	svc, repo := newTestService()
	id := seedOrder(repo, StatusDraft)

	res, err := svc.ApplyMobileSync(context.Background(), SyncRequest{
		SyncID:          uuid.New(),
		DeliveryOrderID: id,
		Items: []SyncItem{
			{ProductID: milk, DeliveredQuantity: dec("9")},
			{ProductID: ghee, DeliveredQuantity: dec("1")},
		},
		AmountCollected: decPtr("50"),
		PaymentMethod:   PaymentOnline,
	})
	require.NoError(t, err)
	require.False(t, res.Replayed)

	order := res.Order
	assert.Equal(t, StatusInProgress, order.Status)
	assert.Equal(t, SyncSynced, order.SyncStatus)
	assert.NotNil(t, order.LastSyncedAt)
	require.Len(t, order.Items, 3)

	added := itemFor(t, order, ghee)
	assert.True(t, added.OrderedQuantity.IsZero())
	assert.Equal(t, "45.00", added.UnitPrice.StringFixed(2))
	assert.Equal(t, string(pricing.SourceSellerCache), added.PriceSource)
	assert.True(t, itemFor(t, order, milk).ManuallyAdjusted)
	assert.False(t, itemFor(t, order, curd).ManuallyAdjusted)

	// 9*5 + 3*2 + 45 = 96; 96 - 50 = 46; 15 + 46 = 61
	assert.Equal(t, "96.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "46.00", order.BalanceAmount.StringFixed(2))
	assert.Equal(t, "61.00", order.TotalBalance.StringFixed(2))

	stored, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, TotalsOf(*stored).Equal(TotalsOf(*order)))
}

func TestApplyMobileSyncReplayIsNoop(t *testing.T) {
	svc, repo := newTestService()
	id := seedOrder(repo, StatusInProgress)
	req := SyncRequest{
		SyncID:          uuid.New(),
		DeliveryOrderID: id,
		Items:           []SyncItem{{ProductID: milk, DeliveredQuantity: dec("4")}},
	}

	_, err := svc.ApplyMobileSync(context.Background(), req)
	require.NoError(t, err)
	writes := repo.totalsWrites

	req.Items[0].DeliveredQuantity = dec("1")
	res, err := svc.ApplyMobileSync(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, writes, repo.totalsWrites)
	assert.Equal(t, "4", itemFor(t, res.Order, milk).DeliveredQuantity.String())
}

func TestApplyMobileSyncRejectsSyncIDFromAnotherOrder(t *testing.T) {
	svc, repo := newTestService()
	first := seedOrder(repo, StatusInProgress)
	second := seedOrder(repo, StatusInProgress)
	syncID := uuid.New()

	_, err := svc.ApplyMobileSync(context.Background(), SyncRequest{
		SyncID:          syncID,
		DeliveryOrderID: first,
		Items:           []SyncItem{{ProductID: milk, DeliveredQuantity: dec("4")}},
	})
	require.NoError(t, err)

	_, err = svc.ApplyMobileSync(context.Background(), SyncRequest{
		SyncID:          syncID,
		DeliveryOrderID: second,
		Items:           []SyncItem{{ProductID: milk, DeliveredQuantity: dec("2")}},
	})
	assert.ErrorIs(t, err, ErrSyncIDReused)

	order, err := repo.Get(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "10", itemFor(t, order, milk).DeliveredQuantity.String())
	assert.Equal(t, SyncPending, order.SyncStatus)
}

func TestApplyMobileSyncFailureRollsBack(t *testing.T) {
	svc, repo := newTestService()
	id := seedOrder(repo, StatusInProgress)
	repo.failItemProduct = curd
	req := SyncRequest{
		SyncID:          uuid.New(),
		DeliveryOrderID: id,
		Items: []SyncItem{
			{ProductID: milk, DeliveredQuantity: dec("1")},
			{ProductID: curd, DeliveredQuantity: dec("1")},
		},
		AmountCollected: decPtr("5"),
	}

	_, err := svc.ApplyMobileSync(context.Background(), req)
	require.Error(t, err)

	order, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, order.SyncStatus)
	assert.Equal(t, "10", itemFor(t, order, milk).DeliveredQuantity.String())
	assert.True(t, order.AmountCollected.IsZero())

	// The sync id was rolled back with the rest, so a retry goes through.
	repo.failItemProduct = 0
	res, err := svc.ApplyMobileSync(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, SyncSynced, res.Order.SyncStatus)
}

func TestApplyMobileSyncRejectsClosedOrders(t *testing.T) {
	svc, repo := newTestService()
	completed := seedOrder(repo, StatusCompleted)

	_, err := svc.ApplyMobileSync(context.Background(), SyncRequest{SyncID: uuid.New(), DeliveryOrderID: completed})
	assert.ErrorIs(t, err, ErrCannotEdit)

	_, err = svc.ApplyMobileSync(context.Background(), SyncRequest{DeliveryOrderID: completed})
	assert.Error(t, err)

	_, err = svc.ApplyMobileSync(context.Background(), SyncRequest{
		SyncID:          uuid.New(),
		DeliveryOrderID: completed,
		Items:           []SyncItem{{ProductID: milk, DeliveredQuantity: dec("-2")}},
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAuditTotalsRepairsDrift(t *testing.T) {
	svc, repo := newTestService()
	good := seedOrder(repo, StatusInProgress)
	order, err := repo.Get(context.Background(), good)
	require.NoError(t, err)
	_, err = Recalculate(context.Background(), repo, order)
	require.NoError(t, err)

	drifted := repo.addOrder(DeliveryOrder{
		OrderNumber:  "DO-20240303-0002",
		RouteID:      2,
		SellerID:     8,
		DeliveryDate: day(2024, 3, 3),
		TotalPrice:   dec("1"),
	}, Item{ProductID: milk, DeliveredQuantity: dec("2"), UnitPrice: dec("5")})
	repo.addOrder(DeliveryOrder{SellerID: 9, RouteID: 3, DeliveryDate: day(2024, 3, 4), TotalPrice: dec("77")})

	report, err := svc.AuditTotals(context.Background(), day(2024, 3, 3))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, drifted, report.Drifted[0].DeliveryOrderID)
	assert.Equal(t, "10.00", report.Drifted[0].Recomputed.TotalPrice.StringFixed(2))

	fixed, err := repo.Get(context.Background(), drifted)
	require.NoError(t, err)
	assert.Equal(t, "10.00", fixed.TotalPrice.StringFixed(2))
}

func TestExportWritesWorkbook(t *testing.T) {
	svc, repo := newTestService()
	seedOrder(repo, StatusInProgress)

	var buf bytes.Buffer
	from := day(2024, 3, 3)
	require.NoError(t, svc.Export(context.Background(), ListFilter{From: &from, To: &from}, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	orders, err := f.GetRows(ordersSheet)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "Order Number", orders[0][0])
	assert.Equal(t, "DO-20240303-0001", orders[1][0])
	assert.Equal(t, "1", orders[1][1])
	assert.Equal(t, "7", orders[1][2])
	assert.Equal(t, "In Progress", orders[1][5])

	items, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

type stubDirectory struct{}

func (stubDirectory) GetRoute(_ context.Context, id int64) (masterdata.Route, error) {
	return masterdata.Route{ID: id, Code: "R-NORTH", Name: "North Loop"}, nil
}

func (stubDirectory) GetSeller(context.Context, int64) (masterdata.Seller, error) {
	return masterdata.Seller{}, masterdata.ErrNotFound
}

func (stubDirectory) ListProducts(_ context.Context, ids []int64) (map[int64]masterdata.Product, error) {
	return map[int64]masterdata.Product{milk: {ID: milk, Code: "MILK-1L", Name: "Toned Milk 1L"}}, nil
}

func TestExportNamesMasterData(t *testing.T) {
	svc, repo := newTestService()
	svc.WithDirectory(stubDirectory{})
	seedOrder(repo, StatusInProgress)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(context.Background(), ListFilter{}, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	orders, err := f.GetRows(ordersSheet)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "R-NORTH", orders[1][1])
	assert.Equal(t, "7", orders[1][2], "unknown seller keeps its id")

	items, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	var products []string
	for _, row := range items[1:] {
		products = append(products, row[1]+"|"+row[2])
	}
	assert.Contains(t, products, "MILK-1L|Toned Milk 1L")
	assert.Contains(t, products, "2|")
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Draft", statusLabel(StatusDraft))
	assert.Equal(t, "In Progress", statusLabel(StatusInProgress))
}
