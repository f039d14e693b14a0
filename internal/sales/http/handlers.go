package saleshttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/thiagu-r/dairy-sub000/internal/delivery"
	"github.com/thiagu-r/dairy-sub000/internal/platform/httpx"
	"github.com/thiagu-r/dairy-sub000/internal/platform/lock"
	"github.com/thiagu-r/dairy-sub000/internal/reconcile"
	"github.com/thiagu-r/dairy-sub000/internal/sales"
	"github.com/thiagu-r/dairy-sub000/internal/shared"
)

// Reconciler is the sales order surface of the reconciliation service.
type Reconciler interface {
	Get(ctx context.Context, salesOrderID int64) (*reconcile.Outcome, error)
	List(ctx context.Context, filter sales.ListFilter) ([]sales.SalesOrder, int, error)
	CreateSalesOrder(ctx context.Context, req reconcile.CreateSalesOrderRequest, actorID int64) (*reconcile.Outcome, error)
	AddItem(ctx context.Context, salesOrderID int64, in reconcile.ItemInput, actorID int64) (*reconcile.Outcome, error)
	UpdateItem(ctx context.Context, salesOrderID, itemID int64, upd reconcile.ItemUpdate, actorID int64) (*reconcile.Outcome, error)
	RemoveItem(ctx context.Context, salesOrderID, itemID int64, actorID int64) (*reconcile.Outcome, error)
	Sync(ctx context.Context, salesOrderID, actorID int64) (*reconcile.Outcome, error)
	SetStatus(ctx context.Context, salesOrderID int64, next sales.Status, actorID int64) (*reconcile.Outcome, error)
}

// Handler exposes sales order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Reconciler
	validator *validator.Validate
}

// NewHandler constructs the sales HTTP handler.
func NewHandler(logger *slog.Logger, service Reconciler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type createRequest struct {
	SellerID     int64                 `json:"seller_id" validate:"required,gt=0"`
	DeliveryDate string                `json:"delivery_date" validate:"required,datetime=2006-01-02"`
	Notes        *string               `json:"notes,omitempty" validate:"omitempty,max=500"`
	Items        []reconcile.ItemInput `json:"items" validate:"dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := httpx.ValidateStruct(h.validator, req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.DeliveryDate)

	out, err := h.service.CreateSalesOrder(r.Context(), reconcile.CreateSalesOrderRequest{
		SellerID:     req.SellerID,
		DeliveryDate: date,
		Notes:        req.Notes,
		Items:        req.Items,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter sales.ListFilter
	if raw := q.Get("seller_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"seller_id": "must be an integer"})
			return
		}
		filter.SellerID = &id
	}
	if raw := q.Get("date"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"date": "must be YYYY-MM-DD"})
			return
		}
		filter.DeliveryDate = &d
	}
	if raw := q.Get("status"); raw != "" {
		s := sales.Status(raw)
		if !s.IsValid() {
			httpx.ValidationProblem(w, map[string]string{"status": "unknown status"})
			return
		}
		filter.Status = &s
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	p := shared.NewPagination(page, perPage, 0)
	filter.Limit, filter.Offset = p.PerPage, p.Offset()

	orders, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": shared.NewPagination(p.Page, p.PerPage, total),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in reconcile.ItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := httpx.ValidateStruct(h.validator, in); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	out, err := h.service.AddItem(r.Context(), id, in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

type updateItemRequest struct {
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	ClearPrice bool             `json:"clear_price,omitempty"`
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.Quantity == nil && req.UnitPrice == nil && !req.ClearPrice {
		httpx.ValidationProblem(w, map[string]string{"_": "nothing to update"})
		return
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		httpx.ValidationProblem(w, map[string]string{"unit_price": "must not be negative"})
		return
	}
	out, err := h.service.UpdateItem(r.Context(), id, itemID, reconcile.ItemUpdate{
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		ClearPrice: req.ClearPrice,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	out, err := h.service.RemoveItem(r.Context(), id, itemID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := h.service.Sync(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type statusRequest struct {
	Status sales.Status `json:"status" validate:"required"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := httpx.ValidateStruct(h.validator, req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	out, err := h.service.SetStatus(r.Context(), id, req.Status, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var syncErr *reconcile.SyncError
	switch {
	case errors.As(err, &syncErr):
		failures := make([]map[string]any, len(syncErr.Items))
		for i, it := range syncErr.Items {
			failures[i] = map[string]any{"product_id": it.ProductID, "op": it.Op, "error": it.Err.Error()}
		}
		h.logger.Warn("delivery sync failed", slog.Int64("delivery_order_id", syncErr.DeliveryOrderID), slog.Int("items", len(failures)))
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"title":  "Delivery sync failed",
			"status": http.StatusUnprocessableEntity,
			"items":  failures,
		})
	case errors.Is(err, sales.ErrNotFound), errors.Is(err, sales.ErrItemNotFound),
		errors.Is(err, delivery.ErrNotFound), errors.Is(err, reconcile.ErrUnknownSeller):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.Is(err, sales.ErrDuplicateOrder), errors.Is(err, sales.ErrDuplicateProduct),
		errors.Is(err, delivery.ErrDuplicateOrder):
		httpx.RespondError(w, httpx.Classify(httpx.ErrDuplicate, err))
	case errors.Is(err, sales.ErrInvalidTransition), errors.Is(err, sales.ErrCannotEditItems),
		errors.Is(err, reconcile.ErrSellerInactive):
		httpx.RespondError(w, httpx.Classify(httpx.ErrConflict, err))
	case errors.Is(err, sales.ErrInvalidQuantity):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case errors.Is(err, lock.ErrNotObtained):
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnavailable, err))
	default:
		h.logger.Error("sales request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}
