package deliveryhttp

import (
	"bytes"
	"context"
	"errors"
	"io"
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
	"github.com/thiagu-r/dairy-sub000/internal/shared"
)

// DeliveryService is the delivery workflow used by the handler.
type DeliveryService interface {
	Get(ctx context.Context, id int64) (*delivery.DeliveryOrder, error)
	List(ctx context.Context, filter delivery.ListFilter) ([]delivery.DeliveryOrder, int, error)
	Start(ctx context.Context, id, actorID int64) (*delivery.DeliveryOrder, error)
	Cancel(ctx context.Context, id, actorID int64) (*delivery.DeliveryOrder, error)
	AdjustDeliveredQuantity(ctx context.Context, itemID int64, qty decimal.Decimal, actorID int64) (*delivery.DeliveryOrder, error)
	RecordCollection(ctx context.Context, id int64, c delivery.Collection, actorID int64) (*delivery.DeliveryOrder, error)
	ApplyMobileSync(ctx context.Context, req delivery.SyncRequest) (*delivery.SyncResult, error)
	Export(ctx context.Context, filter delivery.ListFilter, w io.Writer) error
}

// Completer closes a delivery together with its sales order.
type Completer interface {
	CompleteDelivery(ctx context.Context, deliveryOrderID int64, at time.Time, actorID int64) (*delivery.DeliveryOrder, error)
}

// Handler exposes delivery endpoints.
type Handler struct {
	logger    *slog.Logger
	service   DeliveryService
	completer Completer
	validator *validator.Validate
}

// NewHandler constructs the delivery HTTP handler.
func NewHandler(logger *slog.Logger, service DeliveryService, completer Completer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, completer: completer, validator: validator.New()}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
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

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), filter, &buf); err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="delivery-orders.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Start)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (*delivery.DeliveryOrder, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type completeRequest struct {
	ActualDeliveryAt *time.Time `json:"actual_delivery_at,omitempty"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	at := time.Now()
	if req.ActualDeliveryAt != nil {
		at = *req.ActualDeliveryAt
	}
	order, err := h.completer.CompleteDelivery(r.Context(), id, at, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type collectionRequest struct {
	Amount        decimal.Decimal        `json:"amount"`
	PaymentMethod delivery.PaymentMethod `json:"payment_method" validate:"required,oneof=cash online credit"`
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req collectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := httpx.ValidateStruct(h.validator, req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	order, err := h.service.RecordCollection(r.Context(), id,
		delivery.Collection{Amount: req.Amount, PaymentMethod: req.PaymentMethod},
		shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type adjustRequest struct {
	DeliveredQuantity *decimal.Decimal `json:"delivered_quantity" validate:"required"`
}

func (h *Handler) handleAdjustItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := httpx.ValidateStruct(h.validator, req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	order, err := h.service.AdjustDeliveredQuantity(r.Context(), itemID, *req.DeliveredQuantity, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleMobileSync(w http.ResponseWriter, r *http.Request) {
	var req delivery.SyncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if fields := httpx.ValidateStruct(h.validator, req); len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	req.ActorID = shared.ActorFromContext(r.Context())

	res, err := h.service.ApplyMobileSync(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, delivery.ErrNotFound), errors.Is(err, delivery.ErrItemNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.Is(err, delivery.ErrDuplicateOrder), errors.Is(err, delivery.ErrDuplicateProduct):
		httpx.RespondError(w, httpx.Classify(httpx.ErrDuplicate, err))
	case errors.Is(err, delivery.ErrCannotStart), errors.Is(err, delivery.ErrCannotComplete),
		errors.Is(err, delivery.ErrCannotCancel), errors.Is(err, delivery.ErrCannotEdit),
		errors.Is(err, delivery.ErrSyncIDReused):
		httpx.RespondError(w, httpx.Classify(httpx.ErrConflict, err))
	case errors.Is(err, delivery.ErrInvalidQuantity), errors.Is(err, delivery.ErrInvalidAmount),
		errors.Is(err, delivery.ErrInvalidPayment):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case errors.Is(err, lock.ErrNotObtained):
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnavailable, err))
	default:
		h.logger.Error("delivery request failed", slog.Any("error", err))
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

func parseFilter(w http.ResponseWriter, r *http.Request) (delivery.ListFilter, bool) {
	q := r.URL.Query()
	var filter delivery.ListFilter
	fields := make(map[string]string)

	parseDate := func(key string) *time.Time {
		raw := q.Get(key)
		if raw == "" {
			return nil
		}
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			fields[key] = "must be YYYY-MM-DD"
			return nil
		}
		return &d
	}
	parseInt := func(key string) *int64 {
		raw := q.Get(key)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields[key] = "must be an integer"
			return nil
		}
		return &v
	}

	if d := parseDate("date"); d != nil {
		filter.From, filter.To = d, d
	}
	if d := parseDate("from"); d != nil {
		filter.From = d
	}
	if d := parseDate("to"); d != nil {
		filter.To = d
	}
	filter.RouteID = parseInt("route_id")
	filter.SellerID = parseInt("seller_id")
	if raw := q.Get("status"); raw != "" {
		s := delivery.Status(raw)
		if !s.IsValid() {
			fields["status"] = "unknown status"
		} else {
			filter.Status = &s
		}
	}
	if len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return filter, false
	}
	return filter, true
}
