package pricinghttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/thiagu-r/dairy-sub000/internal/platform/httpx"
	"github.com/thiagu-r/dairy-sub000/internal/pricing"
)

const maxUploadBytes = 10 << 20

// PlanService is the pricing contract used by the handler.
type PlanService interface {
	UploadPlan(ctx context.Context, req pricing.PlanUpload, sheet io.Reader) (*pricing.UploadResult, error)
}

// PriceResolver answers price lookups.
type PriceResolver interface {
	Resolve(ctx context.Context, productID, sellerID int64, date time.Time) (pricing.Result, error)
}

// Handler exposes price plan endpoints.
type Handler struct {
	logger    *slog.Logger
	service   PlanService
	resolver  PriceResolver
	validator *validator.Validate
}

// NewHandler constructs the pricing HTTP handler.
func NewHandler(logger *slog.Logger, service PlanService, resolver PriceResolver) *Handler {
	return &Handler{logger: logger, service: service, resolver: resolver, validator: validator.New()}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "expected multipart form with a file field")
		return
	}
	req, fields := h.parseUpload(r)
	if len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"file": "required"})
		return
	}
	defer func() { _ = file.Close() }()

	res, err := h.service.UploadPlan(r.Context(), req, file)
	if err != nil {
		var uploadErr *pricing.UploadError
		if errors.As(err, &uploadErr) {
			httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
				"title":  "Invalid price sheet",
				"status": http.StatusUnprocessableEntity,
				"rows":   uploadErr.Rows,
			})
			return
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) parseUpload(r *http.Request) (pricing.PlanUpload, map[string]string) {
	fields := make(map[string]string)
	req := pricing.PlanUpload{Name: strings.TrimSpace(r.FormValue("name"))}
	if raw := r.FormValue("seller_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields["seller_id"] = "must be an integer"
		} else {
			req.SellerID = &id
		}
	}
	if raw := r.FormValue("valid_from"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			fields["valid_from"] = "must be YYYY-MM-DD"
		}
		req.ValidFrom = d
	} else {
		fields["valid_from"] = "required"
	}
	if raw := r.FormValue("valid_to"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			fields["valid_to"] = "must be YYYY-MM-DD"
		} else {
			req.ValidTo = &d
		}
	}
	if len(fields) == 0 {
		for k, v := range httpx.ValidateStruct(h.validator, req) {
			fields[k] = v
		}
	}
	return req, fields
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, err1 := strconv.ParseInt(q.Get("product_id"), 10, 64)
	sellerID, err2 := strconv.ParseInt(q.Get("seller_id"), 10, 64)
	on, err3 := time.Parse(time.DateOnly, q.Get("date"))
	if err1 != nil || err2 != nil || err3 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "product_id, seller_id and date are required")
		return
	}
	res, err := h.resolver.Resolve(r.Context(), productID, sellerID, on)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"found":  res.Found(),
		"price":  res.Price.StringFixed(2),
		"source": res.Source,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidPlan), errors.Is(err, pricing.ErrInvalidUpload):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case errors.Is(err, pricing.ErrDuplicatePrice):
		httpx.RespondError(w, httpx.Classify(httpx.ErrDuplicate, err))
	default:
		h.logger.Error("pricing request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
