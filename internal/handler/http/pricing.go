package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orchardlane/pricing/internal/domain"
	"github.com/orchardlane/pricing/internal/repository"
	"github.com/orchardlane/pricing/internal/service"
	"github.com/orchardlane/pricing/pkg/httputil"
	"github.com/orchardlane/pricing/pkg/validator"
)

// PricingHandler handles HTTP requests for pricing endpoints.
type PricingHandler struct {
	service *service.PricingService
	logger  *slog.Logger
}

// NewPricingHandler creates a new pricing HTTP handler.
func NewPricingHandler(svc *service.PricingService, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// EvaluateRequest is the JSON request body for evaluating a single order
// line. Mode defaults to apply.
type EvaluateRequest struct {
	Mode string                   `json:"mode" validate:"omitempty,oneof=apply validate remove"`
	Line *domain.OrderLineContext `json:"line" validate:"required"`
}

// EvaluateBatchRequest is the JSON request body for evaluating a whole
// order.
type EvaluateBatchRequest struct {
	Mode  string                     `json:"mode" validate:"omitempty,oneof=apply validate remove"`
	Lines []*domain.OrderLineContext `json:"lines" validate:"required,min=1,dive,required"`
}

// CreateCouponRequest is the JSON request body for creating a coupon.
type CreateCouponRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Code        string `json:"code" validate:"max=50"`
	Type        string `json:"type" validate:"required,oneof=promotional gift_card"`
	RuleIDs     []string `json:"rule_ids" validate:"omitempty,dive,uuid"`
	Customer    string   `json:"customer"`
	ValidFrom   string   `json:"valid_from"`
	ValidUpto   string   `json:"valid_upto"`
	MaximumUse  int      `json:"maximum_use" validate:"gte=0"`
	Description string   `json:"description"`
}

// CreateMultiCouponRequest is the JSON request body for creating a
// multi-coupon group.
type CreateMultiCouponRequest struct {
	Name  string   `json:"name" validate:"required,min=1,max=255"`
	Codes []string `json:"codes" validate:"required,min=2,dive,required"`
}

// CouponUsageRequest is the JSON request body for committing or releasing
// coupon redemptions.
type CouponUsageRequest struct {
	Codes   []string `json:"codes" validate:"required,min=1,dive,required"`
	OrderID string   `json:"order_id" validate:"required"`
}

// WeightedDiscountRequest is the JSON request body for the blended
// unit-price preview.
type WeightedDiscountRequest struct {
	ItemCode       string  `json:"item_code" validate:"required"`
	DiscountPrice  float64 `json:"discount_price" validate:"required,gt=0"`
	DiscountPerQty int     `json:"discount_per_qty" validate:"required,gte=1"`
	MinQty         int     `json:"min_qty" validate:"gte=0"`
	MaxQty         int     `json:"max_qty" validate:"gte=0"`
}

// EvaluateBatchResponse pairs per-line results with the document-level
// discount, when a transaction-scoped rule matched.
type EvaluateBatchResponse struct {
	Results       []*domain.ResolutionResult `json:"results"`
	OrderDiscount *service.OrderDiscount     `json:"order_discount,omitempty"`
}

// --- Rule handlers ---

// CreateRule handles POST /api/v1/rules
func (h *PricingHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.badBody(w, err)
		return
	}

	created, err := h.service.CreateRule(r.Context(), &rule)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: created})
}

// ListRules handles GET /api/v1/rules
func (h *PricingHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	filter := repository.RuleFilter{
		Page:    1,
		PerPage: 20,
	}

	if v := r.URL.Query().Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if perPage, err := strconv.Atoi(v); err == nil && perPage > 0 && perPage <= 100 {
			filter.PerPage = perPage
		}
	}
	if v := r.URL.Query().Get("apply_on"); v != "" {
		filter.ApplyOn = &v
	}
	if v := r.URL.Query().Get("disabled"); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil {
			filter.Disabled = &disabled
		}
	}
	if v := r.URL.Query().Get("coupon_based"); v != "" {
		if couponBased, err := strconv.ParseBool(v); err == nil {
			filter.CouponBased = &couponBased
		}
	}

	rules, total, err := h.service.ListRules(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(rules, total, filter.Page, filter.PerPage))
}

// GetRule handles GET /api/v1/rules/{id}
func (h *PricingHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireParam(w, r, "id", "rule id is required")
	if !ok {
		return
	}

	rule, err := h.service.GetRule(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: rule})
}

// UpdateRule handles PUT /api/v1/rules/{id}
func (h *PricingHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	id, ok := h.requireParam(w, r, "id", "rule id is required")
	if !ok {
		return
	}

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.badBody(w, err)
		return
	}

	updated, err := h.service.UpdateRule(r.Context(), id, &rule)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: updated})
}

// DeleteRule handles DELETE /api/v1/rules/{id}
func (h *PricingHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireParam(w, r, "id", "rule id is required")
	if !ok {
		return
	}

	if err := h.service.DeleteRule(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

// --- Resolution handlers ---

// Evaluate handles POST /api/v1/pricing/evaluate
func (h *PricingHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = domain.ModeApply
	}

	result, err := h.service.EvaluateLine(r.Context(), req.Line, mode)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// EvaluateBatch handles POST /api/v1/pricing/evaluate-batch
func (h *PricingHandler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20) // 4 MB limit
	var req EvaluateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = domain.ModeApply
	}

	results, orderDiscount, err := h.service.EvaluateOrder(r.Context(), req.Lines, mode)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: EvaluateBatchResponse{
		Results:       results,
		OrderDiscount: orderDiscount,
	}})
}

// WeightedDiscounts handles POST /api/v1/pricing/weighted-discounts
func (h *PricingHandler) WeightedDiscounts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req WeightedDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	rows, err := h.service.WeightedDiscountPreview(r.Context(), &service.WeightedDiscountInput{
		ItemCode:       req.ItemCode,
		DiscountPrice:  req.DiscountPrice,
		DiscountPerQty: req.DiscountPerQty,
		MinQty:         req.MinQty,
		MaxQty:         req.MaxQty,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: rows})
}

// --- Coupon handlers ---

// CreateCoupon handles POST /api/v1/coupons
func (h *PricingHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	coupon := &domain.Coupon{
		Name:        req.Name,
		Code:        req.Code,
		Type:        req.Type,
		RuleIDs:     req.RuleIDs,
		Customer:    req.Customer,
		MaximumUse:  req.MaximumUse,
		Description: req.Description,
	}

	var ok bool
	if coupon.ValidFrom, ok = h.parseDate(w, "valid_from", req.ValidFrom); !ok {
		return
	}
	if coupon.ValidUpto, ok = h.parseDate(w, "valid_upto", req.ValidUpto); !ok {
		return
	}

	created, err := h.service.CreateCoupon(r.Context(), coupon)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: created})
}

// GetCoupon handles GET /api/v1/coupons/{code}
func (h *PricingHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	code, ok := h.requireParam(w, r, "code", "coupon code is required")
	if !ok {
		return
	}

	coupon, err := h.service.GetCoupon(r.Context(), code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: coupon})
}

// CreateMultiCoupon handles POST /api/v1/coupons/multi
func (h *PricingHandler) CreateMultiCoupon(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req CreateMultiCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	group, err := h.service.CreateMultiCoupon(r.Context(), &domain.MultiCoupon{
		Name:  req.Name,
		Codes: req.Codes,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: group})
}

// CommitCouponUsage handles POST /api/v1/coupons/usage/commit
func (h *PricingHandler) CommitCouponUsage(w http.ResponseWriter, r *http.Request) {
	h.couponUsage(w, r, h.service.CommitCouponUsage)
}

// ReleaseCouponUsage handles POST /api/v1/coupons/usage/release
func (h *PricingHandler) ReleaseCouponUsage(w http.ResponseWriter, r *http.Request) {
	h.couponUsage(w, r, h.service.ReleaseCouponUsage)
}

func (h *PricingHandler) couponUsage(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, codes []string, orderID string) error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req CouponUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := op(r.Context(), req.Codes, req.OrderID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

// --- Helpers ---

func (h *PricingHandler) badBody(w http.ResponseWriter, err error) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
	})
}

func (h *PricingHandler) requireParam(w http.ResponseWriter, r *http.Request, name, message string) (string, bool) {
	v := chi.URLParam(r, name)
	if v == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: message},
		})
		return "", false
	}
	return v, true
}

func (h *PricingHandler) parseDate(w http.ResponseWriter, field, value string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: field + " must be in RFC3339 format"},
		})
		return nil, false
	}
	return &t, true
}
