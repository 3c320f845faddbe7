package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skyfield-eats/api/internal/platform/auth"
	"github.com/skyfield-eats/api/internal/platform/httpx"
	"github.com/skyfield-eats/api/internal/services"
)

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

type statusCountsPayload struct {
	ToBeConfirmed      int64 `json:"to_be_confirmed"`
	Confirmed          int64 `json:"confirmed"`
	DeliveryInProgress int64 `json:"delivery_in_progress"`
}

// AdminOrderHandlers exposes the operator order workflow.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the operator order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleOperator, auth.RoleAdmin))
	}

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.searchOrders)
		r.Get("/status-counts", h.statusCounts)
		r.Get("/{orderID}", h.getOrder)
		r.Post("/{orderID}:confirm", h.confirmOrder)
		r.Post("/{orderID}:reject", h.rejectOrder)
		r.Post("/{orderID}:cancel", h.cancelOrder)
		r.Post("/{orderID}:dispatch", h.dispatchOrder)
		r.Post("/{orderID}:complete", h.completeOrder)
	})
}

func (h *AdminOrderHandlers) searchOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.orders); !ok {
		return
	}

	query := r.URL.Query()

	statuses, err := parseStatusParams(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	placedAfter, err := parseTimeParam(query.Get("placed_after"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be an RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	placedBefore, err := parseTimeParam(query.Get("placed_before"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be an RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	filter := services.OrderSearchFilter{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Number:     strings.TrimSpace(query.Get("number")),
		Phone:      strings.TrimSpace(query.Get("phone")),
		Status:     statuses,
		Pagination: parsePagination(r),
	}
	filter.DateRange.From = placedAfter
	filter.DateRange.To = placedBefore

	page, err := h.orders.Search(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminOrderHandlers) statusCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.orders); !ok {
		return
	}

	counts, err := h.orders.StatusCounts(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, statusCountsPayload{
		ToBeConfirmed:      counts.ToBeConfirmed,
		Confirmed:          counts.Confirmed,
		DeliveryInProgress: counts.DeliveryInProgress,
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.orders); !ok {
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	view, err := h.orders.Details(ctx, services.OrderDetailsQuery{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(view.Order, view.Details, view.DishSummary)})
}

func (h *AdminOrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.OperatorConfirm(ctx, services.OperatorConfirmCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil, "")})
}

func (h *AdminOrderHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req rejectOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "rejection reason is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.OperatorReject(ctx, services.OperatorRejectCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil, "")})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeOptionalJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.OperatorCancel(ctx, services.OperatorCancelCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil, "")})
}

func (h *AdminOrderHandlers) dispatchOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.Dispatch(ctx, services.DispatchOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil, "")})
}

func (h *AdminOrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.Complete(ctx, services.CompleteOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil, "")})
}

func requireOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}
