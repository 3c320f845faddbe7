package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/skyfield-eats/api/internal/domain"
	"github.com/skyfield-eats/api/internal/platform/auth"
	"github.com/skyfield-eats/api/internal/platform/httpx"
	"github.com/skyfield-eats/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 4 * 1024

	// Reminders fan out to the store; cap how often a single user can nudge.
	remindRateLimit  = 3
	remindRateWindow = time.Minute
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPendingPayment:     {},
	domain.OrderStatusToBeConfirmed:      {},
	domain.OrderStatusConfirmed:          {},
	domain.OrderStatusDeliveryInProgress: {},
	domain.OrderStatusCompleted:          {},
	domain.OrderStatusCancelled:          {},
}

var validPayMethods = map[domain.PayMethod]struct{}{
	domain.PayMethodWechat:  {},
	domain.PayMethodBalance: {},
}

type submitOrderRequest struct {
	AddressBookID  string `json:"address_book_id"`
	PayMethod      string `json:"pay_method"`
	Remark         string `json:"remark"`
	TablewareCount int    `json:"tableware_count"`
}

type orderPaymentRequest struct {
	Number    string `json:"number"`
	PayMethod string `json:"pay_method"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the order lifecycle endpoints for authenticated users.
type OrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	remindLimiter rateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:         authn,
		orders:        orders,
		remindLimiter: newSimpleRateLimiter(remindRateLimit, remindRateWindow, time.Now),
	}
}

// Routes registers the user-facing order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleUser, auth.RoleAdmin))
	}

	r.Post("/", h.submitOrder)
	r.Get("/", h.listOrders)
	r.Post("/payment", h.requestPayment)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:repeat", h.repeatOrder)
	r.Post("/{orderID}:remind", h.remindOrder)
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	var req submitOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	payMethod, ok := parsePayMethod(req.PayMethod)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pay_method must be WECHAT or BALANCE", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Submit(ctx, services.SubmitOrderCommand{
		UserID:         identity.UID,
		AddressBookID:  strings.TrimSpace(req.AddressBookID),
		PayMethod:      payMethod,
		Remark:         strings.TrimSpace(req.Remark),
		TablewareCount: req.TablewareCount,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, nil, "")})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	statuses, err := parseStatusParams(r.URL.Query()["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.HistoryPage(ctx, services.OrderHistoryFilter{
		UserID:     identity.UID,
		Status:     statuses,
		Pagination: parsePagination(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) requestPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	var req orderPaymentRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	payMethod, ok := parsePayMethod(req.PayMethod)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pay_method must be WECHAT or BALANCE", http.StatusBadRequest))
		return
	}

	ticket, err := h.orders.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		UserID:    identity.UID,
		Number:    strings.TrimSpace(req.Number),
		PayMethod: payMethod,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentTicketResponse{Ticket: buildPaymentTicketPayload(ticket)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	view, err := h.orders.Details(ctx, services.OrderDetailsQuery{
		OrderID: orderID,
		UserID:  identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(view.Order, view.Details, view.DishSummary)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeOptionalJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.UserCancel(ctx, services.UserCancelCommand{
		UserID:  identity.UID,
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil, "")})
}

func (h *OrderHandlers) repeatOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.Repeat(ctx, services.RepeatOrderCommand{
		UserID:  identity.UID,
		OrderID: orderID,
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) remindOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if h.remindLimiter != nil && !h.remindLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many reminders, slow down", http.StatusTooManyRequests))
		return
	}

	if err := h.orders.Remind(ctx, services.RemindOrderCommand{
		UserID:  identity.UID,
		OrderID: orderID,
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Response payloads ----------------------------------------------------------

type orderListResponse struct {
	Items []orderPayload `json:"items"`
	Total int64          `json:"total"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type paymentTicketResponse struct {
	Ticket paymentTicketPayload `json:"ticket"`
}

type paymentTicketPayload struct {
	OrderID   string `json:"order_id"`
	Number    string `json:"number"`
	Amount    int64  `json:"amount"`
	PayMethod string `json:"pay_method"`
	IssuedAt  string `json:"issued_at"`
}

type orderPayload struct {
	ID                  string               `json:"id"`
	Number              string               `json:"number"`
	UserID              string               `json:"user_id,omitempty"`
	Status              string               `json:"status"`
	PayStatus           string               `json:"pay_status"`
	PayMethod           string               `json:"pay_method"`
	Amount              int64                `json:"amount"`
	PackAmount          int64                `json:"pack_amount"`
	DeliveryFee         int64                `json:"delivery_fee"`
	Remark              string               `json:"remark,omitempty"`
	Phone               string               `json:"phone"`
	Address             string               `json:"address"`
	Consignee           string               `json:"consignee"`
	CancelReason        *string              `json:"cancel_reason,omitempty"`
	RejectionReason     *string              `json:"rejection_reason,omitempty"`
	TablewareCount      int                  `json:"tableware_count"`
	DishSummary         string               `json:"dish_summary,omitempty"`
	Details             []orderDetailPayload `json:"details,omitempty"`
	OrderTime           string               `json:"order_time"`
	CheckoutTime        string               `json:"checkout_time,omitempty"`
	CancelTime          string               `json:"cancel_time,omitempty"`
	DeliveryTime        string               `json:"delivery_time,omitempty"`
	EstimatedDeliveryAt string               `json:"estimated_delivery_at,omitempty"`
}

type orderDetailPayload struct {
	Name       string  `json:"name"`
	Image      string  `json:"image,omitempty"`
	DishID     *string `json:"dish_id,omitempty"`
	SetmealID  *string `json:"setmeal_id,omitempty"`
	DishFlavor string  `json:"dish_flavor,omitempty"`
	Quantity   int     `json:"quantity"`
	Amount     int64   `json:"amount"`
}

func buildOrderPayload(order services.Order, details []services.OrderDetail, dishSummary string) orderPayload {
	payload := orderPayload{
		ID:                  strings.TrimSpace(order.ID),
		Number:              strings.TrimSpace(order.Number),
		UserID:              strings.TrimSpace(order.UserID),
		Status:              string(order.Status),
		PayStatus:           string(order.PayStatus),
		PayMethod:           string(order.PayMethod),
		Amount:              order.Amount,
		PackAmount:          order.PackAmount,
		DeliveryFee:         order.DeliveryFee,
		Remark:              order.Remark,
		Phone:               order.Phone,
		Address:             order.Address,
		Consignee:           order.Consignee,
		CancelReason:        cloneStringPointer(order.CancelReason),
		RejectionReason:     cloneStringPointer(order.RejectionReason),
		TablewareCount:      order.TablewareCount,
		DishSummary:         dishSummary,
		OrderTime:           formatTime(order.OrderTime),
		CheckoutTime:        formatTime(pointerTime(order.CheckoutTime)),
		CancelTime:          formatTime(pointerTime(order.CancelTime)),
		DeliveryTime:        formatTime(pointerTime(order.DeliveryTime)),
		EstimatedDeliveryAt: formatTime(pointerTime(order.EstimatedDeliveryAt)),
	}

	if len(details) > 0 {
		payload.Details = make([]orderDetailPayload, 0, len(details))
		for _, detail := range details {
			payload.Details = append(payload.Details, orderDetailPayload{
				Name:       detail.Name,
				Image:      detail.Image,
				DishID:     cloneStringPointer(detail.DishID),
				SetmealID:  cloneStringPointer(detail.SetmealID),
				DishFlavor: detail.DishFlavor,
				Quantity:   detail.Quantity,
				Amount:     detail.Amount,
			})
		}
	}

	return payload
}

func buildOrderListResponse(page domain.Page[services.OrderView]) orderListResponse {
	response := orderListResponse{
		Items: make([]orderPayload, 0, len(page.Items)),
		Total: page.Total,
	}
	for _, view := range page.Items {
		response.Items = append(response.Items, buildOrderPayload(view.Order, view.Details, view.DishSummary))
	}
	return response
}

func buildPaymentTicketPayload(ticket services.PaymentTicket) paymentTicketPayload {
	return paymentTicketPayload{
		OrderID:   ticket.OrderID,
		Number:    ticket.Number,
		Amount:    ticket.Amount,
		PayMethod: string(ticket.PayMethod),
		IssuedAt:  formatTime(ticket.IssuedAt),
	}
}

// Shared helpers -------------------------------------------------------------

func requireIdentity(ctx context.Context, w http.ResponseWriter, orders services.OrderService) (*auth.Identity, bool) {
	if orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is not configured", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			return true
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return false
		}
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func parsePagination(r *http.Request) domain.Pagination {
	query := r.URL.Query()
	page := 1
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}
	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}
	return domain.Pagination{Page: page, PageSize: pageSize}
}

func parseStatusParams(values []string) ([]domain.OrderStatus, error) {
	if len(values) == 0 {
		return nil, nil
	}
	statuses := make([]domain.OrderStatus, 0, len(values))
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			status, ok := parseOrderStatus(raw)
			if !ok {
				return nil, errors.New("status filter contains an unknown order status")
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func parsePayMethod(raw string) (domain.PayMethod, bool) {
	method := domain.PayMethod(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := validPayMethods[method]; !ok {
		return "", false
	}
	return method, true
}

func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "order has already been paid", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order status does not permit this operation", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "shopping cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "delivery address not found", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "order store is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
