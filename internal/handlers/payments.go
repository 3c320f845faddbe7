package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skyfield-eats/api/internal/platform/httpx"
	"github.com/skyfield-eats/api/internal/services"
)

type paymentSettledRequest struct {
	Number string `json:"number"`
}

// PaymentWebhookHandlers receives settlement notifications from the payment
// channel and advances the paid order.
type PaymentWebhookHandlers struct {
	orders services.OrderService
}

// NewPaymentWebhookHandlers constructs a new PaymentWebhookHandlers instance.
func NewPaymentWebhookHandlers(orders services.OrderService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{orders: orders}
}

// Routes registers the payment webhook endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments", h.paymentSettled)
}

func (h *PaymentWebhookHandlers) paymentSettled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is not configured", http.StatusServiceUnavailable))
		return
	}

	var req paymentSettledRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.MarkPaidAndAdvance(ctx, services.MarkPaidCommand{
		Number: strings.TrimSpace(req.Number),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, nil, "")})
}
