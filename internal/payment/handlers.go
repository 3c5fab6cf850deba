package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/konnect-pay/internal/common"
)

// OrderStatePaid is the order state set by settlement once a completed payment exists.
const OrderStatePaid = "paid"

// CompletedLookup finds a completed payment already recorded for an order. A hit means the order is
// paid even if settlement has not caught up yet.
type CompletedLookup interface {
	FindCompletedByOrder(ctx context.Context, orderID string) (LocalPayment, bool, error)
}

// Handler exposes the customer-facing payment endpoints and the support lookup.
type Handler struct {
	Intents       *IntentBuilder
	Engine        *Engine
	Orders        OrderLedger
	Payments      PaymentLedger
	Settled       CompletedLookup
	Gateway       GatewayConfig
	PublicBaseURL string
	Logger        zerolog.Logger
}

type returnResp struct {
	ReturnResult
	OrderID string `json:"orderId"`
}

// Initiate opens a Konnect payment for the order and returns the hosted page URL.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Intents == nil || h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}
	order, err := h.Orders.LoadOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error().Err(err).Str("order_id", orderID).Msg("load order for intent")
		common.JSONError(w, http.StatusInternalServerError, "ORDER_LOOKUP_FAILED", "unable to load order", nil)
		return
	}
	if order.State == OrderStatePaid {
		common.JSONError(w, http.StatusConflict, "ORDER_ALREADY_PAID", "order already paid", nil)
		return
	}
	if h.Settled != nil {
		p, found, err := h.Settled.FindCompletedByOrder(r.Context(), order.ID)
		if err != nil {
			h.Logger.Error().Err(err).Str("order_id", order.ID).Msg("completed payment lookup for intent")
			common.JSONError(w, http.StatusInternalServerError, "PAYMENT_LOOKUP_FAILED", "unable to load payment", nil)
			return
		}
		if found {
			common.JSONError(w, http.StatusConflict, "ORDER_ALREADY_PAID", "order already paid", map[string]any{"paymentRef": p.RemoteID})
			return
		}
	}

	res, err := h.Intents.Initiate(r.Context(), order, h.Gateway.WithCallbacks(h.PublicBaseURL, order.ID))
	if err != nil {
		common.WriteError(w, intentError(err))
		return
	}
	common.JSON(w, http.StatusOK, res)
}

// Return handles the browser coming back from the hosted page. Konnect appends payment_ref; older
// integrations used payment_id.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	q := r.URL.Query()
	ref := strings.TrimSpace(q.Get("payment_ref"))
	if ref == "" {
		ref = strings.TrimSpace(q.Get("payment_id"))
	}

	_, err := h.Engine.Reconcile(r.Context(), Claim{Channel: ChannelReturn, Reference: ref, OrderID: orderID})
	result := ReturnResultFor(err)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusPaymentRequired
	}
	common.JSON(w, status, returnResp{ReturnResult: result, OrderID: orderID})
}

// Cancel is the fail URL landing. It never touches the ledger.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	common.JSON(w, http.StatusPaymentRequired, returnResp{
		ReturnResult: ReturnResult{Status: "failed", Message: MsgPaymentCancelled},
		OrderID:      orderID,
	})
}

// Lookup returns the stored payment for a provider reference.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Payments == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	remoteID := strings.TrimSpace(chi.URLParam(r, "remoteId"))
	if remoteID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "remoteId is required", nil)
		return
	}
	p, found, err := h.Payments.FindByRemoteID(r.Context(), remoteID)
	if err != nil {
		h.Logger.Error().Err(err).Str("payment_ref", remoteID).Msg("payment lookup failed")
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_LOOKUP_FAILED", "unable to load payment", nil)
		return
	}
	if !found {
		common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, p)
}

func intentError(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return common.NewAppError(http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "payment provider unavailable", err)
	case errors.Is(err, ErrProviderContractViolation):
		return common.NewAppError(http.StatusBadGateway, "PROVIDER_BAD_RESPONSE", "payment provider returned an unexpected response", err)
	}
	return common.AsAppError(err, "INTENT_FAILED")
}
