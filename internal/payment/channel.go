package payment

import (
	"errors"
	"net/http"
)

// Customer-facing messages for the return channel. Diagnostics never reach the browser.
const (
	MsgPaymentReceived     = "Payment received"
	MsgPaymentNotCompleted = "Payment was not completed"
	MsgContactSupport      = "Could not confirm payment, please contact support"
	MsgMissingReference    = "Payment failed: missing reference"
	MsgOrderMismatch       = "Payment could not be matched to this order"
	MsgPaymentCancelled    = "Payment was cancelled"
)

// ReturnResult is what the browser sees after coming back from the hosted payment page.
type ReturnResult struct {
	Success bool   `json:"-"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ReturnResultFor maps a reconciliation error to the customer-facing result.
func ReturnResultFor(err error) ReturnResult {
	if err == nil {
		return ReturnResult{Success: true, Status: "success", Message: MsgPaymentReceived}
	}
	failed := ReturnResult{Status: "failed"}
	switch {
	case errors.Is(err, ErrMissingReference):
		failed.Message = MsgMissingReference
	case errors.Is(err, ErrOrderBindingViolation):
		failed.Message = MsgOrderMismatch
	case errors.Is(err, ErrPaymentNotCompleted):
		failed.Message = MsgPaymentNotCompleted
	default:
		failed.Message = MsgContactSupport
	}
	return failed
}

// WebhookStatusFor maps a reconciliation error to the HTTP status acknowledged to the provider. A payment
// that is not completed yet is acknowledged; transient failures answer 5xx so the provider redelivers.
func WebhookStatusFor(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrPaymentNotCompleted):
		return http.StatusOK
	case errors.Is(err, ErrMissingReference):
		return http.StatusBadRequest
	case errors.Is(err, ErrOrderBindingViolation):
		return http.StatusConflict
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrProviderContractViolation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
