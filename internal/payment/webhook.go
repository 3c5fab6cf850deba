package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/konnect-pay/internal/common"
)

const maxWebhookBody = 64 << 10

// Webhook receives Konnect's server-to-server payment notifications. The payload only carries a
// reference; everything else is re-verified with the provider.
type Webhook struct {
	Engine *Engine
	Logger zerolog.Logger
}

type webhookBody struct {
	PaymentRef      string `json:"payment_ref"`
	PaymentRefCamel string `json:"paymentRef"`
}

// Handle reconciles the referenced payment and acknowledges with a status the provider's redelivery
// policy understands.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	ref, err := webhookReference(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	outcome, err := h.Engine.Reconcile(r.Context(), Claim{Channel: ChannelWebhook, Reference: ref})
	status := WebhookStatusFor(err)
	if status == http.StatusOK {
		resp := map[string]any{
			"received": true,
			"action":   outcome.Action,
			"status":   outcome.RemoteStatus,
		}
		common.JSON(w, status, resp)
		return
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).Str("payment_ref", ref).Int("status", status).Msg("webhook reconciliation failed")
	}
	common.JSONError(w, status, webhookErrorCode(err), http.StatusText(status), nil)
}

func webhookReference(r *http.Request) (string, error) {
	q := r.URL.Query()
	for _, key := range []string{"payment_ref", "paymentRef"} {
		if ref := strings.TrimSpace(q.Get(key)); ref != "" {
			return ref, nil
		}
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return "", nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "", nil
	}
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		// A body we cannot read still lets the engine report the missing reference.
		return "", nil
	}
	if ref := strings.TrimSpace(body.PaymentRef); ref != "" {
		return ref, nil
	}
	return strings.TrimSpace(body.PaymentRefCamel), nil
}

func webhookErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingReference):
		return "MISSING_REFERENCE"
	case errors.Is(err, ErrOrderBindingViolation):
		return "ORDER_MISMATCH"
	case errors.Is(err, ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, ErrProviderContractViolation):
		return "PROVIDER_BAD_RESPONSE"
	default:
		return "RECONCILE_FAILED"
	}
}
