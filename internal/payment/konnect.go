package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/konnect-pay/internal/obs"
	"github.com/noah-isme/konnect-pay/internal/resilience"
)

const (
	// AuthAPIKey sends the key in the x-api-key header.
	AuthAPIKey = "api_key"
	// AuthBasic sends key and secret as HTTP basic credentials.
	AuthBasic = "basic"

	maxProviderBody = 1 << 20
)

// Konnect talks to the Konnect v2 payments API.
type Konnect struct {
	BaseURL   string
	AuthMode  string
	APIKey    string
	APISecret string
	HTTP      resilience.HTTPClient
	Logger    zerolog.Logger
}

type initPaymentRequest struct {
	ReceiverWalletID       string   `json:"receiverWalletId"`
	Token                  string   `json:"token"`
	Amount                 int64    `json:"amount"`
	Type                   string   `json:"type"`
	Description            string   `json:"description,omitempty"`
	AcceptedPaymentMethods []string `json:"acceptedPaymentMethods"`
	Lifespan               int      `json:"lifespan,omitempty"`
	CheckoutForm           bool     `json:"checkoutForm"`
	AddPaymentFeesToAmount bool     `json:"addPaymentFeesToAmount"`
	FirstName              string   `json:"firstName"`
	LastName               string   `json:"lastName"`
	Email                  string   `json:"email,omitempty"`
	OrderID                string   `json:"orderId"`
	Webhook                string   `json:"webhook,omitempty"`
	SilentWebhook          bool     `json:"silentWebhook"`
	SuccessURL             string   `json:"successUrl"`
	FailURL                string   `json:"failUrl"`
	Theme                  string   `json:"theme,omitempty"`
}

type initPaymentResponse struct {
	PayURL     string `json:"payUrl"`
	PaymentURL string `json:"payment_url"`
	PaymentRef string `json:"paymentRef"`
}

type remoteTransaction struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
	Status  string `json:"status"`
}

type fetchPaymentResponse struct {
	Payment *struct {
		ID           string              `json:"id"`
		Status       string              `json:"status"`
		OrderID      flexString          `json:"orderId"`
		Amount       json.Number         `json:"amount"`
		Token        string              `json:"token"`
		Transactions []remoteTransaction `json:"transactions"`
	} `json:"payment"`
}

// flexString accepts both JSON strings and numbers; order ids come back in either shape.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// CreatePayment registers a payment with Konnect and returns the hosted page URL.
func (k Konnect) CreatePayment(ctx context.Context, intent PaymentIntent) (IntentResult, error) {
	ctx, span := otel.Tracer("payment.Konnect").Start(ctx, "Konnect.CreatePayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", intent.OrderID))

	body, err := json.Marshal(initPaymentRequest{
		ReceiverWalletID:       intent.ReceiverWalletID,
		Token:                  strings.ToUpper(intent.Currency),
		Amount:                 intent.Amount,
		Type:                   "immediate",
		Description:            intent.Description,
		AcceptedPaymentMethods: intent.AcceptedMethods,
		Lifespan:               intent.LifespanMinutes,
		CheckoutForm:           false,
		AddPaymentFeesToAmount: false,
		FirstName:              intent.FirstName,
		LastName:               intent.LastName,
		Email:                  intent.Email,
		OrderID:                intent.OrderID,
		Webhook:                intent.WebhookURL,
		SilentWebhook:          true,
		SuccessURL:             intent.SuccessURL,
		FailURL:                intent.FailURL,
		Theme:                  intent.Theme,
	})
	if err != nil {
		return IntentResult{}, fmt.Errorf("encode init-payment: %w", err)
	}

	var resp initPaymentResponse
	if err := k.call(ctx, "init_payment", http.MethodPost, "/payments/init-payment", body, &resp); err != nil {
		span.RecordError(err)
		return IntentResult{}, err
	}
	redirect := strings.TrimSpace(resp.PayURL)
	if redirect == "" {
		redirect = strings.TrimSpace(resp.PaymentURL)
	}
	if redirect == "" {
		return IntentResult{}, fmt.Errorf("%w: init-payment response has no payUrl", ErrProviderContractViolation)
	}
	return IntentResult{RedirectURL: redirect, PaymentRef: strings.TrimSpace(resp.PaymentRef)}, nil
}

// FetchPayment reads the current state of a payment by its Konnect reference.
func (k Konnect) FetchPayment(ctx context.Context, ref string) (RemotePayment, error) {
	ctx, span := otel.Tracer("payment.Konnect").Start(ctx, "Konnect.FetchPayment")
	defer span.End()
	span.SetAttributes(attribute.String("payment.ref", ref))

	var resp fetchPaymentResponse
	if err := k.call(ctx, "fetch_payment", http.MethodGet, "/payments/"+url.PathEscape(ref), nil, &resp); err != nil {
		span.RecordError(err)
		return RemotePayment{}, err
	}
	if resp.Payment == nil {
		return RemotePayment{}, fmt.Errorf("%w: response has no payment object", ErrProviderContractViolation)
	}
	p := resp.Payment
	if strings.TrimSpace(p.Status) == "" {
		return RemotePayment{}, fmt.Errorf("%w: payment status missing", ErrProviderContractViolation)
	}
	amount, err := parseMinorAmount(p.Amount)
	if err != nil {
		return RemotePayment{}, fmt.Errorf("%w: amount %q: %v", ErrProviderContractViolation, p.Amount.String(), err)
	}
	remote := RemotePayment{
		RemoteID:  strings.TrimSpace(p.ID),
		Status:    normaliseKonnectStatus(p.Status),
		RawStatus: p.Status,
		OrderID:   strings.TrimSpace(string(p.OrderID)),
		Amount:    amount,
		Currency:  strings.ToUpper(strings.TrimSpace(p.Token)),
	}
	for _, tx := range p.Transactions {
		id := tx.MongoID
		if id == "" {
			id = tx.ID
		}
		if id != "" {
			remote.TransactionID = id
		}
	}
	span.SetAttributes(attribute.String("payment.status", string(remote.Status)))
	return remote, nil
}

func (k Konnect) call(ctx context.Context, operation, method, path string, body []byte, out any) error {
	start := time.Now()
	result := "error"
	defer func() {
		if obs.ProviderRequestDuration != nil {
			obs.ProviderRequestDuration.WithLabelValues(operation, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(k.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch k.AuthMode {
	case AuthBasic:
		req.SetBasicAuth(k.APIKey, k.APISecret)
	default:
		req.Header.Set("x-api-key", k.APIKey)
	}

	resp, cancel, err := k.HTTP.Do(ctx, req)
	if cancel != nil {
		defer cancel()
	}
	if err != nil && resp == nil {
		result = "unavailable"
		k.Logger.Warn().Err(err).Str("operation", operation).Msg("konnect request failed")
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if readErr != nil {
		result = "unavailable"
		return fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, readErr)
	}
	// 5xx stays a contract violation, not unavailability; resilience already counted it via ErrUpstreamStatus.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result = "bad_status"
		k.Logger.Warn().Int("status", resp.StatusCode).Str("operation", operation).Msg("konnect returned non-2xx")
		return fmt.Errorf("%w: %s returned %d", ErrProviderContractViolation, operation, resp.StatusCode)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		result = "malformed"
		return fmt.Errorf("%w: decode %s: %v", ErrProviderContractViolation, operation, err)
	}
	result = "ok"
	return nil
}

func parseMinorAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f < 0 || f > math.MaxInt64 {
		return 0, errors.New("out of range")
	}
	return int64(math.Round(f)), nil
}

func normaliseKonnectStatus(status string) RemoteStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "captured", "success", "successful", "paid":
		return StatusCompleted
	case "pending", "initiated", "in_progress", "processing":
		return StatusPending
	case "failed", "failed_payment", "expired", "canceled", "cancelled", "rejected":
		return StatusFailed
	default:
		return StatusOther
	}
}
