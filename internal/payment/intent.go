package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/konnect-pay/internal/common"
	"github.com/noah-isme/konnect-pay/internal/obs"
)

const fallbackCustomerName = "Customer"

// GatewayConfig is the merchant-side configuration applied to every intent.
type GatewayConfig struct {
	WalletID        string   `validate:"required"`
	AcceptedMethods []string `validate:"required,min=1,dive,required"`
	SendEmail       bool
	WebhookURL      string `validate:"omitempty,url"`
	SuccessURL      string `validate:"required,url"`
	FailURL         string `validate:"required,url"`
	LifespanMinutes int    `validate:"gte=0,lte=1440"`
	Theme           string `validate:"omitempty,oneof=light dark"`
}

// WithCallbacks returns a copy whose success and fail URLs point at this service's return and cancel
// endpoints for the given order.
func (g GatewayConfig) WithCallbacks(baseURL, orderID string) GatewayConfig {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	id := strings.TrimSpace(orderID)
	g.SuccessURL = fmt.Sprintf("%s/checkout/%s/payment/return", base, id)
	g.FailURL = fmt.Sprintf("%s/checkout/%s/payment/cancel", base, id)
	return g
}

// IntentBuilder turns an order into a provider payment and hands back the hosted page URL.
type IntentBuilder struct {
	Provider IntentCreator
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// NewIntentBuilder wires a builder with a fresh validator.
func NewIntentBuilder(provider IntentCreator, logger zerolog.Logger) *IntentBuilder {
	return &IntentBuilder{Provider: provider, Validate: validator.New(), Logger: logger}
}

// Initiate validates the order and gateway configuration and creates the payment with the provider.
// Nothing is persisted; the payment row only appears once a confirmation is reconciled.
func (b *IntentBuilder) Initiate(ctx context.Context, order Order, cfg GatewayConfig) (IntentResult, error) {
	if b == nil || b.Provider == nil {
		return IntentResult{}, errors.New("payment intent builder not configured")
	}
	ctx, span := otel.Tracer("payment.IntentBuilder").Start(ctx, "IntentBuilder.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID))

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.intent.result", result),
			attribute.Float64("payment.intent.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(result).Inc()
		}
	}()

	intent := buildIntent(order, cfg)
	if err := b.validate(cfg, intent); err != nil {
		result = resultLabel(err)
		return IntentResult{}, err
	}

	res, err := b.Provider.CreatePayment(ctx, intent)
	if err != nil {
		result = resultLabel(err)
		span.RecordError(err)
		b.Logger.Error().Err(err).Str("order_id", order.ID).Msg("payment intent rejected")
		if !errors.Is(err, ErrProviderUnavailable) && !errors.Is(err, ErrProviderContractViolation) {
			return IntentResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return IntentResult{}, err
	}
	if strings.TrimSpace(res.RedirectURL) == "" {
		result = "contract_violation"
		return IntentResult{}, fmt.Errorf("%w: provider returned no redirect url", ErrProviderContractViolation)
	}
	result = "ok"
	b.Logger.Info().Str("order_id", order.ID).Str("payment_ref", res.PaymentRef).Int64("amount", intent.Amount).Msg("payment intent created")
	return res, nil
}

func (b *IntentBuilder) validate(cfg GatewayConfig, intent PaymentIntent) error {
	v := b.Validate
	if v == nil {
		v = validator.New()
	}
	fields := map[string]string{}
	for _, target := range []any{cfg, intent} {
		err := v.Struct(target)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return common.NewAppError(http.StatusUnprocessableEntity, "INVALID_INTENT",
		"order cannot be paid with the current gateway configuration",
		fmt.Errorf("%w: %d invalid field(s)", ErrInvalidIntent, len(fields))).WithDetails(fields)
}

func buildIntent(order Order, cfg GatewayConfig) PaymentIntent {
	return PaymentIntent{
		OrderID:          strings.TrimSpace(order.ID),
		Amount:           order.TotalAmount,
		Currency:         strings.ToUpper(strings.TrimSpace(order.Currency)),
		AcceptedMethods:  cfg.AcceptedMethods,
		ReceiverWalletID: cfg.WalletID,
		SuccessURL:       cfg.SuccessURL,
		FailURL:          cfg.FailURL,
		WebhookURL:       cfg.WebhookURL,
		SendEmail:        cfg.SendEmail,
		Email:            strings.TrimSpace(order.Email),
		FirstName:        nameOrFallback(order.FirstName),
		LastName:         nameOrFallback(order.LastName),
		Description:      fmt.Sprintf("Order #%s", strings.TrimSpace(order.ID)),
		LifespanMinutes:  cfg.LifespanMinutes,
		Theme:            cfg.Theme,
	}
}

func nameOrFallback(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fallbackCustomerName
}

// ToMinorUnits converts a decimal amount such as "50.000" into the currency's smallest unit
// (millimes for TND). Amounts with more precision than the currency allows are rejected.
func ToMinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", amount)
	}
	shifted := d.Shift(minorDigits(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimals", amount, minorDigits(currency))
	}
	return shifted.IntPart(), nil
}

func minorDigits(currency string) int32 {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "TND", "BHD", "IQD", "JOD", "KWD", "LYD", "OMR":
		return 3
	case "JPY", "KRW", "XOF", "XAF":
		return 0
	default:
		return 2
	}
}
