package payment_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/konnect-pay/internal/common"
	"github.com/noah-isme/konnect-pay/internal/payment"
)

type fakeCreator struct {
	got    payment.PaymentIntent
	calls  int
	result payment.IntentResult
	err    error
}

func (f *fakeCreator) CreatePayment(_ context.Context, intent payment.PaymentIntent) (payment.IntentResult, error) {
	f.calls++
	f.got = intent
	return f.result, f.err
}

func gatewayConfig() payment.GatewayConfig {
	return payment.GatewayConfig{
		WalletID:        "wallet-1",
		AcceptedMethods: []string{"wallet", "bank_card", "e-DINAR"},
		WebhookURL:      "https://shop.tn/api/v1/webhooks/konnect",
		LifespanMinutes: 10,
		Theme:           "light",
	}.WithCallbacks("https://shop.tn/", "100")
}

func TestGatewayConfigWithCallbacks(t *testing.T) {
	cfg := gatewayConfig()
	require.Equal(t, "https://shop.tn/checkout/100/payment/return", cfg.SuccessURL)
	require.Equal(t, "https://shop.tn/checkout/100/payment/cancel", cfg.FailURL)
}

func TestInitiateBuildsIntentFromOrder(t *testing.T) {
	creator := &fakeCreator{result: payment.IntentResult{RedirectURL: "https://gateway/pay/abc", PaymentRef: "abc"}}
	builder := payment.NewIntentBuilder(creator, zerolog.Nop())

	res, err := builder.Initiate(context.Background(), payment.Order{
		ID: "100", TotalAmount: 5000000, Currency: "tnd", Email: "amel@example.tn", FirstName: "Amel",
	}, gatewayConfig())
	require.NoError(t, err)
	require.Equal(t, "https://gateway/pay/abc", res.RedirectURL)

	got := creator.got
	require.Equal(t, "100", got.OrderID)
	require.Equal(t, int64(5000000), got.Amount)
	require.Equal(t, "TND", got.Currency)
	require.Equal(t, "wallet-1", got.ReceiverWalletID)
	require.Equal(t, "Amel", got.FirstName)
	require.Equal(t, "Customer", got.LastName)
	require.Equal(t, "Order #100", got.Description)
	require.Equal(t, "https://shop.tn/checkout/100/payment/return", got.SuccessURL)
	require.Equal(t, []string{"wallet", "bank_card", "e-DINAR"}, got.AcceptedMethods)
}

func TestInitiateRejectsInvalidIntentWithoutCallingProvider(t *testing.T) {
	creator := &fakeCreator{}
	builder := payment.NewIntentBuilder(creator, zerolog.Nop())
	cfg := gatewayConfig()
	cfg.WalletID = ""

	_, err := builder.Initiate(context.Background(), payment.Order{ID: "100", TotalAmount: 0, Currency: "TND"}, cfg)
	require.ErrorIs(t, err, payment.ErrInvalidIntent)
	require.Zero(t, creator.calls)

	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusUnprocessableEntity, appErr.Status)
	fields, ok := appErr.Details.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "gt", fields["Amount"])
	require.Contains(t, fields, "WalletID")
}

func TestInitiateRequiresEmailWhenProviderSendsIt(t *testing.T) {
	builder := payment.NewIntentBuilder(&fakeCreator{}, zerolog.Nop())
	cfg := gatewayConfig()
	cfg.SendEmail = true

	_, err := builder.Initiate(context.Background(), payment.Order{ID: "100", TotalAmount: 10, Currency: "TND"}, cfg)
	require.ErrorIs(t, err, payment.ErrInvalidIntent)
}

func TestInitiateProviderFailures(t *testing.T) {
	cases := []struct {
		name string
		res  payment.IntentResult
		err  error
		want error
	}{
		{name: "unavailable", err: payment.ErrProviderUnavailable, want: payment.ErrProviderUnavailable},
		{name: "bad response", err: payment.ErrProviderContractViolation, want: payment.ErrProviderContractViolation},
		{name: "unclassified", err: errors.New("boom"), want: payment.ErrProviderUnavailable},
		{name: "empty redirect", res: payment.IntentResult{PaymentRef: "abc"}, want: payment.ErrProviderContractViolation},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			builder := payment.NewIntentBuilder(&fakeCreator{result: tc.res, err: tc.err}, zerolog.Nop())
			_, err := builder.Initiate(context.Background(), payment.Order{ID: "100", TotalAmount: 10, Currency: "TND"}, gatewayConfig())
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
		wantErr  bool
	}{
		{amount: "50.000", currency: "TND", want: 50000},
		{amount: "5000", currency: "tnd", want: 5000000},
		{amount: "12.5", currency: "EUR", want: 1250},
		{amount: "300", currency: "JPY", want: 300},
		{amount: "1.2345", currency: "TND", wantErr: true},
		{amount: "-1", currency: "TND", wantErr: true},
		{amount: "abc", currency: "TND", wantErr: true},
	}
	for _, tc := range cases {
		got, err := payment.ToMinorUnits(tc.amount, tc.currency)
		if tc.wantErr {
			require.Error(t, err, tc.amount)
			continue
		}
		require.NoError(t, err, tc.amount)
		require.Equal(t, tc.want, got, tc.amount)
	}
}
