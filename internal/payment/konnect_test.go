package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/konnect-pay/internal/payment"
	"github.com/noah-isme/konnect-pay/internal/resilience"
)

func newKonnect(srv *httptest.Server, mode string) payment.Konnect {
	return payment.Konnect{
		BaseURL:   srv.URL + "/api/v2",
		AuthMode:  mode,
		APIKey:    "wallet-key",
		APISecret: "wallet-secret",
		HTTP:      resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second},
		Logger:    zerolog.Nop(),
	}
}

func sampleIntent() payment.PaymentIntent {
	return payment.PaymentIntent{
		OrderID:          "100",
		Amount:           5000000,
		Currency:         "tnd",
		AcceptedMethods:  []string{"wallet", "bank_card"},
		ReceiverWalletID: "w-1",
		SuccessURL:       "https://shop.tn/checkout/100/payment/return",
		FailURL:          "https://shop.tn/checkout/100/payment/cancel",
		WebhookURL:       "https://shop.tn/api/v1/webhooks/konnect",
		FirstName:        "Amel",
		LastName:         "Ben Salah",
		Email:            "amel@example.tn",
		LifespanMinutes:  10,
	}
}

func TestKonnectCreatePaymentSendsContract(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/payments/init-payment", r.URL.Path)
		require.Equal(t, "wallet-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payUrl":"https://gateway.konnect.network/pay/abc","paymentRef":"abc"}`))
	}))
	defer srv.Close()

	res, err := newKonnect(srv, payment.AuthAPIKey).CreatePayment(context.Background(), sampleIntent())
	require.NoError(t, err)
	require.Equal(t, "https://gateway.konnect.network/pay/abc", res.RedirectURL)
	require.Equal(t, "abc", res.PaymentRef)

	require.Equal(t, "w-1", got["receiverWalletId"])
	require.Equal(t, "TND", got["token"])
	require.EqualValues(t, 5000000, got["amount"])
	require.Equal(t, "immediate", got["type"])
	require.Equal(t, "100", got["orderId"])
	require.Equal(t, true, got["silentWebhook"])
	require.Equal(t, "https://shop.tn/api/v1/webhooks/konnect", got["webhook"])
	require.Equal(t, []any{"wallet", "bank_card"}, got["acceptedPaymentMethods"])
}

func TestKonnectBasicAuthAndPaymentURLAlias(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "wallet-key", user)
		require.Equal(t, "wallet-secret", pass)
		require.Empty(t, r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"payment_url":"https://gateway/pay/x"}`))
	}))
	defer srv.Close()

	res, err := newKonnect(srv, payment.AuthBasic).CreatePayment(context.Background(), sampleIntent())
	require.NoError(t, err)
	require.Equal(t, "https://gateway/pay/x", res.RedirectURL)
}

func TestKonnectCreatePaymentWithoutPayURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"paymentRef":"abc"}`))
	}))
	defer srv.Close()

	_, err := newKonnect(srv, payment.AuthAPIKey).CreatePayment(context.Background(), sampleIntent())
	require.ErrorIs(t, err, payment.ErrProviderContractViolation)
}

func TestKonnectFetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v2/payments/ref-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"payment":{"id":"ref-1","status":"completed","orderId":100,"amount":5000000,"token":"TND",
			"transactions":[{"_id":"tx-1","status":"success"}]}}`))
	}))
	defer srv.Close()

	p, err := newKonnect(srv, payment.AuthAPIKey).FetchPayment(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, payment.RemotePayment{
		RemoteID:      "ref-1",
		Status:        payment.StatusCompleted,
		RawStatus:     "completed",
		OrderID:       "100",
		Amount:        5000000,
		Currency:      "TND",
		TransactionID: "tx-1",
	}, p)
}

func TestKonnectFetchPaymentStatusNormalisation(t *testing.T) {
	cases := map[string]payment.RemoteStatus{
		"CAPTURED":       payment.StatusCompleted,
		"completed":      payment.StatusCompleted,
		"pending":        payment.StatusPending,
		"failed_payment": payment.StatusFailed,
		"expired":        payment.StatusFailed,
		"refunded":       payment.StatusOther,
	}
	for raw, want := range cases {
		raw, want := raw, want
		t.Run(raw, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"payment": map[string]any{"id": "r", "status": raw, "orderId": "1"}})
			}))
			defer srv.Close()
			p, err := newKonnect(srv, payment.AuthAPIKey).FetchPayment(context.Background(), "r")
			require.NoError(t, err)
			require.Equal(t, want, p.Status)
			require.Equal(t, raw, p.RawStatus)
		})
	}
}

func TestKonnectFetchPaymentFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unknown reference", status: http.StatusNotFound, body: `{"errors":[{"code":"not_found"}]}`},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`},
		{name: "malformed body", status: http.StatusOK, body: `{"payment":`},
		{name: "no payment object", status: http.StatusOK, body: `{}`},
		{name: "no status", status: http.StatusOK, body: `{"payment":{"id":"r"}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := newKonnect(srv, payment.AuthAPIKey).FetchPayment(context.Background(), "r")
			require.ErrorIs(t, err, payment.ErrProviderContractViolation)
		})
	}
}

func TestKonnectFetchPaymentUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newKonnect(srv, payment.AuthAPIKey)
	srv.Close()

	_, err := client.FetchPayment(context.Background(), "ref-1")
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)
}

func TestKonnectFetchPaymentEscapesReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/payments/a%2Fb", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"payment":{"id":"a/b","status":"pending","orderId":"1"}}`))
	}))
	defer srv.Close()

	p, err := newKonnect(srv, payment.AuthAPIKey).FetchPayment(context.Background(), "a/b")
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, p.Status)
}
