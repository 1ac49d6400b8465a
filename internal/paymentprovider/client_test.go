package paymentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.YooKassa{ShopID: "shop", SecretKey: "secret", APIURL: srv.URL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_CreatePayment(t *testing.T) {
	var gotReq CreatePaymentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotence-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"2c1f-000f","status":"pending","amount":{"value":"299.00","currency":"RUB"},
			"confirmation":{"type":"redirect","confirmation_url":"https://yoomoney.ru/checkout/x"},
			"metadata":{"tariff_id":"1"}}`))
	})

	resp, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		Amount:       AmountFromKopecks(29900, "RUB"),
		Confirmation: Confirmation{Type: "redirect", ReturnURL: "https://t.me/bot"},
		Capture:      true,
		Metadata:     map[string]string{"tariff_id": "1"},
	}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "2c1f-000f", resp.ID)
	assert.Equal(t, "https://yoomoney.ru/checkout/x", resp.Confirmation.ConfirmationURL)
	assert.Equal(t, "299.00", gotReq.Amount.Value)
	assert.True(t, gotReq.Capture)
}

func TestClient_CreatePayment_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","code":"invalid_request","description":"amount is invalid"}`))
	})

	_, err := c.CreatePayment(context.Background(), CreatePaymentRequest{}, "k")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_request", apiErr.Code)
}

func TestAmount(t *testing.T) {
	tests := []struct {
		kopecks int64
		value   string
	}{
		{kopecks: 29900, value: "299.00"},
		{kopecks: 1, value: "0.01"},
		{kopecks: 0, value: "0.00"},
		{kopecks: 123456, value: "1234.56"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			a := AmountFromKopecks(tt.kopecks, "RUB")
			assert.Equal(t, tt.value, a.Value)
			got, err := a.Kopecks()
			require.NoError(t, err)
			assert.Equal(t, tt.kopecks, got)
		})
	}

	_, err := Amount{Value: "abc"}.Kopecks()
	assert.Error(t, err)
}
