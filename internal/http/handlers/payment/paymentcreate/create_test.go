package paymentcreate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/payment"
)

type MockService struct{ mock.Mock }

func (m *MockService) CreateCheckout(ctx context.Context, userID, tariffID int64, serverID *int64, kind string) (*payment.CheckoutResult, error) {
	args := m.Called(ctx, userID, tariffID, serverID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CheckoutResult), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestPaymentCreateHandler_ServeHTTP(t *testing.T) {
	server := int64(7)

	tests := []struct {
		name           string
		requestBody    any
		setupMocks     func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "subscription by default",
			requestBody: Request{UserID: 300, TariffID: 1, ServerID: &server},
			setupMocks: func(s *MockService) {
				s.On("CreateCheckout", mock.Anything, int64(300), int64(1), &server, models.PaymentTypeSubscription).
					Return(&payment.CheckoutResult{PaymentID: "yk-1", ConfirmationURL: "https://pay", Amount: 29900}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"confirmation_url":"https://pay"`,
		},
		{
			name:        "gift",
			requestBody: Request{UserID: 300, TariffID: 1, Type: models.PaymentTypeGift},
			setupMocks: func(s *MockService) {
				s.On("CreateCheckout", mock.Anything, int64(300), int64(1), (*int64)(nil), models.PaymentTypeGift).
					Return(&payment.CheckoutResult{PaymentID: "yk-2"}, nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid json",
			requestBody:    "{",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown type",
			requestBody:    Request{UserID: 300, TariffID: 1, Type: "coffee"},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "must be one of",
		},
		{
			name:           "missing user",
			requestBody:    Request{TariffID: 1},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:        "provider not configured",
			requestBody: Request{UserID: 300, TariffID: 1},
			setupMocks: func(s *MockService) {
				s.On("CreateCheckout", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("op: %w", payment.ErrCheckoutUnavailable)).Once()
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:        "gift to a server",
			requestBody: Request{UserID: 300, TariffID: 1, ServerID: &server, Type: models.PaymentTypeGift},
			setupMocks: func(s *MockService) {
				s.On("CreateCheckout", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("op: %w", payment.ErrInvalidPurchase)).Once()
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:        "unknown tariff",
			requestBody: Request{UserID: 300, TariffID: 99},
			setupMocks: func(s *MockService) {
				s.On("CreateCheckout", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("op: %w", models.ErrNotFound)).Once()
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MockService{}
			if tt.setupMocks != nil {
				tt.setupMocks(s)
			}

			var body []byte
			if raw, ok := tt.requestBody.(string); ok {
				body = []byte(raw)
			} else {
				body, _ = json.Marshal(tt.requestBody)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			New(newNoopLogger(), s).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectedBody)
			}
			s.AssertExpectations(t)
		})
	}
}
