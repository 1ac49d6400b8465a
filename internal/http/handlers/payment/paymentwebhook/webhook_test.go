package paymentwebhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

type ProcessorMock struct{ mock.Mock }

func (m *ProcessorMock) Handle(ctx context.Context, eventID, newStatus string) error {
	return m.Called(ctx, eventID, newStatus).Error(0)
}

func TestHandler_ServeHTTP(t *testing.T) {
	succeeded := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"p-1","status":"succeeded"}}`)

	tests := []struct {
		name           string
		body           []byte
		sign           func(body []byte) string
		setupMocks     func(p *ProcessorMock)
		expectedStatus int
	}{
		{
			name: "succeeded is processed",
			body: succeeded,
			setupMocks: func(p *ProcessorMock) {
				p.On("Handle", mock.Anything, "p-1", models.PaymentStatusSucceeded).Return(nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "canceled is processed",
			body: []byte(`{"event":"payment.canceled","object":{"id":"p-2"}}`),
			setupMocks: func(p *ProcessorMock) {
				p.On("Handle", mock.Anything, "p-2", models.PaymentStatusCanceled).Return(nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing signature is rejected before processing",
			body:           succeeded,
			sign:           func([]byte) string { return "" },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "signature for another body",
			body:           succeeded,
			sign:           func([]byte) string { return Sign(secret, time.Now(), []byte(`{}`)) },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unsigned garbage is not decoded",
			body:           []byte(`not json`),
			sign:           func([]byte) string { return "t=1,v1=00" },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "other events are acknowledged",
			body:           []byte(`{"event":"refund.succeeded","object":{"id":"r-1"}}`),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing object id",
			body:           []byte(`{"event":"payment.succeeded","object":{}}`),
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "bad json",
			body:           []byte(`{"event":`),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "processing failure asks for retry",
			body: succeeded,
			setupMocks: func(p *ProcessorMock) {
				p.On("Handle", mock.Anything, "p-1", models.PaymentStatusSucceeded).Return(errors.New("db down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ProcessorMock{}
			if tt.setupMocks != nil {
				tt.setupMocks(p)
			}
			h := New(newNoopLogger(), p, NewVerifier(secret, 5*time.Minute))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(tt.body))
			sig := Sign(secret, time.Now(), tt.body)
			if tt.sign != nil {
				sig = tt.sign(tt.body)
			}
			if sig != "" {
				req.Header.Set(SignatureHeader, sig)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			p.AssertExpectations(t)
			if tt.setupMocks == nil {
				p.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}
