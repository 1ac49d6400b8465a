package referralcode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockService struct{ mock.Mock }

func (m *MockService) EnsureReferralCode(ctx context.Context, userID int64) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func TestReferralCodeHandler_ServeHTTP(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	tests := []struct {
		name           string
		body           string
		setupMocks     func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "code returned",
			body: `{"user_id":5}`,
			setupMocks: func(s *MockService) {
				s.On("EnsureReferralCode", mock.Anything, int64(5)).Return("K7Q2M9XA", nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"code":"K7Q2M9XA"`,
		},
		{
			name: "storage failure",
			body: `{"user_id":5}`,
			setupMocks: func(s *MockService) {
				s.On("EnsureReferralCode", mock.Anything, int64(5)).Return("", errors.New("db down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "missing user",
			body:           `{}`,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "field UserID is a required field",
		},
		{
			name:           "broken json",
			body:           `{"user_id":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MockService{}
			if tt.setupMocks != nil {
				tt.setupMocks(s)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/referrals/code", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			New(log, s).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectedBody)
			}
			s.AssertExpectations(t)
		})
	}
}
