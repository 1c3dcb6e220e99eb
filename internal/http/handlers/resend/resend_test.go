package resend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/membership-notifier/internal/http/middlewarectx"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/nonce"
	services "github.com/magabrotheeeer/membership-notifier/internal/services/verification"
)

const testSecret = "nonce-secret"

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) ResendVerification(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func authedRequest(nonceValue string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ajax/resend-verification", nil)
	ctx := context.WithValue(req.Context(), middlewarectx.UserID, int64(42))
	ctx = context.WithValue(ctx, middlewarectx.User, "member")
	if nonceValue != "" {
		req.Header.Set(NonceHeader, nonceValue)
	}
	return req.WithContext(ctx)
}

func TestResendHandler_ServeHTTP(t *testing.T) {
	validNonce := nonce.Compute("member", testSecret)

	tests := []struct {
		name           string
		nonceValue     string
		mockErr        error
		mockCalled     bool
		wantStatusCode int
		wantSuccess    bool
		wantMessage    string
	}{
		{
			name:           "valid request resends email",
			nonceValue:     validNonce,
			mockErr:        nil,
			mockCalled:     true,
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantMessage:    "verification email sent",
		},
		{
			name:           "missing nonce rejected without state change",
			nonceValue:     "",
			mockCalled:     false,
			wantStatusCode: http.StatusForbidden,
			wantSuccess:    false,
			wantMessage:    "security check failed",
		},
		{
			name:           "wrong nonce rejected without state change",
			nonceValue:     nonce.Compute("other", testSecret),
			mockCalled:     false,
			wantStatusCode: http.StatusForbidden,
			wantSuccess:    false,
			wantMessage:    "security check failed",
		},
		{
			name:           "already verified reports success",
			nonceValue:     validNonce,
			mockErr:        services.ErrAlreadyVerified,
			mockCalled:     true,
			wantStatusCode: http.StatusOK,
			wantSuccess:    true,
			wantMessage:    "email already verified",
		},
		{
			name:           "send failure reported",
			nonceValue:     validNonce,
			mockErr:        assert.AnError,
			mockCalled:     true,
			wantStatusCode: http.StatusInternalServerError,
			wantSuccess:    false,
			wantMessage:    "failed to send email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serviceMock := new(ServiceMock)
			if tt.mockCalled {
				serviceMock.On("ResendVerification", mock.Anything, int64(42)).Return(tt.mockErr)
			}
			handler := New(newNoopLogger(), serviceMock, testSecret)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, authedRequest(tt.nonceValue))

			assert.Equal(t, tt.wantStatusCode, rec.Code)

			var resp AjaxResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, tt.wantMessage, resp.Data.Message)
			serviceMock.AssertExpectations(t)
		})
	}
}

func TestResendHandler_Unauthenticated(t *testing.T) {
	handler := New(newNoopLogger(), new(ServiceMock), testSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ajax/resend-verification", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
