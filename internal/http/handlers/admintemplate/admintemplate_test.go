package admintemplate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) SaveOverride(slug, htmlContent string) error {
	args := m.Called(slug, htmlContent)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func requestWithSlug(t *testing.T, slug string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/templates/"+slug, &buf)

	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("slug", slug)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestAdminTemplateHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		slug           string
		requestBody    any
		mockErr        error
		mockCalled     bool
		wantStatusCode int
		wantStatus     string
	}{
		{
			name:           "override saved",
			slug:           "plan-expired",
			requestBody:    Request{Content: "<p>Привет, {{username}}</p>"},
			mockErr:        nil,
			mockCalled:     true,
			wantStatusCode: http.StatusOK,
			wantStatus:     "OK",
		},
		{
			name:           "invalid json body",
			slug:           "plan-expired",
			requestBody:    "not a json",
			mockCalled:     false,
			wantStatusCode: http.StatusBadRequest,
			wantStatus:     "Error",
		},
		{
			name:           "missing content",
			slug:           "plan-expired",
			requestBody:    Request{},
			mockCalled:     false,
			wantStatusCode: http.StatusUnprocessableEntity,
			wantStatus:     "Error",
		},
		{
			name:           "unknown slug",
			slug:           "no-such-template",
			requestBody:    Request{Content: "<p>x</p>"},
			mockErr:        templates.ErrUnknownTemplate,
			mockCalled:     true,
			wantStatusCode: http.StatusNotFound,
			wantStatus:     "Error",
		},
		{
			name:           "storage unavailable",
			slug:           "plan-expired",
			requestBody:    Request{Content: "<p>x</p>"},
			mockErr:        templates.ErrStorageUnavailable,
			mockCalled:     true,
			wantStatusCode: http.StatusInternalServerError,
			wantStatus:     "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serviceMock := new(ServiceMock)
			if tt.mockCalled {
				serviceMock.On("SaveOverride", tt.slug, mock.AnythingOfType("string")).Return(tt.mockErr)
			}
			handler := New(newNoopLogger(), serviceMock)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requestWithSlug(t, tt.slug, tt.requestBody))

			assert.Equal(t, tt.wantStatusCode, rec.Code)

			var resp map[string]any
			if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)) {
				assert.Equal(t, tt.wantStatus, resp["status"])
			}
			serviceMock.AssertExpectations(t)
		})
	}
}
