package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		check  HealthCheck
		status int
		body   string
	}{
		{name: "liveness only", status: http.StatusOK, body: "ok"},
		{name: "store reachable", check: func(context.Context) error { return nil }, status: http.StatusOK, body: "ok"},
		{name: "store down", check: func(context.Context) error { return errors.New("dial tcp: refused") }, status: http.StatusServiceUnavailable, body: "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			rec := httptest.NewRecorder()
			healthHandler(tt.check, logger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, decode[healthResponse](t, rec).Status)
			if tt.status != http.StatusOK {
				require.NotNil(t, hook.LastEntry())
				assert.Equal(t, "health check failed", hook.LastEntry().Message)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	notFound(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, decode[errorResponse](t, rec).Code)
}
