package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger_LogsStatusAndPath(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/purchases", nil)
	RequestLogger(handler, logger).ServeHTTP(httptest.NewRecorder(), req)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "POST", entry.Data["method"])
	assert.Equal(t, "/purchases", entry.Data["path"])
	assert.Equal(t, http.StatusCreated, entry.Data["status"])
}

func TestRequestLogger_DefaultsTo200AndWarnsOn5xx(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	RequestLogger(ok, logger).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, hook.LastEntry().Data["status"])

	broken := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	RequestLogger(broken, logger).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
