package http

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthCheck reports whether a backing dependency is usable.
type HealthCheck func(ctx context.Context) error

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler answers 200 while check passes and 503 when it fails. A nil
// check makes it a plain liveness probe.
func healthHandler(check HealthCheck, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				logger.WithError(err).Warn("health check failed")
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, "not found")
}
