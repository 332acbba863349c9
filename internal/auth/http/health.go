package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/kv"
	"github.com/Kandil7/lms-auth/internal/auth/store"
	"github.com/Kandil7/lms-auth/pkg/httpx"
)

// HealthResponse is returned by the liveness and readiness probes.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// LivezHandler always answers 200 while the process runs.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler reports degraded with 503 when the database or the shared
// cache cannot be reached. The cache check only applies to backends that
// expose a Ping; the in-process KV is always ready.
func ReadyzHandler(startTime time.Time, version string, st store.Store, shared kv.KV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{
			Database: "ok",
			Cache:    "ok",
		}
		status := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if p, ok := shared.(interface{ Ping(ctx context.Context) error }); ok {
			if err := p.Ping(r.Context()); err != nil {
				checks.Cache = "error: " + err.Error()
				status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		httpx.WriteJSON(w, statusCode, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
