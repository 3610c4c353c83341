package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
)

// SessionCounter reports the number of live MCP sessions.
type SessionCounter interface {
	Len() int
}

// LivezHandler godoc
//
//	@Summary		Health Check Endpoint
//	@Description	Liveness check. Always answers 200 while the process is serving.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version"
//	@Router			/livez [get]
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).Seconds(),
			Version: version,
		}
		httpx.WriteJSON(w, http.StatusOK, response)
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness check with the store check and the number of live MCP sessions.
//	@Description	Answers 503 when the store cannot serve requests.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status degraded"
//	@Router			/readyz [get]
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	sessions SessionCounter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Store:    "ok",
			Sessions: sessions.Len(),
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Store = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).Seconds(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
