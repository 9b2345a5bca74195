package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"family-gallery/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"

	readinessTimeout = 5 * time.Second
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Ready        bool              `json:"ready"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	Storage      string            `json:"storage"`
	DispatchMode string            `json:"dispatchMode"`
	Checks       map[string]string `json:"checks"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// checkDependencies pings the registry and the storage backend. The map
// holds "ok" or the failure per dependency.
func (h *Handlers) checkDependencies(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	checks := map[string]string{"database": "ok", "storage": "ok"}
	ok := true
	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ok = false
	}
	if err := h.backend.Health(ctx); err != nil {
		checks["storage"] = err.Error()
		ok = false
	}
	return checks, ok
}

// HealthCheck reports overall status with dependency checks and runtime info.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.checkDependencies(r.Context())

	response := HealthResponse{
		Status:       statusHealthy,
		Ready:        ok,
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Storage:      h.backend.Name(),
		DispatchMode: string(h.dispatcher.Mode()),
		Checks:       checks,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	status := http.StatusOK
	if !ok {
		response.Status = statusDegraded
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessCheck returns 200 only when the database and storage respond.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.checkDependencies(r.Context())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": checks,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
