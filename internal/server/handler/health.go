package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks   map[string]Check
	breakers map[string]func() string
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are run on every request;
// breakers report circuit breaker states.
func NewHealthHandler(checks map[string]Check, breakers map[string]func() string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:   checks,
		breakers: breakers,
		logger:   logHandler(logger, "health"),
	}
}

// HealthCheck responds with the status of every dependency. Any failing
// check turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(h.checks))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	breakers := make(map[string]string, len(h.breakers))
	for name, state := range h.breakers {
		breakers[name] = state()
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"breakers":  breakers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
