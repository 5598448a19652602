package handler

import (
	"net/http"
	"time"
)

// Status describes the running settler instance.
type Status struct {
	Mode            string    `json:"mode"`
	ProgramID       string    `json:"program_id"`
	Authority       string    `json:"authority,omitempty"`
	ResolverRunning bool      `json:"resolver_running"`
	TriggerEnabled  bool      `json:"trigger_enabled"`
	EvidenceEnabled bool      `json:"evidence_enabled"`
	StartedAt       time.Time `json:"started_at"`
}

// StatusHandler serves the instance status for dashboards and operators.
type StatusHandler struct {
	status Status
	now    func() time.Time
}

// NewStatusHandler creates a StatusHandler for the given status.
func NewStatusHandler(status Status) *StatusHandler {
	return &StatusHandler{status: status, now: time.Now}
}

// GetStatus responds with the instance status and its uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(h.now().Sub(h.status.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, struct {
		Status
		UptimeSeconds int64 `json:"uptime_seconds"`
	}{h.status, uptime})
}
