package server

import (
	"net/http"

	"CollabFM/logger"
)

// HealthHandler GET /healthz
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SchedulerStatusHandler GET /api/scheduler/status
func (h *APIHandler) SchedulerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler status not available")
		return
	}
	s, err := h.status.LastRun(r.Context())
	if err != nil {
		logger.Warn("[Server] 读取调度状态失败", logger.ErrorField(err))
		writeError(w, http.StatusServiceUnavailable, "Scheduler status not available")
		return
	}
	if s == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"lastRun": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lastRun": s})
}
