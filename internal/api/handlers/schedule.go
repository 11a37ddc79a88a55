package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/scheduler"
)

// Schedule is the recurring scan configured for the server.
type Schedule interface {
	Status() scheduler.Status
	Trigger() (*scanning.Run, error)
}

// ScheduleHandler reports and triggers the configured schedule.
type ScheduleHandler struct {
	schedule Schedule
	logger   *logging.Logger
}

// NewScheduleHandler creates a schedule handler.
func NewScheduleHandler(schedule Schedule, logger *logging.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedule: schedule, logger: logger.WithComponent("schedule-handler")}
}

// GetSchedule handles GET /api/v1/schedule.
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.logger, http.StatusOK, h.schedule.Status())
}

// RunSchedule handles POST /api/v1/schedule/run.
func (h *ScheduleHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	run, err := h.schedule.Trigger()
	if err != nil {
		if stderrors.Is(err, scanning.ErrRunActive) {
			writeError(w, r, h.logger, http.StatusConflict, err)
			return
		}
		writeError(w, r, h.logger, statusForError(err), err)
		return
	}
	h.logger.Info("scheduled scan triggered via API", "scan_id", run.ID())
	writeJSON(w, r, h.logger, http.StatusAccepted, newScanResponse(run))
}
