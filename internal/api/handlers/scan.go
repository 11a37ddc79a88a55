package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/targets"
)

// ScanRequest starts a run. Input is interpreted according to Kind; Lines
// may carry list entries instead. Zero values fall back to the server
// defaults.
type ScanRequest struct {
	Input          string   `json:"input"`
	Kind           string   `json:"kind" validate:"omitempty,oneof=single segment list"`
	Lines          []string `json:"lines" validate:"max=65536"`
	Capabilities   []string `json:"capabilities,omitempty"`
	MaxConcurrency int      `json:"max_concurrency,omitempty" validate:"omitempty,min=1,max=4096"`
	ProbeTimeoutMS int      `json:"probe_timeout_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	AutoSave       *bool    `json:"auto_save,omitempty"`
}

// ScanResponse describes the current or most recent run.
type ScanResponse struct {
	ID       string              `json:"id"`
	Running  bool                `json:"running"`
	Config   models.ScanConfig   `json:"config"`
	Progress ProgressResponse    `json:"progress"`
	Summary  *scanning.Summary   `json:"summary,omitempty"`
	Records  []models.ScanRecord `json:"records,omitempty"`
}

// ProgressResponse is Progress with a completion fraction.
type ProgressResponse struct {
	scanning.Progress
	Fraction float64 `json:"fraction"`
}

// ScanHandler starts, inspects and cancels runs through a Manager.
type ScanHandler struct {
	manager  *scanning.Manager
	defaults models.ScanConfig
	logger   *logging.Logger
	validate *validator.Validate
}

// NewScanHandler creates a scan handler. defaults fill the fields a request
// leaves empty.
func NewScanHandler(manager *scanning.Manager, defaults models.ScanConfig, logger *logging.Logger) *ScanHandler {
	return &ScanHandler{
		manager:  manager,
		defaults: defaults,
		logger:   logger.WithComponent("scan-handler"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *ScanHandler) buildConfig(req ScanRequest) (models.ScanConfig, error) {
	cfg := h.defaults
	if len(req.Capabilities) > 0 {
		caps, err := models.ParseCapabilityList(req.Capabilities)
		if err != nil {
			return cfg, err
		}
		cfg.Capabilities = caps
	}
	if req.MaxConcurrency > 0 {
		cfg.MaxConcurrency = req.MaxConcurrency
	}
	if req.ProbeTimeoutMS > 0 {
		cfg.ProbeTimeout = time.Duration(req.ProbeTimeoutMS) * time.Millisecond
	}
	if req.AutoSave != nil {
		cfg.AutoPersist = *req.AutoSave
	}
	return cfg, nil
}

// StartScan handles POST /api/v1/scans.
func (h *ScanHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, h.logger, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Input == "" && len(req.Lines) == 0 {
		writeError(w, r, h.logger, http.StatusBadRequest, fmt.Errorf("input or lines is required"))
		return
	}

	in, err := targets.FromKind(req.Kind, req.Input, req.Lines)
	if err != nil {
		writeError(w, r, h.logger, http.StatusBadRequest, err)
		return
	}
	cfg, err := h.buildConfig(req)
	if err != nil {
		writeError(w, r, h.logger, http.StatusBadRequest, err)
		return
	}

	// The run outlives the request.
	run, err := h.manager.StartScan(context.WithoutCancel(r.Context()), in, cfg)
	if err != nil {
		if stderrors.Is(err, scanning.ErrRunActive) {
			writeError(w, r, h.logger, http.StatusConflict, err)
			return
		}
		writeError(w, r, h.logger, statusForError(err), err)
		return
	}

	h.logger.Info("scan started via API", "scan_id", run.ID(), "targets", run.Progress().Total)
	writeJSON(w, r, h.logger, http.StatusAccepted, h.describe(run, false))
}

// GetCurrent handles GET /api/v1/scans/current. The records are the live
// status view, so in-flight targets show their current state.
func (h *ScanHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	run, ok := h.manager.Current()
	if !ok {
		writeError(w, r, h.logger, http.StatusNotFound, fmt.Errorf("no scan has been started"))
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, h.describe(run, true))
}

// CancelCurrent handles DELETE /api/v1/scans/current.
func (h *ScanHandler) CancelCurrent(w http.ResponseWriter, r *http.Request) {
	run, ok := h.manager.Current()
	if !ok {
		writeError(w, r, h.logger, http.StatusNotFound, fmt.Errorf("no scan has been started"))
		return
	}
	if !h.manager.Cancel() {
		writeError(w, r, h.logger, http.StatusConflict, fmt.Errorf("scan %s has already finished", run.ID()))
		return
	}
	writeJSON(w, r, h.logger, http.StatusAccepted, map[string]interface{}{
		"id":        run.ID(),
		"cancelled": true,
		"timestamp": time.Now().UTC(),
	})
}

func (h *ScanHandler) describe(run *scanning.Run, withRecords bool) ScanResponse {
	resp := newScanResponse(run)
	if withRecords {
		resp.Records = h.manager.Orchestrator().Store().Snapshot()
	}
	return resp
}

func newScanResponse(run *scanning.Run) ScanResponse {
	progress := run.Progress()
	resp := ScanResponse{
		ID:       run.ID(),
		Running:  true,
		Config:   run.Config(),
		Progress: ProgressResponse{Progress: progress, Fraction: progress.Fraction()},
	}
	select {
	case <-run.Done():
		summary := run.Wait()
		resp.Running = false
		resp.Summary = &summary
	default:
	}
	return resp
}
