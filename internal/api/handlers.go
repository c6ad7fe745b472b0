package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/engine/verification"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// Verifier starts and reports verification runs.
type Verifier interface {
	Start(ctx context.Context, processID string, mode model.VerificationMode) (string, error)
	Status(ctx context.Context, runID string) (*verification.Progress, error)
	QuickVerify(ctx context.Context, processID string, sampleSize int) (map[model.ResourceType]verification.QuickResult, error)
}

// StaleRuns finds and recovers abandoned verification runs.
type StaleRuns interface {
	Scan(ctx context.Context) ([]verification.StaleRun, error)
	Recover(ctx context.Context, runID string, mode model.VerificationMode) (string, error)
}

// ArchiveLister lists the payload archive objects of a process.
type ArchiveLister interface {
	List(ctx context.Context, rt model.ResourceType, processID string) ([]string, error)
}

// Handler serves the process and verification endpoints.
type Handler struct {
	operator usecase.ProcessOperator
	explorer usecase.ProcessExplorer
	verifier Verifier
	stale    StaleRuns
	archive  ArchiveLister
}

// NewHandler creates a Handler. archive may be nil.
func NewHandler(operator usecase.ProcessOperator, explorer usecase.ProcessExplorer, verifier Verifier, stale StaleRuns, archive ArchiveLister) *Handler {
	return &Handler{operator: operator, explorer: explorer, verifier: verifier, stale: stale, archive: archive}
}

type createResponse struct {
	ProcessID  string         `json:"process_id"`
	Process    *model.Process `json:"process"`
	Dispatched int            `json:"dispatched"`
}

// CreateProcess plans a process and dispatches its first batches.
func (h *Handler) CreateProcess(c *gin.Context) {
	var req usecase.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	p, err := h.operator.Create(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}
	n, err := h.operator.Dispatch(ctx, p.ID)
	if err != nil {
		// The process exists; a later resume or the completion poll dispatches it.
		logger.Warnf("Initial dispatch of process %s failed: %v", p.ID, err)
	}
	respond(c, http.StatusCreated, createResponse{ProcessID: p.ID, Process: p, Dispatched: n})
}

// ListProcesses lists processes, filtered by the repeatable status query parameter.
func (h *Handler) ListProcesses(c *gin.Context) {
	var statuses []model.ProcessStatus
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, model.ProcessStatus(strings.ToUpper(s)))
			}
		}
	}
	processes, err := h.explorer.ListProcesses(c.Request.Context(), statuses...)
	if err != nil {
		respondError(c, err)
		return
	}
	if processes == nil {
		processes = []*model.Process{}
	}
	respond(c, http.StatusOK, processes)
}

// GetProcessStatus reports the aggregated status of a process.
func (h *Handler) GetProcessStatus(c *gin.Context) {
	report, err := h.explorer.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, report)
}

// transition adapts a state-changing operator call to a handler.
func (h *Handler) transition(fn func(ctx context.Context, processID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := fn(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"process_id": id})
	}
}

// PauseProcess suppresses further dispatch.
func (h *Handler) PauseProcess(c *gin.Context) { h.transition(h.operator.Pause)(c) }

// ResumeProcess clears a pause.
func (h *Handler) ResumeProcess(c *gin.Context) { h.transition(h.operator.Resume)(c) }

// CancelProcess cancels a process.
func (h *Handler) CancelProcess(c *gin.Context) { h.transition(h.operator.Cancel)(c) }

// RestartProcess discards the stored records and runs every batch again.
func (h *Handler) RestartProcess(c *gin.Context) { h.transition(h.operator.Restart)(c) }

// RetryFailedBatches resets the FAILED batches of a process.
func (h *Handler) RetryFailedBatches(c *gin.Context) {
	id := c.Param("id")
	n, err := h.operator.RetryFailedBatches(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"process_id": id, "batches_reset": n})
}

type modeRequest struct {
	Mode model.VerificationMode `json:"mode"`
}

// bindMode reads an optional {mode} body. An empty body selects the default mode.
func bindMode(c *gin.Context) (model.VerificationMode, bool) {
	var req modeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body: "+err.Error())
			return "", false
		}
	}
	return model.VerificationMode(strings.ToLower(string(req.Mode))), true
}

// StartVerification starts a verification run over a process.
func (h *Handler) StartVerification(c *gin.Context) {
	mode, ok := bindMode(c)
	if !ok {
		return
	}
	runID, err := h.verifier.Start(c.Request.Context(), c.Param("id"), mode)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, gin.H{"verification_run_id": runID})
}

// GetVerificationStatus reports the progress of a verification run.
func (h *Handler) GetVerificationStatus(c *gin.Context) {
	prog, err := h.verifier.Status(c.Request.Context(), c.Param("runID"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, prog)
}

// QuickVerify verifies a sample of each resource type of a process without persisting verdicts.
func (h *Handler) QuickVerify(c *gin.Context) {
	size := 0
	if raw := c.Query("sample_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondBadRequest(c, "sample_size must be a positive integer")
			return
		}
		size = n
	}
	res, err := h.verifier.QuickVerify(c.Request.Context(), c.Param("id"), size)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// ListStaleVerifications lists runs the watchdog considers abandoned.
func (h *Handler) ListStaleVerifications(c *gin.Context) {
	stale, err := h.stale.Scan(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if stale == nil {
		stale = []verification.StaleRun{}
	}
	respond(c, http.StatusOK, stale)
}

// RecoverVerification continues or restarts an abandoned run.
func (h *Handler) RecoverVerification(c *gin.Context) {
	mode, ok := bindMode(c)
	if !ok {
		return
	}
	runID := c.Param("runID")
	newID, err := h.stale.Recover(c.Request.Context(), runID, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, gin.H{"recovered_run_id": runID, "verification_run_id": newID})
}

// ListArchives lists the archived payload objects of a process.
func (h *Handler) ListArchives(c *gin.Context) {
	if h.archive == nil {
		respond(c, http.StatusOK, []string{})
		return
	}
	ctx := c.Request.Context()
	report, err := h.explorer.GetStatus(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	names, err := h.archive.List(ctx, report.Process.ResourceType, report.Process.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	respond(c, http.StatusOK, names)
}
