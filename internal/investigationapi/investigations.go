package investigationapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/timeout"
)

func principal(w http.ResponseWriter, r *http.Request) (authmw.Principal, bool) {
	p, ok := authmw.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing principal"})
		return authmw.Principal{}, false
	}
	return p, true
}

type startRequest struct {
	AlertID   string         `json:"alert_id"`
	CaseID    string         `json:"case_id,omitempty"`
	Priority  int            `json:"priority,omitempty"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	inv, err := a.svc.Start(r.Context(), investigation.StartParams{
		AlertID:  req.AlertID,
		CaseID:   req.CaseID,
		TenantID: p.TenantID,
		UserID:   p.UserID,
		Priority: req.Priority,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
		Context:  req.Context,
	})
	if errors.Is(err, investigation.ErrDuplicate) && inv != nil {
		// Surface the existing open investigation with the conflict.
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         err.Error(),
			"investigation": inv,
		})
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.investigation.id", inv.ID))

	writeJSON(w, http.StatusCreated, map[string]any{"investigation": inv})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.investigation.id", id))

	report, err := a.svc.Status(r.Context(), id, p.TenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("warden.investigation.status", string(report.Investigation.Status)))

	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	inv, entries, err := a.svc.Timeline(r.Context(), id, p.TenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"investigation_id": inv.ID,
		"status":           inv.Status,
		"progress":         stepProgress(entries),
		"timeline":         entries,
	})
}

// stepProgress is the completed share of the timeline's step entries, 0..100.
func stepProgress(entries []investigation.TimelineEntry) float64 {
	var total, completed int
	for _, e := range entries {
		if e.Kind != "step" {
			continue
		}
		total++
		if e.Status == string(investigation.StepComplete) {
			completed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

type feedbackRequest struct {
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	if err := a.svc.AddFeedback(r.Context(), id, p.TenantID, p.UserID, req.Type, req.Content); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	inv, err := a.svc.Pause(r.Context(), id, p.TenantID, p.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "investigation": inv})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	inv, err := a.svc.Resume(r.Context(), id, p.TenantID, p.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "investigation": inv})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := investigation.ListFilter{
		TenantID: p.TenantID,
		Status:   investigation.Status(q.Get("status")),
		AlertID:  q.Get("alertId"),
		CaseID:   q.Get("caseId"),
	}
	if v := q.Get("priority"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 5 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "priority must be between 1 and 5"})
			return
		}
		f.Priority = n
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if f.Limit == 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Offset = n
		}
	}

	list, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigations": list,
		"count":          len(list),
		"offset":         f.Offset,
	})
}

// statsWindows maps the timeframe query parameter onto lookback windows.
var statsWindows = map[string]time.Duration{
	"1d":  24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1d"
	}
	window, ok2 := statsWindows[timeframe]
	if !ok2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "timeframe must be one of 1d, 7d, 30d"})
		return
	}

	stats, err := a.svc.Stats(r.Context(), p.TenantID, window)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timeframe": timeframe,
		"stats":     stats,
	})
}

type recordStepRequest struct {
	StepName   string          `json:"step_name"`
	AgentType  string          `json:"agent_type,omitempty"`
	Status     string          `json:"status,omitempty"`
	OutputData json.RawMessage `json:"output_data,omitempty"`
}

func (a *API) handleRecordStep(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req recordStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.StepName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "step_name is required"})
		return
	}

	step := &investigation.Step{
		InvestigationID: id,
		StepName:        req.StepName,
		AgentType:       req.AgentType,
		Status:          investigation.StepStatus(req.Status),
		OutputData:      req.OutputData,
	}
	recorded, err := a.svc.RecordStep(r.Context(), p.TenantID, step)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"step": recorded})
}

type completeStepRequest struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	OutputData   json.RawMessage `json:"output_data,omitempty"`
}

func (a *API) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	stepID := chi.URLParam(r, "stepID")

	var req completeStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	step, err := a.svc.CompleteStep(r.Context(), p.TenantID, id, stepID,
		investigation.StepStatus(req.Status), req.ErrorMessage, req.OutputData)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"step": step})
}

type usageRequest struct {
	MemoryBytes   uint64 `json:"memory_bytes,omitempty"`
	APICalls      int    `json:"api_calls,omitempty"`
	EvidenceCount int    `json:"evidence_count,omitempty"`
}

// handleReportUsage takes a step executor's resource report. The response
// tells the executor whether to throttle further API calls.
func (a *API) handleReportUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.APICalls < 0 || req.EvidenceCount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "usage counts must not be negative"})
		return
	}

	throttle, err := a.svc.ReportUsage(r.Context(), id, p.TenantID, timeout.Usage{
		MemoryBytes:   req.MemoryBytes,
		APICalls:      req.APICalls,
		EvidenceCount: req.EvidenceCount,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"throttle": throttle})
}
