package actionapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/action"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/resilience"
)

func principal(w http.ResponseWriter, r *http.Request) (authmw.Principal, bool) {
	p, ok := authmw.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing principal"})
		return authmw.Principal{}, false
	}
	return p, true
}

type actionRequest struct {
	Action            string          `json:"action"`
	Resource          string          `json:"resource,omitempty"`
	Params            json.RawMessage `json:"params,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	Context           *policy.Context `json:"context,omitempty"`
	ApprovalRequestID string          `json:"approval_request_id,omitempty"`
}

func (req *actionRequest) toParams(p authmw.Principal) action.Params {
	out := action.Params{
		TenantID: p.TenantID,
		UserID:   p.UserID,
		Action:   req.Action,
		Resource: req.Resource,
		Params:   req.Params,
		Reason:   req.Reason,
	}
	if req.Context != nil {
		out.Context = *req.Context
	}
	return out
}

func (a *API) handleRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	investigationID := chi.URLParam(r, "id")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action is required"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.investigation.id", investigationID),
		attribute.String("warden.action", req.Action),
	)

	outcome, err := a.actions.Request(r.Context(), req.toParams(p))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if outcome.Approval != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"investigation_id": investigationID,
		"outcome":          outcome,
	})
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	investigationID := chi.URLParam(r, "id")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action is required"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.investigation.id", investigationID),
		attribute.String("warden.action", req.Action),
	)

	outcome, err := a.actions.Execute(r.Context(), req.toParams(p), req.ApprovalRequestID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investigation_id": investigationID,
		"outcome":          outcome,
	})
}

func (a *API) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := action.ExecListFilter{
		TenantID: p.TenantID,
		Tool:     q.Get("tool"),
		Status:   resilience.ExecutionStatus(q.Get("status")),
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC 3339"})
			return
		}
		f.Since = ts
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if f.Limit == 0 || f.Limit > 500 {
		f.Limit = 100
	}

	execs, err := a.actions.ListExecutions(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": execs,
		"count":      len(execs),
	})
}

func (a *API) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := approval.ListFilter{
		TenantID:    p.TenantID,
		Status:      approval.Status(q.Get("status")),
		RequestorID: q.Get("requestor"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if f.Limit == 0 || f.Limit > 200 {
		f.Limit = 50
	}

	list, err := a.approvals.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals": list,
		"count":     len(list),
	})
}

func (a *API) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	req, err := a.approvals.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// Tenant boundary: callers never see other tenants' approvals.
	if req.TenantID != "" && req.TenantID != p.TenantID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": approval.ErrNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type resolveRequest struct {
	Comment string `json:"comment,omitempty"`
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.resolve(w, r, true)
}

func (a *API) handleDeny(w http.ResponseWriter, r *http.Request) {
	a.resolve(w, r, false)
}

func (a *API) resolve(w http.ResponseWriter, r *http.Request, approve bool) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if r.Body != nil {
		// Body is optional for resolution.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	existing, err := a.approvals.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if existing.TenantID != "" && existing.TenantID != p.TenantID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": approval.ErrNotFound.Error()})
		return
	}

	resolved, err := a.approvals.Resolve(r.Context(), id, p.UserID, approve, req.Comment)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
