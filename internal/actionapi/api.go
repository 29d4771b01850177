// Package actionapi exposes policy-gated actions and the approval workflow
// over HTTP.
package actionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/action"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/resilience"
)

// ActionService defines the gated-execution operations the API needs.
type ActionService interface {
	Request(ctx context.Context, p action.Params) (*action.Outcome, error)
	Execute(ctx context.Context, p action.Params, approvalRequestID string) (*action.Outcome, error)
	ListExecutions(ctx context.Context, f action.ExecListFilter) ([]resilience.ActionExecution, error)
}

// ApprovalService defines the approval workflow operations the API needs.
type ApprovalService interface {
	Get(ctx context.Context, id string) (*approval.Request, error)
	List(ctx context.Context, f approval.ListFilter) ([]approval.Request, error)
	Resolve(ctx context.Context, id, approverID string, approve bool, comment string) (*approval.Request, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	actions   ActionService
	approvals ApprovalService
}

// New creates a new API handler.
func New(logger log.Logger, actions ActionService, approvals ApprovalService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if actions == nil {
		panic(xerrors.New("action service is required"))
	}
	if approvals == nil {
		panic(xerrors.New("approval service is required"))
	}
	return &API{
		logger:    logger,
		actions:   actions,
		approvals: approvals,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/actions/{id}/request", a.handleRequest)
		r.Post("/actions/{id}/execute", a.handleExecute)
		r.Get("/actions/executions", a.handleListExecutions)

		r.Get("/approvals", a.handleListApprovals)
		r.Get("/approvals/{id}", a.handleGetApproval)
		r.Post("/approvals/{id}/approve", a.handleApprove)
		r.Post("/approvals/{id}/deny", a.handleDeny)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses. Unknown errors are
// logged and surfaced as an opaque 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, action.ErrDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, action.ErrApprovalPending),
		errors.Is(err, action.ErrApprovalMismatch),
		errors.Is(err, approval.ErrAlreadyResolved),
		errors.Is(err, approval.ErrSelfApproval):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, action.ErrUnknownAction), errors.Is(err, approval.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
