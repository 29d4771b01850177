// Package investigationapi exposes the investigation lifecycle over HTTP.
package investigationapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/timeout"
)

// Service defines the orchestrator operations the API needs.
type Service interface {
	Start(ctx context.Context, p investigation.StartParams) (*investigation.Investigation, error)
	Status(ctx context.Context, id, tenantID string) (*investigation.StatusReport, error)
	Timeline(ctx context.Context, id, tenantID string) (*investigation.Investigation, []investigation.TimelineEntry, error)
	AddFeedback(ctx context.Context, id, tenantID, userID, feedbackType, content string) error
	Pause(ctx context.Context, id, tenantID, userID string) (*investigation.Investigation, error)
	Resume(ctx context.Context, id, tenantID, userID string) (*investigation.Investigation, error)
	List(ctx context.Context, f investigation.ListFilter) ([]investigation.Investigation, error)
	Stats(ctx context.Context, tenantID string, window time.Duration) (*investigation.Stats, error)
	RecordStep(ctx context.Context, tenantID string, step *investigation.Step) (*investigation.Step, error)
	CompleteStep(ctx context.Context, tenantID, investigationID, stepID string, status investigation.StepStatus, errorMessage string, output json.RawMessage) (*investigation.Step, error)
	ReportUsage(ctx context.Context, id, tenantID string, u timeout.Usage) (bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    Service
}

// New creates a new API handler.
func New(logger log.Logger, svc Service) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("investigation service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/investigations", func(r chi.Router) {
		r.Post("/start", a.handleStart)
		r.Get("/", a.handleList)
		r.Get("/stats", a.handleStats)
		r.Get("/{id}/status", a.handleStatus)
		r.Get("/{id}/timeline", a.handleTimeline)
		r.Post("/{id}/feedback", a.handleFeedback)
		r.Post("/{id}/pause", a.handlePause)
		r.Post("/{id}/resume", a.handleResume)
		r.Post("/{id}/steps", a.handleRecordStep)
		r.Post("/{id}/steps/{stepID}/complete", a.handleCompleteStep)
		r.Post("/{id}/usage", a.handleReportUsage)
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
	case errors.Is(err, investigation.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, investigation.ErrNotFound), errors.Is(err, investigation.ErrAlertNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, investigation.ErrDuplicate),
		errors.Is(err, investigation.ErrNotActive),
		errors.Is(err, investigation.ErrNotPaused),
		errors.Is(err, investigation.ErrTerminal):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
