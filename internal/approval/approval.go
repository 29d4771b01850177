// Package approval tracks human-authorization gates created when policy
// evaluation defers an action to a person.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/warden/internal/policy"
)

// Status is where an approval request sits in its lifecycle. Approved and
// denied are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Request is one pending or resolved authorization gate.
type Request struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id,omitempty"`
	RequestorID string          `json:"requestor_id"`
	ApproverID  *string         `json:"approver_id,omitempty"`
	Action      string          `json:"action"`
	Resource    string          `json:"resource"`
	Params      json.RawMessage `json:"params,omitempty"`
	Status      Status          `json:"status"`
	Reason      string          `json:"reason"`
	Risk        policy.Risk     `json:"risk,omitempty"`
	PolicyID    string          `json:"policy_id,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// Resolved reports whether the request reached a terminal status.
func (r *Request) Resolved() bool { return r.Status != StatusPending }

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	TenantID    string
	Status      Status
	RequestorID string
	Limit       int
}

// Store is the persistence interface for approval requests.
type Store interface {
	CreateApproval(ctx context.Context, r *Request) error
	GetApproval(ctx context.Context, id string) (*Request, bool, error)
	UpdateApproval(ctx context.Context, r *Request) error
	ListApprovals(ctx context.Context, f ListFilter) ([]Request, error)
}

var (
	// ErrNotFound means no approval request exists with the given id.
	ErrNotFound = errors.New("approval request not found")

	// ErrAlreadyResolved means the request is terminal and cannot change.
	ErrAlreadyResolved = errors.New("approval request already resolved")

	// ErrSelfApproval means the requestor tried to resolve their own request.
	ErrSelfApproval = errors.New("requestor cannot approve their own request")
)

// Metrics holds Prometheus metrics for the approval workflow.
type Metrics struct {
	Requests    prometheus.Counter
	Resolutions *prometheus.CounterVec
}

// NewMetrics registers and returns approval metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_approval_requests_total",
			Help: "Approval requests created.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_approval_resolutions_total",
			Help: "Approval resolutions by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Requests, m.Resolutions)
	return m
}

// Workflow creates, lists, and resolves approval requests while enforcing
// segregation of duties at resolution time.
type Workflow struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
}

// NewWorkflow creates an approval workflow backed by the given store.
func NewWorkflow(store Store, logger log.Logger, metrics *Metrics) *Workflow {
	if logger == nil {
		logger = log.Nop()
	}
	return &Workflow{store: store, logger: logger, metrics: metrics}
}

// CreateParams describe a new approval request.
type CreateParams struct {
	TenantID    string
	RequestorID string
	Action      string
	Resource    string
	Params      json.RawMessage
	Reason      string
	Risk        policy.Risk
	PolicyID    string
}

// Create opens a pending approval request.
func (w *Workflow) Create(ctx context.Context, p CreateParams) (*Request, error) {
	if p.RequestorID == "" || p.Action == "" {
		return nil, errors.New("requestor and action are required")
	}
	reason := p.Reason
	if reason == "" {
		reason = policy.DefaultReason
	}

	r := &Request{
		ID:          uuid.NewString(),
		TenantID:    p.TenantID,
		RequestorID: p.RequestorID,
		Action:      p.Action,
		Resource:    p.Resource,
		Params:      p.Params,
		Status:      StatusPending,
		Reason:      reason,
		Risk:        p.Risk,
		PolicyID:    p.PolicyID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := w.store.CreateApproval(ctx, r); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	if w.metrics != nil {
		w.metrics.Requests.Inc()
	}
	w.logger.Info(ctx, "approval request created",
		"approval_id", r.ID,
		"requestor_id", r.RequestorID,
		"action", r.Action,
		"resource", r.Resource,
		"risk", r.Risk,
	)
	return r, nil
}

// Get fetches one approval request.
func (w *Workflow) Get(ctx context.Context, id string) (*Request, error) {
	r, ok, err := w.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// List returns approval requests matching the filter, newest first.
func (w *Workflow) List(ctx context.Context, f ListFilter) ([]Request, error) {
	return w.store.ListApprovals(ctx, f)
}

// Resolve approves or denies a pending request. Segregation of duties is
// enforced here: the approver must differ from the requestor, regardless of
// what was checked at creation.
func (w *Workflow) Resolve(ctx context.Context, id, approverID string, approve bool, comment string) (*Request, error) {
	r, ok, err := w.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if r.Resolved() {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, r.Status)
	}

	if sod := policy.CheckSegregationOfDuties(r.RequestorID, approverID); !sod.OK {
		if w.metrics != nil {
			w.metrics.Resolutions.WithLabelValues("sod_rejected").Inc()
		}
		return nil, fmt.Errorf("%w: %s", ErrSelfApproval, sod.Reason)
	}

	now := time.Now().UTC()
	r.ApproverID = &approverID
	r.ResolvedAt = &now
	r.Comment = comment
	if approve {
		r.Status = StatusApproved
	} else {
		r.Status = StatusDenied
	}

	if err := w.store.UpdateApproval(ctx, r); err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}

	if w.metrics != nil {
		w.metrics.Resolutions.WithLabelValues(string(r.Status)).Inc()
	}
	w.logger.Info(ctx, "approval request resolved",
		"approval_id", r.ID,
		"approver_id", approverID,
		"status", r.Status,
	)
	return r, nil
}

// Authorized reports whether the request permits execution: it must be
// approved and the stored approver must differ from the requestor.
func (r *Request) Authorized() bool {
	if r.Status != StatusApproved || r.ApproverID == nil {
		return false
	}
	return policy.CheckSegregationOfDuties(r.RequestorID, *r.ApproverID).OK
}
