// Package action is the policy-gated front door for remediation and query
// tool calls: every request is evaluated against the owner's policies, gated
// through the approval workflow when required, and executed with retries and
// a full audit trail.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/resilience"
)

// Service errors. The API layer maps these onto HTTP statuses.
var (
	ErrDenied           = errors.New("action denied by policy")
	ErrApprovalPending  = errors.New("action requires an approved request")
	ErrApprovalMismatch = errors.New("approval does not cover this action")
	ErrUnknownAction    = errors.New("no handler for action")
)

// Handler executes one concrete action. Registered per action name.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// AuditReader lists recorded tool executions. Implemented by the store.
type AuditReader interface {
	ListExecutions(ctx context.Context, f ExecListFilter) ([]resilience.ActionExecution, error)
}

// ExecListFilter narrows ListExecutions. Zero values mean no constraint.
type ExecListFilter struct {
	TenantID string
	Tool     string
	Status   resilience.ExecutionStatus
	Since    time.Time
	Limit    int
}

// Outcome is the result of a policy-gated action request.
type Outcome struct {
	Decision policy.Effect     `json:"decision"`
	Reason   string            `json:"reason"`
	Risk     policy.Risk       `json:"risk"`
	PolicyID string            `json:"policy_id,omitempty"`
	Approval *approval.Request `json:"approval,omitempty"`
	Executed bool              `json:"executed"`
	Response json.RawMessage   `json:"response,omitempty"`
}

// Service evaluates, gates, and executes actions.
type Service struct {
	policies  *policy.Engine
	approvals *approval.Workflow
	exec      *resilience.ToolExecutor
	audit     AuditReader
	logger    log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewService creates an action service. audit may be nil, which disables
// execution listing.
func NewService(policies *policy.Engine, approvals *approval.Workflow, exec *resilience.ToolExecutor, audit AuditReader, logger log.Logger) *Service {
	return &Service{
		policies:  policies,
		approvals: approvals,
		exec:      exec,
		audit:     audit,
		logger:    logger,
		handlers:  make(map[string]Handler),
	}
}

// RegisterHandler installs the executor for an action name.
func (s *Service) RegisterHandler(action string, h Handler) {
	s.mu.Lock()
	s.handlers[action] = h
	s.mu.Unlock()
}

func (s *Service) handler(action string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[action]
	return h, ok
}

// Params describes one action call.
type Params struct {
	TenantID string
	UserID   string
	Action   string
	Resource string
	Params   json.RawMessage
	Reason   string
	Context  policy.Context
}

// Request evaluates the action against policy and acts on the decision:
// allow executes immediately, require_approval opens an approval request,
// deny returns ErrDenied with the policy's reason.
func (s *Service) Request(ctx context.Context, p Params) (*Outcome, error) {
	if p.Action == "" || p.TenantID == "" || p.UserID == "" {
		return nil, errors.New("action, tenant_id, and user_id are required")
	}

	d, err := s.policies.EvaluateAction(ctx, p.TenantID, p.Action, p.Resource, p.Context)
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}
	out := &Outcome{Decision: d.Decision, Reason: d.Reason, Risk: d.Risk, PolicyID: d.PolicyID}

	switch d.Decision {
	case policy.EffectAllow:
		resp, err := s.run(ctx, p, "")
		if err != nil {
			return out, err
		}
		out.Executed = true
		out.Response = resp
		return out, nil

	case policy.EffectRequireApproval:
		req, err := s.approvals.Create(ctx, approval.CreateParams{
			TenantID:    p.TenantID,
			RequestorID: p.UserID,
			Action:      p.Action,
			Resource:    p.Resource,
			Params:      p.Params,
			Reason:      firstNonEmpty(p.Reason, d.Reason),
			Risk:        d.Risk,
			PolicyID:    d.PolicyID,
		})
		if err != nil {
			return out, fmt.Errorf("create approval: %w", err)
		}
		out.Approval = req
		return out, nil

	default:
		s.logger.Info(ctx, "action denied by policy",
			"action", p.Action, "resource", p.Resource,
			"tenant_id", p.TenantID, "policy_id", d.PolicyID)
		return out, fmt.Errorf("%w: %s", ErrDenied, d.Reason)
	}
}

// Execute runs an action that is either allowed outright or covered by a
// resolved-and-approved request.
func (s *Service) Execute(ctx context.Context, p Params, approvalRequestID string) (*Outcome, error) {
	if p.Action == "" || p.TenantID == "" || p.UserID == "" {
		return nil, errors.New("action, tenant_id, and user_id are required")
	}

	if approvalRequestID != "" {
		req, err := s.approvals.Get(ctx, approvalRequestID)
		if err != nil {
			return nil, err
		}
		if req.Action != p.Action || req.TenantID != p.TenantID || req.Resource != p.Resource {
			return nil, fmt.Errorf("%w: approval %s is for %s on %s",
				ErrApprovalMismatch, req.ID, req.Action, req.Resource)
		}
		if !req.Authorized() {
			return nil, fmt.Errorf("%w: status is %s", ErrApprovalPending, req.Status)
		}
		// The approver signed off on the request's params; the caller's
		// copy is discarded.
		p.Params = req.Params
		resp, err := s.run(ctx, p, approvalRequestID)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Decision: policy.EffectAllow,
			Reason:   req.Reason,
			Risk:     req.Risk,
			PolicyID: req.PolicyID,
			Approval: req,
			Executed: true,
			Response: resp,
		}, nil
	}

	d, err := s.policies.EvaluateAction(ctx, p.TenantID, p.Action, p.Resource, p.Context)
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}
	out := &Outcome{Decision: d.Decision, Reason: d.Reason, Risk: d.Risk, PolicyID: d.PolicyID}
	switch d.Decision {
	case policy.EffectAllow:
		resp, err := s.run(ctx, p, "")
		if err != nil {
			return out, err
		}
		out.Executed = true
		out.Response = resp
		return out, nil
	case policy.EffectRequireApproval:
		return out, fmt.Errorf("%w: %s", ErrApprovalPending, d.Reason)
	default:
		return out, fmt.Errorf("%w: %s", ErrDenied, d.Reason)
	}
}

// run executes the handler for the action through the resilient executor,
// which records the audit entry either way.
func (s *Service) run(ctx context.Context, p Params, approvalRequestID string) (json.RawMessage, error) {
	h, ok := s.handler(p.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, p.Action)
	}
	return s.exec.Execute(ctx, p.Action, p.Params, resilience.ExecMeta{
		ApprovalRequestID: approvalRequestID,
		TenantID:          p.TenantID,
	}, func(ctx context.Context) (json.RawMessage, error) {
		return h(ctx, p.Params)
	})
}

// ListExecutions returns the recorded audit trail.
func (s *Service) ListExecutions(ctx context.Context, f ExecListFilter) ([]resilience.ActionExecution, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.ListExecutions(ctx, f)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
