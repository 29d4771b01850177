package resilience

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
)

// ExecutionStatus is the outcome recorded for one tool invocation.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
)

// ActionExecution is one entry in the append-only audit trail of tool
// invocations. Every call through the ToolExecutor produces exactly one,
// whether it succeeded or not.
type ActionExecution struct {
	ID                string          `json:"id"`
	ApprovalRequestID *string         `json:"approval_request_id,omitempty"`
	TenantID          string          `json:"tenant_id,omitempty"`
	Tool              string          `json:"tool"`
	Request           json.RawMessage `json:"request,omitempty"`
	Response          json.RawMessage `json:"response,omitempty"`
	Status            ExecutionStatus `json:"status"`
	ErrorClass        string          `json:"error_class,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	Retries           int             `json:"retries"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
}

// AuditSink receives execution records. Implementations must tolerate
// concurrent appends.
type AuditSink interface {
	AppendExecution(ctx context.Context, rec *ActionExecution) error
}

// ExecMeta ties an execution record to its authorization context.
type ExecMeta struct {
	ApprovalRequestID string
	TenantID          string
}

// ToolExecutor runs tool calls through Retry and records an ActionExecution
// for every invocation. Audit-write failures are logged and swallowed so they
// can never abort the primary operation.
type ToolExecutor struct {
	sink   AuditSink
	logger log.Logger
	opts   RetryOptions
}

// NewToolExecutor creates a ToolExecutor. A nil sink disables auditing.
func NewToolExecutor(sink AuditSink, logger log.Logger, opts RetryOptions) *ToolExecutor {
	if logger == nil {
		logger = log.Nop()
	}
	return &ToolExecutor{sink: sink, logger: logger, opts: opts}
}

// Execute runs fn for the named tool with retry and audits the result.
func (e *ToolExecutor) Execute(ctx context.Context, tool string, request json.RawMessage, meta ExecMeta, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	started := time.Now().UTC()

	out, res, err := RetryValue(ctx, fn, e.opts)

	rec := &ActionExecution{
		ID:         uuid.NewString(),
		TenantID:   meta.TenantID,
		Tool:       tool,
		Request:    request,
		Retries:    res.Attempts - 1,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if meta.ApprovalRequestID != "" {
		id := meta.ApprovalRequestID
		rec.ApprovalRequestID = &id
	}

	if err != nil {
		rec.Status = ExecutionFailure
		rec.ErrorClass = string(res.Class)
		rec.ErrorMessage = err.Error()
	} else {
		rec.Status = ExecutionSuccess
		rec.Response = out
	}

	if e.sink != nil {
		if auditErr := e.sink.AppendExecution(ctx, rec); auditErr != nil {
			e.logger.Error(ctx, auditErr, "audit write failed", "tool", tool, "execution_id", rec.ID)
		}
	}

	if err != nil {
		return nil, err
	}
	return out, nil
}
