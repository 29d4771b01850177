// Package pgstore provides the PostgreSQL implementation of the warden
// persistence interfaces: investigation.Store, policy.Store, approval.Store,
// the resilience audit sink, and the action audit reader.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/action"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/resilience"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Store persists warden state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store. The
// pool's lifecycle is owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const investigationColumns = `id, alert_id, case_id, tenant_id, user_id, status, priority,
	created_at, expires_at, context, completed_at`

// PutInvestigation inserts or fully replaces an investigation record.
func (s *Store) PutInvestigation(ctx context.Context, inv *investigation.Investigation) error {
	ctx, span := startSpan(ctx, "pgstore.PutInvestigation", "UPSERT")
	defer span.End()

	contextJSON, err := json.Marshal(inv.Context)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal context: %w", err))
	}

	var completedAt *time.Time
	if !inv.CompletedAt.IsZero() {
		completedAt = &inv.CompletedAt
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `INSERT INTO investigations (
		id, alert_id, case_id, tenant_id, user_id, status, priority,
		created_at, expires_at, context, completed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO UPDATE SET
		case_id      = EXCLUDED.case_id,
		status       = EXCLUDED.status,
		priority     = EXCLUDED.priority,
		expires_at   = EXCLUDED.expires_at,
		context      = EXCLUDED.context,
		completed_at = EXCLUDED.completed_at`

	_, err = tx.Exec(ctx, query,
		inv.ID, inv.AlertID, inv.CaseID, inv.TenantID, inv.UserID, string(inv.Status),
		inv.Priority, inv.CreatedAt, inv.ExpiresAt, contextJSON, completedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
			pgErr.ConstraintName == "investigations_alert_open_idx" {
			return spanErr(span, investigation.ErrDuplicate)
		}
		return spanErr(span, fmt.Errorf("upsert investigation: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// GetInvestigation retrieves one investigation scoped to a tenant.
func (s *Store) GetInvestigation(ctx context.Context, id, tenantID string) (*investigation.Investigation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetInvestigation", "SELECT")
	defer span.End()

	query := `SELECT ` + investigationColumns + ` FROM investigations WHERE id = $1 AND tenant_id = $2`
	inv, err := scanInvestigationRow(s.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if inv == nil {
		return nil, false, nil
	}
	return inv, true, nil
}

// FindOpenByAlert returns the non-terminal investigation for the alert
// within the tenant, if one exists.
func (s *Store) FindOpenByAlert(ctx context.Context, alertID, tenantID string) (*investigation.Investigation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.FindOpenByAlert", "SELECT")
	defer span.End()

	query := `SELECT ` + investigationColumns + ` FROM investigations
		WHERE alert_id = $1 AND tenant_id = $2
		  AND status NOT IN ('complete', 'failed', 'expired')
		ORDER BY created_at DESC LIMIT 1`
	inv, err := scanInvestigationRow(s.pool.QueryRow(ctx, query, alertID, tenantID))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if inv == nil {
		return nil, false, nil
	}
	return inv, true, nil
}

// ListInvestigations returns investigations matching the filter, most
// recent first.
func (s *Store) ListInvestigations(ctx context.Context, f investigation.ListFilter) ([]investigation.Investigation, error) {
	ctx, span := startSpan(ctx, "pgstore.ListInvestigations", "SELECT")
	defer span.End()

	query := `SELECT ` + investigationColumns + ` FROM investigations WHERE 1=1`
	var args []any
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		query += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.AlertID != "" {
		args = append(args, f.AlertID)
		query += ` AND alert_id = $` + strconv.Itoa(len(args))
	}
	if f.CaseID != "" {
		args = append(args, f.CaseID)
		query += ` AND case_id = $` + strconv.Itoa(len(args))
	}
	if f.Priority != 0 {
		args = append(args, f.Priority)
		query += ` AND priority = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	out, err := s.queryInvestigations(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

// ListUnfinished returns every non-terminal investigation across tenants.
func (s *Store) ListUnfinished(ctx context.Context) ([]investigation.Investigation, error) {
	ctx, span := startSpan(ctx, "pgstore.ListUnfinished", "SELECT")
	defer span.End()

	query := `SELECT ` + investigationColumns + ` FROM investigations
		WHERE status NOT IN ('complete', 'failed', 'expired')
		ORDER BY created_at`
	out, err := s.queryInvestigations(ctx, query)
	if err != nil {
		return nil, spanErr(span, err)
	}
	return out, nil
}

// PutStep inserts or replaces one step record.
func (s *Store) PutStep(ctx context.Context, step *investigation.Step) error {
	ctx, span := startSpan(ctx, "pgstore.PutStep", "UPSERT")
	defer span.End()

	var completedAt *time.Time
	if !step.CompletedAt.IsZero() {
		completedAt = &step.CompletedAt
	}
	var output any
	if len(step.OutputData) > 0 {
		output = []byte(step.OutputData)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `INSERT INTO investigation_steps (
		id, investigation_id, seq, step_name, agent_type, status,
		started_at, completed_at, error_message, retry_count, output_data
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO UPDATE SET
		status        = EXCLUDED.status,
		completed_at  = EXCLUDED.completed_at,
		error_message = EXCLUDED.error_message,
		retry_count   = EXCLUDED.retry_count,
		output_data   = EXCLUDED.output_data`

	_, err = tx.Exec(ctx, query,
		step.ID, step.InvestigationID, step.Seq, step.StepName, step.AgentType,
		string(step.Status), step.StartedAt, completedAt, step.ErrorMessage,
		step.RetryCount, output,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert step: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ListSteps returns an investigation's steps ordered by Seq ascending.
func (s *Store) ListSteps(ctx context.Context, investigationID string) ([]investigation.Step, error) {
	ctx, span := startSpan(ctx, "pgstore.ListSteps", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, investigation_id, seq, step_name, agent_type, status,
			started_at, completed_at, error_message, retry_count, output_data
		 FROM investigation_steps WHERE investigation_id = $1 ORDER BY seq`,
		investigationID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query steps: %w", err))
	}
	defer rows.Close()

	var out []investigation.Step
	for rows.Next() {
		var (
			st          investigation.Step
			status      string
			completedAt *time.Time
			output      []byte
		)
		if err := rows.Scan(
			&st.ID, &st.InvestigationID, &st.Seq, &st.StepName, &st.AgentType,
			&status, &st.StartedAt, &completedAt, &st.ErrorMessage, &st.RetryCount, &output,
		); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan step: %w", err))
		}
		st.Status = investigation.StepStatus(status)
		if completedAt != nil {
			st.CompletedAt = *completedAt
		}
		st.OutputData = output
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate steps: %w", err))
	}
	return out, nil
}

// AppendFeedback records one human feedback entry.
func (s *Store) AppendFeedback(ctx context.Context, fb *investigation.Feedback) error {
	ctx, span := startSpan(ctx, "pgstore.AppendFeedback", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO investigation_feedback (investigation_id, user_id, feedback_type, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		fb.InvestigationID, fb.UserID, fb.Type, fb.Content, fb.CreatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert feedback: %w", err))
	}
	return nil
}

// ListFeedback returns feedback for an investigation, oldest first.
func (s *Store) ListFeedback(ctx context.Context, investigationID string) ([]investigation.Feedback, error) {
	ctx, span := startSpan(ctx, "pgstore.ListFeedback", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT investigation_id, user_id, feedback_type, content, created_at
		 FROM investigation_feedback WHERE investigation_id = $1 ORDER BY id`,
		investigationID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query feedback: %w", err))
	}
	defer rows.Close()

	var out []investigation.Feedback
	for rows.Next() {
		var fb investigation.Feedback
		if err := rows.Scan(&fb.InvestigationID, &fb.UserID, &fb.Type, &fb.Content, &fb.CreatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan feedback: %w", err))
		}
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate feedback: %w", err))
	}
	return out, nil
}

// InvestigationStats aggregates outcomes for investigations created at or
// after since, scoped to a tenant ("" for all).
func (s *Store) InvestigationStats(ctx context.Context, tenantID string, since time.Time) (*investigation.Stats, error) {
	ctx, span := startSpan(ctx, "pgstore.InvestigationStats", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM investigations
		 WHERE created_at >= $1 AND ($2 = '' OR tenant_id = $2)
		 GROUP BY status`,
		since, tenantID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query stats: %w", err))
	}
	defer rows.Close()

	stats := &investigation.Stats{ByStatus: make(map[investigation.Status]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan stats: %w", err))
		}
		stats.ByStatus[investigation.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate stats: %w", err))
	}

	var avgSeconds *float64
	err = s.pool.QueryRow(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM (completed_at - created_at)))
		 FROM investigations
		 WHERE created_at >= $1 AND ($2 = '' OR tenant_id = $2)
		   AND completed_at IS NOT NULL`,
		since, tenantID,
	).Scan(&avgSeconds)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query avg duration: %w", err))
	}
	if avgSeconds != nil {
		stats.AvgDuration = time.Duration(*avgSeconds * float64(time.Second))
	}
	return stats, nil
}

// ListPoliciesByOwner returns the owner's policies in insertion order.
func (s *Store) ListPoliciesByOwner(ctx context.Context, ownerID string) ([]policy.Policy, error) {
	ctx, span := startSpan(ctx, "pgstore.ListPoliciesByOwner", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, effect, action_pattern, resource_pattern, conditions, risk, created_at
		 FROM policies WHERE owner_id = $1 ORDER BY seq`,
		ownerID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query policies: %w", err))
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		var (
			p              policy.Policy
			effect, risk   string
			conditionsJSON []byte
		)
		if err := rows.Scan(
			&p.ID, &p.OwnerID, &p.Name, &effect, &p.ActionPattern, &p.ResourcePattern,
			&conditionsJSON, &risk, &p.CreatedAt,
		); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan policy: %w", err))
		}
		p.Effect = policy.Effect(effect)
		p.Risk = policy.Risk(risk)
		if len(conditionsJSON) > 0 {
			if err := json.Unmarshal(conditionsJSON, &p.Conditions); err != nil {
				return nil, spanErr(span, fmt.Errorf("unmarshal conditions: %w", err))
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate policies: %w", err))
	}
	return out, nil
}

// PutPolicy inserts or replaces a policy. Replacement keeps the policy's
// original evaluation position.
func (s *Store) PutPolicy(ctx context.Context, p *policy.Policy) error {
	ctx, span := startSpan(ctx, "pgstore.PutPolicy", "UPSERT")
	defer span.End()

	conditionsJSON, err := json.Marshal(p.Conditions)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal conditions: %w", err))
	}

	query := `INSERT INTO policies (
		id, owner_id, name, effect, action_pattern, resource_pattern, conditions, risk, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (id) DO UPDATE SET
		name             = EXCLUDED.name,
		effect           = EXCLUDED.effect,
		action_pattern   = EXCLUDED.action_pattern,
		resource_pattern = EXCLUDED.resource_pattern,
		conditions       = EXCLUDED.conditions,
		risk             = EXCLUDED.risk`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.OwnerID, p.Name, string(p.Effect), p.ActionPattern, p.ResourcePattern,
		conditionsJSON, string(p.Risk), p.CreatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert policy: %w", err))
	}
	return nil
}

const approvalColumns = `id, tenant_id, requestor_id, approver_id, action, resource, params,
	status, reason, risk, policy_id, comment, created_at, resolved_at`

// CreateApproval stores a new approval request.
func (s *Store) CreateApproval(ctx context.Context, r *approval.Request) error {
	ctx, span := startSpan(ctx, "pgstore.CreateApproval", "INSERT")
	defer span.End()

	if err := s.execApproval(ctx, `INSERT INTO approval_requests (`+approvalColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, r); err != nil {
		return spanErr(span, fmt.Errorf("insert approval: %w", err))
	}
	return nil
}

// UpdateApproval replaces a stored approval request.
func (s *Store) UpdateApproval(ctx context.Context, r *approval.Request) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateApproval", "UPDATE")
	defer span.End()

	query := `UPDATE approval_requests SET
		tenant_id = $2, requestor_id = $3, approver_id = $4, action = $5, resource = $6,
		params = $7, status = $8, reason = $9, risk = $10, policy_id = $11, comment = $12,
		created_at = $13, resolved_at = $14
	WHERE id = $1`
	if err := s.execApproval(ctx, query, r); err != nil {
		return spanErr(span, fmt.Errorf("update approval: %w", err))
	}
	return nil
}

func (s *Store) execApproval(ctx context.Context, query string, r *approval.Request) error {
	var params any
	if len(r.Params) > 0 {
		params = []byte(r.Params)
	}
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.TenantID, r.RequestorID, r.ApproverID, r.Action, r.Resource, params,
		string(r.Status), r.Reason, string(r.Risk), r.PolicyID, r.Comment,
		r.CreatedAt, r.ResolvedAt,
	)
	return err
}

// GetApproval retrieves one approval request by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Request, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetApproval", "SELECT")
	defer span.End()

	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`
	r, err := scanApprovalRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// ListApprovals returns approval requests matching the filter, most recent first.
func (s *Store) ListApprovals(ctx context.Context, f approval.ListFilter) ([]approval.Request, error) {
	ctx, span := startSpan(ctx, "pgstore.ListApprovals", "SELECT")
	defer span.End()

	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE 1=1`
	var args []any
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		query += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.RequestorID != "" {
		args = append(args, f.RequestorID)
		query += ` AND requestor_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query approvals: %w", err))
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate approvals: %w", err))
	}
	return out, nil
}

// AppendExecution records one tool invocation in the audit trail.
func (s *Store) AppendExecution(ctx context.Context, rec *resilience.ActionExecution) error {
	ctx, span := startSpan(ctx, "pgstore.AppendExecution", "INSERT")
	defer span.End()

	var request, response any
	if len(rec.Request) > 0 {
		request = []byte(rec.Request)
	}
	if len(rec.Response) > 0 {
		response = []byte(rec.Response)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO action_executions (
			id, approval_request_id, tenant_id, tool, request, response,
			status, error_class, error_message, retries, started_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.ApprovalRequestID, rec.TenantID, rec.Tool, request, response,
		string(rec.Status), rec.ErrorClass, rec.ErrorMessage, rec.Retries,
		rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert execution: %w", err))
	}
	return nil
}

// ListExecutions returns audit records matching the filter, most recent first.
func (s *Store) ListExecutions(ctx context.Context, f action.ExecListFilter) ([]resilience.ActionExecution, error) {
	ctx, span := startSpan(ctx, "pgstore.ListExecutions", "SELECT")
	defer span.End()

	query := `SELECT id, approval_request_id, tenant_id, tool, request, response,
		status, error_class, error_message, retries, started_at, finished_at
	FROM action_executions WHERE 1=1`
	var args []any
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		query += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	if f.Tool != "" {
		args = append(args, f.Tool)
		query += ` AND tool = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += ` AND started_at >= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY started_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query executions: %w", err))
	}
	defer rows.Close()

	var out []resilience.ActionExecution
	for rows.Next() {
		var (
			rec               resilience.ActionExecution
			status            string
			request, response []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.ApprovalRequestID, &rec.TenantID, &rec.Tool, &request, &response,
			&status, &rec.ErrorClass, &rec.ErrorMessage, &rec.Retries,
			&rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan execution: %w", err))
		}
		rec.Status = resilience.ExecutionStatus(status)
		rec.Request = request
		rec.Response = response
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate executions: %w", err))
	}
	return out, nil
}

// scanInvestigationRow scans a single row into an Investigation.
// Returns (nil, nil) when no row is found.
func scanInvestigationRow(row pgx.Row) (*investigation.Investigation, error) {
	var (
		inv         investigation.Investigation
		status      string
		contextJSON []byte
		completedAt *time.Time
	)
	err := row.Scan(
		&inv.ID, &inv.AlertID, &inv.CaseID, &inv.TenantID, &inv.UserID, &status,
		&inv.Priority, &inv.CreatedAt, &inv.ExpiresAt, &contextJSON, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	inv.Status = investigation.Status(status)
	if completedAt != nil {
		inv.CompletedAt = *completedAt
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &inv.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &inv, nil
}

func (s *Store) queryInvestigations(ctx context.Context, query string, args ...any) ([]investigation.Investigation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query investigations: %w", err)
	}
	defer rows.Close()

	var out []investigation.Investigation
	for rows.Next() {
		inv, err := scanInvestigationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investigations: %w", err)
	}
	return out, nil
}

func scanApprovalRow(row pgx.Row) (*approval.Request, error) {
	r, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func scanApproval(row pgx.Row) (*approval.Request, error) {
	var (
		r            approval.Request
		status, risk string
		params       []byte
	)
	err := row.Scan(
		&r.ID, &r.TenantID, &r.RequestorID, &r.ApproverID, &r.Action, &r.Resource, &params,
		&status, &r.Reason, &risk, &r.PolicyID, &r.Comment, &r.CreatedAt, &r.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	r.Status = approval.Status(status)
	r.Risk = policy.Risk(risk)
	r.Params = params
	return &r, nil
}
