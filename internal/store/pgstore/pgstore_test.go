package pgstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/action"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/resilience"
	"github.com/linnemanlabs/warden/internal/store/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("WARDEN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WARDEN_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}

func TestInvestigationRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	inv := &investigation.Investigation{
		ID:        "test-inv-roundtrip-001",
		AlertID:   "test-alert-rt",
		CaseID:    "case-9",
		TenantID:  "test-tenant",
		UserID:    "analyst-1",
		Status:    investigation.StatusExecuting,
		Priority:  4,
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
		Context:   investigation.Context{"source": "firewall", "hits": float64(12)},
	}
	if err := s.PutInvestigation(ctx, inv); err != nil {
		t.Fatalf("PutInvestigation: %v", err)
	}

	got, ok, err := s.GetInvestigation(ctx, inv.ID, inv.TenantID)
	if err != nil {
		t.Fatalf("GetInvestigation: %v", err)
	}
	if !ok {
		t.Fatal("GetInvestigation returned ok=false, want true")
	}

	assertEqual(t, "ID", inv.ID, got.ID)
	assertEqual(t, "AlertID", inv.AlertID, got.AlertID)
	assertEqual(t, "CaseID", inv.CaseID, got.CaseID)
	assertEqual(t, "Status", string(inv.Status), string(got.Status))
	assertEqual(t, "Priority", inv.Priority, got.Priority)
	if got.Context["source"] != "firewall" {
		t.Errorf("Context[source] = %v, want firewall", got.Context["source"])
	}

	// Wrong tenant must not see it.
	_, ok, err = s.GetInvestigation(ctx, inv.ID, "other-tenant")
	if err != nil {
		t.Fatalf("GetInvestigation other tenant: %v", err)
	}
	if ok {
		t.Error("expected ok=false for other tenant")
	}

	open, ok, err := s.FindOpenByAlert(ctx, inv.AlertID, inv.TenantID)
	if err != nil {
		t.Fatalf("FindOpenByAlert: %v", err)
	}
	if !ok || open.ID != inv.ID {
		t.Fatalf("FindOpenByAlert = %+v ok=%v", open, ok)
	}

	// A second open record for the same (alert, tenant) hits the partial
	// unique index.
	second := *inv
	second.ID = "test-inv-roundtrip-002"
	if err := s.PutInvestigation(ctx, &second); !errors.Is(err, investigation.ErrDuplicate) {
		t.Fatalf("second open put err = %v, want ErrDuplicate", err)
	}

	// Finishing the investigation removes it from open lookup.
	inv.Status = investigation.StatusComplete
	inv.CompletedAt = now.Add(5 * time.Minute)
	if err := s.PutInvestigation(ctx, inv); err != nil {
		t.Fatalf("PutInvestigation update: %v", err)
	}
	_, ok, err = s.FindOpenByAlert(ctx, inv.AlertID, inv.TenantID)
	if err != nil {
		t.Fatalf("FindOpenByAlert after finish: %v", err)
	}
	if ok {
		t.Error("expected no open investigation after completion")
	}
}

func TestStepsAndFeedback(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	inv := &investigation.Investigation{
		ID: "test-inv-steps-001", AlertID: "test-alert-steps", TenantID: "test-tenant",
		Status: investigation.StatusExecuting, Priority: 3,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := s.PutInvestigation(ctx, inv); err != nil {
		t.Fatalf("PutInvestigation: %v", err)
	}

	step := &investigation.Step{
		ID: "test-step-001", InvestigationID: inv.ID, Seq: 1,
		StepName: "gather_evidence", AgentType: "metrics",
		Status: investigation.StepRunning, StartedAt: now,
	}
	if err := s.PutStep(ctx, step); err != nil {
		t.Fatalf("PutStep: %v", err)
	}

	step.Status = investigation.StepComplete
	step.CompletedAt = now.Add(time.Minute)
	step.OutputData = json.RawMessage(`{"series":3}`)
	if err := s.PutStep(ctx, step); err != nil {
		t.Fatalf("PutStep update: %v", err)
	}

	steps, err := s.ListSteps(ctx, inv.ID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("len(steps) = %d, want 1", len(steps))
	}
	assertEqual(t, "Status", string(investigation.StepComplete), string(steps[0].Status))
	if string(steps[0].OutputData) != `{"series": 3}` && string(steps[0].OutputData) != `{"series":3}` {
		t.Errorf("OutputData = %s", steps[0].OutputData)
	}

	fb := &investigation.Feedback{
		InvestigationID: inv.ID, UserID: "analyst-1",
		Type: "guidance", Content: "focus on egress traffic", CreatedAt: now,
	}
	if err := s.AppendFeedback(ctx, fb); err != nil {
		t.Fatalf("AppendFeedback: %v", err)
	}
	fbs, err := s.ListFeedback(ctx, inv.ID)
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(fbs) != 1 || fbs[0].Content != "focus on egress traffic" {
		t.Fatalf("unexpected feedback: %+v", fbs)
	}
}

func TestPolicyOrdering(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	owner := "test-owner-ordering"
	first := &policy.Policy{
		ID: "test-pol-a", OwnerID: owner, Name: "deny-prod",
		Effect: policy.EffectDeny, ActionPattern: "*", ResourcePattern: "prod/*",
		CreatedAt: now,
	}
	second := &policy.Policy{
		ID: "test-pol-b", OwnerID: owner, Name: "allow-rest",
		Effect: policy.EffectAllow, ActionPattern: "*", ResourcePattern: "*",
		CreatedAt: now,
	}
	if err := s.PutPolicy(ctx, first); err != nil {
		t.Fatalf("PutPolicy: %v", err)
	}
	if err := s.PutPolicy(ctx, second); err != nil {
		t.Fatalf("PutPolicy: %v", err)
	}

	got, err := s.ListPoliciesByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListPoliciesByOwner: %v", err)
	}
	if len(got) != 2 || got[0].ID != "test-pol-a" || got[1].ID != "test-pol-b" {
		t.Fatalf("unexpected order: %+v", got)
	}

	// Replacing the first policy must not move it behind the second.
	first.Name = "deny-all-prod"
	if err := s.PutPolicy(ctx, first); err != nil {
		t.Fatalf("PutPolicy replace: %v", err)
	}
	got, err = s.ListPoliciesByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListPoliciesByOwner: %v", err)
	}
	if got[0].ID != "test-pol-a" || got[0].Name != "deny-all-prod" {
		t.Fatalf("replace changed ordering: %+v", got)
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	r := &approval.Request{
		ID: "test-appr-001", TenantID: "test-tenant", RequestorID: "analyst-1",
		Action: "isolate_host", Resource: "host/web-3",
		Params: json.RawMessage(`{"duration":"1h"}`),
		Status: approval.StatusPending, Reason: "high risk action",
		Risk: policy.RiskHigh, PolicyID: "test-pol-a", CreatedAt: now,
	}
	if err := s.CreateApproval(ctx, r); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	approver := "supervisor-1"
	resolved := now.Add(time.Minute)
	r.Status = approval.StatusApproved
	r.ApproverID = &approver
	r.Comment = "verified with on-call"
	r.ResolvedAt = &resolved
	if err := s.UpdateApproval(ctx, r); err != nil {
		t.Fatalf("UpdateApproval: %v", err)
	}

	got, ok, err := s.GetApproval(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetApproval: %v", err)
	}
	if !ok {
		t.Fatal("GetApproval returned ok=false")
	}
	assertEqual(t, "Status", string(approval.StatusApproved), string(got.Status))
	if got.ApproverID == nil || *got.ApproverID != approver {
		t.Errorf("ApproverID = %v, want %s", got.ApproverID, approver)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt = nil, want set")
	}

	list, err := s.ListApprovals(ctx, approval.ListFilter{TenantID: "test-tenant", Status: approval.StatusApproved})
	if err != nil {
		t.Fatalf("ListApprovals: %v", err)
	}
	found := false
	for _, a := range list {
		if a.ID == r.ID {
			found = true
		}
	}
	if !found {
		t.Error("approved request missing from list")
	}
}

func TestExecutionAudit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	apID := "test-appr-001"
	rec := &resilience.ActionExecution{
		ID: "test-exec-001", ApprovalRequestID: &apID, TenantID: "test-tenant",
		Tool: "isolate_host", Request: json.RawMessage(`{"host":"web-3"}`),
		Response: json.RawMessage(`{"ok":true}`), Status: resilience.ExecutionSuccess,
		Retries: 1, StartedAt: now, FinishedAt: now.Add(2 * time.Second),
	}
	if err := s.AppendExecution(ctx, rec); err != nil {
		t.Fatalf("AppendExecution: %v", err)
	}

	list, err := s.ListExecutions(ctx, action.ExecListFilter{TenantID: "test-tenant", Tool: "isolate_host"})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	found := false
	for _, e := range list {
		if e.ID == rec.ID {
			found = true
			if e.ApprovalRequestID == nil || *e.ApprovalRequestID != apID {
				t.Errorf("ApprovalRequestID = %v, want %s", e.ApprovalRequestID, apID)
			}
		}
	}
	if !found {
		t.Error("execution missing from audit list")
	}
}
