package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

type fakePolicyStore struct {
	byOwner map[string][]policy.Policy
}

func (f *fakePolicyStore) ListPoliciesByOwner(_ context.Context, ownerID string) ([]policy.Policy, error) {
	return f.byOwner[ownerID], nil
}

func (f *fakePolicyStore) PutPolicy(_ context.Context, p *policy.Policy) error {
	if f.byOwner == nil {
		f.byOwner = make(map[string][]policy.Policy)
	}
	f.byOwner[p.OwnerID] = append(f.byOwner[p.OwnerID], *p)
	return nil
}

type fakeApprovalStore struct {
	byID map[string]*approval.Request
	ids  []string
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{byID: make(map[string]*approval.Request)}
}

func (f *fakeApprovalStore) CreateApproval(_ context.Context, r *approval.Request) error {
	cp := *r
	f.byID[r.ID] = &cp
	f.ids = append(f.ids, r.ID)
	return nil
}

func (f *fakeApprovalStore) GetApproval(_ context.Context, id string) (*approval.Request, bool, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (f *fakeApprovalStore) UpdateApproval(_ context.Context, r *approval.Request) error {
	cp := *r
	f.byID[r.ID] = &cp
	return nil
}

func (f *fakeApprovalStore) ListApprovals(_ context.Context, lf approval.ListFilter) ([]approval.Request, error) {
	var out []approval.Request
	for _, id := range f.ids {
		out = append(out, *f.byID[id])
	}
	return out, nil
}

type memSink struct {
	recs []*resilience.ActionExecution
}

func (m *memSink) AppendExecution(_ context.Context, rec *resilience.ActionExecution) error {
	m.recs = append(m.recs, rec)
	return nil
}

func newTestService(t *testing.T, policies []policy.Policy) (*Service, *approval.Workflow, *memSink) {
	t.Helper()
	reg := prometheus.NewRegistry()
	ps := &fakePolicyStore{byOwner: map[string][]policy.Policy{"t1": policies}}
	engine := policy.NewEngine(ps, log.Nop(), policy.NewMetrics(reg))
	wf := approval.NewWorkflow(newFakeApprovalStore(), log.Nop(), approval.NewMetrics(reg))
	sink := &memSink{}
	exec := resilience.NewToolExecutor(sink, log.Nop(), resilience.RetryOptions{Retries: 0})
	svc := NewService(engine, wf, exec, nil, log.Nop())
	return svc, wf, sink
}

func allowAll(action string) policy.Policy {
	return policy.Policy{ID: "p-allow", OwnerID: "t1", Effect: policy.EffectAllow, ActionPattern: action, Risk: policy.RiskLow}
}

func TestRequestAllowedExecutes(t *testing.T) {
	t.Parallel()
	svc, _, sink := newTestService(t, []policy.Policy{allowAll("query_*")})

	called := false
	svc.RegisterHandler("query_metrics", func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
		called = true
		return json.RawMessage(`{"ok":true}`), nil
	})

	out, err := svc.Request(context.Background(), Params{
		TenantID: "t1", UserID: "u1", Action: "query_metrics", Params: json.RawMessage(`{"query":"up"}`),
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !called || !out.Executed {
		t.Fatalf("allowed action should execute immediately")
	}
	if out.Decision != policy.EffectAllow {
		t.Fatalf("decision = %s, want allow", out.Decision)
	}
	if len(sink.recs) != 1 || sink.recs[0].Status != resilience.ExecutionSuccess {
		t.Fatalf("execution should be audited: %+v", sink.recs)
	}
}

func TestRequestRequiresApproval(t *testing.T) {
	t.Parallel()
	svc, _, sink := newTestService(t, []policy.Policy{{
		ID: "p-gate", OwnerID: "t1", Effect: policy.EffectRequireApproval,
		ActionPattern: "disable_*", Risk: policy.RiskHigh,
	}})

	out, err := svc.Request(context.Background(), Params{
		TenantID: "t1", UserID: "u1", Action: "disable_account", Resource: "user:42",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if out.Executed {
		t.Fatalf("gated action must not execute")
	}
	if out.Approval == nil || out.Approval.Status != approval.StatusPending {
		t.Fatalf("expected a pending approval, got %+v", out.Approval)
	}
	if out.Approval.RequestorID != "u1" {
		t.Fatalf("requestor = %s, want u1", out.Approval.RequestorID)
	}
	if len(sink.recs) != 0 {
		t.Fatalf("nothing should be audited before execution")
	}
}

func TestRequestDenied(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, []policy.Policy{{
		ID: "p-deny", OwnerID: "t1", Name: "no deletes", Effect: policy.EffectDeny,
		ActionPattern: "delete_*", Risk: policy.RiskCritical,
	}})

	out, err := svc.Request(context.Background(), Params{
		TenantID: "t1", UserID: "u1", Action: "delete_volume",
	})
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	if out == nil || out.Decision != policy.EffectDeny {
		t.Fatalf("outcome should carry the deny decision")
	}
}

func TestExecuteWithApproval(t *testing.T) {
	t.Parallel()
	svc, wf, sink := newTestService(t, []policy.Policy{{
		ID: "p-gate", OwnerID: "t1", Effect: policy.EffectRequireApproval,
		ActionPattern: "disable_*", Risk: policy.RiskHigh,
	}})
	svc.RegisterHandler("disable_account", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"disabled":true}`), nil
	})
	ctx := context.Background()

	out, err := svc.Request(ctx, Params{TenantID: "t1", UserID: "u1", Action: "disable_account"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	reqID := out.Approval.ID

	// Pending approval blocks execution.
	p := Params{TenantID: "t1", UserID: "u1", Action: "disable_account"}
	if _, err := svc.Execute(ctx, p, reqID); !errors.Is(err, ErrApprovalPending) {
		t.Fatalf("err = %v, want ErrApprovalPending", err)
	}

	if _, err := wf.Resolve(ctx, reqID, "u2", true, "verified"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, err := svc.Execute(ctx, p, reqID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !got.Executed || got.Approval == nil {
		t.Fatalf("approved action should execute: %+v", got)
	}
	if len(sink.recs) != 1 {
		t.Fatalf("execution should be audited")
	}
	if sink.recs[0].ApprovalRequestID == nil || *sink.recs[0].ApprovalRequestID != reqID {
		t.Fatalf("audit entry should link the approval")
	}

	// The approval covers its action only.
	other := Params{TenantID: "t1", UserID: "u1", Action: "disable_network"}
	if _, err := svc.Execute(ctx, other, reqID); !errors.Is(err, ErrApprovalMismatch) {
		t.Fatalf("err = %v, want ErrApprovalMismatch", err)
	}
}

func TestExecuteApprovalBoundToResourceAndParams(t *testing.T) {
	t.Parallel()
	svc, wf, _ := newTestService(t, []policy.Policy{{
		ID: "p-gate", OwnerID: "t1", Effect: policy.EffectRequireApproval,
		ActionPattern: "disable_*", Risk: policy.RiskHigh,
	}})

	var received json.RawMessage
	svc.RegisterHandler("disable_account", func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
		received = params
		return json.RawMessage(`{"disabled":true}`), nil
	})
	ctx := context.Background()

	out, err := svc.Request(ctx, Params{
		TenantID: "t1", UserID: "u1", Action: "disable_account",
		Resource: "user-123", Params: json.RawMessage(`{"user":"123"}`),
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	reqID := out.Approval.ID
	if _, err := wf.Resolve(ctx, reqID, "u2", true, "verified"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Same action against a different resource is not covered.
	_, err = svc.Execute(ctx, Params{
		TenantID: "t1", UserID: "u1", Action: "disable_account",
		Resource: "user-999", Params: json.RawMessage(`{"user":"999"}`),
	}, reqID)
	if !errors.Is(err, ErrApprovalMismatch) {
		t.Fatalf("err = %v, want ErrApprovalMismatch for a different resource", err)
	}
	if received != nil {
		t.Fatal("handler must not run under a mismatched approval")
	}

	// A covered call runs with the params the approver signed off on, not
	// whatever the caller sent.
	got, err := svc.Execute(ctx, Params{
		TenantID: "t1", UserID: "u1", Action: "disable_account",
		Resource: "user-123", Params: json.RawMessage(`{"user":"999","extra":true}`),
	}, reqID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !got.Executed {
		t.Fatal("covered action should execute")
	}
	if string(received) != `{"user":"123"}` {
		t.Fatalf("handler params = %s, want the approved params", received)
	}
}

func TestExecuteWithoutApprovalFollowsPolicy(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, []policy.Policy{
		allowAll("query_*"),
		{ID: "p-gate", OwnerID: "t1", Effect: policy.EffectRequireApproval, ActionPattern: "*", Risk: policy.RiskMedium},
	})
	svc.RegisterHandler("query_logs", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	ctx := context.Background()

	out, err := svc.Execute(ctx, Params{TenantID: "t1", UserID: "u1", Action: "query_logs"}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Executed {
		t.Fatalf("allowed action should execute without an approval")
	}

	if _, err := svc.Execute(ctx, Params{TenantID: "t1", UserID: "u1", Action: "reboot_host"}, ""); !errors.Is(err, ErrApprovalPending) {
		t.Fatalf("err = %v, want ErrApprovalPending", err)
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, []policy.Policy{allowAll("*")})

	_, err := svc.Execute(context.Background(), Params{TenantID: "t1", UserID: "u1", Action: "query_metrics"}, "")
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
}
