package investigation

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/warden/internal/timeout"
)

type fakeStore struct {
	invs   map[string]*Investigation
	steps  map[string][]Step
	fbs    map[string][]Feedback
	putErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		invs:  make(map[string]*Investigation),
		steps: make(map[string][]Step),
		fbs:   make(map[string][]Feedback),
	}
}

func (f *fakeStore) PutInvestigation(_ context.Context, inv *Investigation) error {
	if f.putErr != nil {
		return f.putErr
	}
	if _, exists := f.invs[inv.ID]; !exists && !inv.Status.Terminal() {
		for _, other := range f.invs {
			if other.AlertID == inv.AlertID && other.TenantID == inv.TenantID && !other.Status.Terminal() {
				return ErrDuplicate
			}
		}
	}
	cp := *inv
	f.invs[inv.ID] = &cp
	return nil
}

func (f *fakeStore) GetInvestigation(_ context.Context, id, tenantID string) (*Investigation, bool, error) {
	inv, ok := f.invs[id]
	if !ok || inv.TenantID != tenantID {
		return nil, false, nil
	}
	cp := *inv
	return &cp, true, nil
}

func (f *fakeStore) FindOpenByAlert(_ context.Context, alertID, tenantID string) (*Investigation, bool, error) {
	for _, inv := range f.invs {
		if inv.AlertID == alertID && inv.TenantID == tenantID && !inv.Status.Terminal() {
			cp := *inv
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeStore) ListInvestigations(_ context.Context, lf ListFilter) ([]Investigation, error) {
	var out []Investigation
	for _, inv := range f.invs {
		if lf.TenantID != "" && inv.TenantID != lf.TenantID {
			continue
		}
		if lf.Status != "" && inv.Status != lf.Status {
			continue
		}
		if lf.AlertID != "" && inv.AlertID != lf.AlertID {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (f *fakeStore) ListUnfinished(_ context.Context) ([]Investigation, error) {
	var out []Investigation
	for _, inv := range f.invs {
		if !inv.Status.Terminal() {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeStore) PutStep(_ context.Context, step *Step) error {
	steps := f.steps[step.InvestigationID]
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = *step
			return nil
		}
	}
	f.steps[step.InvestigationID] = append(steps, *step)
	return nil
}

func (f *fakeStore) ListSteps(_ context.Context, id string) ([]Step, error) {
	steps := append([]Step(nil), f.steps[id]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Seq < steps[j].Seq })
	return steps, nil
}

func (f *fakeStore) AppendFeedback(_ context.Context, fb *Feedback) error {
	f.fbs[fb.InvestigationID] = append(f.fbs[fb.InvestigationID], *fb)
	return nil
}

func (f *fakeStore) ListFeedback(_ context.Context, id string) ([]Feedback, error) {
	return append([]Feedback(nil), f.fbs[id]...), nil
}

func (f *fakeStore) InvestigationStats(_ context.Context, tenantID string, since time.Time) (*Stats, error) {
	st := &Stats{ByStatus: make(map[Status]int)}
	for _, inv := range f.invs {
		if tenantID != "" && inv.TenantID != tenantID {
			continue
		}
		if inv.CreatedAt.Before(since) {
			continue
		}
		st.Total++
		st.ByStatus[inv.Status]++
	}
	return st, nil
}

type fakeAlerts struct{ missing map[string]bool }

func (f *fakeAlerts) AlertExists(_ context.Context, alertID, _ string) (bool, error) {
	return !f.missing[alertID], nil
}

type fakeTimeouts struct {
	registered map[string]time.Duration
	canceled   []string
	touched    []string
	usage      map[string][]timeout.Usage
	throttle   bool
}

func newFakeTimeouts() *fakeTimeouts {
	return &fakeTimeouts{
		registered: make(map[string]time.Duration),
		usage:      make(map[string][]timeout.Usage),
	}
}

func (f *fakeTimeouts) Register(id, _ string, d time.Duration) { f.registered[id] = d }
func (f *fakeTimeouts) Cancel(id string)                       { f.canceled = append(f.canceled, id) }
func (f *fakeTimeouts) Touch(id string)                        { f.touched = append(f.touched, id) }

func (f *fakeTimeouts) RecordUsage(_ context.Context, id string, u timeout.Usage) bool {
	f.touched = append(f.touched, id)
	f.usage[id] = append(f.usage[id], u)
	return f.throttle
}

func newTestOrchestrator(s *fakeStore, opts Options) (*Orchestrator, *fakeTimeouts) {
	ft := newFakeTimeouts()
	m := NewMetrics(prometheus.NewRegistry())
	o := NewOrchestrator(s, &fakeAlerts{}, ft, nil, nil, log.Nop(), m, opts)
	return o, ft
}

func start(t *testing.T, o *Orchestrator, alertID, tenantID string, priority int) *Investigation {
	t.Helper()
	inv, err := o.Start(context.Background(), StartParams{
		AlertID: alertID, TenantID: tenantID, UserID: "u1", Priority: priority,
	})
	if err != nil {
		t.Fatalf("Start(%s): %v", alertID, err)
	}
	return inv
}

func TestStartValidation(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(newFakeStore(), Options{})
	ctx := context.Background()

	cases := []StartParams{
		{TenantID: "t1", UserID: "u1"},
		{AlertID: "a1", UserID: "u1"},
		{AlertID: "a1", TenantID: "t1"},
		{AlertID: "a1", TenantID: "t1", UserID: "u1", Priority: 9},
	}
	for _, p := range cases {
		if _, err := o.Start(ctx, p); !errors.Is(err, ErrValidation) {
			t.Errorf("Start(%+v) err = %v, want ErrValidation", p, err)
		}
	}
}

func TestStartUnknownAlert(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	ft := newFakeTimeouts()
	m := NewMetrics(prometheus.NewRegistry())
	o := NewOrchestrator(s, &fakeAlerts{missing: map[string]bool{"ghost": true}}, ft, nil, nil, log.Nop(), m, Options{})

	_, err := o.Start(context.Background(), StartParams{AlertID: "ghost", TenantID: "t1", UserID: "u1"})
	if !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("err = %v, want ErrAlertNotFound", err)
	}
}

func TestStartDuplicateDetection(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{})
	ctx := context.Background()

	first := start(t, o, "a1", "t1", 3)

	dup, err := o.Start(ctx, StartParams{AlertID: "a1", TenantID: "t1", UserID: "u2"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if dup == nil || dup.ID != first.ID {
		t.Fatalf("duplicate response should carry the existing investigation")
	}

	// Same alert in another tenant is independent.
	if _, err := o.Start(ctx, StartParams{AlertID: "a1", TenantID: "t2", UserID: "u1"}); err != nil {
		t.Fatalf("cross-tenant start: %v", err)
	}

	// Once the first finishes, the alert can be investigated again.
	if err := o.Complete(ctx, first.ID, "t1", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := o.Start(ctx, StartParams{AlertID: "a1", TenantID: "t1", UserID: "u1"}); err != nil {
		t.Fatalf("restart after terminal: %v", err)
	}
}

// racingStore makes the second duplicate check miss, reproducing two starts
// interleaving between check and insert. The store-level admission guard has
// to catch the loser.
type racingStore struct {
	*fakeStore
	checks int
}

func (r *racingStore) FindOpenByAlert(ctx context.Context, alertID, tenantID string) (*Investigation, bool, error) {
	r.checks++
	if r.checks == 2 {
		return nil, false, nil
	}
	return r.fakeStore.FindOpenByAlert(ctx, alertID, tenantID)
}

func TestStartDuplicateRaceCaughtAtInsert(t *testing.T) {
	t.Parallel()
	s := &racingStore{fakeStore: newFakeStore()}
	ft := newFakeTimeouts()
	m := NewMetrics(prometheus.NewRegistry())
	o := NewOrchestrator(s, &fakeAlerts{}, ft, nil, nil, log.Nop(), m, Options{})
	ctx := context.Background()

	winner := start(t, o, "a1", "t1", 3)

	loser, err := o.Start(ctx, StartParams{AlertID: "a1", TenantID: "t1", UserID: "u2"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate from the insert path", err)
	}
	if loser == nil || loser.ID != winner.ID {
		t.Fatalf("loser should be handed the winning investigation")
	}
	if len(s.invs) != 1 {
		t.Fatalf("stored investigations = %d, want 1", len(s.invs))
	}
	if len(ft.registered) != 1 {
		t.Fatalf("timeout records = %d, want only the winner's", len(ft.registered))
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{MaxConcurrent: 2})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)
	b := start(t, o, "a2", "t1", 3)
	c := start(t, o, "a3", "t1", 3)

	if got := o.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}
	if got := o.QueueDepth(); got != 1 {
		t.Fatalf("QueueDepth = %d, want 1", got)
	}
	if s.invs[a.ID].Status != StatusExecuting || s.invs[b.ID].Status != StatusExecuting {
		t.Fatalf("first two should be executing")
	}
	if s.invs[c.ID].Status != StatusPlanning {
		t.Fatalf("third should still be planning, got %s", s.invs[c.ID].Status)
	}

	if err := o.Complete(ctx, a.ID, "t1", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.invs[c.ID].Status != StatusExecuting {
		t.Fatalf("queued investigation should activate after a slot frees, got %s", s.invs[c.ID].Status)
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{MaxConcurrent: 1})
	ctx := context.Background()

	blocker := start(t, o, "a0", "t1", 3)
	low := start(t, o, "a1", "t1", 1)
	high := start(t, o, "a2", "t1", 5)
	mid := start(t, o, "a3", "t1", 3)

	if err := o.Complete(ctx, blocker.ID, "t1", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.invs[high.ID].Status != StatusExecuting {
		t.Fatalf("highest priority should run first, got %s", s.invs[high.ID].Status)
	}

	if err := o.Complete(ctx, high.ID, "t1", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.invs[mid.ID].Status != StatusExecuting {
		t.Fatalf("mid priority should run before low")
	}
	if s.invs[low.ID].Status != StatusPlanning {
		t.Fatalf("low priority should still wait")
	}
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{MaxConcurrent: 1})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)
	b := start(t, o, "a2", "t1", 3)

	if _, err := o.Pause(ctx, a.ID, "t1", "u1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if s.invs[a.ID].Status != StatusPaused {
		t.Fatalf("status = %s, want paused", s.invs[a.ID].Status)
	}
	// The freed slot goes to the queued investigation.
	if s.invs[b.ID].Status != StatusExecuting {
		t.Fatalf("queued investigation should take the freed slot")
	}

	// Paused investigations cannot be paused again.
	if _, err := o.Pause(ctx, a.ID, "t1", "u1"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("double pause err = %v, want ErrNotActive", err)
	}

	resumed, err := o.Resume(ctx, a.ID, "t1", "u1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// Resume returns straight to executing, even while waiting for a slot.
	if resumed.Status != StatusExecuting {
		t.Fatalf("resumed status = %s, want executing", resumed.Status)
	}
	// Ceiling is full, so it waits in the queue.
	if got := o.QueueDepth(); got != 1 {
		t.Fatalf("QueueDepth = %d, want 1", got)
	}

	if _, err := o.Resume(ctx, b.ID, "t1", "u1"); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume of executing err = %v, want ErrNotPaused", err)
	}

	// Freed slot activates the resumed investigation.
	if err := o.Complete(ctx, b.ID, "t1", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.invs[a.ID].Status != StatusExecuting {
		t.Fatalf("status after slot freed = %s, want executing", s.invs[a.ID].Status)
	}
	if got := o.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
}

func TestTerminalImmutability(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, ft := newTestOrchestrator(s, Options{})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)
	if err := o.Complete(ctx, a.ID, "t1", map[string]any{"verdict": "benign"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := s.invs[a.ID].Context["verdict"]; got != "benign" {
		t.Fatalf("result not merged into context: %v", got)
	}
	if len(ft.canceled) != 1 || ft.canceled[0] != a.ID {
		t.Fatalf("timeout should be canceled on completion")
	}

	if err := o.Fail(ctx, a.ID, "t1", "late"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Fail after Complete err = %v, want ErrTerminal", err)
	}
	if err := o.Expire(ctx, a.ID, "t1"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Expire after Complete err = %v, want ErrTerminal", err)
	}
}

func TestStatusProgressAndETA(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{StepEstimate: time.Minute})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)

	rep, err := o.Status(ctx, a.ID, "t1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rep.Progress != 0 {
		t.Fatalf("progress with no steps = %v, want 0", rep.Progress)
	}
	if rep.ETASeconds != 30 {
		t.Fatalf("eta with no steps = %d, want 30", rep.ETASeconds)
	}

	for i, st := range []StepStatus{StepComplete, StepComplete, StepRunning, StepPending} {
		_, err := o.RecordStep(ctx, "t1", &Step{
			InvestigationID: a.ID,
			StepName:        "step",
			AgentType:       "triage",
			Status:          st,
			Seq:             i + 1,
		})
		if err != nil {
			t.Fatalf("RecordStep: %v", err)
		}
	}

	rep, err = o.Status(ctx, a.ID, "t1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rep.Progress != 50 {
		t.Fatalf("progress = %v, want 50", rep.Progress)
	}
	if rep.ETASeconds != 120 {
		t.Fatalf("eta = %d, want 120 (2 remaining steps x 1m)", rep.ETASeconds)
	}

	if err := o.Complete(ctx, a.ID, "t1", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	rep, err = o.Status(ctx, a.ID, "t1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rep.ETASeconds != 0 {
		t.Fatalf("terminal eta = %d, want 0", rep.ETASeconds)
	}

	if _, err := o.Status(ctx, "missing", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Status(missing) err = %v, want ErrNotFound", err)
	}
}

func TestRecordStepAssignsSeq(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)

	first, err := o.RecordStep(ctx, "t1", &Step{InvestigationID: a.ID, StepName: "gather"})
	if err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	second, err := o.RecordStep(ctx, "t1", &Step{InvestigationID: a.ID, StepName: "analyze"})
	if err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seq = %d, %d; want 1, 2", first.Seq, second.Seq)
	}
	if first.ID == "" || first.Status != StepRunning || first.StartedAt.IsZero() {
		t.Fatalf("step defaults not applied: %+v", first)
	}
}

func TestAddFeedback(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)

	if err := o.AddFeedback(ctx, a.ID, "t1", "analyst", "note", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty content err = %v, want ErrValidation", err)
	}
	if err := o.AddFeedback(ctx, a.ID, "t1", "analyst", "note", "looks like lateral movement"); err != nil {
		t.Fatalf("AddFeedback: %v", err)
	}
	fbs, _ := s.ListFeedback(ctx, a.ID)
	if len(fbs) != 1 || fbs[0].Content != "looks like lateral movement" {
		t.Fatalf("feedback not persisted: %+v", fbs)
	}
	if s.invs[a.ID].Context["latest_feedback"] == nil {
		t.Fatalf("feedback should fold into investigation context")
	}
}

func TestStepFlowRefreshesActivity(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, ft := newTestOrchestrator(s, Options{})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)

	step, err := o.RecordStep(ctx, "t1", &Step{InvestigationID: a.ID, StepName: "gather"})
	if err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if _, err := o.CompleteStep(ctx, "t1", a.ID, step.ID, StepComplete, "", []byte(`{"series":3}`)); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	if err := o.AddFeedback(ctx, a.ID, "t1", "u1", "note", "keep digging"); err != nil {
		t.Fatalf("AddFeedback: %v", err)
	}

	if got := len(ft.touched); got != 3 {
		t.Fatalf("activity refreshes = %d, want 3 (step, completion, feedback)", got)
	}
	for _, id := range ft.touched {
		if id != a.ID {
			t.Fatalf("touched %q, want %q", id, a.ID)
		}
	}
	usage := ft.usage[a.ID]
	if len(usage) != 1 || usage[0].EvidenceCount != 1 {
		t.Fatalf("completed step with output should count one evidence item, got %+v", usage)
	}
}

func TestReportUsage(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, ft := newTestOrchestrator(s, Options{})
	ft.throttle = true
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)

	throttle, err := o.ReportUsage(ctx, a.ID, "t1", timeout.Usage{APICalls: 5, MemoryBytes: 1 << 20})
	if err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}
	if !throttle {
		t.Fatal("throttle flag should pass through from the registry")
	}
	u := ft.usage[a.ID]
	if len(u) != 1 || u[0].APICalls != 5 || u[0].MemoryBytes != 1<<20 {
		t.Fatalf("usage not forwarded: %+v", u)
	}

	if _, err := o.ReportUsage(ctx, "missing", "t1", timeout.Usage{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}

	if err := o.Complete(ctx, a.ID, "t1", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := o.ReportUsage(ctx, a.ID, "t1", timeout.Usage{}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("terminal err = %v, want ErrTerminal", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)
	b := start(t, o, "a2", "t1", 3)

	base := time.Now()
	s.invs[a.ID].ExpiresAt = base.Add(-time.Minute)
	s.invs[b.ID].ExpiresAt = base.Add(time.Hour)

	n, err := o.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	if s.invs[a.ID].Status != StatusExpired {
		t.Fatalf("overdue investigation should be expired, got %s", s.invs[a.ID].Status)
	}
	if s.invs[b.ID].Status == StatusExpired {
		t.Fatalf("in-deadline investigation must not be expired")
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	now := time.Now()
	s.invs["i1"] = &Investigation{ID: "i1", AlertID: "a1", TenantID: "t1", Status: StatusExecuting, Priority: 3, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)}
	s.invs["i2"] = &Investigation{ID: "i2", AlertID: "a2", TenantID: "t1", Status: StatusExecuting, Priority: 3, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	s.invs["i3"] = &Investigation{ID: "i3", AlertID: "a3", TenantID: "t1", Status: StatusPaused, Priority: 3, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)}

	o, ft := newTestOrchestrator(s, Options{})
	if err := o.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if s.invs["i1"].Status != StatusExecuting {
		t.Fatalf("live investigation should be re-activated, got %s", s.invs["i1"].Status)
	}
	if _, ok := ft.registered["i1"]; !ok {
		t.Fatalf("live investigation deadline should be re-registered")
	}
	if s.invs["i2"].Status != StatusExpired {
		t.Fatalf("overdue investigation should be expired, got %s", s.invs["i2"].Status)
	}
	if s.invs["i3"].Status != StatusPaused {
		t.Fatalf("paused investigation should stay paused, got %s", s.invs["i3"].Status)
	}
	if _, ok := ft.registered["i3"]; !ok {
		t.Fatalf("paused investigation deadline should still be registered")
	}
}

func TestTimeline(t *testing.T) {
	t.Parallel()
	s := newFakeStore()
	o, _ := newTestOrchestrator(s, Options{})
	ctx := context.Background()

	a := start(t, o, "a1", "t1", 3)
	if _, err := o.RecordStep(ctx, "t1", &Step{InvestigationID: a.ID, StepName: "gather", Status: StepComplete}); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if err := o.AddFeedback(ctx, a.ID, "t1", "u1", "note", "check the dc"); err != nil {
		t.Fatalf("AddFeedback: %v", err)
	}

	inv, entries, err := o.Timeline(ctx, a.ID, "t1")
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if inv.ID != a.ID {
		t.Fatalf("wrong investigation returned")
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].At.Before(entries[i-1].At) {
			t.Fatalf("timeline not chronological")
		}
	}
}

func TestStateMachineTransitions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPlanning, StatusExecuting, true},
		{StatusExecuting, StatusAnalyzing, true},
		{StatusAnalyzing, StatusResponding, true},
		{StatusResponding, StatusComplete, true},
		{StatusPlanning, StatusAnalyzing, false},
		{StatusComplete, StatusExecuting, false},
		{StatusFailed, StatusPlanning, false},
		{StatusExpired, StatusExecuting, false},
		{StatusPaused, StatusExecuting, true},
		{StatusExecuting, StatusPaused, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
