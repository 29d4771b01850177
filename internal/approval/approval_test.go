package approval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

type fakeStore struct {
	mu   sync.Mutex
	reqs map[string]*Request
	ids  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{reqs: make(map[string]*Request)}
}

func (s *fakeStore) CreateApproval(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reqs[r.ID] = &cp
	s.ids = append(s.ids, r.ID)
	return nil
}

func (s *fakeStore) GetApproval(_ context.Context, id string) (*Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (s *fakeStore) UpdateApproval(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reqs[r.ID] = &cp
	return nil
}

func (s *fakeStore) ListApprovals(_ context.Context, f ListFilter) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for i := len(s.ids) - 1; i >= 0; i-- {
		r := s.reqs[s.ids[i]]
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.RequestorID != "" && r.RequestorID != f.RequestorID {
			continue
		}
		out = append(out, *r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func newWorkflow() (*Workflow, *fakeStore) {
	store := newFakeStore()
	return NewWorkflow(store, log.Nop(), nil), store
}

func TestCreate_Pending(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	r, err := w.Create(context.Background(), CreateParams{
		RequestorID: "alice",
		Action:      "disable_account",
		Resource:    "user-42",
		Reason:      "gate account disablement",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %q, want pending", r.Status)
	}
	if r.ID == "" {
		t.Error("expected id to be assigned")
	}
	if r.ApproverID != nil {
		t.Error("approver must be nil until resolution")
	}
}

func TestCreate_DefaultReason(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	r, err := w.Create(context.Background(), CreateParams{RequestorID: "alice", Action: "x"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if r.Reason != "Default" {
		t.Errorf("reason = %q, want Default", r.Reason)
	}
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	if _, err := w.Create(context.Background(), CreateParams{Action: "x"}); err == nil {
		t.Error("missing requestor: error = nil, want error")
	}
	if _, err := w.Create(context.Background(), CreateParams{RequestorID: "a"}); err == nil {
		t.Error("missing action: error = nil, want error")
	}
}

func TestResolve_Approve(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	r, _ := w.Create(context.Background(), CreateParams{RequestorID: "alice", Action: "disable_account"})

	resolved, err := w.Resolve(context.Background(), r.ID, "bob", true, "looks right")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Status != StatusApproved {
		t.Errorf("status = %q, want approved", resolved.Status)
	}
	if resolved.ApproverID == nil || *resolved.ApproverID != "bob" {
		t.Errorf("approver = %v, want bob", resolved.ApproverID)
	}
	if resolved.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
	if !resolved.Authorized() {
		t.Error("approved request with distinct approver must authorize execution")
	}
}

func TestResolve_Deny(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	r, _ := w.Create(context.Background(), CreateParams{RequestorID: "alice", Action: "delete_bucket"})

	resolved, err := w.Resolve(context.Background(), r.ID, "bob", false, "too risky")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Status != StatusDenied {
		t.Errorf("status = %q, want denied", resolved.Status)
	}
	if resolved.Authorized() {
		t.Error("denied request must not authorize execution")
	}
}

func TestResolve_SelfApprovalRejected(t *testing.T) {
	t.Parallel()

	w, store := newWorkflow()
	r, _ := w.Create(context.Background(), CreateParams{RequestorID: "alice", Action: "disable_account"})

	_, err := w.Resolve(context.Background(), r.ID, "alice", true, "")
	if !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("Resolve() error = %v, want ErrSelfApproval", err)
	}

	// Request must stay pending.
	got, _, _ := store.GetApproval(context.Background(), r.ID)
	if got.Status != StatusPending {
		t.Errorf("status after rejected resolution = %q, want pending", got.Status)
	}
}

func TestResolve_TerminalIsImmutable(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	r, _ := w.Create(context.Background(), CreateParams{RequestorID: "alice", Action: "x"})

	if _, err := w.Resolve(context.Background(), r.ID, "bob", true, ""); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	_, err := w.Resolve(context.Background(), r.ID, "carol", false, "")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Resolve() error = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	_, err := w.Resolve(context.Background(), "nope", "bob", true, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestList_Filters(t *testing.T) {
	t.Parallel()

	w, _ := newWorkflow()
	a, _ := w.Create(context.Background(), CreateParams{RequestorID: "alice", Action: "a"})
	_, _ = w.Create(context.Background(), CreateParams{RequestorID: "bob", Action: "b"})
	_, _ = w.Resolve(context.Background(), a.ID, "bob", true, "")

	pending, err := w.List(context.Background(), ListFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 1 || pending[0].RequestorID != "bob" {
		t.Errorf("pending = %+v, want only bob's request", pending)
	}
}
