// Package memstore provides an in-memory implementation of the warden
// persistence interfaces: investigation.Store, policy.Store, approval.Store,
// the resilience audit sink, and the action audit reader.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/action"
	"github.com/linnemanlabs/warden/internal/approval"
	"github.com/linnemanlabs/warden/internal/investigation"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/resilience"
)

// Store holds all warden state in memory. Suitable for dev/testing.
type Store struct {
	mu sync.RWMutex

	investigations map[string]*investigation.Investigation // investigation ID -> record
	steps          map[string][]investigation.Step         // investigation ID -> steps, Seq order
	feedback       map[string][]investigation.Feedback     // investigation ID -> entries, oldest first

	policies map[string][]policy.Policy // owner ID -> policies, insertion order

	approvals map[string]*approval.Request // request ID -> record
	apOrder   []string                     // approval IDs in creation order

	execs []resilience.ActionExecution // append-only audit trail
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		investigations: make(map[string]*investigation.Investigation),
		steps:          make(map[string][]investigation.Step),
		feedback:       make(map[string][]investigation.Feedback),
		policies:       make(map[string][]policy.Policy),
		approvals:      make(map[string]*approval.Request),
	}
}

// PutInvestigation inserts or fully replaces an investigation record.
func (s *Store) PutInvestigation(_ context.Context, inv *investigation.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Admission of a new open investigation is serialized under the write
	// lock: a second open record for the same (alert, tenant) is rejected,
	// so two concurrent starts cannot both slip past the caller's check.
	if _, exists := s.investigations[inv.ID]; !exists && !inv.Status.Terminal() {
		for _, other := range s.investigations {
			if other.AlertID == inv.AlertID && other.TenantID == inv.TenantID && !other.Status.Terminal() {
				return investigation.ErrDuplicate
			}
		}
	}
	cp := *inv
	if inv.Context != nil {
		cp.Context = make(investigation.Context, len(inv.Context))
		cp.Context.Merge(inv.Context)
	}
	s.investigations[inv.ID] = &cp
	return nil
}

// GetInvestigation retrieves one investigation scoped to a tenant. Returns a copy.
func (s *Store) GetInvestigation(_ context.Context, id, tenantID string) (*investigation.Investigation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investigations[id]
	if !ok || inv.TenantID != tenantID {
		return nil, false, nil
	}
	return copyInvestigation(inv), true, nil
}

// FindOpenByAlert returns the non-terminal investigation for the alert within
// the tenant, if one exists.
func (s *Store) FindOpenByAlert(_ context.Context, alertID, tenantID string) (*investigation.Investigation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.investigations {
		if inv.AlertID == alertID && inv.TenantID == tenantID && !inv.Status.Terminal() {
			return copyInvestigation(inv), true, nil
		}
	}
	return nil, false, nil
}

// ListInvestigations returns investigations matching the filter, most recent first.
func (s *Store) ListInvestigations(_ context.Context, f investigation.ListFilter) ([]investigation.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []investigation.Investigation
	for _, inv := range s.investigations {
		if f.TenantID != "" && inv.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.AlertID != "" && inv.AlertID != f.AlertID {
			continue
		}
		if f.CaseID != "" && inv.CaseID != f.CaseID {
			continue
		}
		if f.Priority != 0 && inv.Priority != f.Priority {
			continue
		}
		out = append(out, *copyInvestigation(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListUnfinished returns every non-terminal investigation across tenants.
func (s *Store) ListUnfinished(_ context.Context) ([]investigation.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []investigation.Investigation
	for _, inv := range s.investigations {
		if !inv.Status.Terminal() {
			out = append(out, *copyInvestigation(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutStep inserts or replaces one step record, keyed by step ID.
func (s *Store) PutStep(_ context.Context, step *investigation.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.steps[step.InvestigationID]
	for i := range list {
		if list[i].ID == step.ID {
			list[i] = *step
			return nil
		}
	}
	list = append(list, *step)
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	s.steps[step.InvestigationID] = list
	return nil
}

// ListSteps returns an investigation's steps ordered by Seq ascending.
func (s *Store) ListSteps(_ context.Context, investigationID string) ([]investigation.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.steps[investigationID]
	out := make([]investigation.Step, len(list))
	copy(out, list)
	return out, nil
}

// AppendFeedback records one human feedback entry.
func (s *Store) AppendFeedback(_ context.Context, fb *investigation.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[fb.InvestigationID] = append(s.feedback[fb.InvestigationID], *fb)
	return nil
}

// ListFeedback returns feedback for an investigation, oldest first.
func (s *Store) ListFeedback(_ context.Context, investigationID string) ([]investigation.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.feedback[investigationID]
	out := make([]investigation.Feedback, len(list))
	copy(out, list)
	return out, nil
}

// InvestigationStats aggregates outcomes for investigations created at or
// after since, scoped to a tenant ("" for all).
func (s *Store) InvestigationStats(_ context.Context, tenantID string, since time.Time) (*investigation.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &investigation.Stats{ByStatus: make(map[investigation.Status]int)}
	var durSum time.Duration
	var durN int
	for _, inv := range s.investigations {
		if tenantID != "" && inv.TenantID != tenantID {
			continue
		}
		if inv.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByStatus[inv.Status]++
		if inv.Status.Terminal() && !inv.CompletedAt.IsZero() {
			durSum += inv.CompletedAt.Sub(inv.CreatedAt)
			durN++
		}
	}
	if durN > 0 {
		stats.AvgDuration = durSum / time.Duration(durN)
	}
	return stats, nil
}

// ListPoliciesByOwner returns the owner's policies in insertion order.
func (s *Store) ListPoliciesByOwner(_ context.Context, ownerID string) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.policies[ownerID]
	out := make([]policy.Policy, len(list))
	copy(out, list)
	return out, nil
}

// PutPolicy appends a policy to its owner's ordered list, or replaces an
// existing policy with the same ID in place.
func (s *Store) PutPolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.policies[p.OwnerID]
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = *p
			return nil
		}
	}
	s.policies[p.OwnerID] = append(list, *p)
	return nil
}

// CreateApproval stores a new approval request.
func (s *Store) CreateApproval(_ context.Context, r *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.approvals[r.ID] = &cp
	s.apOrder = append(s.apOrder, r.ID)
	return nil
}

// GetApproval retrieves one approval request by ID. Returns a copy.
func (s *Store) GetApproval(_ context.Context, id string) (*approval.Request, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.approvals[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// UpdateApproval replaces a stored approval request.
func (s *Store) UpdateApproval(_ context.Context, r *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.approvals[r.ID] = &cp
	return nil
}

// ListApprovals returns approval requests matching the filter, most recent first.
func (s *Store) ListApprovals(_ context.Context, f approval.ListFilter) ([]approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []approval.Request
	for i := len(s.apOrder) - 1; i >= 0; i-- {
		r := s.approvals[s.apOrder[i]]
		if f.TenantID != "" && r.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.RequestorID != "" && r.RequestorID != f.RequestorID {
			continue
		}
		out = append(out, *r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// AppendExecution records one tool invocation in the audit trail.
func (s *Store) AppendExecution(_ context.Context, rec *resilience.ActionExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, *rec)
	return nil
}

// ListExecutions returns audit records matching the filter, most recent first.
func (s *Store) ListExecutions(_ context.Context, f action.ExecListFilter) ([]resilience.ActionExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []resilience.ActionExecution
	for i := len(s.execs) - 1; i >= 0; i-- {
		rec := s.execs[i]
		if f.TenantID != "" && rec.TenantID != f.TenantID {
			continue
		}
		if f.Tool != "" && rec.Tool != f.Tool {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && rec.StartedAt.Before(f.Since) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func copyInvestigation(inv *investigation.Investigation) *investigation.Investigation {
	cp := *inv
	if inv.Context != nil {
		cp.Context = make(investigation.Context, len(inv.Context))
		cp.Context.Merge(inv.Context)
	}
	return &cp
}
