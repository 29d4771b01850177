package policy

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
)

// Store is the persistence interface for policies. ListByOwner must return
// policies in insertion order, since the first match wins.
type Store interface {
	ListPoliciesByOwner(ctx context.Context, ownerID string) ([]Policy, error)
	PutPolicy(ctx context.Context, p *Policy) error
}

// Engine evaluates actions against an owner's ordered policy list.
type Engine struct {
	store   Store
	logger  log.Logger
	metrics *Metrics
}

// NewEngine creates a policy engine backed by the given store.
func NewEngine(store Store, logger log.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{store: store, logger: logger, metrics: metrics}
}

// DefaultPolicies is the rule set installed for an owner with none
// configured: read-style actions pass, destructive ones need a human.
func DefaultPolicies(ownerID string) []Policy {
	mk := func(name string, effect Effect, action string, risk Risk) Policy {
		return Policy{
			ID:              uuid.NewString(),
			OwnerID:         ownerID,
			Name:            name,
			Effect:          effect,
			ActionPattern:   action,
			ResourcePattern: "*",
			Risk:            risk,
			CreatedAt:       time.Now().UTC(),
		}
	}
	return []Policy{
		mk("allow reads", EffectAllow, "get_*", RiskLow),
		mk("allow lists", EffectAllow, "list_*", RiskLow),
		mk("allow queries", EffectAllow, "query_*", RiskLow),
		mk("gate account disablement", EffectRequireApproval, "disable_*", RiskHigh),
		mk("gate deletions", EffectRequireApproval, "delete_*", RiskHigh),
		mk("gate access revocation", EffectRequireApproval, "revoke_*", RiskHigh),
	}
}

// EvaluateAction scans the owner's policies in insertion order and returns
// the decision of the first policy whose action pattern, resource pattern,
// and conditions all match. An owner with no policies gets the default set
// installed first. No match yields require_approval with the default reason.
func (e *Engine) EvaluateAction(ctx context.Context, ownerID, action, resource string, evalCtx Context) (Decision, error) {
	policies, err := e.store.ListPoliciesByOwner(ctx, ownerID)
	if err != nil {
		return Decision{}, fmt.Errorf("list policies: %w", err)
	}

	if len(policies) == 0 {
		policies = DefaultPolicies(ownerID)
		for i := range policies {
			if err := e.store.PutPolicy(ctx, &policies[i]); err != nil {
				return Decision{}, fmt.Errorf("install default policy: %w", err)
			}
		}
		e.logger.Info(ctx, "installed default policy set", "owner_id", ownerID, "count", len(policies))
	}

	if resource == "" {
		resource = "*"
	}

	for i := range policies {
		p := &policies[i]
		if !matchPattern(p.ActionPattern, action) {
			continue
		}
		rp := p.ResourcePattern
		if rp == "" {
			rp = "*"
		}
		if !matchPattern(rp, resource) {
			continue
		}
		if !conditionsMatch(p.Conditions, evalCtx) {
			continue
		}

		d := Decision{
			Decision: p.Effect,
			Reason:   p.Name,
			Risk:     p.Risk,
			PolicyID: p.ID,
		}
		e.observe(d)
		e.logger.Info(ctx, "policy decision",
			"owner_id", ownerID,
			"action", action,
			"resource", resource,
			"decision", d.Decision,
			"policy_id", d.PolicyID,
		)
		return d, nil
	}

	d := Decision{Decision: EffectRequireApproval, Reason: DefaultReason, Risk: RiskMedium}
	e.observe(d)
	return d, nil
}

func (e *Engine) observe(d Decision) {
	if e.metrics != nil {
		e.metrics.Decisions.WithLabelValues(string(d.Decision)).Inc()
	}
}

// matchPattern matches a glob pattern ("disable_*", "*") against a name.
// A malformed pattern never matches.
func matchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

func conditionsMatch(c Conditions, evalCtx Context) bool {
	if c.Empty() {
		return true
	}
	for flag, want := range c.Flags {
		if evalCtx.Flags[flag] != want {
			return false
		}
	}
	if c.MinSeverity != "" {
		if evalCtx.Severity.Rank() < c.MinSeverity.Rank() {
			return false
		}
	}
	if c.MaxSeverity != "" {
		if evalCtx.Severity.Rank() == 0 || evalCtx.Severity.Rank() > c.MaxSeverity.Rank() {
			return false
		}
	}
	return true
}

// SoDResult is the outcome of a segregation-of-duties check.
type SoDResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CheckSegregationOfDuties rejects a requestor approving their own request.
// It must be applied at approval-resolution time, not only at creation.
func CheckSegregationOfDuties(requestorID, approverID string) SoDResult {
	if requestorID == approverID {
		return SoDResult{OK: false, Reason: "requestor cannot approve their own request"}
	}
	return SoDResult{OK: true}
}
