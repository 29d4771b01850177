// Package policy evaluates declarative authorization rules for named actions
// against resources, and enforces segregation of duties between requestors
// and approvers.
package policy

import "time"

// Effect is the authorization outcome a policy assigns to a matching action.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
)

// Risk ranks how dangerous an action is. The ordering is ordinal:
// low < medium < high < critical.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

var riskRank = map[Risk]int{
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordinal position of r, or 0 for an unknown risk.
func (r Risk) Rank() int { return riskRank[r] }

// Conditions is the structured predicate a policy applies to the evaluation
// context. All set fields must hold for the policy to match.
type Conditions struct {
	// Flags must each equal the same-named boolean in the context.
	Flags map[string]bool `json:"flags,omitempty"`

	// MinSeverity matches only contexts whose severity ranks at or above it.
	MinSeverity Risk `json:"min_severity,omitempty"`

	// MaxSeverity matches only contexts whose severity ranks at or below it.
	MaxSeverity Risk `json:"max_severity,omitempty"`
}

// Empty reports whether the predicate constrains nothing.
func (c Conditions) Empty() bool {
	return len(c.Flags) == 0 && c.MinSeverity == "" && c.MaxSeverity == ""
}

// Policy is one declarative rule. Policies are evaluated in insertion order
// per owner; the first match wins.
type Policy struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Name            string     `json:"name"`
	Effect          Effect     `json:"effect"`
	ActionPattern   string     `json:"action_pattern"`
	ResourcePattern string     `json:"resource_pattern"`
	Conditions      Conditions `json:"conditions,omitempty"`
	Risk            Risk       `json:"risk"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Context carries the request attributes conditions are evaluated against.
type Context struct {
	// Flags are boolean attributes of the principal or request,
	// e.g. "privileged", "automated".
	Flags map[string]bool `json:"flags,omitempty"`

	// Severity is the risk severity attributed to the triggering event.
	Severity Risk `json:"severity,omitempty"`
}

// Decision is the result of evaluating an action against an owner's policies.
type Decision struct {
	Decision Effect `json:"decision"`
	Reason   string `json:"reason"`
	Risk     Risk   `json:"risk"`
	PolicyID string `json:"policy_id,omitempty"`
}

// DefaultReason is used when no configured policy matches.
const DefaultReason = "Default"
