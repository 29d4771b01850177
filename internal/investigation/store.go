package investigation

import (
	"context"
	"time"
)

// ListFilter narrows ListInvestigations. Zero values mean no constraint.
type ListFilter struct {
	TenantID string
	Status   Status
	AlertID  string
	CaseID   string
	Priority int
	Limit    int
	Offset   int
}

// Stats aggregates terminal outcomes over a window.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
	AvgDuration time.Duration  `json:"avg_duration"`
}

// Store is the persistence boundary for investigations, their steps, and
// human feedback. Get-style lookups return (nil, false, nil) when absent.
type Store interface {
	// PutInvestigation inserts or fully replaces an investigation record.
	// Inserting a new non-terminal record for an (alertID, tenantID) that
	// already has an open one fails with ErrDuplicate; implementations
	// enforce this atomically so concurrent starts cannot both land.
	PutInvestigation(ctx context.Context, inv *Investigation) error

	// GetInvestigation looks up one investigation scoped to a tenant.
	GetInvestigation(ctx context.Context, id, tenantID string) (*Investigation, bool, error)

	// FindOpenByAlert returns the non-terminal investigation for the alert
	// within the tenant, if one exists.
	FindOpenByAlert(ctx context.Context, alertID, tenantID string) (*Investigation, bool, error)

	// ListInvestigations returns investigations matching the filter, most
	// recent first.
	ListInvestigations(ctx context.Context, f ListFilter) ([]Investigation, error)

	// ListUnfinished returns every non-terminal investigation across
	// tenants. Used for startup reconciliation and expiry sweeps.
	ListUnfinished(ctx context.Context) ([]Investigation, error)

	// PutStep inserts or replaces one step record.
	PutStep(ctx context.Context, step *Step) error

	// ListSteps returns an investigation's steps ordered by Seq ascending.
	ListSteps(ctx context.Context, investigationID string) ([]Step, error)

	// AppendFeedback records one human feedback entry.
	AppendFeedback(ctx context.Context, fb *Feedback) error

	// ListFeedback returns feedback for an investigation, oldest first.
	ListFeedback(ctx context.Context, investigationID string) ([]Feedback, error)

	// InvestigationStats aggregates outcomes for investigations created at
	// or after since, scoped to a tenant ("" for all).
	InvestigationStats(ctx context.Context, tenantID string, since time.Time) (*Stats, error)
}
