// Package investigation drives security-alert investigations through a
// bounded state machine under concurrency and timeout pressure.
package investigation

import (
	"encoding/json"
	"time"
)

// Status tracks where an investigation is in its lifecycle.
type Status string

const (
	// StatusPlanning means created, waiting for a processing slot.
	StatusPlanning Status = "planning"

	// StatusExecuting means step executors are working the investigation.
	StatusExecuting Status = "executing"

	// StatusAnalyzing means evidence gathering finished, analysis in progress.
	StatusAnalyzing Status = "analyzing"

	// StatusResponding means response actions are being prepared or gated.
	StatusResponding Status = "responding"

	// StatusPaused means a human suspended processing; resumable.
	StatusPaused Status = "paused"

	// StatusComplete means finished successfully. Terminal.
	StatusComplete Status = "complete"

	// StatusFailed means finished with an unrecoverable error. Terminal.
	StatusFailed Status = "failed"

	// StatusExpired means the deadline passed before completion. Terminal.
	StatusExpired Status = "expired"
)

// Terminal reports whether the status never transitions further.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusExpired
}

// Active reports whether the investigation counts against the global
// concurrency ceiling: non-terminal and not paused.
func (s Status) Active() bool {
	return !s.Terminal() && s != StatusPaused
}

// transitions lists the permitted next statuses from each status. Terminal
// statuses have no entries.
var transitions = map[Status][]Status{
	StatusPlanning:   {StatusExecuting, StatusPaused, StatusFailed, StatusExpired},
	StatusExecuting:  {StatusAnalyzing, StatusPaused, StatusComplete, StatusFailed, StatusExpired},
	StatusAnalyzing:  {StatusResponding, StatusPaused, StatusComplete, StatusFailed, StatusExpired},
	StatusResponding: {StatusComplete, StatusPaused, StatusFailed, StatusExpired},
	StatusPaused:     {StatusExecuting, StatusFailed, StatusExpired},
}

// CanTransition reports whether moving from s to next is permitted.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Context is the open document step executors append heterogeneous keys to.
// Values must be JSON-serializable.
type Context map[string]any

// Merge copies the entries of other into c, overwriting existing keys.
func (c Context) Merge(other map[string]any) {
	for k, v := range other {
		c[k] = v
	}
}

// Investigation is a unit of work tracking automated processing of one
// security alert through sequential stages. At most one non-terminal
// investigation may exist per (alert, tenant).
type Investigation struct {
	ID          string    `json:"id"`
	AlertID     string    `json:"alert_id"`
	CaseID      string    `json:"case_id,omitempty"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Status      Status    `json:"status"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Context     Context   `json:"context,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// StepStatus tracks one recorded stage of an investigation.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
)

// Step is one recorded stage of an investigation, owned by an external agent
// executor. Seq is a monotonic per-investigation ordering key.
type Step struct {
	ID              string          `json:"id"`
	InvestigationID string          `json:"investigation_id"`
	Seq             int             `json:"seq"`
	StepName        string          `json:"step_name"`
	AgentType       string          `json:"agent_type"`
	Status          StepStatus      `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	RetryCount      int             `json:"retry_count"`
	OutputData      json.RawMessage `json:"output_data,omitempty"`
}

// Feedback is one append-only human note on an investigation.
type Feedback struct {
	InvestigationID string    `json:"investigation_id"`
	UserID          string    `json:"user_id"`
	Type            string    `json:"feedback_type"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}
