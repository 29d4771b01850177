package investigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/timeout"
)

// Sentinel errors returned by orchestrator operations. The API layer maps
// these onto HTTP statuses.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("investigation not found")
	ErrAlertNotFound = errors.New("alert not found")
	ErrDuplicate     = errors.New("open investigation already exists for alert")
	ErrNotActive     = errors.New("investigation is not active")
	ErrNotPaused     = errors.New("investigation is not paused")
	ErrTerminal      = errors.New("investigation already finished")
)

// AlertDirectory answers whether an alert is known to the system. Start
// refuses to open investigations against unknown alerts.
type AlertDirectory interface {
	AlertExists(ctx context.Context, alertID, tenantID string) (bool, error)
}

// TimeoutRegistry tracks deadlines and resource ceilings for running
// investigations. Touch refreshes the activity marker the staleness sweep
// reads; RecordUsage additionally folds a resource report into the ceilings
// and reports whether the caller should throttle. Implemented by the
// timeout manager.
type TimeoutRegistry interface {
	Register(investigationID, tenantID string, d time.Duration)
	Cancel(investigationID string)
	Touch(investigationID string)
	RecordUsage(ctx context.Context, investigationID string, u timeout.Usage) bool
}

// Dispatcher receives each investigation as it gains a concurrency slot.
// Implementations drive step executors and report back through Advance,
// Complete, and Fail. A nil dispatcher leaves investigations in executing
// until an external caller moves them.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv *Investigation)
}

// Notifier receives terminal outcomes. Implementations must not block the
// lifecycle path; failures are logged and swallowed.
type Notifier interface {
	NotifyOutcome(ctx context.Context, inv *Investigation) error
}

// Options tunes orchestrator behavior. Zero values pick the defaults.
type Options struct {
	// MaxConcurrent bounds simultaneously active investigations. Default 10.
	MaxConcurrent int

	// DefaultTimeout applies when a start request carries none. Default 30m.
	DefaultTimeout time.Duration

	// MaxTimeout caps requested timeouts. Default 4h.
	MaxTimeout time.Duration

	// StepEstimate is the per-remaining-step duration used for ETA. Default 2m.
	StepEstimate time.Duration
}

func (o Options) normalize() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Minute
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = 4 * time.Hour
	}
	if o.StepEstimate <= 0 {
		o.StepEstimate = 2 * time.Minute
	}
	return o
}

type queueItem struct {
	id         string
	tenantID   string
	priority   int
	enqueuedAt time.Time
}

// Orchestrator owns the investigation lifecycle: admission, dedup, the
// priority queue under the concurrency ceiling, state transitions, and
// terminal bookkeeping.
type Orchestrator struct {
	store    Store
	alerts   AlertDirectory
	timeouts TimeoutRegistry
	dispatch Dispatcher
	notify   Notifier
	logger   log.Logger
	metrics  *Metrics
	opts     Options
	now      func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
	queue  []queueItem
}

// NewOrchestrator creates an orchestrator. alerts, dispatch, and notify may
// be nil; the corresponding behavior is skipped.
func NewOrchestrator(store Store, alerts AlertDirectory, timeouts TimeoutRegistry, dispatch Dispatcher, notify Notifier, logger log.Logger, metrics *Metrics, opts Options) *Orchestrator {
	return &Orchestrator{
		store:    store,
		alerts:   alerts,
		timeouts: timeouts,
		dispatch: dispatch,
		notify:   notify,
		logger:   logger,
		metrics:  metrics,
		opts:     opts.normalize(),
		now:      time.Now,
		active:   make(map[string]struct{}),
	}
}

// StartParams describes a start request.
type StartParams struct {
	AlertID  string
	CaseID   string
	TenantID string
	UserID   string
	Priority int
	Timeout  time.Duration
	Context  map[string]any
}

// Start admits a new investigation: validates, rejects duplicates, persists
// the record in planning, registers its deadline, and enqueues it. On a
// duplicate the existing open investigation is returned alongside
// ErrDuplicate.
func (o *Orchestrator) Start(ctx context.Context, p StartParams) (*Investigation, error) {
	switch {
	case p.AlertID == "":
		return nil, fmt.Errorf("%w: alert_id is required", ErrValidation)
	case p.TenantID == "":
		return nil, fmt.Errorf("%w: tenant_id is required", ErrValidation)
	case p.UserID == "":
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if p.Priority < 1 || p.Priority > 5 {
		if p.Priority == 0 {
			p.Priority = 3
		} else {
			return nil, fmt.Errorf("%w: priority must be between 1 and 5", ErrValidation)
		}
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = o.opts.DefaultTimeout
	}
	if timeout > o.opts.MaxTimeout {
		timeout = o.opts.MaxTimeout
	}

	if o.alerts != nil {
		ok, err := o.alerts.AlertExists(ctx, p.AlertID, p.TenantID)
		if err != nil {
			return nil, fmt.Errorf("check alert: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, p.AlertID)
		}
	}

	if existing, ok, err := o.store.FindOpenByAlert(ctx, p.AlertID, p.TenantID); err != nil {
		return nil, err
	} else if ok {
		return existing, ErrDuplicate
	}

	now := o.now()
	inv := &Investigation{
		ID:        ulid.Make().String(),
		AlertID:   p.AlertID,
		CaseID:    p.CaseID,
		TenantID:  p.TenantID,
		UserID:    p.UserID,
		Status:    StatusPlanning,
		Priority:  p.Priority,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
		Context:   Context{},
	}
	inv.Context.Merge(p.Context)

	if err := o.store.PutInvestigation(ctx, inv); err != nil {
		// A concurrent start won the insert between the check above and
		// here; surface the winner like any other duplicate.
		if errors.Is(err, ErrDuplicate) {
			if existing, ok, ferr := o.store.FindOpenByAlert(ctx, p.AlertID, p.TenantID); ferr == nil && ok {
				return existing, ErrDuplicate
			}
			return nil, ErrDuplicate
		}
		return nil, err
	}

	o.metrics.Started.Inc()
	o.timeouts.Register(inv.ID, inv.TenantID, timeout)
	o.enqueue(queueItem{id: inv.ID, tenantID: inv.TenantID, priority: inv.Priority, enqueuedAt: now})

	o.logger.Info(ctx, "investigation started",
		"investigation_id", inv.ID,
		"alert_id", inv.AlertID,
		"tenant_id", inv.TenantID,
		"priority", inv.Priority,
		"timeout", timeout,
	)

	o.ProcessQueue(ctx)
	return inv, nil
}

func (o *Orchestrator) enqueue(item queueItem) {
	o.mu.Lock()
	o.queue = append(o.queue, item)
	o.metrics.QueueLen.Set(float64(len(o.queue)))
	o.mu.Unlock()
}

// ProcessQueue activates queued investigations while slots remain under the
// concurrency ceiling, highest priority first, FIFO within a priority.
// Safe to call from multiple goroutines.
func (o *Orchestrator) ProcessQueue(ctx context.Context) {
	for {
		item, ok := o.claimSlot()
		if !ok {
			return
		}
		if err := o.activate(ctx, item); err != nil {
			o.releaseSlot(item.id)
			o.logger.Error(ctx, err, "failed to activate investigation", "investigation_id", item.id)
		}
	}
}

// claimSlot pops the best queued item and reserves an active slot for it.
func (o *Orchestrator) claimSlot() (queueItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 || len(o.active) >= o.opts.MaxConcurrent {
		return queueItem{}, false
	}
	sort.SliceStable(o.queue, func(i, j int) bool {
		if o.queue[i].priority != o.queue[j].priority {
			return o.queue[i].priority > o.queue[j].priority
		}
		return o.queue[i].enqueuedAt.Before(o.queue[j].enqueuedAt)
	})
	item := o.queue[0]
	o.queue = o.queue[1:]
	o.active[item.id] = struct{}{}
	o.metrics.QueueLen.Set(float64(len(o.queue)))
	o.metrics.Active.Set(float64(len(o.active)))
	return item, true
}

func (o *Orchestrator) releaseSlot(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.metrics.Active.Set(float64(len(o.active)))
	o.mu.Unlock()
}

// dropQueued removes id from the wait queue if present.
func (o *Orchestrator) dropQueued(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, item := range o.queue {
		if item.id == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			o.metrics.QueueLen.Set(float64(len(o.queue)))
			return true
		}
	}
	return false
}

func (o *Orchestrator) activate(ctx context.Context, item queueItem) error {
	inv, ok, err := o.store.GetInvestigation(ctx, item.id, item.tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	// Could have been paused or expired while queued. A resumed
	// investigation is already executing and needs no transition.
	if inv.Status != StatusExecuting {
		if !inv.Status.CanTransition(StatusExecuting) {
			return fmt.Errorf("%w: cannot execute from %s", ErrTerminal, inv.Status)
		}
		inv.Status = StatusExecuting
		if err := o.store.PutInvestigation(ctx, inv); err != nil {
			// Core persistence failure during a transition fails the run outright.
			o.markFailed(ctx, inv, "persistence failure during activation")
			return err
		}
	}
	o.metrics.QueueWait.Observe(o.now().Sub(item.enqueuedAt).Seconds())
	o.logger.Info(ctx, "investigation executing", "investigation_id", inv.ID, "tenant_id", inv.TenantID)

	if o.dispatch != nil {
		go o.dispatch.Dispatch(context.WithoutCancel(ctx), inv)
	}
	return nil
}

// markFailed best-effort forces an investigation to failed after an
// unrecoverable persistence error.
func (o *Orchestrator) markFailed(ctx context.Context, inv *Investigation, reason string) {
	inv.Status = StatusFailed
	inv.CompletedAt = o.now()
	if inv.Context == nil {
		inv.Context = Context{}
	}
	inv.Context["failure_reason"] = reason
	if err := o.store.PutInvestigation(ctx, inv); err != nil {
		o.logger.Error(ctx, err, "failed to persist failure status", "investigation_id", inv.ID)
	}
	o.finish(ctx, inv)
}

// StatusReport is the full view of one investigation returned to callers.
type StatusReport struct {
	Investigation *Investigation `json:"investigation"`
	Steps         []Step         `json:"steps"`
	Progress      float64        `json:"progress"`
	ETASeconds    int64          `json:"eta_seconds"`
}

// Status returns an investigation with its steps, completed-step progress,
// and a remaining-work ETA.
func (o *Orchestrator) Status(ctx context.Context, id, tenantID string) (*StatusReport, error) {
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	steps, err := o.store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	completed := 0
	for _, s := range steps {
		if s.Status == StepComplete {
			completed++
		}
	}
	var progress float64
	if len(steps) > 0 {
		progress = float64(completed) / float64(len(steps)) * 100
	}

	var eta time.Duration
	if !inv.Status.Terminal() {
		if remaining := len(steps) - completed; remaining > 0 {
			eta = time.Duration(remaining) * o.opts.StepEstimate
		} else {
			// Nothing left to count but not finalized yet.
			eta = 30 * time.Second
		}
	}

	return &StatusReport{
		Investigation: inv,
		Steps:         steps,
		Progress:      progress,
		ETASeconds:    int64(eta.Seconds()),
	}, nil
}

// List returns investigations matching the filter.
func (o *Orchestrator) List(ctx context.Context, f ListFilter) ([]Investigation, error) {
	return o.store.ListInvestigations(ctx, f)
}

// Pause suspends an active investigation. Step history is preserved and the
// deadline keeps running.
func (o *Orchestrator) Pause(ctx context.Context, id, tenantID, userID string) (*Investigation, error) {
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !inv.Status.Active() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotActive, inv.Status)
	}
	inv.Status = StatusPaused
	if err := o.store.PutInvestigation(ctx, inv); err != nil {
		return nil, err
	}
	o.dropQueued(id)
	o.releaseSlot(id)
	o.logger.Info(ctx, "investigation paused", "investigation_id", id, "user_id", userID)
	o.ProcessQueue(ctx)
	return inv, nil
}

// Resume re-enqueues a paused investigation at its original priority.
func (o *Orchestrator) Resume(ctx context.Context, id, tenantID, userID string) (*Investigation, error) {
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if inv.Status != StatusPaused {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPaused, inv.Status)
	}
	inv.Status = StatusExecuting
	if err := o.store.PutInvestigation(ctx, inv); err != nil {
		return nil, err
	}
	o.enqueue(queueItem{id: inv.ID, tenantID: inv.TenantID, priority: inv.Priority, enqueuedAt: o.now()})
	o.logger.Info(ctx, "investigation resumed", "investigation_id", id, "user_id", userID)
	o.ProcessQueue(ctx)
	return inv, nil
}

// AddFeedback appends a human note and folds it into the investigation
// context for step executors to see.
func (o *Orchestrator) AddFeedback(ctx context.Context, id, tenantID, userID, feedbackType, content string) error {
	if content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	fb := &Feedback{
		InvestigationID: id,
		UserID:          userID,
		Type:            feedbackType,
		Content:         content,
		CreatedAt:       o.now(),
	}
	if err := o.store.AppendFeedback(ctx, fb); err != nil {
		return err
	}
	if inv.Context == nil {
		inv.Context = Context{}
	}
	inv.Context["latest_feedback"] = map[string]any{
		"user_id": userID,
		"type":    feedbackType,
		"content": content,
	}
	if err := o.store.PutInvestigation(ctx, inv); err != nil {
		return err
	}
	o.timeouts.Touch(id)
	return nil
}

// Advance moves an executing investigation to its next processing stage.
// Used by step executors between evidence gathering, analysis, and response.
func (o *Orchestrator) Advance(ctx context.Context, id, tenantID string, next Status) (*Investigation, error) {
	if next.Terminal() || next == StatusPaused {
		return nil, fmt.Errorf("%w: %s is not a processing stage", ErrValidation, next)
	}
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !inv.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTerminal, inv.Status, next)
	}
	inv.Status = next
	if err := o.store.PutInvestigation(ctx, inv); err != nil {
		o.markFailed(ctx, inv, "persistence failure during stage transition")
		return nil, err
	}
	return inv, nil
}

// Complete marks an investigation complete and merges the final result into
// its context.
func (o *Orchestrator) Complete(ctx context.Context, id, tenantID string, result map[string]any) error {
	return o.finalize(ctx, id, tenantID, StatusComplete, result)
}

// Fail marks an investigation failed with a reason. Used for unrecoverable
// errors and forced timeout termination.
func (o *Orchestrator) Fail(ctx context.Context, id, tenantID, reason string) error {
	return o.finalize(ctx, id, tenantID, StatusFailed, map[string]any{"failure_reason": reason})
}

// Expire gracefully times out an investigation past its deadline.
func (o *Orchestrator) Expire(ctx context.Context, id, tenantID string) error {
	return o.finalize(ctx, id, tenantID, StatusExpired, nil)
}

func (o *Orchestrator) finalize(ctx context.Context, id, tenantID string, terminal Status, extra map[string]any) error {
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if inv.Status.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrTerminal, inv.Status)
	}
	inv.Status = terminal
	inv.CompletedAt = o.now()
	if extra != nil {
		if inv.Context == nil {
			inv.Context = Context{}
		}
		inv.Context.Merge(extra)
	}
	if err := o.store.PutInvestigation(ctx, inv); err != nil {
		return err
	}
	o.finish(ctx, inv)
	return nil
}

// finish performs the shared terminal bookkeeping: slot release, timeout
// cancellation, metrics, notification, and backfill from the queue.
func (o *Orchestrator) finish(ctx context.Context, inv *Investigation) {
	o.dropQueued(inv.ID)
	o.releaseSlot(inv.ID)
	o.timeouts.Cancel(inv.ID)

	duration := inv.CompletedAt.Sub(inv.CreatedAt)
	o.metrics.Finished.WithLabelValues(string(inv.Status)).Inc()
	o.metrics.Duration.Observe(duration.Seconds())

	o.logger.Info(ctx, "investigation finished",
		"investigation_id", inv.ID,
		"tenant_id", inv.TenantID,
		"status", inv.Status,
		"duration", duration,
	)

	if o.notify != nil {
		if err := o.notify.NotifyOutcome(ctx, inv); err != nil {
			o.logger.Error(ctx, err, "outcome notification failed", "investigation_id", inv.ID)
		}
	}

	o.ProcessQueue(ctx)
}

// CleanupExpired expires every non-terminal investigation whose deadline has
// passed. Returns the number expired. Run periodically and at shutdown.
func (o *Orchestrator) CleanupExpired(ctx context.Context) (int, error) {
	open, err := o.store.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	now := o.now()
	expired := 0
	for i := range open {
		inv := &open[i]
		if !now.After(inv.ExpiresAt) {
			continue
		}
		if err := o.Expire(ctx, inv.ID, inv.TenantID); err != nil {
			o.logger.Error(ctx, err, "failed to expire investigation", "investigation_id", inv.ID)
			continue
		}
		expired++
	}
	return expired, nil
}

// Reconcile rebuilds in-memory state from the store after a restart:
// overdue investigations are expired, the rest get their deadlines
// re-registered and are re-enqueued.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	open, err := o.store.ListUnfinished(ctx)
	if err != nil {
		return err
	}
	now := o.now()
	for i := range open {
		inv := &open[i]
		if now.After(inv.ExpiresAt) {
			if err := o.Expire(ctx, inv.ID, inv.TenantID); err != nil {
				o.logger.Error(ctx, err, "failed to expire during reconcile", "investigation_id", inv.ID)
			}
			continue
		}
		o.timeouts.Register(inv.ID, inv.TenantID, inv.ExpiresAt.Sub(now))
		if inv.Status == StatusPaused {
			continue
		}
		if inv.Status != StatusPlanning {
			// Interrupted mid-flight; restart from planning.
			inv.Status = StatusPlanning
			if err := o.store.PutInvestigation(ctx, inv); err != nil {
				o.logger.Error(ctx, err, "failed to reset status during reconcile", "investigation_id", inv.ID)
				continue
			}
		}
		o.enqueue(queueItem{id: inv.ID, tenantID: inv.TenantID, priority: inv.Priority, enqueuedAt: now})
	}
	o.logger.Info(ctx, "reconciled unfinished investigations", "count", len(open))
	o.ProcessQueue(ctx)
	return nil
}

// RecordStep inserts or replaces a step record on behalf of a step executor.
// Seq is assigned when zero.
func (o *Orchestrator) RecordStep(ctx context.Context, tenantID string, step *Step) (*Step, error) {
	if step.InvestigationID == "" || step.StepName == "" {
		return nil, fmt.Errorf("%w: investigation_id and step_name are required", ErrValidation)
	}
	inv, ok, err := o.store.GetInvestigation(ctx, step.InvestigationID, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if inv.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrTerminal, inv.Status)
	}
	if step.ID == "" {
		step.ID = ulid.Make().String()
	}
	if step.Seq == 0 {
		existing, err := o.store.ListSteps(ctx, step.InvestigationID)
		if err != nil {
			return nil, err
		}
		max := 0
		for _, s := range existing {
			if s.Seq > max {
				max = s.Seq
			}
		}
		step.Seq = max + 1
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = o.now()
	}
	if step.Status == "" {
		step.Status = StepRunning
	}
	if err := o.store.PutStep(ctx, step); err != nil {
		return nil, err
	}
	o.timeouts.Touch(step.InvestigationID)
	return step, nil
}

// CompleteStep finishes a previously recorded step with its outcome.
func (o *Orchestrator) CompleteStep(ctx context.Context, tenantID, investigationID, stepID string, status StepStatus, errorMessage string, output json.RawMessage) (*Step, error) {
	if status != StepComplete && status != StepFailed {
		return nil, fmt.Errorf("%w: status must be complete or failed", ErrValidation)
	}
	if _, ok, err := o.store.GetInvestigation(ctx, investigationID, tenantID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}
	steps, err := o.store.ListSteps(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	var step *Step
	for i := range steps {
		if steps[i].ID == stepID {
			step = &steps[i]
			break
		}
	}
	if step == nil {
		return nil, ErrNotFound
	}
	step.Status = status
	step.CompletedAt = o.now()
	step.ErrorMessage = errorMessage
	if len(output) > 0 {
		step.OutputData = output
	}
	if err := o.store.PutStep(ctx, step); err != nil {
		return nil, err
	}
	// A completed step's output counts against the evidence ceiling; an
	// empty RecordUsage still refreshes the activity marker.
	var usage timeout.Usage
	if status == StepComplete && len(step.OutputData) > 0 {
		usage.EvidenceCount = 1
	}
	o.timeouts.RecordUsage(ctx, investigationID, usage)
	return step, nil
}

// ReportUsage passes a step executor's resource report to the timeout
// manager. The returned flag asks API-call-heavy executors to throttle.
func (o *Orchestrator) ReportUsage(ctx context.Context, id, tenantID string, u timeout.Usage) (bool, error) {
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotFound
	}
	if inv.Status.Terminal() {
		return false, fmt.Errorf("%w: status is %s", ErrTerminal, inv.Status)
	}
	return o.timeouts.RecordUsage(ctx, id, u), nil
}

// Timeline returns the ordered step and feedback history for one
// investigation.
type TimelineEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"` // "step" or "feedback"
	Summary string    `json:"summary"`
	Status  string    `json:"status,omitempty"`
}

// Timeline merges steps and feedback into one chronological view.
func (o *Orchestrator) Timeline(ctx context.Context, id, tenantID string) (*Investigation, []TimelineEntry, error) {
	inv, ok, err := o.store.GetInvestigation(ctx, id, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotFound
	}
	steps, err := o.store.ListSteps(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	fbs, err := o.store.ListFeedback(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]TimelineEntry, 0, len(steps)+len(fbs))
	for _, s := range steps {
		entries = append(entries, TimelineEntry{
			At:      s.StartedAt,
			Kind:    "step",
			Summary: s.StepName,
			Status:  string(s.Status),
		})
	}
	for _, f := range fbs {
		entries = append(entries, TimelineEntry{
			At:      f.CreatedAt,
			Kind:    "feedback",
			Summary: f.Content,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return inv, entries, nil
}

// Stats aggregates outcomes for a tenant over a lookback window.
func (o *Orchestrator) Stats(ctx context.Context, tenantID string, window time.Duration) (*Stats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return o.store.InvestigationStats(ctx, tenantID, o.now().Add(-window))
}

// ActiveCount reports investigations currently holding a slot.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// QueueDepth reports investigations waiting for a slot.
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
