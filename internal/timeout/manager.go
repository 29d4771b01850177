// Package timeout tracks per-investigation deadlines and resource ceilings
// and drives graceful or forced termination through the orchestrator.
package timeout

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Terminator is the lifecycle callback surface. Expire is the graceful path,
// Fail the forced one. Satisfied by the investigation orchestrator.
type Terminator interface {
	Expire(ctx context.Context, id, tenantID string) error
	Fail(ctx context.Context, id, tenantID, reason string) error
}

// WarnFunc is invoked once per record when 80% of its deadline has elapsed.
type WarnFunc func(ctx context.Context, investigationID, tenantID string, remaining time.Duration)

// RecordStatus tracks a deadline record's lifecycle.
type RecordStatus string

const (
	RecordActive    RecordStatus = "active"
	RecordCancelled RecordStatus = "cancelled"
	RecordExpired   RecordStatus = "expired"
)

// Usage is a point-in-time resource report from a step executor.
type Usage struct {
	MemoryBytes   uint64
	APICalls      int
	EvidenceCount int
}

// Record is the in-memory deadline and resource state for one investigation.
type Record struct {
	InvestigationID string
	TenantID        string
	StartAt         time.Time
	WarnAt          time.Time
	TimeoutAt       time.Time
	GraceAt         time.Time
	Status          RecordStatus

	Warned        bool
	GracefulFired bool
	Extended      bool // one-time resource-violation extension consumed
	Throttled     bool

	MemoryBytes    uint64
	BaselineMemory uint64
	APICalls       int
	EvidenceCount  int
	LastActivity   time.Time
}

// Options tunes the manager. Zero values pick the defaults.
type Options struct {
	// Grace is the window between graceful and forced termination. Default 2m.
	Grace time.Duration

	// SweepInterval is the deadline sweep period. Default 10s.
	SweepInterval time.Duration

	// ResourceSweepEvery runs the coarse resource sweep every N deadline
	// sweeps. Default 6.
	ResourceSweepEvery int

	// InactivityWindow marks a record stale when no usage arrives for this
	// long. Default 10m.
	InactivityWindow time.Duration

	// MaxAPICalls, MaxEvidence, and MaxMemoryBytes are per-investigation
	// ceilings. Zero disables the check.
	MaxAPICalls    int
	MaxEvidence    int
	MaxMemoryBytes uint64

	// LeakDeltaBytes flags a per-investigation memory growth beyond this
	// delta over its baseline. Zero disables the check.
	LeakDeltaBytes uint64

	// ProcessMemoryBytes is the global heap ceiling. Zero disables the check.
	ProcessMemoryBytes uint64

	// ViolationExtension is the one-time extension granted on a resource
	// ceiling violation. Default 1m.
	ViolationExtension time.Duration
}

func (o Options) normalize() Options {
	if o.Grace <= 0 {
		o.Grace = 2 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 10 * time.Second
	}
	if o.ResourceSweepEvery <= 0 {
		o.ResourceSweepEvery = 6
	}
	if o.InactivityWindow <= 0 {
		o.InactivityWindow = 10 * time.Minute
	}
	if o.ViolationExtension <= 0 {
		o.ViolationExtension = time.Minute
	}
	return o
}

// Manager owns the deadline and resource records. All methods are safe for
// concurrent use; sweeps are re-entrancy safe, an overlapping tick is a no-op.
type Manager struct {
	term    Terminator
	warn    WarnFunc
	logger  log.Logger
	metrics *Metrics
	opts    Options
	now     func() time.Time

	// readHeap is swapped in tests.
	readHeap func() uint64

	mu      sync.Mutex
	records map[string]*Record

	sweepMu     sync.Mutex
	resourceMu  sync.Mutex
	sweepsSince int
}

// NewManager creates a manager. The terminator is set later via SetTerminator
// to break the construction cycle with the orchestrator. warn may be nil.
func NewManager(warn WarnFunc, logger log.Logger, metrics *Metrics, opts Options) *Manager {
	return &Manager{
		warn:     warn,
		logger:   logger,
		metrics:  metrics,
		opts:     opts.normalize(),
		now:      time.Now,
		readHeap: processHeapBytes,
		records:  make(map[string]*Record),
	}
}

// SetTerminator wires the lifecycle callbacks. Must be called before the
// first sweep.
func (m *Manager) SetTerminator(t Terminator) { m.term = t }

func processHeapBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Register starts deadline tracking for an investigation. Re-registering an
// id replaces its record.
func (m *Manager) Register(investigationID, tenantID string, timeout time.Duration) {
	now := m.now()
	rec := &Record{
		InvestigationID: investigationID,
		TenantID:        tenantID,
		StartAt:         now,
		WarnAt:          now.Add(time.Duration(float64(timeout) * 0.8)),
		TimeoutAt:       now.Add(timeout),
		GraceAt:         now.Add(timeout + m.opts.Grace),
		Status:          RecordActive,
		BaselineMemory:  m.readHeap(),
		LastActivity:    now,
	}
	m.mu.Lock()
	m.records[investigationID] = rec
	m.metrics.ActiveRecords.Set(float64(len(m.records)))
	m.mu.Unlock()
}

// Cancel stops tracking an investigation. Unknown ids are ignored.
func (m *Manager) Cancel(investigationID string) {
	m.mu.Lock()
	if rec, ok := m.records[investigationID]; ok {
		rec.Status = RecordCancelled
		delete(m.records, investigationID)
	}
	m.metrics.ActiveRecords.Set(float64(len(m.records)))
	m.mu.Unlock()
}

// Touch refreshes an investigation's activity marker. Called on every step,
// feedback, or usage report so the staleness sweep only reaps investigations
// nothing is driving. Unknown ids are ignored.
func (m *Manager) Touch(investigationID string) {
	m.mu.Lock()
	if rec, ok := m.records[investigationID]; ok {
		rec.LastActivity = m.now()
	}
	m.mu.Unlock()
}

// Lookup returns a copy of the record for an investigation.
func (m *Manager) Lookup(investigationID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[investigationID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Extend shifts an investigation's timeout and grace markers forward. An
// extension beyond 20% of the total duration re-arms the warning.
func (m *Manager) Extend(investigationID string, additional time.Duration) bool {
	if additional <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[investigationID]
	if !ok {
		return false
	}
	total := rec.TimeoutAt.Sub(rec.StartAt)
	rec.TimeoutAt = rec.TimeoutAt.Add(additional)
	rec.GraceAt = rec.GraceAt.Add(additional)
	if total > 0 && additional > total/5 {
		rec.Warned = false
		newTotal := rec.TimeoutAt.Sub(rec.StartAt)
		rec.WarnAt = rec.StartAt.Add(time.Duration(float64(newTotal) * 0.8))
	}
	return true
}

// RecordUsage updates an investigation's resource counters and checks the
// configured ceilings. The first violation grants a one-time deadline
// extension instead of terminating. The returned flag tells API-call-heavy
// callers to throttle.
func (m *Manager) RecordUsage(ctx context.Context, investigationID string, u Usage) (throttle bool) {
	m.mu.Lock()
	rec, ok := m.records[investigationID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	rec.APICalls += u.APICalls
	rec.EvidenceCount += u.EvidenceCount
	if u.MemoryBytes > 0 {
		rec.MemoryBytes = u.MemoryBytes
	}
	rec.LastActivity = m.now()

	var violation string
	switch {
	case m.opts.MaxAPICalls > 0 && rec.APICalls > m.opts.MaxAPICalls:
		violation = "api_calls"
		rec.Throttled = true
	case m.opts.MaxEvidence > 0 && rec.EvidenceCount > m.opts.MaxEvidence:
		violation = "evidence"
	case m.opts.MaxMemoryBytes > 0 && rec.MemoryBytes > m.opts.MaxMemoryBytes:
		violation = "memory"
	}

	firstViolation := violation != "" && !rec.Extended
	if firstViolation {
		rec.Extended = true
		rec.TimeoutAt = rec.TimeoutAt.Add(m.opts.ViolationExtension)
		rec.GraceAt = rec.GraceAt.Add(m.opts.ViolationExtension)
	}
	throttled := rec.Throttled
	tenantID := rec.TenantID
	m.mu.Unlock()

	if violation != "" {
		m.metrics.ResourceViolations.WithLabelValues(violation).Inc()
		m.logger.Warn(ctx, "resource ceiling violated",
			"investigation_id", investigationID,
			"tenant_id", tenantID,
			"kind", violation,
			"extended", firstViolation,
		)
	}
	return throttled
}

// Sweep walks every record once: past grace terminates forcibly, past
// timeout requests graceful termination, past the warning marker fires the
// warning callback once. Overlapping calls are no-ops.
func (m *Manager) Sweep(ctx context.Context) {
	if !m.sweepMu.TryLock() {
		return
	}
	defer m.sweepMu.Unlock()

	now := m.now()

	type due struct {
		id, tenantID string
		forced       bool
		warning      bool
		remaining    time.Duration
	}
	var dues []due

	m.mu.Lock()
	for _, rec := range m.records {
		switch {
		case now.After(rec.GraceAt):
			rec.Status = RecordExpired
			delete(m.records, rec.InvestigationID)
			dues = append(dues, due{id: rec.InvestigationID, tenantID: rec.TenantID, forced: true})
		case now.After(rec.TimeoutAt):
			if !rec.GracefulFired {
				rec.GracefulFired = true
				dues = append(dues, due{id: rec.InvestigationID, tenantID: rec.TenantID})
			}
		case now.After(rec.WarnAt):
			if !rec.Warned {
				rec.Warned = true
				dues = append(dues, due{
					id: rec.InvestigationID, tenantID: rec.TenantID,
					warning: true, remaining: rec.TimeoutAt.Sub(now),
				})
			}
		}
	}
	m.metrics.ActiveRecords.Set(float64(len(m.records)))
	m.mu.Unlock()

	for _, d := range dues {
		switch {
		case d.warning:
			m.metrics.Warnings.Inc()
			m.logger.Warn(ctx, "investigation approaching timeout",
				"investigation_id", d.id, "tenant_id", d.tenantID, "remaining", d.remaining)
			if m.warn != nil {
				m.warn(ctx, d.id, d.tenantID, d.remaining)
			}
		case d.forced:
			m.terminate(ctx, d.id, d.tenantID, true, "timeout grace period exceeded")
		default:
			m.terminate(ctx, d.id, d.tenantID, false, "")
		}
	}
}

func (m *Manager) terminate(ctx context.Context, id, tenantID string, forced bool, reason string) {
	if m.term == nil {
		return
	}
	var err error
	mode := "graceful"
	if forced {
		mode = "forced"
		err = m.term.Fail(ctx, id, tenantID, reason)
	} else {
		err = m.term.Expire(ctx, id, tenantID)
	}
	m.metrics.Terminations.WithLabelValues(mode).Inc()
	if err != nil {
		m.logger.Error(ctx, err, "timeout termination failed",
			"investigation_id", id, "mode", mode)
		return
	}
	m.logger.Info(ctx, "investigation terminated by timeout",
		"investigation_id", id, "tenant_id", tenantID, "mode", mode)
}

// ResourceSweep is the coarser companion sweep: it checks the global process
// heap, per-record staleness, and per-record memory growth, feeding the same
// graceful path as deadline expiry. Overlapping calls are no-ops.
func (m *Manager) ResourceSweep(ctx context.Context) {
	if !m.resourceMu.TryLock() {
		return
	}
	defer m.resourceMu.Unlock()

	now := m.now()
	heap := m.readHeap()

	type victim struct {
		id, tenantID, kind string
	}
	var victims []victim

	m.mu.Lock()
	var stalest *Record
	for _, rec := range m.records {
		if now.Sub(rec.LastActivity) > m.opts.InactivityWindow {
			victims = append(victims, victim{rec.InvestigationID, rec.TenantID, "stale"})
			continue
		}
		if m.opts.LeakDeltaBytes > 0 && rec.MemoryBytes > rec.BaselineMemory &&
			rec.MemoryBytes-rec.BaselineMemory > m.opts.LeakDeltaBytes {
			victims = append(victims, victim{rec.InvestigationID, rec.TenantID, "memory_leak"})
			continue
		}
		if stalest == nil || rec.LastActivity.Before(stalest.LastActivity) {
			stalest = rec
		}
	}
	// Process-wide pressure sheds the least recently active record.
	if m.opts.ProcessMemoryBytes > 0 && heap > m.opts.ProcessMemoryBytes && stalest != nil {
		victims = append(victims, victim{stalest.InvestigationID, stalest.TenantID, "process_memory"})
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.metrics.ResourceViolations.WithLabelValues(v.kind).Inc()
		m.logger.Warn(ctx, "resource sweep terminating investigation",
			"investigation_id", v.id, "kind", v.kind)
		m.terminate(ctx, v.id, v.tenantID, false, "")
		m.Cancel(v.id)
	}
}

// ForceCleanup terminates every tracked record immediately. Used on
// shutdown; idempotent, repeated calls with no records are no-ops.
func (m *Manager) ForceCleanup(ctx context.Context) int {
	m.mu.Lock()
	snapshot := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Status = RecordExpired
		snapshot = append(snapshot, rec)
	}
	m.records = make(map[string]*Record)
	m.metrics.ActiveRecords.Set(0)
	m.mu.Unlock()

	for _, rec := range snapshot {
		m.terminate(ctx, rec.InvestigationID, rec.TenantID, true, "shutdown")
	}
	return len(snapshot)
}

// Run drives the periodic sweeps until ctx is cancelled. The resource sweep
// fires every ResourceSweepEvery deadline sweeps.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
			m.sweepsSince++
			if m.sweepsSince >= m.opts.ResourceSweepEvery {
				m.sweepsSince = 0
				m.ResourceSweep(ctx)
			}
		}
	}
}
