package generator

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase names recorded in Metrics.
const (
	PhaseLoad     = "load"
	PhaseBuild    = "build"
	PhaseContexts = "contexts"
	PhaseAssemble = "assemble"
)

// Metrics tracks generation counters using lock-free atomic operations.
// All methods are safe for concurrent use.
type Metrics struct {
	// Document counts
	documentsIndexed atomic.Uint64
	typesBuilt       atomic.Uint64
	typesSkipped     atomic.Uint64
	typesSynthesized atomic.Uint64
	contextsBuilt    atomic.Uint64

	// Per-phase timing, in first-recorded order
	mu     sync.Mutex
	phases map[string]*phaseMetrics
	order  []string
}

// phaseMetrics tracks metrics for a single generation phase.
type phaseMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64 // nanoseconds
	issuesFound atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{phases: make(map[string]*phaseMetrics)}
}

// RecordIndexed records documents accepted by the index.
func (m *Metrics) RecordIndexed(n int) {
	m.documentsIndexed.Add(uint64(n)) //nolint:gosec // Safe: n is a non-negative count
}

// RecordBuild records the outcome of one model build.
func (m *Metrics) RecordBuild(built, skipped, synthesized int) {
	m.typesBuilt.Add(uint64(built))             //nolint:gosec // Safe: non-negative counts
	m.typesSkipped.Add(uint64(skipped))         //nolint:gosec // Safe: non-negative counts
	m.typesSynthesized.Add(uint64(synthesized)) //nolint:gosec // Safe: non-negative counts
}

// RecordContexts records derived contexts.
func (m *Metrics) RecordContexts(n int) {
	m.contextsBuilt.Add(uint64(n)) //nolint:gosec // Safe: n is a non-negative count
}

// RecordPhase records metrics for a generation phase.
func (m *Metrics) RecordPhase(phaseName string, duration time.Duration, issuesFound int) {
	pm := m.getOrCreatePhaseMetrics(phaseName)
	pm.invocations.Add(1)
	pm.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec // Safe: nanoseconds are always positive
	pm.issuesFound.Add(uint64(issuesFound))          //nolint:gosec // Safe: issuesFound is a small positive integer
}

func (m *Metrics) getOrCreatePhaseMetrics(name string) *phaseMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm, ok := m.phases[name]; ok {
		return pm
	}
	pm := &phaseMetrics{}
	m.phases[name] = pm
	m.order = append(m.order, name)
	return pm
}

// DocumentsIndexed returns the number of indexed documents.
func (m *Metrics) DocumentsIndexed() uint64 {
	return m.documentsIndexed.Load()
}

// TypesBuilt returns the number of documents compiled into types.
func (m *Metrics) TypesBuilt() uint64 {
	return m.typesBuilt.Load()
}

// TypesSkipped returns the number of documents omitted after a failure.
func (m *Metrics) TypesSkipped() uint64 {
	return m.typesSkipped.Load()
}

// TypesSynthesized returns the number of component and bound code types created.
func (m *Metrics) TypesSynthesized() uint64 {
	return m.typesSynthesized.Load()
}

// ContextsBuilt returns the number of contexts derived over all models.
func (m *Metrics) ContextsBuilt() uint64 {
	return m.contextsBuilt.Load()
}

// PhaseStats holds statistics for one phase.
type PhaseStats struct {
	Name        string        `json:"name"`
	Invocations uint64        `json:"invocations"`
	TotalTime   time.Duration `json:"total_time"`
	IssuesFound uint64        `json:"issues_found"`
}

// PhaseStats returns statistics for a specific phase.
func (m *Metrics) PhaseStats(phaseName string) (PhaseStats, bool) {
	m.mu.Lock()
	pm, ok := m.phases[phaseName]
	m.mu.Unlock()
	if !ok {
		return PhaseStats{Name: phaseName}, false
	}
	return pm.stats(phaseName), true
}

// AllPhaseStats returns statistics for all phases in the order they first ran.
func (m *Metrics) AllPhaseStats() []PhaseStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make([]PhaseStats, 0, len(m.order))
	for _, name := range m.order {
		stats = append(stats, m.phases[name].stats(name))
	}
	return stats
}

func (pm *phaseMetrics) stats(name string) PhaseStats {
	return PhaseStats{
		Name:        name,
		Invocations: pm.invocations.Load(),
		TotalTime:   time.Duration(pm.totalTime.Load()), //nolint:gosec // Safe: nanoseconds within int64 range
		IssuesFound: pm.issuesFound.Load(),
	}
}

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp        time.Time    `json:"timestamp"`
	DocumentsIndexed uint64       `json:"documents_indexed"`
	TypesBuilt       uint64       `json:"types_built"`
	TypesSkipped     uint64       `json:"types_skipped"`
	TypesSynthesized uint64       `json:"types_synthesized"`
	ContextsBuilt    uint64       `json:"contexts_built"`
	Phases           []PhaseStats `json:"phases,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:        time.Now(),
		DocumentsIndexed: m.documentsIndexed.Load(),
		TypesBuilt:       m.typesBuilt.Load(),
		TypesSkipped:     m.typesSkipped.Load(),
		TypesSynthesized: m.typesSynthesized.Load(),
		ContextsBuilt:    m.contextsBuilt.Load(),
		Phases:           m.AllPhaseStats(),
	}
}
