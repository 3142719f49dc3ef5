package pipeline

import (
	"strings"
	"sync"
	"time"
)

// maxMetricsHistory bounds how many turns Average looks at.
const maxMetricsHistory = 100

// Metrics holds the stage timings of one Process call.
type Metrics struct {
	SessionID string
	Started   time.Time

	// Stages maps each reached stage to the time spent getting there.
	Stages map[Stage]time.Duration
	Total  time.Duration

	// Failed is set when the call did not complete.
	Failed Stage
}

// MetricsCollector keeps recent turn metrics. It is safe for concurrent use.
type MetricsCollector struct {
	mu       sync.Mutex
	history  []Metrics
	count    int
	failures int

	onUpdate func(Metrics)
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{history: make([]Metrics, 0, maxMetricsHistory)}
}

// OnUpdate sets a callback that fires after each recorded turn.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Record archives one turn.
func (m *MetricsCollector) Record(t Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count++
	if t.Failed != "" {
		m.failures++
	}
	m.history = append(m.history, t)
	if len(m.history) > maxMetricsHistory {
		m.history = m.history[1:]
	}
	if m.onUpdate != nil {
		go m.onUpdate(t)
	}
}

// Count returns how many turns were recorded and how many of them failed.
func (m *MetricsCollector) Count() (total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, m.failures
}

// Last returns the most recent turn, if any.
func (m *MetricsCollector) Last() (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Metrics{}, false
	}
	return m.history[len(m.history)-1], true
}

// Average returns the mean time per stage and end to end over recent
// completed turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := Metrics{Stages: make(map[Stage]time.Duration)}
	n := 0
	for _, h := range m.history {
		if h.Failed != "" {
			continue
		}
		n++
		avg.Total += h.Total
		for s, d := range h.Stages {
			avg.Stages[s] += d
		}
	}
	if n == 0 {
		return avg
	}
	avg.Total /= time.Duration(n)
	for s := range avg.Stages {
		avg.Stages[s] /= time.Duration(n)
	}
	return avg
}

// FormatLatency renders the stage timings on one line.
func (t *Metrics) FormatLatency() string {
	var b strings.Builder
	for _, s := range []Stage{StageProfiled, StageTranscribed, StageGenerated, StageSynthesized, StagePersisted} {
		b.WriteString(formatDuration(t.Stages[s]))
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(string(s[:4])))
		b.WriteString(" | ")
	}
	b.WriteString(formatDuration(t.Total))
	b.WriteString(" TOTAL")
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
