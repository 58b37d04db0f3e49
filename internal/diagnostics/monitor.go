package diagnostics

import (
	"github.com/san-kum/hybridctl/internal/dynamo"
	"go.uber.org/zap"
)

// Report is the monitor's verdict on one tick.
type Report struct {
	Tick            int      `json:"tick"`
	PredictionError float64  `json:"prediction_error"`
	Residual        Residual `json:"residual"`
	Signed          float64  `json:"signed"`
	Pattern         Pattern  `json:"pattern"`
	Severity        Severity `json:"severity"`
	Suppressed      bool     `json:"suppressed,omitempty"`
}

// Summary aggregates a whole run.
type Summary struct {
	Ticks     int              `json:"ticks"`
	Incidents map[Severity]int `json:"incidents"`
	Patterns  map[Pattern]int  `json:"patterns"`
	Last      Report           `json:"last"`
}

// Monitor keeps a bounded history of signed residuals. Incidents raised
// while suppressed (e.g. right after a deliberate environment shift) are
// reported but not counted.
type Monitor struct {
	log        *zap.Logger
	capacity   int
	history    []float64
	tick       int
	suppressTo int
	summary    Summary
}

func NewMonitor(capacity int, log *zap.Logger) *Monitor {
	if capacity < Window {
		capacity = Window
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		log:      log,
		capacity: capacity,
		history:  make([]float64, 0, capacity),
		summary:  newSummary(),
	}
}

func newSummary() Summary {
	return Summary{
		Incidents: make(map[Severity]int),
		Patterns:  make(map[Pattern]int),
	}
}

// Suppress stops counting incidents for the next n observations.
func (m *Monitor) Suppress(n int) {
	m.suppressTo = m.tick + n
}

func (m *Monitor) Observe(pred, actual dynamo.State) Report {
	res := Residuals(pred, actual)
	signed := AlongTrack(pred, actual)
	predErr := actual.Distance(pred)

	if len(m.history) == m.capacity {
		copy(m.history, m.history[1:])
		m.history = m.history[:m.capacity-1]
	}
	m.history = append(m.history, signed)

	r := Report{
		Tick:            m.tick,
		PredictionError: predErr,
		Residual:        res,
		Signed:          signed,
		Pattern:         Classify(m.history),
		Severity:        Grade(predErr),
		Suppressed:      m.tick < m.suppressTo,
	}
	m.tick++

	m.summary.Ticks++
	m.summary.Patterns[r.Pattern]++
	if r.Severity != SeverityNominal && !r.Suppressed {
		m.summary.Incidents[r.Severity]++
		m.log.Warn("prediction residual incident",
			zap.Int("tick", r.Tick),
			zap.String("severity", string(r.Severity)),
			zap.Float64("prediction_error", predErr),
			zap.String("pattern", string(r.Pattern)),
		)
	}
	m.summary.Last = r
	return r
}

// History returns a copy of the retained signed residuals.
func (m *Monitor) History() []float64 {
	return append([]float64(nil), m.history...)
}

func (m *Monitor) Summary() Summary {
	s := m.summary
	s.Incidents = make(map[Severity]int, len(m.summary.Incidents))
	for k, v := range m.summary.Incidents {
		s.Incidents[k] = v
	}
	s.Patterns = make(map[Pattern]int, len(m.summary.Patterns))
	for k, v := range m.summary.Patterns {
		s.Patterns[k] = v
	}
	return s
}

func (m *Monitor) Reset() {
	m.history = m.history[:0]
	m.tick = 0
	m.suppressTo = 0
	m.summary = newSummary()
}
