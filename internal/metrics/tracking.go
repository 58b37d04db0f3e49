package metrics

import (
	"math"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

// Target is shared between tracking metrics and whoever moves the goal.
type Target interface {
	Target() [2]float64
}

// FixedTarget is a Target that never moves.
type FixedTarget [2]float64

func (f FixedTarget) Target() [2]float64 { return f }

func distance(x dynamo.State, target [2]float64) float64 {
	return math.Hypot(x[dynamo.PosX]-target[0], x[dynamo.PosY]-target[1])
}

// TrackingError is the mean euclidean distance between position and target.
type TrackingError struct {
	name    string
	target  Target
	sum     float64
	samples int
}

func NewTrackingError(target Target) *TrackingError {
	return &TrackingError{name: "tracking_error", target: target}
}

func (m *TrackingError) Name() string { return m.name }

func (m *TrackingError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	d := distance(x, m.target.Target())
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return
	}
	m.sum += d
	m.samples++
}

func (m *TrackingError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *TrackingError) Reset() {
	m.sum = 0
	m.samples = 0
}

// FinalError is the distance to the target at the last observed tick.
type FinalError struct {
	name   string
	target Target
	last   float64
}

func NewFinalError(target Target) *FinalError {
	return &FinalError{name: "final_error", target: target}
}

func (m *FinalError) Name() string { return m.name }

func (m *FinalError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	m.last = distance(x, m.target.Target())
}

func (m *FinalError) Value() float64 { return m.last }

func (m *FinalError) Reset() { m.last = 0 }

// Settled is the fraction of ticks spent within radius of the target.
type Settled struct {
	name    string
	target  Target
	radius  float64
	inside  int
	samples int
}

func NewSettled(target Target, radius float64) *Settled {
	return &Settled{name: "settled", target: target, radius: radius}
}

func (m *Settled) Name() string { return m.name }

func (m *Settled) Observe(x dynamo.State, u dynamo.Control, t float64) {
	m.samples++
	if distance(x, m.target.Target()) <= m.radius {
		m.inside++
	}
}

func (m *Settled) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return float64(m.inside) / float64(m.samples)
}

func (m *Settled) Reset() {
	m.inside = 0
	m.samples = 0
}
