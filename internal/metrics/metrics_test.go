package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(dynamo.State{}, dynamo.Control{3, 4}, 0)
	m.Observe(dynamo.State{}, dynamo.Control{0, 0}, 0)
	m.Observe(dynamo.State{}, dynamo.Control{math.NaN(), 0}, 0)

	if m.Value() != 2.5 {
		t.Errorf("effort = %f, want 2.5", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Errorf("effort after reset = %f", m.Value())
	}
}

func TestTrackingMetrics(t *testing.T) {
	target := FixedTarget{3, 4}
	tests := []struct {
		name   string
		metric dynamo.Metric
		want   float64
	}{
		{"tracking", NewTrackingError(target), 2.5},
		{"final", NewFinalError(target), 0},
		{"settled", NewSettled(target, 1), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Observe(dynamo.State{0, 0}, dynamo.Control{}, 0)
			tt.metric.Observe(dynamo.State{3, 4}, dynamo.Control{}, 1)
			if got := tt.metric.Value(); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("%s = %f, want %f", tt.metric.Name(), got, tt.want)
			}
		})
	}
}

type movingTarget struct{ pos [2]float64 }

func (m *movingTarget) Target() [2]float64 { return m.pos }

func TestTrackingFollowsMovingTarget(t *testing.T) {
	mt := &movingTarget{}
	m := NewTrackingError(mt)
	m.Observe(dynamo.State{0, 0}, dynamo.Control{}, 0)
	mt.pos = [2]float64{0, 10}
	m.Observe(dynamo.State{0, 0}, dynamo.Control{}, 1)

	if m.Value() != 5 {
		t.Errorf("tracking = %f, want 5", m.Value())
	}
}

func TestStability(t *testing.T) {
	s := NewStability(10)
	if s.Value() != 1 {
		t.Errorf("empty stability = %f, want 1", s.Value())
	}
	s.Observe(dynamo.State{0, 0, 3, 4}, dynamo.Control{}, 0)
	s.Observe(dynamo.State{0, 0, 30, 0}, dynamo.Control{}, 0)
	s.Observe(dynamo.State{math.NaN()}, dynamo.Control{}, 0)
	s.Observe(dynamo.State{}, dynamo.Control{}, 0)

	if s.Value() != 0.5 {
		t.Errorf("stability = %f, want 0.5", s.Value())
	}
}
