package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

func TestEnergyKinetic(t *testing.T) {
	m := NewEnergy(2.0)

	x := dynamo.State{0, 0, 3, 4}
	m.Observe(x, dynamo.Control{}, 0)

	expected := 0.5 * 2.0 * 25.0
	if math.Abs(m.Value()-expected) > 1e-12 {
		t.Errorf("expected energy %f, got %f", expected, m.Value())
	}
}

func TestEnergyReset(t *testing.T) {
	m := NewEnergy(1.0)

	m.Observe(dynamo.State{0, 0, 1, 1}, dynamo.Control{}, 0)
	if m.Value() == 0 {
		t.Error("expected non-zero energy")
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero energy after reset")
	}
}

func TestEnergySkipsNonFinite(t *testing.T) {
	m := NewEnergy(1.0)
	m.Observe(dynamo.State{0, 0, math.Inf(1), 0}, dynamo.Control{}, 0)
	m.Observe(dynamo.State{0, 0, 2, 0}, dynamo.Control{}, 0)
	if m.Value() != 2 {
		t.Errorf("expected 2, got %f", m.Value())
	}
}
