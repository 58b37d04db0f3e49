package integrators

import (
	"testing"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

func BenchmarkRK4Step(b *testing.B) {
	integ := NewRK4()
	x := dynamo.State{1, 0, 0, 0, 0, 0}
	u := dynamo.Control{0.1, 0.1}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		x = integ.Step(oscillator{}, x, u, 0, 0.001)
	}
}

func BenchmarkEulerStep(b *testing.B) {
	integ := NewEuler()
	x := dynamo.State{1, 0, 0, 0, 0, 0}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		x = integ.Step(oscillator{}, x, dynamo.Control{}, 0, 0.001)
	}
}
