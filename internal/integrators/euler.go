package integrators

import "github.com/san-kum/hybridctl/internal/dynamo"

// Euler is the explicit first-order integrator. It is mostly useful as a
// small-step reference when checking higher-order schemes.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (Euler) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, t float64, dt float64) dynamo.State {
	return x.AddScaled(sys.Derive(x, u, t), dt)
}

// Substep advances x over dt using n equal steps of integ.
func Substep(integ dynamo.Integrator, sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64, n int) dynamo.State {
	if n < 1 {
		n = 1
	}
	h := dt / float64(n)
	for i := 0; i < n; i++ {
		x = integ.Step(sys, x, u, t+float64(i)*h, h)
	}
	return x
}
