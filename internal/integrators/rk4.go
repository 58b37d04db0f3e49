package integrators

import "github.com/san-kum/hybridctl/internal/dynamo"

// RK4 is the classical four-stage Runge-Kutta integrator. It holds no
// state, so one value can be shared by concurrent rollouts.
type RK4 struct{}

func NewRK4() *RK4 {
	return &RK4{}
}

func (RK4) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	half := dt * 0.5

	k1 := sys.Derive(x, u, t)
	k2 := sys.Derive(x.AddScaled(k1, half), u, t+half)
	k3 := sys.Derive(x.AddScaled(k2, half), u, t+half)
	k4 := sys.Derive(x.AddScaled(k3, dt), u, t+dt)

	var result dynamo.State
	dt6 := dt / 6.0
	for i := range x {
		result[i] = x[i] + dt6*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
	}

	return result
}
