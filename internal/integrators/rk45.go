package integrators

import (
	"math"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// DefaultTolerance is the relative error Step aims for.
const DefaultTolerance = 1e-6

// maxAdaptiveSteps bounds Integrate when the error estimate never settles.
const maxAdaptiveSteps = 100000

// RK45 is the embedded Dormand-Prince 5(4) pair with step-size control.
type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

// Step takes one fifth-order step of exactly dt and ignores the error
// estimate.
func (r *RK45) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	next, _, _ := r.StepAdaptive(sys, x, u, t, dt, DefaultTolerance)
	return next
}

// StepAdaptive takes one step of dt and returns the new state, the step
// size to try next, and whether the error estimate was within tol. A
// rejected step should be retried from x with the suggested size.
func (r *RK45) StepAdaptive(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt, tol float64) (dynamo.State, float64, bool) {
	var x2, x3, x4, x5, x6, xNew dynamo.State

	k1 := sys.Derive(x, u, t)

	for i := range x {
		x2[i] = x[i] + dt*b21*k1[i]
	}
	k2 := sys.Derive(x2, u, t+a2*dt)

	for i := range x {
		x3[i] = x[i] + dt*(b31*k1[i]+b32*k2[i])
	}
	k3 := sys.Derive(x3, u, t+a3*dt)

	for i := range x {
		x4[i] = x[i] + dt*(b41*k1[i]+b42*k2[i]+b43*k3[i])
	}
	k4 := sys.Derive(x4, u, t+a4*dt)

	for i := range x {
		x5[i] = x[i] + dt*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
	}
	k5 := sys.Derive(x5, u, t+a5*dt)

	for i := range x {
		x6[i] = x[i] + dt*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
	}
	k6 := sys.Derive(x6, u, t+dt)

	for i := range x {
		xNew[i] = x[i] + dt*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
	}

	k7 := sys.Derive(xNew, u, t+dt)

	errMax := 0.0
	for i := range x {
		errEst := dt * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		scale := math.Abs(x[i]) + math.Abs(dt*k1[i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}

	errRatio := errMax / tol

	var dtNew float64
	switch {
	case errRatio > 1:
		dtNew = dt * math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
	case errRatio > 0:
		dtNew = dt * math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
	default:
		dtNew = dt * r.maxScale
	}

	// a NaN ratio is accepted so the caller sees the non-finite state
	return xNew, dtNew, !(errRatio > 1)
}

// Integrate advances x over exactly dt, subdividing wherever the error
// estimate exceeds tol.
func (r *RK45) Integrate(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt, tol float64) dynamo.State {
	remaining := dt
	h := dt
	for steps := 0; remaining > 0 && steps < maxAdaptiveSteps; steps++ {
		last := h >= remaining
		if last {
			h = remaining
		}
		next, hNext, ok := r.StepAdaptive(sys, x, u, t, h, tol)
		if ok {
			x = next
			if last || !x.IsValid() {
				break
			}
			t += h
			remaining -= h
		}
		h = hNext
	}
	return x
}
