package physics

import (
	"fmt"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/integrators"
)

// Derivative returns dx/dt for the actuated point mass:
//
//	ax = fx/m - c*vx
//	ay = fy/m - c*vy + g
//
// The caller guarantees m > 0; Bounds.Project is where that is enforced.
func Derivative(x dynamo.State, u dynamo.Control, p Params) dynamo.State {
	vx, vy, omega := x[dynamo.VelX], x[dynamo.VelY], x[dynamo.AngVel]

	ax := u[0]/p.Mass - p.Friction*vx
	ay := u[1]/p.Mass - p.Friction*vy + p.Gravity

	return dynamo.State{vx, vy, ax, ay, omega, 0}
}

var rk4 = integrators.NewRK4()

// StepRK4 advances x by dt under constant control u.
func StepRK4(x dynamo.State, u dynamo.Control, p Params, dt float64) dynamo.State {
	return rk4.Step(PointMass{Params: p}, x, u, 0, dt)
}

// Step advances x by DefaultDt.
func Step(x dynamo.State, u dynamo.Control, p Params) dynamo.State {
	return StepRK4(x, u, p, DefaultDt)
}

// PointMass adapts Derivative to dynamo.System.
type PointMass struct {
	Params Params
}

func NewPointMass(p Params) *PointMass {
	return &PointMass{Params: p}
}

func (pm PointMass) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return Derivative(x, u, pm.Params)
}

func (pm *PointMass) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":      pm.Params.Mass,
		"friction":  pm.Params.Friction,
		"gravity":   pm.Params.Gravity,
		"stiffness": pm.Params.Stiffness,
		"damping":   pm.Params.Damping,
	}
}

func (pm *PointMass) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		if value <= 0 {
			return fmt.Errorf("mass=%v: %w", value, dynamo.ErrParameterBounds)
		}
		pm.Params.Mass = value
	case "friction":
		pm.Params.Friction = value
	case "gravity":
		pm.Params.Gravity = value
	case "stiffness":
		pm.Params.Stiffness = value
	case "damping":
		pm.Params.Damping = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

// ControlJacobian returns d(StepRK4)/du by central differences, one row
// per control component.
func ControlJacobian(x dynamo.State, u dynamo.Control, p Params, dt float64) [dynamo.ControlDim]dynamo.State {
	const eps = 1e-4

	var jac [dynamo.ControlDim]dynamo.State
	for i := range u {
		plus, minus := u, u
		plus[i] += eps
		minus[i] -= eps

		xPlus := StepRK4(x, plus, p, dt)
		xMinus := StepRK4(x, minus, p, dt)
		jac[i] = xPlus.Sub(xMinus).Scale(1 / (2 * eps))
	}
	return jac
}
