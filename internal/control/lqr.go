package control

import "github.com/san-kum/hybridctl/internal/dynamo"

// LQR applies u = -K (x - target) with a fixed gain matrix.
type LQR struct {
	K      [dynamo.ControlDim]dynamo.State
	Target dynamo.State
}

func NewLQR(k [dynamo.ControlDim]dynamo.State, target dynamo.State) *LQR {
	return &LQR{K: k, Target: target}
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	var u dynamo.Control
	for i := range u {
		for j := range x {
			u[i] -= l.K[i][j] * (x[j] - l.Target[j])
		}
	}
	return u
}

// SetTarget moves the position setpoint; the velocity setpoint stays zero.
func (l *LQR) SetTarget(x, y float64) {
	l.Target[dynamo.PosX] = x
	l.Target[dynamo.PosY] = y
}

// Gains of the infinite-horizon LQR for a unit-mass double integrator per
// axis with Q = diag(1, 0) and R = 0.01.
var pointMassGains = [dynamo.ControlDim]dynamo.State{
	{10.0, 0, 4.47, 0, 0, 0},
	{0, 10.0, 0, 4.47, 0, 0},
}

func NewPointMassLQR(target [2]float64) *LQR {
	return NewLQR(pointMassGains, dynamo.State{target[0], target[1]})
}
