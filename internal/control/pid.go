package control

import (
	"fmt"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

// PID drives the position toward Target with an independent PID loop per
// axis.
type PID struct {
	Kp       float64
	Ki       float64
	Kd       float64
	Target   [2]float64
	integral [2]float64
	prevErr  [2]float64
	prevT    float64
	first    bool
}

func NewPID(kp, ki, kd float64, target [2]float64) *PID {
	return &PID{
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		Target: target,
		first:  true,
	}
}

func (p *PID) Compute(x dynamo.State, t float64) dynamo.Control {
	pos := x.Position()
	var err [2]float64
	for i := range err {
		err[i] = p.Target[i] - pos[i]
	}

	if p.first {
		p.prevErr = err
		p.prevT = t
		p.first = false
		return dynamo.Control{p.Kp * err[0], p.Kp * err[1]}
	}

	dt := t - p.prevT
	if dt <= 0 {
		return dynamo.Control{p.Kp * err[0], p.Kp * err[1]}
	}

	var u dynamo.Control
	for i := range err {
		p.integral[i] += err[i] * dt
		derivative := (err[i] - p.prevErr[i]) / dt
		u[i] = p.Kp*err[i] + p.Ki*p.integral[i] + p.Kd*derivative
	}

	p.prevErr = err
	p.prevT = t
	return u
}

// Reset clears integral and derivative state
func (p *PID) Reset() {
	p.integral = [2]float64{}
	p.prevErr = [2]float64{}
	p.first = true
}

// SetTarget moves the setpoint without resetting accumulated state.
func (p *PID) SetTarget(x, y float64) {
	p.Target = [2]float64{x, y}
}

// GetParams returns tunable parameters for live adjustment
func (p *PID) GetParams() map[string]float64 {
	return map[string]float64{
		"kp": p.Kp,
		"ki": p.Ki,
		"kd": p.Kd,
	}
}

func (p *PID) SetParam(name string, value float64) error {
	switch name {
	case "kp":
		p.Kp = value
	case "ki":
		p.Ki = value
	case "kd":
		p.Kd = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
