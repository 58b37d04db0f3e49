// Package sysid adapts the analytical model's mass and friction online.
//
// Each update is one step of projected gradient descent on the one-step
// prediction error, with the gradient taken by forward finite differences.
// The cost is three RK4 steps per tick regardless of history length.
package sysid

import (
	"math"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/physics"
	"gonum.org/v1/gonum/floats"
)

type Config struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Epsilon      float64 `json:"epsilon" yaml:"epsilon"`
	Patience     int     `json:"patience" yaml:"patience"`
	Decay        float64 `json:"decay" yaml:"decay"`
	Growth       float64 `json:"growth" yaml:"growth"`
	Dt           float64 `json:"dt" yaml:"dt"`
}

func DefaultConfig() Config {
	return Config{
		LearningRate: 0.008,
		Epsilon:      1e-3,
		Patience:     3,
		Decay:        0.5,
		Growth:       1.05,
		Dt:           physics.DefaultDt,
	}
}

func (c Config) Validate() error {
	switch {
	case !(c.LearningRate > 0):
		return dynamo.NewConfigError("identifier.learning_rate", c.LearningRate, "must be positive")
	case !(c.Epsilon > 0):
		return dynamo.NewConfigError("identifier.epsilon", c.Epsilon, "must be positive")
	case c.Patience < 0:
		return dynamo.NewConfigError("identifier.patience", c.Patience, "must not be negative")
	case !(c.Decay > 0 && c.Decay < 1):
		return dynamo.NewConfigError("identifier.decay", c.Decay, "must be in (0, 1)")
	case !(c.Growth >= 1):
		return dynamo.NewConfigError("identifier.growth", c.Growth, "must be at least 1")
	case !(c.Dt > 0):
		return dynamo.NewConfigError("identifier.dt", c.Dt, "must be positive")
	}
	return nil
}

// State is the identifier's adaptive bookkeeping.
type State struct {
	LearningRate float64 `json:"learning_rate"`
	Regressions  int     `json:"regressions"`
	LastError    float64 `json:"-"`
}

// Update is the outcome of one identification step.
type Update struct {
	Params       physics.Params
	Error        float64
	GradMass     float64
	GradFriction float64
	LearningRate float64
}

type Identifier struct {
	cfg    Config
	bounds physics.Bounds
	state  State
}

func New(cfg Config, bounds physics.Bounds) (*Identifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	id := &Identifier{cfg: cfg, bounds: bounds}
	id.Reset()
	return id, nil
}

func (id *Identifier) Reset() {
	id.state = State{
		LearningRate: id.cfg.LearningRate,
		LastError:    math.Inf(1),
	}
}

func (id *Identifier) State() State { return id.state }

// SetState restores bookkeeping from a snapshot. The learning rate is
// clamped to (0, initial].
func (id *Identifier) SetState(s State) {
	if !(s.LearningRate > 0) || s.LearningRate > id.cfg.LearningRate {
		s.LearningRate = id.cfg.LearningRate
	}
	if s.Regressions < 0 {
		s.Regressions = 0
	}
	if math.IsNaN(s.LastError) {
		s.LastError = math.Inf(1)
	}
	id.state = s
}

func (id *Identifier) Bounds() physics.Bounds { return id.bounds }

func predictionError(prev dynamo.State, u dynamo.Control, curr dynamo.State, p physics.Params, dt float64) float64 {
	pred := physics.StepRK4(prev, u, p, dt)
	return floats.Distance(curr[:], pred[:], 2)
}

// Update compares the model's prediction of curr from prev under u with the
// measurement and returns projected parameters. It never fails: whatever the
// gradient, the result lies within the identifier's bounds.
func (id *Identifier) Update(prev dynamo.State, u dynamo.Control, curr dynamo.State, p physics.Params) Update {
	p = id.bounds.Project(p)
	dt := id.cfg.Dt
	err := predictionError(prev, u, curr, p, dt)

	s := &id.state
	if !isFinite(err) {
		return Update{Params: p, Error: err, LearningRate: s.LearningRate}
	}

	if err > s.LastError {
		s.Regressions++
		if s.Regressions > id.cfg.Patience {
			s.LearningRate *= id.cfg.Decay
		}
	} else {
		s.Regressions = 0
		s.LearningRate = math.Min(id.cfg.LearningRate, s.LearningRate*id.cfg.Growth)
	}
	s.LastError = err

	eps := id.cfg.Epsilon

	massPlus := p
	massPlus.Mass += eps
	gradMass := (predictionError(prev, u, curr, massPlus, dt) - err) / eps

	frictionPlus := p
	frictionPlus.Friction += eps
	gradFriction := (predictionError(prev, u, curr, frictionPlus, dt) - err) / eps

	next := p
	if isFinite(gradMass) {
		next.Mass -= s.LearningRate * gradMass
	}
	if isFinite(gradFriction) {
		next.Friction -= s.LearningRate * gradFriction
	}
	next = id.bounds.Project(next)

	return Update{
		Params:       next,
		Error:        err,
		GradMass:     gradMass,
		GradFriction: gradFriction,
		LearningRate: s.LearningRate,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
