package sim

import (
	"github.com/san-kum/hybridctl/internal/control"
	"github.com/san-kum/hybridctl/internal/diagnostics"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/physics"
)

// Stepper is a controller that reports its own per-tick diagnostics.
// When the simulator's controller implements it, Step replaces Compute.
type Stepper interface {
	Step(measured dynamo.State, appliedPrev dynamo.Control) control.StepResult
}

// Targeter accepts a moving target.
type Targeter interface {
	SetTarget(x, y float64)
}

// WeightSetter accepts advisory cost-weight updates.
type WeightSetter interface {
	SetCostWeights(q, r float64) error
}

// BeliefResetter can forget what it has learned.
type BeliefResetter interface {
	ResetBeliefs()
}

// Hook runs before every tick and may mutate the environment.
type Hook interface {
	BeforeTick(tick int, env *Env) error
}

type Config struct {
	Ticks         int     `yaml:"ticks"`
	Dt            float64 `yaml:"dt"`
	Substeps      int     `yaml:"substeps"`
	ValidateState bool    `yaml:"validate_state"`
	// SettleRadius is the distance under which the body counts as on
	// target for the settled metric.
	SettleRadius float64 `yaml:"settle_radius"`
}

func DefaultConfig() Config {
	return Config{
		Ticks:         600,
		Dt:            physics.DefaultDt,
		Substeps:      4,
		ValidateState: true,
		SettleRadius:  10,
	}
}

type Result struct {
	States           []dynamo.State
	Actions          []dynamo.Control
	Times            []float64
	PredictionErrors []float64
	Uncertainties    []float64
	Params           []physics.Params
	Metrics          map[string]float64
	Diagnostics      diagnostics.Summary
	Errors           []error
	StepsTaken       int
	Degenerate       int
	Seed             int64
}

// Final returns the last recorded state.
func (r *Result) Final() dynamo.State {
	if len(r.States) == 0 {
		return dynamo.State{}
	}
	return r.States[len(r.States)-1]
}

// FinalParams returns the last parameter estimate, if the controller
// reported any.
func (r *Result) FinalParams() (physics.Params, bool) {
	if len(r.Params) == 0 {
		return physics.Params{}, false
	}
	return r.Params[len(r.Params)-1], true
}
