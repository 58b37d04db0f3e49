package physics

import (
	"math"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

const (
	DefaultDt       = 1.0 / 60.0
	DefaultMass     = 1.0
	DefaultFriction = 0.1
	DefaultGravity  = 0.5

	// Secondary terms carried for the presentation layer; the controller
	// never reads or mutates them.
	DefaultStiffness = 400.0
	DefaultDamping   = 0.15
)

// Params are the physical parameters of the analytical model.
type Params struct {
	Mass      float64 `json:"mass" yaml:"mass"`
	Friction  float64 `json:"friction" yaml:"friction"`
	Gravity   float64 `json:"gravity" yaml:"gravity"`
	Stiffness float64 `json:"stiffness" yaml:"stiffness"`
	Damping   float64 `json:"damping" yaml:"damping"`
}

func DefaultParams() Params {
	return Params{
		Mass:      DefaultMass,
		Friction:  DefaultFriction,
		Gravity:   DefaultGravity,
		Stiffness: DefaultStiffness,
		Damping:   DefaultDamping,
	}
}

// Interval is a closed range [Lo, Hi].
type Interval struct {
	Lo float64 `json:"lo" yaml:"lo"`
	Hi float64 `json:"hi" yaml:"hi"`
}

// Clamp projects v into the interval. NaN projects to Lo.
func (r Interval) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Lo
	}
	return math.Max(r.Lo, math.Min(r.Hi, v))
}

func (r Interval) Contains(v float64) bool {
	return v >= r.Lo && v <= r.Hi
}

// Bounds are the admissible ranges of the identified parameters.
type Bounds struct {
	Mass     Interval `json:"mass" yaml:"mass"`
	Friction Interval `json:"friction" yaml:"friction"`
}

func DefaultBounds() Bounds {
	return Bounds{
		Mass:     Interval{Lo: 0.1, Hi: 5.0},
		Friction: Interval{Lo: 0.0, Hi: 1.0},
	}
}

func (b Bounds) Validate() error {
	if !(b.Mass.Lo < b.Mass.Hi) {
		return dynamo.NewConfigError("bounds.mass", b.Mass, "lower bound must be below upper bound")
	}
	if b.Mass.Lo <= 0 {
		return dynamo.NewConfigError("bounds.mass.lo", b.Mass.Lo, "mass must stay positive")
	}
	if !(b.Friction.Lo < b.Friction.Hi) {
		return dynamo.NewConfigError("bounds.friction", b.Friction, "lower bound must be below upper bound")
	}
	return nil
}

// Project clamps mass and friction into b. Other fields pass through.
func (b Bounds) Project(p Params) Params {
	p.Mass = b.Mass.Clamp(p.Mass)
	p.Friction = b.Friction.Clamp(p.Friction)
	return p
}

func (b Bounds) Contains(p Params) bool {
	return b.Mass.Contains(p.Mass) && b.Friction.Contains(p.Friction)
}
