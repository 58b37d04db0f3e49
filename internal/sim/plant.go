package sim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/integrators"
)

// PlantParams describe the ground truth. Drag, wind and noise are
// deliberately absent from the controller's analytical model.
type PlantParams struct {
	Mass     float64    `yaml:"mass" json:"mass"`
	Friction float64    `yaml:"friction" json:"friction"`
	Gravity  float64    `yaml:"gravity" json:"gravity"`
	Drag     float64    `yaml:"drag" json:"drag"`
	Wind     [2]float64 `yaml:"wind" json:"wind"`
	Noise    float64    `yaml:"noise" json:"noise"`
	// Integrator is "rk4" (fixed sub-steps, the default) or "rk45"
	// (adaptive Dormand-Prince over each tick).
	Integrator string `yaml:"integrator,omitempty" json:"integrator,omitempty"`
}

// Plant integrator names.
const (
	IntegratorRK4  = "rk4"
	IntegratorRK45 = "rk45"
)

// adaptiveTolerance is the relative error the rk45 plant integrates to.
const adaptiveTolerance = 1e-9

func DefaultPlantParams() PlantParams {
	return PlantParams{
		Mass:     1.6,
		Friction: 0.25,
		Gravity:  0.5,
		Drag:     0.002,
	}
}

func (p PlantParams) Validate() error {
	switch {
	case !(p.Mass > 0):
		return dynamo.NewConfigError("plant.mass", p.Mass, "must be positive")
	case p.Friction < 0:
		return dynamo.NewConfigError("plant.friction", p.Friction, "must not be negative")
	case p.Drag < 0:
		return dynamo.NewConfigError("plant.drag", p.Drag, "must not be negative")
	case p.Noise < 0:
		return dynamo.NewConfigError("plant.noise", p.Noise, "must not be negative")
	case p.Integrator != "" && p.Integrator != IntegratorRK4 && p.Integrator != IntegratorRK45:
		return dynamo.NewConfigError("plant.integrator", p.Integrator, "must be rk4 or rk45")
	}
	return nil
}

// Plant is the simulated "real" system the controller is closed around.
type Plant struct {
	params   PlantParams
	integ    integrators.RK4
	adaptive *integrators.RK45
	rng      *rand.Rand
}

func NewPlant(p PlantParams, seed int64) (*Plant, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Plant{
		params:   p,
		adaptive: integrators.NewRK45(),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (p *Plant) Params() PlantParams { return p.params }

func (p *Plant) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	pp := p.params
	vx, vy := x[dynamo.VelX], x[dynamo.VelY]
	speed := math.Hypot(vx, vy)
	ax := (u[0]+pp.Wind[0]-pp.Drag*speed*vx)/pp.Mass - pp.Friction*vx
	ay := (u[1]+pp.Wind[1]-pp.Drag*speed*vy)/pp.Mass - pp.Friction*vy + pp.Gravity
	return dynamo.State{vx, vy, ax, ay, x[dynamo.AngVel], 0}
}

// Advance integrates the true dynamics over dt, with n RK4 sub-steps or
// adaptively when the plant uses rk45.
func (p *Plant) Advance(x dynamo.State, u dynamo.Control, t, dt float64, n int) dynamo.State {
	if p.params.Integrator == IntegratorRK45 {
		return p.adaptive.Integrate(p, x, u, t, dt, adaptiveTolerance)
	}
	return integrators.Substep(p.integ, p, x, u, t, dt, n)
}

// Measure returns x corrupted by zero-mean Gaussian sensor noise.
func (p *Plant) Measure(x dynamo.State) dynamo.State {
	if p.params.Noise == 0 {
		return x
	}
	for i := range x {
		x[i] += p.rng.NormFloat64() * p.params.Noise
	}
	return x
}

// Shift changes the true friction. Passing a negative value toggles
// between a slippery and a sticky surface.
func (p *Plant) Shift(friction float64) float64 {
	if friction < 0 {
		if p.params.Friction > 0.4 {
			friction = 0.05
		} else {
			friction = 0.7
		}
	}
	p.params.Friction = friction
	return friction
}

func (p *Plant) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":     p.params.Mass,
		"friction": p.params.Friction,
		"gravity":  p.params.Gravity,
		"drag":     p.params.Drag,
		"wind_x":   p.params.Wind[0],
		"wind_y":   p.params.Wind[1],
		"noise":    p.params.Noise,
	}
}

func (p *Plant) SetParam(name string, value float64) error {
	next := p.params
	switch name {
	case "mass":
		next.Mass = value
	case "friction":
		next.Friction = value
	case "gravity":
		next.Gravity = value
	case "drag":
		next.Drag = value
	case "wind_x":
		next.Wind[0] = value
	case "wind_y":
		next.Wind[1] = value
	case "noise":
		next.Noise = value
	default:
		return fmt.Errorf("unknown plant param: %s", name)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	p.params = next
	return nil
}
