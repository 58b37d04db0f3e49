package dynamo

import "math"

// Component indices into a State.
const (
	PosX = iota
	PosY
	VelX
	VelY
	Angle
	AngVel
)

const (
	StateDim   = 6
	ControlDim = 2
)

// State is the measured or predicted point-mass state.
type State [StateDim]float64

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	for i := range s {
		s[i] += other[i]
	}
	return s
}

func (s State) Sub(other State) State {
	for i := range s {
		s[i] -= other[i]
	}
	return s
}

func (s State) Scale(factor float64) State {
	for i := range s {
		s[i] *= factor
	}
	return s
}

// AddScaled returns s + factor*other.
func (s State) AddScaled(other State, factor float64) State {
	for i := range s {
		s[i] += factor * other[i]
	}
	return s
}

// Distance returns the euclidean distance between two states.
func (s State) Distance(other State) float64 {
	return s.Sub(other).Norm()
}

// Position returns the (x, y) components.
func (s State) Position() [2]float64 {
	return [2]float64{s[PosX], s[PosY]}
}

// Control is a force applied to the point mass.
type Control [ControlDim]float64

func (c Control) IsValid() bool {
	return !math.IsNaN(c[0]) && !math.IsInf(c[0], 0) &&
		!math.IsNaN(c[1]) && !math.IsInf(c[1], 0)
}

// SquaredNorm returns fx² + fy².
func (c Control) SquaredNorm() float64 {
	return c[0]*c[0] + c[1]*c[1]
}

type System interface {
	Derive(x State, u Control, t float64) State
}

type Integrator interface {
	Step(sys System, x State, u Control, t float64, dt float64) State
}

type Controller interface {
	Compute(x State, t float64) Control
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, t float64)
}

type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}
