package metrics

import (
	"math"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

// Energy is the mean kinetic energy ½mv² of the point mass.
type Energy struct {
	name        string
	mass        float64
	samples     int
	totalEnergy float64
}

func NewEnergy(mass float64) *Energy {
	return &Energy{
		name: "energy",
		mass: mass,
	}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(x dynamo.State, u dynamo.Control, t float64) {
	vx, vy := x[dynamo.VelX], x[dynamo.VelY]
	ke := 0.5 * e.mass * (vx*vx + vy*vy)
	if math.IsNaN(ke) || math.IsInf(ke, 0) {
		return
	}
	e.totalEnergy += ke
	e.samples++
}

func (e *Energy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.totalEnergy / float64(e.samples)
}

func (e *Energy) Reset() {
	e.totalEnergy = 0
	e.samples = 0
}
