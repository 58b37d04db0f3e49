package metrics

import (
	"math"

	"github.com/san-kum/hybridctl/internal/dynamo"
)

// Stability is the fraction of ticks whose speed stayed under threshold
// and whose state was finite.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	speed := math.Hypot(x[dynamo.VelX], x[dynamo.VelY])
	if !x.IsValid() || speed > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
