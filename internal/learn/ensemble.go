package learn

import (
	"fmt"
	"math/rand"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	InputDim  = dynamo.StateDim + dynamo.ControlDim
	OutputDim = dynamo.StateDim
)

type Config struct {
	Members      int     `json:"members" yaml:"members"`
	Hidden       int     `json:"hidden" yaml:"hidden"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	InitScale    float64 `json:"init_scale" yaml:"init_scale"`
	GradClip     float64 `json:"grad_clip" yaml:"grad_clip"`
	FullBackprop bool    `json:"full_backprop" yaml:"full_backprop"`
}

func DefaultConfig() Config {
	return Config{
		Members:      3,
		Hidden:       32,
		LearningRate: 0.005,
		InitScale:    0.1,
		GradClip:     1.0,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Members < 2:
		return dynamo.NewConfigError("ensemble.members", c.Members, "need at least two members for a variance")
	case c.Hidden < 1:
		return dynamo.NewConfigError("ensemble.hidden", c.Hidden, "must be positive")
	case !(c.LearningRate > 0):
		return dynamo.NewConfigError("ensemble.learning_rate", c.LearningRate, "must be positive")
	case !(c.InitScale > 0):
		return dynamo.NewConfigError("ensemble.init_scale", c.InitScale, "must be positive")
	case !(c.GradClip > 0):
		return dynamo.NewConfigError("ensemble.grad_clip", c.GradClip, "must be positive")
	}
	return nil
}

// Ensemble predicts the residual x_actual' - x_physics' and the members'
// disagreement about it.
//
// Predict only reads weights and may run from many goroutines at once.
// Train and Reset write weights and must not overlap with Predict.
type Ensemble struct {
	cfg     Config
	rng     *rand.Rand
	members []*MLP
}

func NewEnsemble(cfg Config, rng *rand.Rand) (*Ensemble, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Ensemble{cfg: cfg, rng: rng}
	e.Reset()
	return e, nil
}

// Reset draws fresh weights for every member.
func (e *Ensemble) Reset() {
	e.members = make([]*MLP, e.cfg.Members)
	for i := range e.members {
		e.members[i] = newMLP(InputDim, e.cfg.Hidden, OutputDim, e.cfg.InitScale, e.rng)
	}
}

// Reseed swaps in rng and redraws every member from it.
func (e *Ensemble) Reseed(rng *rand.Rand) {
	e.rng = rng
	e.Reset()
}

func (e *Ensemble) Size() int { return len(e.members) }

func input(x dynamo.State, u dynamo.Control) []float64 {
	in := make([]float64, 0, InputDim)
	in = append(in, x[:]...)
	return append(in, u[:]...)
}

// Predict returns the member-average residual and the ensemble variance
// summed over the output components (population variance across members).
func (e *Ensemble) Predict(x dynamo.State, u dynamo.Control) (dynamo.State, float64) {
	in := input(x, u)

	outs := make([][]float64, len(e.members))
	mean := make([]float64, OutputDim)
	for i, m := range e.members {
		outs[i] = m.Forward(in)
		floats.Add(mean, outs[i])
	}
	floats.Scale(1/float64(len(outs)), mean)

	variance := 0.0
	for _, o := range outs {
		d := floats.Distance(o, mean, 2)
		variance += d * d
	}
	variance /= float64(len(outs))

	var res dynamo.State
	copy(res[:], mean)
	return res, variance
}

// Train moves every member one step toward xNext - xPhysics. Samples with
// non-finite inputs or targets are ignored.
func (e *Ensemble) Train(x dynamo.State, u dynamo.Control, xNext, xPhysics dynamo.State) {
	target := xNext.Sub(xPhysics)
	in := input(x, u)
	if !finite(in) || !finite(target[:]) {
		return
	}

	dynamo.ParallelFor(len(e.members), 1, func(start, end int) {
		for _, m := range e.members[start:end] {
			m.train(in, target[:], e.cfg.LearningRate, e.cfg.GradClip, e.cfg.FullBackprop)
		}
	})
}

// Finite reports whether every member weight is a finite number.
func (e *Ensemble) Finite() bool {
	for _, m := range e.members {
		if !m.finite() {
			return false
		}
	}
	return true
}

// MaxAbsWeight returns the largest absolute parameter across members.
func (e *Ensemble) MaxAbsWeight() float64 {
	maxAbs := 0.0
	for _, m := range e.members {
		if w := m.MaxAbsWeight(); w > maxAbs {
			maxAbs = w
		}
	}
	return maxAbs
}

// LayerWeights is a row-major copy of one dense layer.
type LayerWeights struct {
	Rows    int       `json:"rows"`
	Cols    int       `json:"cols"`
	Weights []float64 `json:"weights"`
	Biases  []float64 `json:"biases"`
}

type MemberWeights struct {
	Layers []LayerWeights `json:"layers"`
}

type Snapshot struct {
	Members []MemberWeights `json:"members"`
}

func exportLayer(l layer) LayerWeights {
	rows, cols := l.w.Dims()
	w := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		w = append(w, l.w.RawRowView(i)...)
	}
	return LayerWeights{
		Rows:    rows,
		Cols:    cols,
		Weights: w,
		Biases:  append([]float64(nil), l.b.RawVector().Data...),
	}
}

// Snapshot copies every member's weights.
func (e *Ensemble) Snapshot() Snapshot {
	s := Snapshot{Members: make([]MemberWeights, len(e.members))}
	for i, m := range e.members {
		s.Members[i] = MemberWeights{Layers: []LayerWeights{
			exportLayer(m.input),
			exportLayer(m.hidden),
			exportLayer(m.output),
		}}
	}
	return s
}

func (e *Ensemble) shapes() [3][2]int {
	h := e.cfg.Hidden
	return [3][2]int{{h, InputDim}, {h, h}, {OutputDim, h}}
}

// Restore replaces every member's weights with s. The snapshot must match
// the ensemble's configured shape; on error the ensemble is unchanged.
func (e *Ensemble) Restore(s Snapshot) error {
	if len(s.Members) != e.cfg.Members {
		return fmt.Errorf("ensemble has %d members, snapshot %d: %w", e.cfg.Members, len(s.Members), dynamo.ErrSnapshot)
	}

	shapes := e.shapes()
	members := make([]*MLP, len(s.Members))
	for i, mw := range s.Members {
		if len(mw.Layers) != len(shapes) {
			return fmt.Errorf("member %d has %d layers: %w", i, len(mw.Layers), dynamo.ErrSnapshot)
		}
		var layers [3]layer
		for j, lw := range mw.Layers {
			rows, cols := shapes[j][0], shapes[j][1]
			if lw.Rows != rows || lw.Cols != cols || len(lw.Weights) != rows*cols || len(lw.Biases) != rows {
				return fmt.Errorf("member %d layer %d shape %dx%d, want %dx%d: %w",
					i, j, lw.Rows, lw.Cols, rows, cols, dynamo.ErrSnapshot)
			}
			if !finite(lw.Weights) || !finite(lw.Biases) {
				return fmt.Errorf("member %d layer %d holds non-finite weights: %w", i, j, dynamo.ErrSnapshot)
			}
			layers[j] = layer{
				w: mat.NewDense(rows, cols, append([]float64(nil), lw.Weights...)),
				b: mat.NewVecDense(rows, append([]float64(nil), lw.Biases...)),
			}
		}
		members[i] = &MLP{input: layers[0], hidden: layers[1], output: layers[2]}
	}

	e.members = members
	return nil
}
