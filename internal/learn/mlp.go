package learn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

type layer struct {
	w *mat.Dense    // out × in
	b *mat.VecDense // out
}

func newLayer(in, out int, scale float64, rng *rand.Rand) layer {
	data := make([]float64, out*in)
	for i := range data {
		data[i] = (rng.Float64() - 0.5) * scale
	}
	return layer{
		w: mat.NewDense(out, in, data),
		b: mat.NewVecDense(out, nil),
	}
}

func (l layer) apply(in *mat.VecDense, relu bool) *mat.VecDense {
	rows, _ := l.w.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(l.w, in)
	out.AddVec(out, l.b)
	if relu {
		raw := out.RawVector().Data
		for i, v := range raw {
			if v < 0 {
				raw[i] = 0
			}
		}
	}
	return out
}

// MLP is a ReLU network with two hidden layers and a linear output.
type MLP struct {
	input, hidden, output layer
}

func newMLP(in, hidden, out int, scale float64, rng *rand.Rand) *MLP {
	return &MLP{
		input:  newLayer(in, hidden, scale, rng),
		hidden: newLayer(hidden, hidden, scale, rng),
		output: newLayer(hidden, out, scale, rng),
	}
}

type activations struct {
	in, h1, h2, out *mat.VecDense
}

func (m *MLP) forward(in []float64) activations {
	a := activations{in: mat.NewVecDense(len(in), in)}
	a.h1 = m.input.apply(a.in, true)
	a.h2 = m.hidden.apply(a.h1, true)
	a.out = m.output.apply(a.h2, false)
	return a
}

// Forward returns the network output for in.
func (m *MLP) Forward(in []float64) []float64 {
	return m.forward(in).out.RawVector().Data
}

// train takes one clipped gradient step on the squared error to target.
// Gradients are taken before any layer is modified. A step whose error
// signal is not finite is dropped and train reports false.
func (m *MLP) train(in, target []float64, lr, clip float64, full bool) bool {
	a := m.forward(in)
	out := a.out.RawVector().Data

	dOut := mat.NewVecDense(len(out), nil)
	for i, o := range out {
		dOut.SetVec(i, o-target[i])
	}
	if !finite(dOut.RawVector().Data) {
		return false
	}

	var dH2, dH1 *mat.VecDense
	if full {
		dH2 = backprop(m.output, dOut, a.h2)
		dH1 = backprop(m.hidden, dH2, a.h1)
		full = finite(dH2.RawVector().Data) && finite(dH1.RawVector().Data)
	}

	descend(m.output, dOut, a.h2, lr, clip)
	if full {
		descend(m.hidden, dH2, a.h1, lr, clip)
		descend(m.input, dH1, a.in, lr, clip)
	}
	return true
}

// backprop returns dL/d(pre-activation) of the layer feeding l, given
// dL/d(output of l) and that layer's post-ReLU activation.
func backprop(l layer, grad, act *mat.VecDense) *mat.VecDense {
	_, cols := l.w.Dims()
	d := mat.NewVecDense(cols, nil)
	d.MulVec(l.w.T(), grad)
	for i := 0; i < cols; i++ {
		if act.AtVec(i) <= 0 {
			d.SetVec(i, 0)
		}
	}
	return d
}

func descend(l layer, grad, in *mat.VecDense, lr, clip float64) {
	w := l.w.RawMatrix()
	g := grad.RawVector().Data
	x := in.RawVector().Data
	b := l.b.RawVector().Data

	for i := 0; i < w.Rows; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.Cols]
		for j := range row {
			row[j] -= lr * clamp(g[i]*x[j], clip)
		}
		b[i] -= lr * clamp(g[i], clip)
	}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

func finite(vs []float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (m *MLP) finite() bool {
	for _, l := range []layer{m.input, m.hidden, m.output} {
		if !finite(l.w.RawMatrix().Data) || !finite(l.b.RawVector().Data) {
			return false
		}
	}
	return true
}

// MaxAbsWeight returns the largest absolute parameter in the network.
func (m *MLP) MaxAbsWeight() float64 {
	maxAbs := 0.0
	for _, l := range []layer{m.input, m.hidden, m.output} {
		for _, v := range l.w.RawMatrix().Data {
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
		for _, v := range l.b.RawVector().Data {
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
	}
	return maxAbs
}
