package learn

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnsemble(t testing.TB, seed int64, mutate ...func(*Config)) *Ensemble {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEnsemble(cfg, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return e
}

func randomInput(rng *rand.Rand, scale float64) (dynamo.State, dynamo.Control) {
	var x dynamo.State
	for i := range x {
		x[i] = (rng.Float64()*2 - 1) * scale
	}
	return x, dynamo.Control{(rng.Float64()*2 - 1) * scale, (rng.Float64()*2 - 1) * scale}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"one member":    func(c *Config) { c.Members = 1 },
		"no hidden":     func(c *Config) { c.Hidden = 0 },
		"zero lr":       func(c *Config) { c.LearningRate = 0 },
		"NaN lr":        func(c *Config) { c.LearningRate = math.NaN() },
		"zero scale":    func(c *Config) { c.InitScale = 0 },
		"negative clip": func(c *Config) { c.GradClip = -1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		assert.ErrorIs(t, err, dynamo.ErrConfiguration, name)
	}
}

func TestPredictShapeAndDeterminism(t *testing.T) {
	e := newTestEnsemble(t, 1)
	assert.Equal(t, 3, e.Size())

	x := dynamo.State{1, 2, 3, 4, 5, 6}
	u := dynamo.Control{0.5, -0.5}

	mean, variance := e.Predict(x, u)
	assert.True(t, mean.IsValid())
	assert.GreaterOrEqual(t, variance, 0.0)

	mean2, variance2 := e.Predict(x, u)
	assert.Equal(t, mean, mean2)
	assert.Equal(t, variance, variance2)
}

func TestTrainConvergesOnFixedResidual(t *testing.T) {
	for _, full := range []bool{false, true} {
		e := newTestEnsemble(t, 7, func(c *Config) { c.FullBackprop = full })

		x := dynamo.State{0.2, -0.1, 0.3, 0.05, 0, 0}
		u := dynamo.Control{0.1, 0.2}
		residual := dynamo.State{0.3, -0.2, 0.1, 0, 0.05, -0.1}
		xPhys := dynamo.State{1, 1, 1, 1, 1, 1}
		xNext := xPhys.Add(residual)

		before, _ := e.Predict(x, u)
		for i := 0; i < 3000; i++ {
			e.Train(x, u, xNext, xPhys)
		}
		after, variance := e.Predict(x, u)

		assert.Less(t, after.Distance(residual), before.Distance(residual), "full=%v", full)
		assert.InDelta(t, 0, after.Distance(residual), 1e-2, "full=%v", full)
		assert.Less(t, variance, 1e-4, "members should agree on a trained point (full=%v)", full)
	}
}

func TestUncertaintyGrowsWithNovelty(t *testing.T) {
	var inDist, outDist float64
	const trials = 5

	for seed := int64(0); seed < trials; seed++ {
		e := newTestEnsemble(t, 100+seed)
		rng := rand.New(rand.NewSource(seed))

		for i := 0; i < 500; i++ {
			x, u := randomInput(rng, 1)
			xPhys := x
			xNext := x.Add(dynamo.State{0.05 * math.Sin(x[0]), 0.05 * math.Cos(x[1]), 0.01 * u[0], 0.01 * u[1], 0, 0})
			e.Train(x, u, xNext, xPhys)
		}

		_, vIn := e.Predict(dynamo.State{0.3, -0.2, 0.1, 0.4, 0, 0.1}, dynamo.Control{0.2, -0.1})
		_, vOut := e.Predict(dynamo.State{80, -60, 40, 70, 20, -30}, dynamo.Control{50, 50})
		inDist += vIn
		outDist += vOut
	}

	assert.Greater(t, outDist/trials, inDist/trials)
}

func TestTrainStaysBoundedUnderAdversarialInputs(t *testing.T) {
	for _, full := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.FullBackprop = full
		e := newTestEnsemble(t, 3, func(c *Config) { *c = cfg })

		huge := []float64{1e6, -1e6, 1e150, 1e300, math.MaxFloat64}
		steps := 0
		for _, h := range huge {
			for i := 0; i < 20; i++ {
				x := dynamo.State{h, -h, h, h, -h, h}
				e.Train(x, dynamo.Control{h, -h}, dynamo.State{-h, h, 0, 0, 0, 0}, dynamo.State{})
				steps++
			}
		}
		e.Train(dynamo.State{math.NaN()}, dynamo.Control{}, dynamo.State{}, dynamo.State{})
		e.Train(dynamo.State{}, dynamo.Control{math.Inf(1)}, dynamo.State{}, dynamo.State{})
		e.Train(dynamo.State{}, dynamo.Control{}, dynamo.State{math.Inf(-1)}, dynamo.State{})

		require.True(t, e.Finite(), "full=%v", full)
		limit := cfg.InitScale/2 + float64(steps)*cfg.LearningRate*cfg.GradClip
		assert.LessOrEqual(t, e.MaxAbsWeight(), limit, "full=%v", full)

		mean, variance := e.Predict(dynamo.State{0.1, 0.1}, dynamo.Control{})
		assert.True(t, mean.IsValid())
		assert.False(t, math.IsNaN(variance))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newTestEnsemble(t, 11)
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 50; i++ {
		x, u := randomInput(rng, 2)
		src.Train(x, u, x.Scale(1.1), x)
	}

	dst := newTestEnsemble(t, 12)
	require.NoError(t, dst.Restore(src.Snapshot()))
	assert.Equal(t, src.Snapshot(), dst.Snapshot())

	for i := 0; i < 10; i++ {
		x, u := randomInput(rng, 3)
		m1, v1 := src.Predict(x, u)
		m2, v2 := dst.Predict(x, u)
		assert.Equal(t, m1, m2)
		assert.Equal(t, v1, v2)
	}

	// restored weights are copies
	snap := dst.Snapshot()
	snap.Members[0].Layers[0].Weights[0] = 42
	assert.NotEqual(t, 42.0, dst.Snapshot().Members[0].Layers[0].Weights[0])
}

func TestRestoreRejectsMismatchedShape(t *testing.T) {
	e := newTestEnsemble(t, 1)
	before := e.Snapshot()

	small := newTestEnsemble(t, 1, func(c *Config) { c.Hidden = 8 })
	assert.ErrorIs(t, e.Restore(small.Snapshot()), dynamo.ErrSnapshot)

	two := newTestEnsemble(t, 1, func(c *Config) { c.Members = 2 })
	assert.ErrorIs(t, e.Restore(two.Snapshot()), dynamo.ErrSnapshot)

	bad := e.Snapshot()
	bad.Members[1].Layers[2].Biases[0] = math.NaN()
	assert.ErrorIs(t, e.Restore(bad), dynamo.ErrSnapshot)

	assert.Equal(t, before, e.Snapshot())
}

func TestResetRedrawsWeights(t *testing.T) {
	e := newTestEnsemble(t, 1)
	before := e.Snapshot()
	e.Reset()
	assert.NotEqual(t, before, e.Snapshot())
	assert.Equal(t, 3, e.Size())
}

func TestReseedReproducesConstruction(t *testing.T) {
	e := newTestEnsemble(t, 4)
	want := e.Snapshot()

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 20; i++ {
		x, u := randomInput(rng, 3)
		e.Train(x, u, x, dynamo.State{})
	}
	e.Reseed(rand.New(rand.NewSource(4)))
	assert.Equal(t, want, e.Snapshot())
}

func TestConcurrentPredict(t *testing.T) {
	e := newTestEnsemble(t, 9)
	x := dynamo.State{1, 2, 3, 4, 5, 6}
	u := dynamo.Control{1, 1}
	want, wantVar := e.Predict(x, u)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, v := e.Predict(x, u)
				if got != want || v != wantVar {
					t.Error("concurrent predict diverged")
					return
				}
			}
		}()
	}
	wg.Wait()
}
