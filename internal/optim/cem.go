package optim

import (
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/physics"
	"github.com/sourcegraph/conc/pool"
)

// Residual is the learned correction queried during rollouts. Predict
// must be safe for concurrent use.
type Residual interface {
	Predict(x dynamo.State, u dynamo.Control) (dynamo.State, float64)
}

// CostWeights scale the tracking (Q) and effort (R) terms of the cost.
type CostWeights struct {
	Q float64 `json:"q" yaml:"q"`
	R float64 `json:"r" yaml:"r"`
}

func DefaultWeights() CostWeights {
	return CostWeights{Q: 1.5, R: 0.05}
}

func (w CostWeights) Validate() error {
	if !(w.Q > 0) || math.IsInf(w.Q, 0) {
		return dynamo.NewConfigError("weights.q", w.Q, "must be positive and finite")
	}
	if !(w.R > 0) || math.IsInf(w.R, 0) {
		return dynamo.NewConfigError("weights.r", w.R, "must be positive and finite")
	}
	return nil
}

type Config struct {
	Horizon           int     `json:"horizon" yaml:"horizon"`
	Samples           int     `json:"samples" yaml:"samples"`
	Elites            int     `json:"elites" yaml:"elites"`
	Iterations        int     `json:"iterations" yaml:"iterations"`
	InitStd           float64 `json:"init_std" yaml:"init_std"`
	StdFloor          float64 `json:"std_floor" yaml:"std_floor"`
	UncertaintyWeight float64 `json:"uncertainty_weight" yaml:"uncertainty_weight"`
	Dt                float64 `json:"dt" yaml:"dt"`
	Workers           int     `json:"workers" yaml:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Horizon:           12,
		Samples:           128,
		Elites:            12,
		Iterations:        2,
		InitStd:           0.2,
		StdFloor:          0.05,
		UncertaintyWeight: 3.0,
		Dt:                physics.DefaultDt,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Horizon <= 0:
		return dynamo.NewConfigError("optimizer.horizon", c.Horizon, "must be positive")
	case c.Samples <= 0:
		return dynamo.NewConfigError("optimizer.samples", c.Samples, "must be positive")
	case c.Elites <= 0:
		return dynamo.NewConfigError("optimizer.elites", c.Elites, "must be positive")
	case c.Elites > c.Samples:
		return dynamo.NewConfigError("optimizer.elites", c.Elites, "must not exceed samples")
	case c.Iterations <= 0:
		return dynamo.NewConfigError("optimizer.iterations", c.Iterations, "must be positive")
	case !(c.InitStd > 0):
		return dynamo.NewConfigError("optimizer.init_std", c.InitStd, "must be positive")
	case !(c.StdFloor >= 0):
		return dynamo.NewConfigError("optimizer.std_floor", c.StdFloor, "must not be negative")
	case !(c.UncertaintyWeight >= 0):
		return dynamo.NewConfigError("optimizer.uncertainty_weight", c.UncertaintyWeight, "must not be negative")
	case !(c.Dt > 0):
		return dynamo.NewConfigError("optimizer.dt", c.Dt, "must be positive")
	case c.Workers < 0:
		return dynamo.NewConfigError("optimizer.workers", c.Workers, "must not be negative")
	}
	return nil
}

// Plan is the result of one optimization call.
type Plan struct {
	Action dynamo.Control
	// Uncertainty is the ensemble variance at the first horizon step,
	// averaged over the fresh samples of the final iteration. Carried-over
	// elites are not counted.
	Uncertainty float64
	// BestCosts holds the lowest candidate cost of each iteration.
	BestCosts []float64
	// Degenerate is set when no candidate had a finite cost and the
	// optimizer fell back to the zero action.
	Degenerate bool
}

type candidate struct {
	seq      []dynamo.Control
	cost     float64
	variance float64 // at horizon step 0
}

// CEM is not safe for concurrent use; it owns the warm-start buffer.
type CEM struct {
	cfg     Config
	rng     *rand.Rand
	workers int
	warm    []dynamo.Control
}

func NewCEM(cfg Config, rng *rand.Rand) (*CEM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &CEM{
		cfg:     cfg,
		rng:     rng,
		workers: workers,
		warm:    make([]dynamo.Control, cfg.Horizon),
	}, nil
}

func (c *CEM) Config() Config { return c.cfg }

// WarmStart returns a copy of the carried control sequence.
func (c *CEM) WarmStart() []dynamo.Control {
	return append([]dynamo.Control(nil), c.warm...)
}

// SetWarmStart replaces the carried sequence. Missing steps are zero and
// extra steps are dropped, so the buffer keeps its horizon length.
func (c *CEM) SetWarmStart(seq []dynamo.Control) {
	c.warm = make([]dynamo.Control, c.cfg.Horizon)
	copy(c.warm, seq)
}

// Reset clears the warm-start buffer to zero actions.
func (c *CEM) Reset() {
	c.warm = make([]dynamo.Control, c.cfg.Horizon)
}

// Reseed clears the warm start and samples from rng from now on.
func (c *CEM) Reseed(rng *rand.Rand) {
	c.rng = rng
	c.Reset()
}

// Rollout returns the cost of seq from x0 and the residual variance seen
// at its first step. A non-finite cost is reported as +Inf.
func (c *CEM) Rollout(model Residual, x0 dynamo.State, target [2]float64, p physics.Params, w CostWeights, seq []dynamo.Control) (float64, float64) {
	x := x0
	cost := 0.0
	firstVar := 0.0

	for h, a := range seq {
		phys := physics.StepRK4(x, a, p, c.cfg.Dt)
		residual, variance := model.Predict(x, a)
		if h == 0 {
			firstVar = variance
		}
		x = phys.Add(residual)

		dx := x[dynamo.PosX] - target[0]
		dy := x[dynamo.PosY] - target[1]
		cost += w.Q*(dx*dx+dy*dy) + w.R*a.SquaredNorm() + c.cfg.UncertaintyWeight*variance
	}

	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		cost = math.Inf(1)
	}
	return cost, firstVar
}

// ComputeAction searches for the control sequence that brings the body to
// target and returns its first action. It always returns an action.
func (c *CEM) ComputeAction(model Residual, x0 dynamo.State, target [2]float64, p physics.Params, w CostWeights) Plan {
	mean := c.shiftedWarmStart()
	std := make([]dynamo.Control, c.cfg.Horizon)
	for i := range std {
		std[i] = dynamo.Control{c.cfg.InitStd, c.cfg.InitStd}
	}

	plan := Plan{BestCosts: make([]float64, 0, c.cfg.Iterations)}
	var elites []candidate

	for iter := 0; iter < c.cfg.Iterations; iter++ {
		cands := make([]candidate, 0, c.cfg.Samples+len(elites))
		for s := 0; s < c.cfg.Samples; s++ {
			cands = append(cands, candidate{seq: c.sample(mean, std)})
		}
		fresh := len(cands)
		// previous elites compete again so the best cost cannot regress
		for _, e := range elites {
			cands = append(cands, candidate{seq: e.seq})
		}

		c.evaluate(model, x0, target, p, w, cands)

		plan.Uncertainty = meanVariance(cands[:fresh])

		sort.SliceStable(cands, func(i, j int) bool { return cands[i].cost < cands[j].cost })
		plan.BestCosts = append(plan.BestCosts, cands[0].cost)

		if math.IsInf(cands[0].cost, 1) {
			plan.Degenerate = true
			break
		}

		elites = finiteElites(cands, c.cfg.Elites)
		c.refit(elites, mean, std)
	}

	if plan.Degenerate {
		c.Reset()
		plan.Action = dynamo.Control{}
		return plan
	}

	c.warm = mean
	plan.Action = mean[0]
	return plan
}

// shiftedWarmStart drops the oldest step of the warm start and appends a
// zero action.
func (c *CEM) shiftedWarmStart() []dynamo.Control {
	mean := make([]dynamo.Control, c.cfg.Horizon)
	copy(mean, c.warm[1:])
	return mean
}

func (c *CEM) sample(mean, std []dynamo.Control) []dynamo.Control {
	seq := make([]dynamo.Control, len(mean))
	for i := range seq {
		for d := 0; d < dynamo.ControlDim; d++ {
			seq[i][d] = mean[i][d] + (c.rng.Float64()*2-1)*std[i][d]
		}
	}
	return seq
}

func (c *CEM) evaluate(model Residual, x0 dynamo.State, target [2]float64, p physics.Params, w CostWeights, cands []candidate) {
	wp := pool.New().WithMaxGoroutines(c.workers)
	for i := range cands {
		i := i
		wp.Go(func() {
			cands[i].cost, cands[i].variance = c.Rollout(model, x0, target, p, w, cands[i].seq)
		})
	}
	wp.Wait()
}

// finiteElites returns up to n lowest-cost candidates from a sorted slice,
// stopping at the first infinite cost.
func finiteElites(sorted []candidate, n int) []candidate {
	if n > len(sorted) {
		n = len(sorted)
	}
	for i := 0; i < n; i++ {
		if math.IsInf(sorted[i].cost, 1) {
			return sorted[:i]
		}
	}
	return sorted[:n]
}

// refit overwrites mean and std with the elites' per-step statistics.
func (c *CEM) refit(elites []candidate, mean, std []dynamo.Control) {
	n := float64(len(elites))
	for h := range mean {
		for d := 0; d < dynamo.ControlDim; d++ {
			m := 0.0
			for _, e := range elites {
				m += e.seq[h][d]
			}
			m /= n

			v := 0.0
			for _, e := range elites {
				diff := e.seq[h][d] - m
				v += diff * diff
			}
			mean[h][d] = m
			std[h][d] = math.Sqrt(v/n) + c.cfg.StdFloor
		}
	}
}

// meanVariance averages the finite first-step variances.
func meanVariance(cands []candidate) float64 {
	sum, n := 0.0, 0
	for _, cd := range cands {
		if isFinite(cd.variance) && cd.variance >= 0 {
			sum += cd.variance
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
