package sim

import (
	"context"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat"
)

// Factory builds an independent simulator for one seed. Plants and
// controllers carry mutable state, so runs never share them.
type Factory func(seed int64) (*Simulator, error)

// Ensemble runs the same closed loop under several seeds in parallel.
type Ensemble struct {
	factory   Factory
	numRuns   int
	seedStart int64
	workers   int
}

func NewEnsemble(factory Factory, numRuns int, seedStart int64) *Ensemble {
	return &Ensemble{factory: factory, numRuns: numRuns, seedStart: seedStart}
}

// WithWorkers bounds the number of concurrent runs; zero means unbounded.
func (e *Ensemble) WithWorkers(n int) *Ensemble {
	e.workers = n
	return e
}

// Run returns one result per seed, in seed order.
func (e *Ensemble) Run(ctx context.Context, x0 dynamo.State, target [2]float64, cfg Config) ([]*Result, error) {
	if e.numRuns <= 0 {
		return nil, dynamo.NewConfigError("ensemble.runs", e.numRuns, "must be positive")
	}
	results := make([]*Result, e.numRuns)

	p := pool.New().WithErrors().WithContext(ctx)
	if e.workers > 0 {
		p = p.WithMaxGoroutines(e.workers)
	}
	for i := 0; i < e.numRuns; i++ {
		idx := i
		seed := e.seedStart + int64(i)
		p.Go(func(ctx context.Context) error {
			s, err := e.factory(seed)
			if err != nil {
				return err
			}
			res, err := s.Run(ctx, x0, target, cfg)
			if err != nil {
				return err
			}
			res.Seed = seed
			results[idx] = res
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Stat is the spread of one metric across runs.
type Stat struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// Summarize reduces each metric across results.
func Summarize(results []*Result) map[string]Stat {
	values := make(map[string][]float64)
	for _, r := range results {
		for name, v := range r.Metrics {
			values[name] = append(values[name], v)
		}
	}

	out := make(map[string]Stat, len(values))
	for name, vs := range values {
		mean, std := stat.MeanStdDev(vs, nil)
		if len(vs) < 2 {
			std = 0
		}
		lo, hi := vs[0], vs[0]
		for _, v := range vs[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		out[name] = Stat{Mean: mean, Std: std, Min: lo, Max: hi}
	}
	return out
}
