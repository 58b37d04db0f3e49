package sim

import (
	"context"
	"fmt"

	"github.com/san-kum/hybridctl/internal/diagnostics"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/metrics"
	"go.uber.org/zap"
)

// Env is what a Hook sees and may change between ticks.
type Env struct {
	Plant      *Plant
	Controller dynamo.Controller
	Monitor    *diagnostics.Monitor
	Log        *zap.Logger

	target [2]float64
}

// Target implements metrics.Target.
func (e *Env) Target() [2]float64 { return e.target }

// SetTarget moves the goal for both the metrics and the controller.
func (e *Env) SetTarget(x, y float64) {
	e.target = [2]float64{x, y}
	if t, ok := e.Controller.(Targeter); ok {
		t.SetTarget(x, y)
	}
}

type Simulator struct {
	plant      *Plant
	controller dynamo.Controller
	metrics    []dynamo.Metric
	observers  []dynamo.Observer
	hooks      []Hook
	log        *zap.Logger
}

func New(plant *Plant, controller dynamo.Controller, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		plant:      plant,
		controller: controller,
		metrics:    make([]dynamo.Metric, 0),
		observers:  make([]dynamo.Observer, 0),
		log:        log,
	}
}

func (s *Simulator) AddMetric(m dynamo.Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }
func (s *Simulator) AddHook(h Hook)                { s.hooks = append(s.hooks, h) }

// Run closes the loop for cfg.Ticks control ticks starting from x0 with
// the goal at target. Cancellation is checked between ticks; the partial
// result is returned alongside the error.
func (s *Simulator) Run(ctx context.Context, x0 dynamo.State, target [2]float64, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result := &Result{
		States:           make([]dynamo.State, 0, cfg.Ticks+1),
		Actions:          make([]dynamo.Control, 0, cfg.Ticks),
		Times:            make([]float64, 0, cfg.Ticks+1),
		PredictionErrors: make([]float64, 0, cfg.Ticks),
		Uncertainties:    make([]float64, 0, cfg.Ticks),
		Metrics:          make(map[string]float64),
		Errors:           make([]error, 0),
	}

	env := &Env{
		Plant:      s.plant,
		Controller: s.controller,
		Monitor:    diagnostics.NewMonitor(120, s.log),
		Log:        s.log,
	}
	env.SetTarget(target[0], target[1])

	tracking := []dynamo.Metric{
		metrics.NewTrackingError(env),
		metrics.NewFinalError(env),
		metrics.NewSettled(env, cfg.SettleRadius),
	}
	all := append(append([]dynamo.Metric{}, s.metrics...), tracking...)
	for _, m := range all {
		m.Reset()
	}

	stepper, hasStepper := s.controller.(Stepper)

	x := x0
	t := 0.0
	var u dynamo.Control

	result.States = append(result.States, x)
	result.Times = append(result.Times, t)

	for i := 0; i < cfg.Ticks; i++ {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("%w at tick %d: %v", dynamo.ErrContextCanceled, i, ctx.Err())
		default:
		}

		for _, h := range s.hooks {
			if err := h.BeforeTick(i, env); err != nil {
				result.Errors = append(result.Errors, &dynamo.TickError{Tick: i, Time: t, State: x, Wrapped: err})
			}
		}

		measured := s.plant.Measure(x)
		if hasStepper {
			res := stepper.Step(measured, u)
			u = res.Action
			result.PredictionErrors = append(result.PredictionErrors, res.PredictionError)
			result.Uncertainties = append(result.Uncertainties, res.Uncertainty)
			result.Params = append(result.Params, res.Params)
			if res.Degenerate {
				result.Degenerate++
			}
			if res.Learned {
				env.Monitor.Observe(res.Predicted, measured)
			}
		} else {
			u = s.controller.Compute(measured, t)
		}

		for _, m := range all {
			m.Observe(x, u, t)
		}
		for _, obs := range s.observers {
			obs.OnStep(x, u, t)
		}

		next := s.plant.Advance(x, u, t, cfg.Dt, cfg.Substeps)
		if cfg.ValidateState && !next.IsValid() {
			result.Errors = append(result.Errors, &dynamo.TickError{Tick: i, Time: t, State: x, Wrapped: dynamo.ErrInvalidState})
			s.log.Error("plant state diverged", zap.Int("tick", i), zap.Float64("t", t))
			break
		}

		x = next
		t += cfg.Dt
		result.StepsTaken++

		result.States = append(result.States, x)
		result.Actions = append(result.Actions, u)
		result.Times = append(result.Times, t)
	}

	for _, m := range all {
		result.Metrics[m.Name()] = m.Value()
	}
	result.Diagnostics = env.Monitor.Summary()

	return result, nil
}

func (cfg Config) Validate() error {
	if cfg.Ticks <= 0 {
		return dynamo.NewConfigError("run.ticks", cfg.Ticks, "must be positive")
	}
	if !(cfg.Dt > 0) {
		return dynamo.NewConfigError("run.dt", cfg.Dt, "must be positive")
	}
	if cfg.Substeps < 1 {
		return dynamo.NewConfigError("run.substeps", cfg.Substeps, "must be at least 1")
	}
	if cfg.SettleRadius < 0 {
		return dynamo.NewConfigError("run.settle_radius", cfg.SettleRadius, "must not be negative")
	}
	return nil
}
