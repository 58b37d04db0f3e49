package control

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/learn"
	"github.com/san-kum/hybridctl/internal/optim"
	"github.com/san-kum/hybridctl/internal/physics"
	"github.com/san-kum/hybridctl/internal/sysid"
	"go.uber.org/zap"
)

type Config struct {
	Params     physics.Params    `json:"params" yaml:"params"`
	Bounds     physics.Bounds    `json:"bounds" yaml:"bounds"`
	Weights    optim.CostWeights `json:"weights" yaml:"weights"`
	Target     [2]float64        `json:"target" yaml:"target"`
	Dt         float64           `json:"dt" yaml:"dt"`
	Optimizer  optim.Config      `json:"optimizer" yaml:"optimizer"`
	Ensemble   learn.Config      `json:"ensemble" yaml:"ensemble"`
	Identifier sysid.Config      `json:"identifier" yaml:"identifier"`
	Seed       int64             `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Params:     physics.DefaultParams(),
		Bounds:     physics.DefaultBounds(),
		Weights:    optim.DefaultWeights(),
		Target:     [2]float64{400, 300},
		Dt:         physics.DefaultDt,
		Optimizer:  optim.DefaultConfig(),
		Ensemble:   learn.DefaultConfig(),
		Identifier: sysid.DefaultConfig(),
		Seed:       1,
	}
}

func (c Config) Validate() error {
	if !(c.Dt > 0) {
		return dynamo.NewConfigError("dt", c.Dt, "must be positive")
	}
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if !c.Bounds.Contains(c.Params) {
		return dynamo.NewConfigError("params", c.Params, "initial mass/friction outside bounds")
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	for i, v := range c.Target {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return dynamo.NewConfigError(fmt.Sprintf("target[%d]", i), v, "must be finite")
		}
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if err := c.Ensemble.Validate(); err != nil {
		return err
	}
	return c.Identifier.Validate()
}

// withDt returns c with the top-level step propagated into every
// sub-config.
func (c Config) withDt() Config {
	c.Optimizer.Dt = c.Dt
	c.Identifier.Dt = c.Dt
	return c
}

type Option func(*Hybrid)

func WithLogger(log *zap.Logger) Option {
	return func(h *Hybrid) {
		if log != nil {
			h.log = log
		}
	}
}

// WithSeed overrides Config.Seed.
func WithSeed(seed int64) Option {
	return func(h *Hybrid) {
		h.cfg.Seed = seed
	}
}

// StepResult is what one control tick hands back to the caller.
type StepResult struct {
	Action          dynamo.Control
	Params          physics.Params
	PredictionError float64
	Uncertainty     float64
	Degenerate      bool
	// Predicted is the physics-only prediction of the measured state. It
	// is only meaningful when Learned is set.
	Predicted dynamo.State
	// Learned reports whether this tick identified and trained, which
	// needs a valid previous measurement.
	Learned bool
}

// Hybrid closes the loop: identify, learn, plan, once per tick.
// All methods are safe for concurrent use.
type Hybrid struct {
	mu sync.Mutex

	cfg     Config
	log     *zap.Logger
	params  physics.Params
	weights optim.CostWeights
	target  [2]float64

	ensemble   *learn.Ensemble
	identifier *sysid.Identifier
	optimizer  *optim.CEM

	prev    dynamo.State
	hasPrev bool
	last    StepResult
}

func New(cfg Config, opts ...Option) (*Hybrid, error) {
	h := &Hybrid{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	h.cfg = h.cfg.withDt()
	if err := h.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hybrid controller: %w", err)
	}

	var err error
	ensRNG, optRNG := h.rngs()
	h.ensemble, err = learn.NewEnsemble(h.cfg.Ensemble, ensRNG)
	if err != nil {
		return nil, err
	}
	h.identifier, err = sysid.New(h.cfg.Identifier, h.cfg.Bounds)
	if err != nil {
		return nil, err
	}
	h.optimizer, err = optim.NewCEM(h.cfg.Optimizer, optRNG)
	if err != nil {
		return nil, err
	}

	h.params = h.cfg.Params
	h.weights = h.cfg.Weights
	h.target = h.cfg.Target
	return h, nil
}

// rngs returns the ensemble and optimizer sources for the configured seed.
func (h *Hybrid) rngs() (*rand.Rand, *rand.Rand) {
	return rand.New(rand.NewSource(h.cfg.Seed)), rand.New(rand.NewSource(h.cfg.Seed + 1))
}

// Step runs one control tick. measured is the freshly sensed state and
// appliedPrev the action that was applied since the previous call.
func (h *Hybrid) Step(measured dynamo.State, appliedPrev dynamo.Control) StepResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step(measured, appliedPrev)
}

func (h *Hybrid) step(measured dynamo.State, appliedPrev dynamo.Control) StepResult {
	if !measured.IsValid() {
		h.log.Warn("discarding non-finite measurement", zap.Float64s("state", measured[:]))
		h.hasPrev = false
		res := StepResult{Params: h.params, Degenerate: true}
		h.last = res
		return res
	}

	var (
		predErr float64
		xPhys   dynamo.State
		learned bool
	)
	if h.hasPrev && appliedPrev.IsValid() {
		xPhys = physics.StepRK4(h.prev, appliedPrev, h.params, h.cfg.Dt)
		predErr = measured.Distance(xPhys)
		learned = true
		h.ensemble.Train(h.prev, appliedPrev, measured, xPhys)
		upd := h.identifier.Update(h.prev, appliedPrev, measured, h.params)
		h.params = upd.Params
	}

	plan := h.optimizer.ComputeAction(h.ensemble, measured, h.target, h.params, h.weights)
	if plan.Degenerate {
		h.log.Warn("all rollouts degenerate, applying zero action")
	}

	h.prev = measured
	h.hasPrev = true
	h.last = StepResult{
		Action:          plan.Action,
		Params:          h.params,
		PredictionError: predErr,
		Uncertainty:     plan.Uncertainty,
		Degenerate:      plan.Degenerate,
		Predicted:       xPhys,
		Learned:         learned,
	}

	h.log.Debug("tick",
		zap.Float64("prediction_error", predErr),
		zap.Float64("uncertainty", plan.Uncertainty),
		zap.Float64("mass", h.params.Mass),
		zap.Float64("friction", h.params.Friction),
		zap.Float64("learning_rate", h.identifier.State().LearningRate),
	)
	return h.last
}

// Compute satisfies dynamo.Controller, feeding back the previously
// returned action as the applied one.
func (h *Hybrid) Compute(x dynamo.State, t float64) dynamo.Control {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step(x, h.last.Action).Action
}

func (h *Hybrid) SetTarget(x, y float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = [2]float64{x, y}
}

func (h *Hybrid) Target() [2]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// SetCostWeights replaces Q and R for the next optimization.
func (h *Hybrid) SetCostWeights(q, r float64) error {
	w := optim.CostWeights{Q: q, R: r}
	if err := w.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.weights = w
	h.log.Debug("cost weights updated", zap.Float64("q", q), zap.Float64("r", r))
	return nil
}

func (h *Hybrid) Weights() optim.CostWeights {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.weights
}

func (h *Hybrid) Params() physics.Params {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.params
}

// WarmStart returns a copy of the optimizer's current mean sequence.
func (h *Hybrid) WarmStart() []dynamo.Control {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.optimizer.WarmStart()
}

// Last returns the result of the most recent tick.
func (h *Hybrid) Last() StepResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// ResetBeliefs returns the controller to the state New left it in, apart
// from target and cost weights. Ensemble and optimizer are re-seeded from
// the configured seed.
func (h *Hybrid) ResetBeliefs() {
	h.mu.Lock()
	defer h.mu.Unlock()
	ensRNG, optRNG := h.rngs()
	h.params = h.cfg.Params
	h.identifier.Reset()
	h.optimizer.Reseed(optRNG)
	h.ensemble.Reseed(ensRNG)
	h.hasPrev = false
	h.last = StepResult{}
	h.log.Info("beliefs reset",
		zap.Float64("mass", h.params.Mass),
		zap.Float64("friction", h.params.Friction),
	)
}

const snapshotVersion = 1

type identifierSnapshot struct {
	sysid.State
	LastError *float64 `json:"last_error,omitempty"`
}

type snapshot struct {
	Version    int                `json:"version"`
	Params     physics.Params     `json:"params"`
	Weights    optim.CostWeights  `json:"weights"`
	Target     [2]float64         `json:"target"`
	Identifier identifierSnapshot `json:"identifier"`
	WarmStart  []dynamo.Control   `json:"warm_start"`
	Ensemble   learn.Snapshot     `json:"ensemble"`
}

// ExportWeights serializes the calibrated parameters and the ensemble
// into a JSON blob that LoadWeights accepts.
func (h *Hybrid) ExportWeights() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.identifier.State()
	ident := identifierSnapshot{State: st}
	if !math.IsInf(st.LastError, 0) && !math.IsNaN(st.LastError) {
		v := st.LastError
		ident.LastError = &v
	}

	data, err := json.Marshal(snapshot{
		Version:    snapshotVersion,
		Params:     h.params,
		Weights:    h.weights,
		Target:     h.target,
		Identifier: ident,
		WarmStart:  h.optimizer.WarmStart(),
		Ensemble:   h.ensemble.Snapshot(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// LoadWeights restores a blob produced by ExportWeights. Nothing changes
// unless the whole blob is valid.
func (h *Hybrid) LoadWeights(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode snapshot: %v: %w", err, dynamo.ErrSnapshot)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d: %w", s.Version, snapshotVersion, dynamo.ErrSnapshot)
	}
	if err := s.Weights.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, dynamo.ErrSnapshot)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Bounds.Contains(s.Params) {
		return fmt.Errorf("params %+v outside bounds: %w", s.Params, dynamo.ErrSnapshot)
	}
	if len(s.WarmStart) != h.cfg.Optimizer.Horizon {
		return fmt.Errorf("warm start has %d steps, horizon is %d: %w",
			len(s.WarmStart), h.cfg.Optimizer.Horizon, dynamo.ErrSnapshot)
	}
	for i, u := range s.WarmStart {
		if !u.IsValid() {
			return fmt.Errorf("warm start step %d is not finite: %w", i, dynamo.ErrSnapshot)
		}
	}
	if err := h.ensemble.Restore(s.Ensemble); err != nil {
		return err
	}

	st := s.Identifier.State
	st.LastError = math.Inf(1)
	if s.Identifier.LastError != nil {
		st.LastError = *s.Identifier.LastError
	}
	h.identifier.SetState(st)
	h.optimizer.SetWarmStart(s.WarmStart)
	h.params = s.Params
	h.weights = s.Weights
	h.target = s.Target
	h.hasPrev = false

	h.log.Info("snapshot loaded",
		zap.Float64("mass", s.Params.Mass),
		zap.Float64("friction", s.Params.Friction),
	)
	return nil
}
