package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/hybridctl/internal/control"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/metrics"
	"github.com/san-kum/hybridctl/internal/sim"
	"go.uber.org/zap"
)

type ControllerFactory func(cfg Config, log *zap.Logger) (dynamo.Controller, error)

type Registry struct {
	controllers map[string]ControllerFactory
}

func NewRegistry() *Registry {
	r := &Registry{
		controllers: make(map[string]ControllerFactory),
	}

	r.controllers["hybrid"] = func(cfg Config, log *zap.Logger) (dynamo.Controller, error) {
		hc := cfg.Hybrid
		hc.Target = cfg.Target
		return control.New(hc, control.WithLogger(log), control.WithSeed(cfg.Seed))
	}
	r.controllers["pid"] = func(cfg Config, _ *zap.Logger) (dynamo.Controller, error) {
		return control.NewPID(cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd, cfg.Target), nil
	}
	r.controllers["lqr"] = func(cfg Config, _ *zap.Logger) (dynamo.Controller, error) {
		return control.NewPointMassLQR(cfg.Target), nil
	}
	r.controllers["none"] = func(Config, *zap.Logger) (dynamo.Controller, error) {
		return control.NewNone(), nil
	}

	return r
}

// Register adds or replaces a controller factory.
func (r *Registry) Register(name string, f ControllerFactory) {
	r.controllers[name] = f
}

func (r *Registry) GetController(name string, cfg Config, log *zap.Logger) (dynamo.Controller, error) {
	fn, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("unknown controller: %s", name)
	}
	return fn(cfg, log)
}

func (r *Registry) ListControllers() []string {
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) DefaultMetrics(cfg Config) []dynamo.Metric {
	return []dynamo.Metric{
		metrics.NewEnergy(cfg.Plant.Mass),
		metrics.NewStability(500.0),
		metrics.NewControlEffort(),
	}
}

// Factory returns a sim.Factory that builds a fresh experiment per seed,
// for multi-seed ensembles.
func (r *Registry) Factory(cfg Config, log *zap.Logger) sim.Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return func(seed int64) (*sim.Simulator, error) {
		c := cfg
		c.Seed = seed
		exp := New(c, log.With(zap.Int64("seed", seed)))
		if err := exp.Setup(r, r.DefaultMetrics(c)); err != nil {
			return nil, err
		}
		return exp.GetSimulator(), nil
	}
}
