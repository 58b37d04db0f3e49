package automation

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/experiment"
	"github.com/san-kum/hybridctl/internal/physics"
	"github.com/san-kum/hybridctl/internal/sim"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Action names accepted in scenario files.
const (
	ActionSetTarget    = "set_target"
	ActionShift        = "shift"
	ActionSetPlant     = "set_plant"
	ActionSetWeights   = "set_weights"
	ActionResetBeliefs = "reset_beliefs"
	ActionSuppress     = "suppress"
)

// Scenario is a scripted closed-loop run.
type Scenario struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Controller  string     `yaml:"controller"`
	Ticks       int        `yaml:"ticks"`
	Target      [2]float64 `yaml:"target"`
	Events      []Event    `yaml:"events"`
}

// Event fires once, before tick At. Which fields matter depends on
// Action. A shift with zero (or negative) Friction toggles between a
// slippery and a sticky surface.
type Event struct {
	At       int     `yaml:"at"`
	Action   string  `yaml:"action"`
	X        float64 `yaml:"x,omitempty"`
	Y        float64 `yaml:"y,omitempty"`
	Friction float64 `yaml:"friction,omitempty"`
	Param    string  `yaml:"param,omitempty"`
	Value    float64 `yaml:"value,omitempty"`
	Q        float64 `yaml:"q,omitempty"`
	R        float64 `yaml:"r,omitempty"`
	// Quiet is how many ticks of diagnostics to suppress. A shift
	// without it suppresses BenchmarkQuiet ticks.
	Quiet int `yaml:"quiet,omitempty"`
}

// BenchmarkQuiet is eight seconds of ticks at the default rate.
const BenchmarkQuiet = 480

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

func (s *Scenario) Validate() error {
	if s.Ticks < 0 {
		return dynamo.NewConfigError("scenario.ticks", s.Ticks, "must not be negative")
	}
	for i, ev := range s.Events {
		field := fmt.Sprintf("scenario.events[%d]", i)
		if ev.At < 0 {
			return dynamo.NewConfigError(field+".at", ev.At, "must not be negative")
		}
		switch ev.Action {
		case ActionSetTarget, ActionResetBeliefs:
		case ActionShift:
			if ev.Friction > 1 {
				return dynamo.NewConfigError(field+".friction", ev.Friction, "must be at most 1")
			}
		case ActionSetPlant:
			if ev.Param == "" {
				return dynamo.NewConfigError(field+".param", ev.Param, "required for set_plant")
			}
		case ActionSetWeights:
			if !(ev.Q > 0) || !(ev.R > 0) {
				return dynamo.NewConfigError(field, [2]float64{ev.Q, ev.R}, "weights must be positive")
			}
		case ActionSuppress:
			if ev.Quiet <= 0 {
				return dynamo.NewConfigError(field+".quiet", ev.Quiet, "must be positive")
			}
		default:
			return dynamo.NewConfigError(field+".action", ev.Action, "unknown action")
		}
	}
	return nil
}

// Hook returns a sim.Hook that replays the scenario's events.
func (s *Scenario) Hook() sim.Hook {
	events := append([]Event(nil), s.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })
	return &player{events: events}
}

type player struct {
	events []Event
	next   int
}

func (p *player) BeforeTick(tick int, env *sim.Env) error {
	var errs []error
	for p.next < len(p.events) && p.events[p.next].At <= tick {
		ev := p.events[p.next]
		p.next++
		if err := apply(ev, env); err != nil {
			errs = append(errs, fmt.Errorf("%s at %d: %w", ev.Action, ev.At, err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func apply(ev Event, env *sim.Env) error {
	env.Log.Info("scenario event", zap.String("action", ev.Action), zap.Int("at", ev.At))

	switch ev.Action {
	case ActionSetTarget:
		env.SetTarget(ev.X, ev.Y)
	case ActionShift:
		friction := ev.Friction
		if friction == 0 {
			friction = -1
		}
		env.Plant.Shift(friction)
		quiet := ev.Quiet
		if quiet == 0 {
			quiet = BenchmarkQuiet
		}
		env.Monitor.Suppress(quiet)
	case ActionSetPlant:
		return env.Plant.SetParam(ev.Param, ev.Value)
	case ActionSetWeights:
		ws, ok := env.Controller.(sim.WeightSetter)
		if !ok {
			return fmt.Errorf("controller %T has no cost weights", env.Controller)
		}
		return ws.SetCostWeights(ev.Q, ev.R)
	case ActionResetBeliefs:
		br, ok := env.Controller.(sim.BeliefResetter)
		if !ok {
			return fmt.Errorf("controller %T has no beliefs", env.Controller)
		}
		br.ResetBeliefs()
	case ActionSuppress:
		env.Monitor.Suppress(ev.Quiet)
	}
	return nil
}

// RunScenario executes the scenario on top of base.
func RunScenario(ctx context.Context, scenario *Scenario, base experiment.Config, registry *experiment.Registry, log *zap.Logger) (*sim.Result, error) {
	log = orNop(log)
	cfg := base
	if scenario.Controller != "" {
		cfg.Controller = scenario.Controller
	}
	if scenario.Ticks > 0 {
		cfg.Run.Ticks = scenario.Ticks
	}
	if scenario.Target != ([2]float64{}) {
		cfg.Target = scenario.Target
	}

	exp := experiment.New(cfg, log)
	if err := exp.Setup(registry, registry.DefaultMetrics(cfg)); err != nil {
		return nil, err
	}
	exp.GetSimulator().AddHook(scenario.Hook())
	return exp.Run(ctx)
}

// ParameterSweep varies one true plant parameter and records how well the
// controller identifies and tracks under each value.
type ParameterSweep struct {
	ParamName string
	ParamMin  float64
	ParamMax  float64
	NumSteps  int
}

// SweepResult holds results from a parameter sweep
type SweepResult struct {
	ParamValue    float64
	FinalState    dynamo.State
	FinalParams   physics.Params
	TrackingError float64
	MeanPredError float64
}

// RunSweep executes a parameter sweep
func RunSweep(ctx context.Context, sweep *ParameterSweep, base experiment.Config, registry *experiment.Registry, log *zap.Logger) ([]SweepResult, error) {
	if sweep.NumSteps < 2 {
		return nil, dynamo.NewConfigError("sweep.steps", sweep.NumSteps, "need at least two steps")
	}
	log = orNop(log)
	results := make([]SweepResult, 0, sweep.NumSteps)
	paramStep := (sweep.ParamMax - sweep.ParamMin) / float64(sweep.NumSteps-1)

	for i := 0; i < sweep.NumSteps; i++ {
		paramVal := sweep.ParamMin + float64(i)*paramStep

		exp := experiment.New(base, log)
		if err := exp.Setup(registry, registry.DefaultMetrics(base)); err != nil {
			return nil, err
		}
		if err := exp.Plant().SetParam(sweep.ParamName, paramVal); err != nil {
			return nil, err
		}

		result, err := exp.Run(ctx)
		if err != nil {
			return nil, err
		}

		sr := SweepResult{
			ParamValue:    paramVal,
			FinalState:    result.Final(),
			TrackingError: result.Metrics["tracking_error"],
		}
		if p, ok := result.FinalParams(); ok {
			sr.FinalParams = p
		}
		if len(result.PredictionErrors) > 0 {
			sr.MeanPredError = stat.Mean(result.PredictionErrors, nil)
		}
		results = append(results, sr)

		log.Info("sweep step",
			zap.Int("step", i+1),
			zap.Int("of", sweep.NumSteps),
			zap.String("param", sweep.ParamName),
			zap.Float64("value", paramVal),
		)
	}

	return results, nil
}

// MonteCarloConfig perturbs the initial position and velocity.
type MonteCarloConfig struct {
	BaseState    dynamo.State
	Perturbation float64
	NumTrials    int
	Seed         int64
}

// MonteCarloResult holds statistics from Monte Carlo runs
type MonteCarloResult struct {
	TrialID    int
	InitState  dynamo.State
	FinalState dynamo.State
	FinalError float64
	Stable     bool // Did simulation remain bounded?
}

// RunMonteCarlo executes multiple trials with random perturbations
func RunMonteCarlo(ctx context.Context, cfg *MonteCarloConfig, base experiment.Config, registry *experiment.Registry, log *zap.Logger) ([]MonteCarloResult, error) {
	log = orNop(log)
	results := make([]MonteCarloResult, 0, cfg.NumTrials)

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for trial := 0; trial < cfg.NumTrials; trial++ {
		initState := cfg.BaseState
		for _, i := range []int{dynamo.PosX, dynamo.PosY, dynamo.VelX, dynamo.VelY} {
			initState[i] += (rng.Float64() - 0.5) * 2 * cfg.Perturbation
		}

		expCfg := base
		expCfg.InitState = initState
		expCfg.Seed = base.Seed + int64(trial)

		exp := experiment.New(expCfg, log)
		if err := exp.Setup(registry, nil); err != nil {
			return nil, err
		}

		result, err := exp.Run(ctx)
		if err != nil {
			return nil, err
		}

		// Stable means the run finished with a bounded, finite state.
		final := result.Final()
		stable := len(result.Errors) == 0 && final.IsValid()
		for _, v := range final {
			if v > 1e6 || v < -1e6 {
				stable = false
				break
			}
		}

		results = append(results, MonteCarloResult{
			TrialID:    trial,
			InitState:  initState,
			FinalState: final,
			FinalError: result.Metrics["final_error"],
			Stable:     stable,
		})

		if (trial+1)%10 == 0 {
			log.Info("monte carlo progress", zap.Int("done", trial+1), zap.Int("of", cfg.NumTrials))
		}
	}

	return results, nil
}

// MonteCarloStats computes summary statistics from Monte Carlo results
func MonteCarloStats(results []MonteCarloResult) (stableCount int, unstableCount int) {
	for _, r := range results {
		if r.Stable {
			stableCount++
		} else {
			unstableCount++
		}
	}
	return
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
