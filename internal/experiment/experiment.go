package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/hybridctl/internal/control"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/sim"
	"go.uber.org/zap"
)

type PIDConfig struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

func DefaultPIDConfig() PIDConfig {
	return PIDConfig{Kp: 2.0, Ki: 0.0, Kd: 3.0}
}

// Config fully describes one closed-loop run.
type Config struct {
	Controller string
	Hybrid     control.Config
	PID        PIDConfig
	Plant      sim.PlantParams
	Run        sim.Config
	InitState  dynamo.State
	Target     [2]float64
	Seed       int64
}

func DefaultConfig() Config {
	return Config{
		Controller: "hybrid",
		Hybrid:     control.DefaultConfig(),
		PID:        DefaultPIDConfig(),
		Plant:      sim.DefaultPlantParams(),
		Run:        sim.DefaultConfig(),
		Target:     [2]float64{400, 300},
		Seed:       1,
	}
}

type Experiment struct {
	cfg        Config
	log        *zap.Logger
	simulator  *sim.Simulator
	plant      *sim.Plant
	controller dynamo.Controller
}

func New(cfg Config, log *zap.Logger) *Experiment {
	if log == nil {
		log = zap.NewNop()
	}
	return &Experiment{cfg: cfg, log: log}
}

// Setup builds the plant, the named controller and the simulator.
func (e *Experiment) Setup(registry *Registry, metrics []dynamo.Metric) error {
	plant, err := sim.NewPlant(e.cfg.Plant, e.cfg.Seed)
	if err != nil {
		return fmt.Errorf("plant: %w", err)
	}
	ctrl, err := registry.GetController(e.cfg.Controller, e.cfg, e.log)
	if err != nil {
		return err
	}

	e.plant = plant
	e.controller = ctrl
	e.simulator = sim.New(plant, ctrl, e.log)
	for _, m := range metrics {
		e.simulator.AddMetric(m)
	}
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.simulator == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	res, err := e.simulator.Run(ctx, e.cfg.InitState, e.cfg.Target, e.cfg.Run)
	if res != nil {
		res.Seed = e.cfg.Seed
	}
	return res, err
}

// GetSimulator returns the underlying simulator for adding observers
// and hooks.
func (e *Experiment) GetSimulator() *sim.Simulator {
	return e.simulator
}

func (e *Experiment) Controller() dynamo.Controller { return e.controller }

func (e *Experiment) Plant() *sim.Plant { return e.plant }

func (e *Experiment) Config() Config { return e.cfg }
