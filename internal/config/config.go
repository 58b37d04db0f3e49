package config

import (
	"fmt"
	"math"
	"os"

	"github.com/san-kum/hybridctl/internal/control"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/experiment"
	"github.com/san-kum/hybridctl/internal/sim"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTicks       = 600
	DefaultSubsteps    = 4
	DefaultRuns        = 4
	DefaultSnapshotDir = ".hybridctl/snapshots"
)

type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Plant      sim.PlantParams  `yaml:"plant"`
	Run        RunConfig        `yaml:"run"`
}

type ControllerConfig struct {
	Type   string               `yaml:"type"`
	Hybrid control.Config       `yaml:"hybrid"`
	PID    experiment.PIDConfig `yaml:"pid"`
}

type RunConfig struct {
	sim.Config  `yaml:",inline"`
	Seed        int64           `yaml:"seed"`
	Target      [2]float64      `yaml:"target"`
	InitState   InitStateConfig `yaml:"init_state"`
	Runs        int             `yaml:"runs"`
	SnapshotDir string          `yaml:"snapshot_dir"`
}

type InitStateConfig struct {
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
	VX float64 `yaml:"vx"`
	VY float64 `yaml:"vy"`
}

func DefaultConfig() *Config {
	runCfg := sim.DefaultConfig()
	runCfg.Ticks = DefaultTicks
	runCfg.Substeps = DefaultSubsteps

	return &Config{
		Controller: ControllerConfig{
			Type:   "hybrid",
			Hybrid: control.DefaultConfig(),
			PID:    experiment.DefaultPIDConfig(),
		},
		Plant: sim.DefaultPlantParams(),
		Run: RunConfig{
			Config:      runCfg,
			Seed:        1,
			Target:      [2]float64{400, 300},
			Runs:        DefaultRuns,
			SnapshotDir: DefaultSnapshotDir,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var controllerTypes = map[string]bool{
	"hybrid": true,
	"pid":    true,
	"lqr":    true,
	"none":   true,
}

func (c *Config) Validate() error {
	if !controllerTypes[c.Controller.Type] {
		return dynamo.NewConfigError("controller.type", c.Controller.Type, "unknown controller")
	}
	for _, v := range c.Run.Target {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return dynamo.NewConfigError("run.target", c.Run.Target, "must be finite")
		}
	}
	if c.Controller.Type == "hybrid" {
		// validate what Experiment will actually hand to the controller
		hc := c.Experiment().Hybrid
		hc.Optimizer.Dt = hc.Dt
		hc.Identifier.Dt = hc.Dt
		if err := hc.Validate(); err != nil {
			return err
		}
	}
	if err := c.Plant.Validate(); err != nil {
		return err
	}
	if err := c.Run.Config.Validate(); err != nil {
		return err
	}
	if c.Run.Runs < 1 {
		return dynamo.NewConfigError("run.runs", c.Run.Runs, "must be at least 1")
	}
	return nil
}

func (c *Config) GetInitState() dynamo.State {
	s := c.Run.InitState
	return dynamo.State{s.X, s.Y, s.VX, s.VY, 0, 0}
}

// Experiment maps the file layout onto a runnable experiment config. The
// controller's step always matches the run's step.
func (c *Config) Experiment() experiment.Config {
	hc := c.Controller.Hybrid
	hc.Dt = c.Run.Dt
	hc.Target = c.Run.Target
	return experiment.Config{
		Controller: c.Controller.Type,
		Hybrid:     hc,
		PID:        c.Controller.PID,
		Plant:      c.Plant,
		Run:        c.Run.Config,
		InitState:  c.GetInitState(),
		Target:     c.Run.Target,
		Seed:       c.Run.Seed,
	}
}
