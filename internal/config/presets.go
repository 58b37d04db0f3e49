package config

import (
	"sort"

	"github.com/san-kum/hybridctl/internal/sim"
)

// Presets are named variations on DefaultConfig.
var Presets = map[string]func(*Config){
	"default": func(*Config) {},
	"heavy": func(c *Config) {
		c.Plant.Mass = 3.5
	},
	"slippery": func(c *Config) {
		c.Plant.Friction = 0.05
	},
	"sticky": func(c *Config) {
		c.Plant.Friction = 0.7
	},
	"windy": func(c *Config) {
		c.Plant.Wind = [2]float64{1.5, -0.5}
	},
	"noisy": func(c *Config) {
		c.Plant.Noise = 0.5
	},
	"precise": func(c *Config) {
		c.Plant.Integrator = sim.IntegratorRK45
	},
	"fast": func(c *Config) {
		c.Controller.Hybrid.Optimizer.Samples = 64
		c.Controller.Hybrid.Optimizer.Elites = 8
		c.Controller.Hybrid.Optimizer.Iterations = 1
	},
	"full-backprop": func(c *Config) {
		c.Controller.Hybrid.Ensemble.FullBackprop = true
	},
	"pid": func(c *Config) {
		c.Controller.Type = "pid"
	},
	"lqr": func(c *Config) {
		c.Controller.Type = "lqr"
	},
}

// GetPreset returns a fresh config for name, or nil if there is none.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
