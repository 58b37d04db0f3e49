package sim_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/hybridctl/internal/control"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/sim"
)

func smallHybrid(seed int64) *control.Hybrid {
	cfg := control.DefaultConfig()
	cfg.Optimizer.Horizon = 8
	cfg.Optimizer.Samples = 32
	cfg.Optimizer.Elites = 4
	cfg.Seed = seed
	h, err := control.New(cfg)
	Expect(err).NotTo(HaveOccurred())
	return h
}

func runConfig(ticks int) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Ticks = ticks
	return cfg
}

type shiftAt struct {
	tick     int
	friction float64
}

func (s shiftAt) BeforeTick(tick int, env *sim.Env) error {
	if tick == s.tick {
		env.Plant.Shift(s.friction)
	}
	return nil
}

type failingHook struct{}

func (failingHook) BeforeTick(int, *sim.Env) error { return errors.New("boom") }

var _ = Describe("Simulator", func() {
	var target = [2]float64{400, 300}

	It("falls under gravity with no control", func() {
		plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
		s := sim.New(plant, control.NewNone(), nil)

		res, err := s.Run(context.Background(), dynamo.State{}, target, runConfig(60))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.States).To(HaveLen(61))
		Expect(res.Actions).To(HaveLen(60))
		Expect(res.StepsTaken).To(Equal(60))
		Expect(res.Final()[dynamo.PosY]).To(BeNumerically(">", 0))
		Expect(res.Final()[dynamo.PosX]).To(BeZero())
		Expect(res.PredictionErrors).To(BeEmpty())
		Expect(res.Metrics).To(HaveKey("tracking_error"))
	})

	DescribeTable("rejects invalid run configs",
		func(mutate func(*sim.Config)) {
			plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
			s := sim.New(plant, control.NewNone(), nil)
			cfg := runConfig(10)
			mutate(&cfg)
			_, err := s.Run(context.Background(), dynamo.State{}, target, cfg)
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		},
		Entry("zero ticks", func(c *sim.Config) { c.Ticks = 0 }),
		Entry("zero dt", func(c *sim.Config) { c.Dt = 0 }),
		Entry("no substeps", func(c *sim.Config) { c.Substeps = 0 }),
		Entry("negative settle radius", func(c *sim.Config) { c.SettleRadius = -1 }),
	)

	It("stops on cancellation and keeps the partial result", func() {
		plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
		s := sim.New(plant, control.NewNone(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := s.Run(ctx, dynamo.State{}, target, runConfig(10))
		Expect(errors.Is(err, dynamo.ErrContextCanceled)).To(BeTrue())
		Expect(res).NotTo(BeNil())
		Expect(res.StepsTaken).To(BeZero())
	})

	It("records hook failures as tick errors", func() {
		plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
		s := sim.New(plant, control.NewNone(), nil)
		s.AddHook(failingHook{})

		res, err := s.Run(context.Background(), dynamo.State{}, target, runConfig(3))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Errors).To(HaveLen(3))
		var te *dynamo.TickError
		Expect(errors.As(res.Errors[1], &te)).To(BeTrue())
		Expect(te.Tick).To(Equal(1))
	})

	It("drives the PID baseline toward the target", func() {
		plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
		s := sim.New(plant, control.NewPID(2, 0, 3, target), nil)

		res, err := s.Run(context.Background(), dynamo.State{}, target, runConfig(600))
		Expect(err).NotTo(HaveOccurred())
		start := math.Hypot(target[0], target[1])
		Expect(res.Metrics["final_error"]).To(BeNumerically("<", start))
	})

	Context("with the hybrid controller", func() {
		It("records per-tick diagnostics and keeps estimates bounded", func() {
			plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 3)
			s := sim.New(plant, smallHybrid(3), nil)
			s.AddHook(shiftAt{tick: 20, friction: 0.6})

			res, err := s.Run(context.Background(), dynamo.State{}, target, runConfig(40))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PredictionErrors).To(HaveLen(40))
			Expect(res.PredictionErrors[0]).To(BeZero())
			Expect(res.Uncertainties).To(HaveLen(40))
			for _, u := range res.Uncertainties {
				Expect(math.IsNaN(u) || math.IsInf(u, 0)).To(BeFalse())
				Expect(u).To(BeNumerically(">=", 0))
			}
			for _, p := range res.Params {
				Expect(p.Mass).To(BeNumerically(">=", 0.1))
				Expect(p.Mass).To(BeNumerically("<=", 5.0))
				Expect(p.Friction).To(BeNumerically(">=", 0.0))
				Expect(p.Friction).To(BeNumerically("<=", 1.0))
			}
			Expect(res.Diagnostics.Ticks).To(Equal(39))
			Expect(plant.Params().Friction).To(Equal(0.6))
		})

		It("is reproducible for a fixed seed", func() {
			run := func() *sim.Result {
				plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 5)
				s := sim.New(plant, smallHybrid(5), nil)
				res, err := s.Run(context.Background(), dynamo.State{}, target, runConfig(15))
				Expect(err).NotTo(HaveOccurred())
				return res
			}
			a, b := run(), run()
			Expect(b.Actions).To(Equal(a.Actions))
			Expect(b.Params).To(Equal(a.Params))
		})
	})
})

var _ = Describe("Ensemble", func() {
	It("runs every seed independently and in order", func() {
		factory := func(seed int64) (*sim.Simulator, error) {
			pp := sim.DefaultPlantParams()
			pp.Noise = 0.1
			plant, err := sim.NewPlant(pp, seed)
			if err != nil {
				return nil, err
			}
			return sim.New(plant, control.NewPID(1, 0, 2, [2]float64{50, 50}), nil), nil
		}

		results, err := sim.NewEnsemble(factory, 4, 10).WithWorkers(2).
			Run(context.Background(), dynamo.State{}, [2]float64{50, 50}, runConfig(30))
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(4))
		for i, r := range results {
			Expect(r.Seed).To(Equal(int64(10 + i)))
		}
		Expect(results[0].States).NotTo(Equal(results[1].States))

		stats := sim.Summarize(results)
		Expect(stats).To(HaveKey("tracking_error"))
		st := stats["tracking_error"]
		Expect(st.Min).To(BeNumerically("<=", st.Mean))
		Expect(st.Max).To(BeNumerically(">=", st.Mean))
		Expect(st.Std).To(BeNumerically(">=", 0))
	})

	It("surfaces factory errors", func() {
		factory := func(int64) (*sim.Simulator, error) {
			return nil, errors.New("no plant")
		}
		_, err := sim.NewEnsemble(factory, 2, 0).Run(context.Background(), dynamo.State{}, [2]float64{}, runConfig(1))
		Expect(err).To(MatchError(ContainSubstring("no plant")))
	})
})
