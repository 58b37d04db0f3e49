package control_test

import (
	"errors"
	"math"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/hybridctl/internal/control"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/physics"
)

// drive closes the loop against the nominal model for n ticks.
func drive(h *control.Hybrid, x dynamo.State, n int) dynamo.State {
	var u dynamo.Control
	for i := 0; i < n; i++ {
		res := h.Step(x, u)
		u = res.Action
		x = physics.StepRK4(x, u, physics.Params{Mass: 1.3, Friction: 0.2, Gravity: 0.5}, physics.DefaultDt)
	}
	return x
}

var _ = Describe("Hybrid", func() {
	var (
		cfg control.Config
		h   *control.Hybrid
	)

	BeforeEach(func() {
		cfg = control.DefaultConfig()
		var err error
		h, err = control.New(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("construction", func() {
		It("rejects more elites than samples", func() {
			cfg.Optimizer.Elites = cfg.Optimizer.Samples + 1
			_, err := control.New(cfg)
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		})

		It("rejects malformed bounds", func() {
			cfg.Bounds.Friction = physics.Interval{Lo: 1, Hi: 0}
			_, err := control.New(cfg)
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		})

		It("rejects initial params outside bounds", func() {
			cfg.Params.Mass = 9
			_, err := control.New(cfg)
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		})

		It("propagates dt into the optimizer", func() {
			cfg.Dt = 0.02
			cfg.Optimizer.Dt = 0
			_, err := control.New(cfg)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Step", func() {
		It("steers toward the target from rest", func() {
			res := h.Step(dynamo.State{}, dynamo.Control{})

			Expect(res.Action[0]).To(BeNumerically(">", 0))
			Expect(res.Action[1]).To(BeNumerically(">", 0))
			Expect(math.IsNaN(res.Uncertainty) || math.IsInf(res.Uncertainty, 0)).To(BeFalse())
			Expect(res.Uncertainty).To(BeNumerically(">=", 0))
			Expect(res.Params).To(Equal(physics.DefaultParams()))
			Expect(res.PredictionError).To(BeZero())
		})

		It("keeps the warm start at horizon length with the action first", func() {
			for i := 0; i < 3; i++ {
				res := h.Step(dynamo.State{float64(i)}, h.Last().Action)
				warm := h.WarmStart()
				Expect(warm).To(HaveLen(cfg.Optimizer.Horizon))
				Expect(warm[0]).To(Equal(res.Action))
			}
		})

		It("reports the physics-only prediction error from the second tick on", func() {
			x0 := dynamo.State{10, 10, 1, 0, 0, 0}
			u := dynamo.Control{0.5, -0.5}
			h.Step(x0, dynamo.Control{})

			measured := physics.StepRK4(x0, u, physics.DefaultParams(), physics.DefaultDt)
			measured[dynamo.PosX] += 0.25
			res := h.Step(measured, u)

			Expect(res.PredictionError).To(BeNumerically("~", 0.25, 1e-9))
		})

		It("keeps identified params inside bounds under a mismatched plant", func() {
			drive(h, dynamo.State{}, 60)
			p := h.Params()
			Expect(physics.DefaultBounds().Contains(p)).To(BeTrue())
			Expect(p.Gravity).To(Equal(physics.DefaultGravity))
		})

		It("discards a non-finite measurement and restarts identification", func() {
			h.Step(dynamo.State{}, dynamo.Control{})

			bad := dynamo.State{math.NaN()}
			res := h.Step(bad, dynamo.Control{1, 1})
			Expect(res.Action).To(Equal(dynamo.Control{}))
			Expect(res.Degenerate).To(BeTrue())

			res = h.Step(dynamo.State{5, 5}, dynamo.Control{1, 1})
			Expect(res.PredictionError).To(BeZero())
			Expect(res.Action.IsValid()).To(BeTrue())
		})

		It("implements dynamo.Controller", func() {
			var c dynamo.Controller = h
			u := c.Compute(dynamo.State{}, 0)
			Expect(u).To(Equal(h.Last().Action))
		})
	})

	Describe("SetTarget", func() {
		It("turns the action around when the target moves behind", func() {
			h.SetTarget(-400, -300)
			res := h.Step(dynamo.State{}, dynamo.Control{})
			Expect(res.Action[0]).To(BeNumerically("<", 0))
			Expect(h.Target()).To(Equal([2]float64{-400, -300}))
		})
	})

	Describe("SetCostWeights", func() {
		DescribeTable("rejects invalid weights",
			func(q, r float64) {
				err := h.SetCostWeights(q, r)
				Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
				Expect(h.Weights()).To(Equal(cfg.Weights))
			},
			Entry("zero q", 0.0, 0.05),
			Entry("negative r", 1.5, -1.0),
			Entry("NaN q", math.NaN(), 0.05),
			Entry("infinite r", 1.5, math.Inf(1)),
		)

		It("accepts updates while the loop runs", func() {
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 1; i <= 20; i++ {
					Expect(h.SetCostWeights(float64(i), 0.1)).To(Succeed())
				}
			}()
			drive(h, dynamo.State{}, 5)
			wg.Wait()

			Expect(h.Weights().Q).To(Equal(20.0))
		})
	})

	Describe("ResetBeliefs", func() {
		It("is idempotent", func() {
			drive(h, dynamo.State{}, 30)

			h.ResetBeliefs()
			p1, w1 := h.Params(), h.WarmStart()
			h.ResetBeliefs()
			p2, w2 := h.Params(), h.WarmStart()

			Expect(p1).To(Equal(cfg.Params))
			Expect(p2).To(Equal(p1))
			Expect(w2).To(Equal(w1))
			for _, u := range w1 {
				Expect(u).To(Equal(dynamo.Control{}))
			}
		})

		It("matches a freshly built controller", func() {
			fresh, err := control.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			want, err := fresh.ExportWeights()
			Expect(err).NotTo(HaveOccurred())

			drive(h, dynamo.State{}, 10)
			h.ResetBeliefs()
			first, err := h.ExportWeights()
			Expect(err).NotTo(HaveOccurred())
			h.ResetBeliefs()
			second, err := h.ExportWeights()
			Expect(err).NotTo(HaveOccurred())

			Expect(first).To(MatchJSON(want))
			Expect(second).To(MatchJSON(first))
		})

		It("plans like a fresh controller after reset", func() {
			fresh, err := control.New(cfg)
			Expect(err).NotTo(HaveOccurred())

			drive(h, dynamo.State{}, 10)
			h.ResetBeliefs()

			x := dynamo.State{10, 20, 1, -1}
			Expect(h.Step(x, dynamo.Control{}).Action).To(Equal(fresh.Step(x, dynamo.Control{}).Action))
		})

		It("forgets the previous measurement", func() {
			drive(h, dynamo.State{}, 5)
			h.ResetBeliefs()
			res := h.Step(dynamo.State{100, 100}, dynamo.Control{3, 3})
			Expect(res.PredictionError).To(BeZero())
		})
	})

	Describe("ExportWeights / LoadWeights", func() {
		It("round-trips losslessly into a fresh controller", func() {
			drive(h, dynamo.State{}, 25)
			h.SetTarget(120, -40)
			Expect(h.SetCostWeights(2.5, 0.2)).To(Succeed())

			blob, err := h.ExportWeights()
			Expect(err).NotTo(HaveOccurred())

			other, err := control.New(cfg, control.WithSeed(99))
			Expect(err).NotTo(HaveOccurred())
			Expect(other.LoadWeights(blob)).To(Succeed())

			again, err := other.ExportWeights()
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(MatchJSON(blob))
			Expect(other.Params()).To(Equal(h.Params()))
			Expect(other.Target()).To(Equal([2]float64{120, -40}))
			Expect(other.WarmStart()).To(Equal(h.WarmStart()))
		})

		It("exports a fresh controller whose last error is unset", func() {
			blob, err := h.ExportWeights()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(blob)).NotTo(ContainSubstring("last_error"))
		})

		It("rejects garbage without touching state", func() {
			drive(h, dynamo.State{}, 10)
			before := h.Params()

			err := h.LoadWeights([]byte("{not json"))
			Expect(errors.Is(err, dynamo.ErrSnapshot)).To(BeTrue())
			Expect(h.Params()).To(Equal(before))
		})

		It("rejects a snapshot from a different horizon", func() {
			blob, err := h.ExportWeights()
			Expect(err).NotTo(HaveOccurred())

			short := control.DefaultConfig()
			short.Optimizer.Horizon = 4
			other, err := control.New(short)
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(other.LoadWeights(blob), dynamo.ErrSnapshot)).To(BeTrue())
		})

		It("rejects a snapshot with a different ensemble shape", func() {
			blob, err := h.ExportWeights()
			Expect(err).NotTo(HaveOccurred())

			wide := control.DefaultConfig()
			wide.Ensemble.Hidden = 16
			other, err := control.New(wide)
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(other.LoadWeights(blob), dynamo.ErrSnapshot)).To(BeTrue())
		})
	})
})
