package sim_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/physics"
	"github.com/san-kum/hybridctl/internal/sim"
)

var _ = Describe("Plant", func() {
	It("matches the analytical model when drag and wind are off", func() {
		pp := sim.PlantParams{Mass: 1.7, Friction: 0.3, Gravity: 0.5}
		plant, err := sim.NewPlant(pp, 1)
		Expect(err).NotTo(HaveOccurred())

		x := dynamo.State{1, 2, 3, -4, 0.5, 0.2}
		u := dynamo.Control{0.7, -1.1}
		want := physics.Derivative(x, u, physics.Params{Mass: 1.7, Friction: 0.3, Gravity: 0.5})
		Expect(plant.Derive(x, u, 0)).To(Equal(want))
	})

	It("slows a moving body harder with drag", func() {
		x := dynamo.State{0, 0, 50, 0}
		plain, _ := sim.NewPlant(sim.PlantParams{Mass: 1, Friction: 0.1}, 1)
		dragged, _ := sim.NewPlant(sim.PlantParams{Mass: 1, Friction: 0.1, Drag: 0.01}, 1)

		a := plain.Derive(x, dynamo.Control{}, 0)[dynamo.VelX]
		b := dragged.Derive(x, dynamo.Control{}, 0)[dynamo.VelX]
		Expect(b).To(BeNumerically("<", a))
	})

	It("measures exactly without noise and reproducibly with it", func() {
		x := dynamo.State{1, 2, 3, 4, 5, 6}
		quiet, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
		Expect(quiet.Measure(x)).To(Equal(x))

		pp := sim.DefaultPlantParams()
		pp.Noise = 0.5
		a, _ := sim.NewPlant(pp, 7)
		b, _ := sim.NewPlant(pp, 7)
		ma := a.Measure(x)
		Expect(ma).NotTo(Equal(x))
		Expect(b.Measure(x)).To(Equal(ma))
		Expect(x).To(Equal(dynamo.State{1, 2, 3, 4, 5, 6}))
	})

	It("agrees between the rk4 and rk45 integrators", func() {
		pp := sim.DefaultPlantParams()
		pp.Wind = [2]float64{0.4, -0.2}
		fixed, err := sim.NewPlant(pp, 1)
		Expect(err).NotTo(HaveOccurred())
		pp.Integrator = sim.IntegratorRK45
		adaptive, err := sim.NewPlant(pp, 1)
		Expect(err).NotTo(HaveOccurred())

		x := dynamo.State{0, 0, 30, -10}
		u := dynamo.Control{2, 1}
		a := fixed.Advance(x, u, 0, physics.DefaultDt, 4)
		b := adaptive.Advance(x, u, 0, physics.DefaultDt, 4)
		Expect(b.IsValid()).To(BeTrue())
		Expect(a.Distance(b)).To(BeNumerically("<", 1e-9))
	})

	It("rejects an unknown integrator", func() {
		pp := sim.DefaultPlantParams()
		pp.Integrator = "verlet"
		_, err := sim.NewPlant(pp, 1)
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
	})

	It("toggles friction on a negative shift", func() {
		plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
		Expect(plant.Shift(-1)).To(Equal(0.7))
		Expect(plant.Shift(-1)).To(Equal(0.05))
		Expect(plant.Shift(0.33)).To(Equal(0.33))
		Expect(plant.Params().Friction).To(Equal(0.33))
	})

	It("validates parameter edits", func() {
		plant, _ := sim.NewPlant(sim.DefaultPlantParams(), 1)
		var c dynamo.Configurable = plant

		Expect(c.SetParam("wind_x", 2)).To(Succeed())
		Expect(c.GetParams()["wind_x"]).To(Equal(2.0))

		err := c.SetParam("mass", 0)
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		Expect(plant.Params().Mass).To(Equal(sim.DefaultPlantParams().Mass))

		Expect(c.SetParam("viscosity", 1)).NotTo(Succeed())
	})

	It("rejects a massless plant", func() {
		_, err := sim.NewPlant(sim.PlantParams{}, 1)
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
	})
})
