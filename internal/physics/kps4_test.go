package physics_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/kitesim/internal/atmosphere"
	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/physics"
	"github.com/san-kum/kitesim/internal/winch"
	"gonum.org/v1/gonum/spatial/r3"
)

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func newModel(set *config.Settings, opts ...physics.Option) *physics.KPS4 {
	atm, err := atmosphere.NewStandard(set.Environment)
	Expect(err).NotTo(HaveOccurred())
	wm, err := winch.New(set.Winch)
	Expect(err).NotTo(HaveOccurred())
	m, err := physics.NewKPS4(set, atm, wm, opts...)
	Expect(err).NotTo(HaveOccurred())
	return m
}

var _ = Describe("KPS4", func() {
	var (
		set *config.Settings
		m   *physics.KPS4
	)

	BeforeEach(func() {
		set = config.DefaultSettings()
		m = newModel(set)
	})

	Describe("topology", func() {
		It("has one spring per segment plus nine kite springs", func() {
			springs := m.Springs()
			Expect(springs).To(HaveLen(set.Segments + 9))
			for i := 0; i < set.Segments; i++ {
				Expect(springs[i].P1).To(Equal(i))
				Expect(springs[i].P2).To(Equal(i + 1))
				Expect(springs[i].Kite).To(BeFalse())
			}
			for _, s := range springs[set.Segments:] {
				Expect(s.Kite).To(BeTrue())
				Expect(s.Length).To(BeNumerically(">", 0))
			}
		})

		It("sizes the state from the segment count", func() {
			Expect(m.StateDim()).To(Equal(6*(set.Segments+4) + 2))
			Expect(m.Masses()).To(HaveLen(set.Segments + 5))
		})
	})

	Describe("RebuildGeometry", func() {
		It("is idempotent", func() {
			Expect(m.RebuildGeometry(80)).To(Succeed())
			first := m.Springs()
			Expect(m.RebuildGeometry(80)).To(Succeed())
			Expect(m.Springs()).To(Equal(first))
			Expect(m.SegmentLength()).To(BeNumerically("~", 80.0/float64(set.Segments), 1e-12))
		})

		It("leaves the kite springs alone", func() {
			before := m.Springs()[set.Segments:]
			Expect(m.RebuildGeometry(200)).To(Succeed())
			Expect(m.Springs()[set.Segments:]).To(Equal(before))
		})

		It("rejects non-positive lengths", func() {
			Expect(m.RebuildGeometry(0)).To(MatchError(dynamo.ErrInvalidSettings))
			Expect(m.RebuildGeometry(math.NaN())).To(MatchError(dynamo.ErrInvalidSettings))
		})
	})

	Describe("RebuildMasses", func() {
		It("gives every moving point a positive mass", func() {
			for _, l := range []float64{1e-3, 1, 50, 1000, 1e5} {
				Expect(m.RebuildMasses(l)).To(Succeed())
				for i, mass := range m.Masses()[1:] {
					Expect(mass).To(BeNumerically(">", 0), "point %d at length %g", i+1, l)
				}
			}
		})

		It("splits the kite mass over the kite particles", func() {
			Expect(m.RebuildMasses(set.TetherLength)).To(Succeed())
			masses := m.Masses()
			kite := masses[m.Nose()] + masses[m.Top()] + masses[m.Left()] + masses[m.Right()]
			Expect(kite).To(BeNumerically("~", set.Kite.Mass, 1e-12))
			Expect(masses[m.Left()]).To(Equal(masses[m.Right()]))
			Expect(masses[m.KCU()]).To(BeNumerically(">", set.KCU.Mass))
		})
	})

	Describe("Residual", func() {
		var y, yd, res dynamo.State

		BeforeEach(func() {
			var err error
			y, yd, err = m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			res = make(dynamo.State, m.StateDim())
		})

		It("is bit-identical when called twice", func() {
			Expect(m.Residual(res, yd, y, 0)).To(Succeed())
			again := make(dynamo.State, len(res))
			Expect(m.Residual(again, yd, y, 0)).To(Succeed())
			Expect(again).To(Equal(res))
		})

		It("has zero velocity consistency for the initial state", func() {
			Expect(m.Residual(res, yd, y, 0)).To(Succeed())
			n := 3 * (set.Segments + 4)
			for i := 0; i < n; i++ {
				Expect(res[i]).To(BeZero())
			}
			Expect(res[2*n]).To(BeZero())
		})

		It("vanishes for the explicit derivative", func() {
			d := make(dynamo.State, m.StateDim())
			Expect(m.Derive(d, y, 0)).To(Succeed())
			Expect(m.Residual(res, d, y, 0)).To(Succeed())
			Expect(res.MaxAbs()).To(BeZero())
		})

		It("reports dimension mismatches", func() {
			err := m.Residual(res[:5], yd, y, 0)
			Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
		})

		It("reports coinciding points as degenerate geometry", func() {
			copy(y[3:6], y[0:3])
			err := m.Residual(res, yd, y, 0)
			Expect(err).To(MatchError(dynamo.ErrDegenerateGeometry))
			var evalErr *dynamo.EvalError
			Expect(err).To(BeAssignableToTypeOf(evalErr))
			Expect(dynamo.IsRecoverable(err)).To(BeTrue())
		})

		It("rejects non-finite states", func() {
			y[0] = math.NaN()
			Expect(m.Residual(res, yd, y, 0)).To(MatchError(dynamo.ErrInvalidState))
		})

		It("reports a non-finite derivative guess", func() {
			n := 3 * (set.Segments + 4)
			yd[n] = math.NaN()
			err := m.Residual(res, yd, y, 0)
			Expect(err).To(MatchError(dynamo.ErrNonFiniteResidual))
			var evalErr *dynamo.EvalError
			Expect(errors.As(err, &evalErr)).To(BeTrue())
			Expect(evalErr.Index).To(Equal(n))
		})

		It("reports forces that overflow", func() {
			y[0] = 1e307
			d := make(dynamo.State, m.StateDim())
			Expect(m.Derive(d, y, 0)).To(MatchError(dynamo.ErrNonFiniteResidual))
			Expect(m.Residual(res, yd, y, 0)).To(MatchError(dynamo.ErrNonFiniteResidual))
		})

		It("counts evaluations", func() {
			c := &countingCounter{}
			m = newModel(set, physics.WithEvalCounter(c))
			Expect(m.Residual(res, yd, y, 0)).To(Succeed())
			Expect(m.Derive(make(dynamo.State, m.StateDim()), y, 0)).To(Succeed())
			Expect(c.n).To(Equal(2))
			Expect(m.Evaluations()).To(Equal(int64(2)))
		})
	})

	Describe("kite aerodynamics", func() {
		It("produces upward lift and a pulling tether", func() {
			y, _, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AccelerationsAt(y)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Lift()).To(BeNumerically(">", 0))
			Expect(m.Drag()).To(BeNumerically(">", 0))
			Expect(m.WinchForce()).To(BeNumerically(">", 0))
			Expect(m.MaxTension()).To(BeNumerically(">", 0))
		})

		It("is symmetric without steering", func() {
			y, _, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			acc, err := m.AccelerationsAt(y)
			Expect(err).NotTo(HaveOccurred())

			alpha := m.AnglesOfAttack()
			Expect(alpha[1]).To(BeNumerically("~", alpha[2], 1e-9))
			Expect(acc[m.Left()].Y).To(BeNumerically("~", -acc[m.Right()].Y, 1e-6))
			for i, a := range acc {
				if i == m.Left() || i == m.Right() {
					continue
				}
				Expect(math.Abs(a.Y)).To(BeNumerically("<", 1e-6), "point %d", i)
			}
		})

		It("changes the tip angles in opposite directions when steering", func() {
			m.SetSteering(0.5)
			y, _, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AccelerationsAt(y)
			Expect(err).NotTo(HaveOccurred())

			alpha := m.AnglesOfAttack()
			Expect(alpha[1]).To(BeNumerically("<", alpha[2]))
		})

		It("adds the bluff drag of the KCU", func() {
			y, _, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			with, err := m.AccelerationsAt(y)
			Expect(err).NotTo(HaveOccurred())

			bare := set.Clone()
			bare.KCU.Diameter = 0
			without, err := newModel(bare).AccelerationsAt(y)
			Expect(err).NotTo(HaveOccurred())

			atm, err := atmosphere.NewStandard(set.Environment)
			Expect(err).NotTo(HaveOccurred())
			k := m.KCU()
			h := y[3*(k-1)+2]
			va := r3.Scale(atm.WindFactor(h), r3.Vec{X: set.Environment.WindSpeed})
			d := set.KCU.Diameter
			want := physics.BluffDrag(atm.Density(h), set.KCU.Cd, math.Pi/4*d*d, va)
			Expect(want.X).To(BeNumerically(">", 0))

			mass := m.Masses()[k]
			got := r3.Scale(mass, r3.Sub(with[k], without[k]))
			Expect(got.X).To(BeNumerically("~", want.X, 1e-8))
			Expect(got.Y).To(BeNumerically("~", want.Y, 1e-8))
			Expect(got.Z).To(BeNumerically("~", want.Z, 1e-8))
			for i := range with {
				if i != k {
					Expect(with[i]).To(Equal(without[i]), "point %d", i)
				}
			}
		})

		It("fails on zero apparent wind", func() {
			set.Environment.WindSpeed = 0
			m = newModel(set)
			y, _, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AccelerationsAt(y)
			Expect(err).To(MatchError(dynamo.ErrDegenerateWind))
		})

		It("flags overload above the maximum force", func() {
			set.MaxForce = 1
			m = newModel(set)
			y, _, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AccelerationsAt(y)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Overloaded()).To(BeTrue())
		})
	})

	Describe("Init", func() {
		It("places the tether at the configured elevation", func() {
			y, yd, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(y).To(HaveLen(m.StateDim()))
			Expect(yd).To(HaveLen(m.StateDim()))

			k := 3 * (set.Segments - 1)
			kcu := []float64{y[k], y[k+1], y[k+2]}
			Expect(math.Hypot(kcu[0], kcu[2])).To(BeNumerically("~", set.TetherLength, 1e-9))
			el := math.Atan2(kcu[2], kcu[0]) * 180 / math.Pi
			Expect(el).To(BeNumerically("~", set.Elevation, 1e-9))
		})

		It("applies offsets along the wind and vertically", func() {
			n := set.Segments + 4
			X := make([]float64, 2*n)
			X[0], X[1] = 0.5, -0.25
			y0, _, err := m.Init(nil)
			Expect(err).NotTo(HaveOccurred())
			y1, _, err := m.Init(X)
			Expect(err).NotTo(HaveOccurred())
			Expect(y1[0] - y0[0]).To(BeNumerically("~", 0.5, 1e-12))
			Expect(y1[2] - y0[2]).To(BeNumerically("~", -0.25, 1e-12))
		})

		It("rejects offsets of the wrong size", func() {
			_, _, err := m.Init([]float64{1, 2, 3})
			Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
		})
	})
})
