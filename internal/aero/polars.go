// Package aero holds the lift and drag coefficient tables of the kite.
package aero

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/kitesim/internal/config"
	"gonum.org/v1/gonum/interp"
)

type Method string

const (
	Akima          Method = "akima"
	Linear         Method = "linear"
	FritschButland Method = "fritsch-butland"
)

func Methods() []string {
	return []string{string(Akima), string(Linear), string(FritschButland)}
}

func newPredictor(m Method) (interp.FittablePredictor, error) {
	switch m {
	case "", Akima:
		return &interp.AkimaSpline{}, nil
	case Linear:
		return &interp.PiecewiseLinear{}, nil
	case FritschButland:
		return &interp.FritschButland{}, nil
	}
	return nil, fmt.Errorf("unknown interpolation method: %s", m)
}

// Table maps an angle of attack in degrees to a coefficient. Angles are
// wrapped into [-180, 180) and clamped to the table range.
type Table struct {
	pred   interp.Predictor
	lo, hi float64
}

func NewTable(m Method, alpha, values []float64) (*Table, error) {
	if len(alpha) != len(values) {
		return nil, fmt.Errorf("table length mismatch: %d angles, %d values", len(alpha), len(values))
	}
	if len(alpha) < 2 {
		return nil, fmt.Errorf("table needs at least 2 points, got %d", len(alpha))
	}
	if !sort.Float64sAreSorted(alpha) {
		return nil, fmt.Errorf("table angles must be increasing")
	}
	pred, err := newPredictor(m)
	if err != nil {
		return nil, err
	}
	if err := pred.Fit(alpha, values); err != nil {
		return nil, fmt.Errorf("fit table: %w", err)
	}
	return &Table{pred: pred, lo: alpha[0], hi: alpha[len(alpha)-1]}, nil
}

func (t *Table) At(alpha float64) float64 {
	a := WrapDegrees(alpha)
	a = math.Max(t.lo, math.Min(t.hi, a))
	return t.pred.Predict(a)
}

// WrapDegrees maps an angle in degrees into [-180, 180).
func WrapDegrees(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

// Polars pairs the lift and drag tables. DragCorrection scales every drag
// coefficient.
type Polars struct {
	cl, cd         *Table
	DragCorrection float64
}

func NewPolars(cfg config.AeroConfig, dragCorrection float64) (*Polars, error) {
	m := Method(cfg.Interp)
	cl, err := NewTable(m, cfg.AlphaCL, cfg.CLList)
	if err != nil {
		return nil, fmt.Errorf("lift table: %w", err)
	}
	cd, err := NewTable(m, cfg.AlphaCD, cfg.CDList)
	if err != nil {
		return nil, fmt.Errorf("drag table: %w", err)
	}
	return &Polars{cl: cl, cd: cd, DragCorrection: dragCorrection}, nil
}

func (p *Polars) CL(alpha float64) float64 { return p.cl.At(alpha) }

func (p *Polars) CD(alpha float64) float64 { return p.DragCorrection * p.cd.At(alpha) }
