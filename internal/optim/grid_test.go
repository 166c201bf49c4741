package optim

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/integrators"
	"github.com/san-kum/kitesim/internal/metrics"
	"github.com/san-kum/kitesim/internal/sim"
	"github.com/san-kum/kitesim/internal/winch"
	"gonum.org/v1/gonum/spatial/r3"
)

// relax is y' = -k y; the winch force is y.
type relax struct {
	k float64
	y float64
}

func (r *relax) StateDim() int { return 1 }
func (r *relax) Derive(yd, y dynamo.State, t float64) error {
	r.y = y[0]
	yd[0] = -r.k * y[0]
	return nil
}
func (r *relax) Residual(res, yd, y dynamo.State, t float64) error {
	r.y = y[0]
	res[0] = yd[0] + r.k*y[0]
	return nil
}
func (r *relax) WinchForce() float64        { return r.y }
func (r *relax) ReelOutSpeed() float64      { return 0 }
func (r *relax) TetherLength() float64      { return 1 }
func (r *relax) KitePosition() r3.Vec       { return r3.Vec{} }
func (r *relax) MaxTension() float64        { return r.y }
func (r *relax) Overloaded() bool           { return false }
func (r *relax) Lift() float64              { return 0 }
func (r *relax) Drag() float64              { return 0 }
func (r *relax) AnglesOfAttack() [3]float64 { return [3]float64{} }
func (r *relax) SetControl(winch.Control)   {}
func (r *relax) SetDepower(float64)         {}
func (r *relax) SetSteering(float64)        {}

func build(params map[string]float64) (sim.Job, error) {
	k := params["k"] * params["scale"]
	if k < 0 {
		return sim.Job{}, fmt.Errorf("negative rate %g", k)
	}
	s := sim.New(&relax{k: k}, integrators.NewEuler(), control.NewConstant(control.Setpoint{}))
	s.AddMetric(metrics.NewForceError(0))
	cfg := dynamo.DefaultConfig()
	cfg.Dt = 0.1
	cfg.MaxDt = 0.1
	cfg.Duration = 1
	return sim.Job{Sim: s, Y0: dynamo.State{1}, Cfg: cfg}, nil
}

func TestGridPoints(t *testing.T) {
	g, err := NewGrid([]string{"a", "b"}, [][]float64{{1, 2}, {10, 20, 30}})
	if err != nil {
		t.Fatal(err)
	}
	pts := g.Points()
	if g.Size() != 6 || len(pts) != 6 {
		t.Fatalf("size %d, %d points", g.Size(), len(pts))
	}
	if pts[0]["a"] != 1 || pts[0]["b"] != 10 || pts[1]["b"] != 20 || pts[3]["a"] != 2 {
		t.Errorf("unexpected order: %v", pts)
	}

	if _, err := NewGrid([]string{"a"}, nil); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := NewGrid([]string{"a"}, [][]float64{{}}); err == nil {
		t.Error("expected error for empty values")
	}
}

func TestSearch(t *testing.T) {
	g, _ := NewGrid([]string{"k", "scale"}, [][]float64{{-1, 0.5, 2, 1}, {1}})
	best, all, err := Search(context.Background(), g, build, "force_rms_error", 2)
	if err != nil {
		t.Fatal(err)
	}
	if best.Params["k"] != 2 {
		t.Errorf("best k = %g, want 2", best.Params["k"])
	}
	if len(all) != 4 {
		t.Fatalf("%d candidates", len(all))
	}
	for i := 1; i < 3; i++ {
		if all[i].Score < all[i-1].Score {
			t.Error("candidates not sorted by score")
		}
	}
	if all[3].Err == nil || all[3].Params["k"] != -1 {
		t.Errorf("failed candidate should sort last: %+v", all[3])
	}
}

func TestSearch_NoCandidate(t *testing.T) {
	g, _ := NewGrid([]string{"k", "scale"}, [][]float64{{1}, {-1}})
	if _, _, err := Search(context.Background(), g, build, "force_rms_error", 1); !errors.Is(err, ErrNoCandidate) {
		t.Errorf("expected ErrNoCandidate, got %v", err)
	}
	g, _ = NewGrid([]string{"k", "scale"}, [][]float64{{1}, {1}})
	_, all, err := Search(context.Background(), g, build, "missing", 1)
	if !errors.Is(err, ErrNoCandidate) || all[0].Err == nil {
		t.Errorf("missing metric should fail the candidate: %v", err)
	}
}
