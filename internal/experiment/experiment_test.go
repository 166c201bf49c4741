package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/san-kum/kitesim/internal/atmosphere"
	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/integrators"
	"github.com/san-kum/kitesim/internal/observability"
)

func TestRegistry_Lists(t *testing.T) {
	r := NewRegistry()
	if got := r.ListIntegrators(); !slices.Equal(got, []string{"euler", "implicit", "rk4", "rk45"}) {
		t.Errorf("integrators = %v", got)
	}
	if got := r.ListWinches(); !slices.Equal(got, []string{"async", "torque"}) {
		t.Errorf("winches = %v", got)
	}
	if got := r.ListWinds(); !slices.Equal(got, []string{"log", "power", "uniform"}) {
		t.Errorf("winds = %v", got)
	}
	if got := r.ListControllers(); !slices.Equal(got, []string{"constant", "manual", "pid"}) {
		t.Errorf("controllers = %v", got)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	set := config.DefaultSettings()

	s, err := r.Stepper(config.SolverConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*integrators.BackwardEuler); !ok {
		t.Errorf("default stepper is %T", s)
	}
	if _, err := r.Stepper(config.SolverConfig{Integrator: "leapfrog"}); err == nil {
		t.Error("expected error for unknown integrator")
	}
	if _, err := r.Winch(config.WinchConfig{Model: "hydraulic"}); err == nil {
		t.Error("expected error for unknown winch")
	}

	atm, err := r.Atmosphere("", set.Environment)
	if err != nil {
		t.Fatal(err)
	}
	if std, ok := atm.(*atmosphere.Standard); !ok || std.Law != atmosphere.LogLaw {
		t.Errorf("default wind profile = %#v", atm)
	}
	atm, err = r.Atmosphere("uniform", set.Environment)
	if err != nil || atm.WindFactor(300) != 1 {
		t.Errorf("uniform profile: %v %v", atm, err)
	}
	if _, err := r.Atmosphere("gusty", set.Environment); err == nil {
		t.Error("expected error for unknown wind profile")
	}

	c, err := r.Controller("pid", set, map[string]float64{"kp": 0.01})
	if err != nil {
		t.Fatal(err)
	}
	pid := c.(*control.ForcePID)
	if pid.Kp != 0.01 || pid.Target != 0.5*set.MaxForce {
		t.Errorf("pid = %+v", pid)
	}
	if _, ok := mustController(t, r, "manual", set).(*control.Manual); !ok {
		t.Error("manual controller has the wrong type")
	}
	if _, ok := mustController(t, r, "", set).(*control.Constant); !ok {
		t.Error("default controller is not constant")
	}
	if _, err := r.Controller("mpc", set, nil); err == nil {
		t.Error("expected error for unknown controller")
	}
}

func mustController(t *testing.T, r *Registry, name string, set *config.Settings) control.Controller {
	t.Helper()
	c, err := r.Controller(name, set, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSpeeds(t *testing.T) {
	if got := Speeds(4, 10, 4); !slices.Equal(got, []float64{4, 6, 8, 10}) {
		t.Errorf("Speeds = %v", got)
	}
	if got := Speeds(5, 9, 1); !slices.Equal(got, []float64{5}) {
		t.Errorf("Speeds single = %v", got)
	}
	if Speeds(1, 2, 0) != nil {
		t.Error("zero count should give nil")
	}
}

func TestBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	col, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	set := config.DefaultSettings()
	set.Solver.Duration = 0.05
	set.Solver.Dt = 0.05
	e, err := Build(context.Background(), NewRegistry(), Config{Settings: set, Collector: col})
	if err != nil {
		t.Fatal(err)
	}
	if len(e.Y0) != set.StateDim() || len(e.YD0) != set.StateDim() {
		t.Fatalf("initial state sizes %d/%d", len(e.Y0), len(e.YD0))
	}
	if got := len(e.Springs()); got != set.Segments+9 {
		t.Errorf("%d springs", got)
	}
	if got := e.KitePoints(); got[0] != set.Segments || len(got) != 5 {
		t.Errorf("kite points %v", got)
	}
	cfg := e.RunConfig()
	if cfg.Dt != 0.05 || cfg.MaxDt != 0.05 || cfg.Duration != 0.05 {
		t.Errorf("run config %+v", cfg)
	}

	if job := e.Job("base"); job.Sim != e.Sim || job.Cfg != cfg || len(job.Y0) != len(e.Y0) {
		t.Errorf("job %+v does not match the experiment", job)
	}

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.StepsTaken != 1 || len(res.Records) != 2 {
		t.Errorf("steps %d records %d", res.StepsTaken, len(res.Records))
	}
	if _, ok := res.Metrics["max_tension"]; !ok {
		t.Error("standard metrics not attached")
	}
	if testutil.ToFloat64(col.Evaluations) == 0 {
		t.Error("evaluations not counted")
	}
}

func TestBuild_Errors(t *testing.T) {
	set := config.DefaultSettings()
	set.Solver.Integrator = "leapfrog"
	if _, err := Build(context.Background(), NewRegistry(), Config{Settings: set}); err == nil {
		t.Error("expected error for unknown integrator")
	}

	set = config.DefaultSettings()
	set.Segments = 0
	_, err := Build(context.Background(), NewRegistry(), Config{Settings: set})
	if !errors.Is(err, dynamo.ErrInvalidSettings) {
		t.Errorf("expected ErrInvalidSettings, got %v", err)
	}

	_, err = Build(context.Background(), NewRegistry(), Config{Schedule: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Error("expected error for missing schedule")
	}
}

func TestBuild_Schedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	data := "times: [0, 10]\nsync_speed: [0, 2]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := Build(context.Background(), NewRegistry(), Config{Schedule: path})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Controller.(*control.Schedule); !ok {
		t.Errorf("controller is %T", e.Controller)
	}
}

func TestSweep(t *testing.T) {
	if testing.Short() {
		t.Skip("steady-state searches on the full model")
	}
	set := config.DefaultSettings()
	pts, err := Sweep(context.Background(), NewRegistry(), set, "", []float64{8, 12}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 2 {
		t.Fatalf("%d points", len(pts))
	}
	for _, p := range pts {
		if p.Err != nil {
			t.Fatalf("v_wind %.0f: %v", p.WindSpeed, p.Err)
		}
		if !p.Converged {
			t.Errorf("v_wind %.0f: not converged, norm %g", p.WindSpeed, p.Norm)
		}
		if p.WinchForce <= 0 || p.Height <= 0 {
			t.Errorf("v_wind %.0f: force %f height %f", p.WindSpeed, p.WinchForce, p.Height)
		}
	}
	if pts[1].WinchForce <= pts[0].WinchForce {
		t.Errorf("force did not grow with the wind: %f <= %f", pts[1].WinchForce, pts[0].WinchForce)
	}
	if set.Environment.WindSpeed != config.DefaultWindSpeed {
		t.Error("sweep modified the base settings")
	}
}

func TestSweep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pts, err := Sweep(ctx, NewRegistry(), config.DefaultSettings(), "", []float64{8, 9, 10}, nil)
	if !errors.Is(err, dynamo.ErrContextCanceled) {
		t.Errorf("expected ErrContextCanceled, got %v", err)
	}
	for _, p := range pts {
		if p.Err == nil {
			t.Error("canceled point has no error")
		}
	}
}
