package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSegments     = 6
	DefaultTetherLength = 50.0
	DefaultElevation    = 70.7
	DefaultWindSpeed    = 9.51
	DefaultMaxForce     = 4000.0
	DefaultVersion      = 1
	GEarth              = 9.81
)

// Settings is the immutable description of one simulation run. It is
// loaded once and passed by pointer to every component; nothing writes to
// it after Validate.
type Settings struct {
	Segments     int     `yaml:"segments"`
	TetherLength float64 `yaml:"l_tether"`
	Elevation    float64 `yaml:"elevation"`
	VReelOut     float64 `yaml:"v_reel_out"`
	Depower      float64 `yaml:"depower"`
	Steering     float64 `yaml:"steering"`
	MaxForce     float64 `yaml:"max_force"`

	Tether      TetherConfig      `yaml:"tether"`
	Kite        KiteConfig        `yaml:"kite"`
	KCU         KCUConfig         `yaml:"kcu"`
	Aero        AeroConfig        `yaml:"aero"`
	Environment EnvironmentConfig `yaml:"environment"`
	Winch       WinchConfig       `yaml:"winch"`
	Solver      SolverConfig      `yaml:"solver"`
}

type TetherConfig struct {
	Diameter float64 `yaml:"d_tether"`
	Density  float64 `yaml:"rho_tether"`
	CSpring  float64 `yaml:"c_spring"`
	Damping  float64 `yaml:"damping"`
	Cd       float64 `yaml:"cd_tether"`
}

type KiteConfig struct {
	Mass           float64 `yaml:"mass"`
	Area           float64 `yaml:"area"`
	Height         float64 `yaml:"height_k"`
	Width          float64 `yaml:"width"`
	BridleHeight   float64 `yaml:"h_bridle"`
	NoseDistance   float64 `yaml:"m_k"`
	RelSideArea    float64 `yaml:"rel_side_area"`
	RelNoseMass    float64 `yaml:"rel_nose_mass"`
	RelTopMass     float64 `yaml:"rel_top_mass"`
	LineDiameter   float64 `yaml:"d_line"`
	PitchDamping   float64 `yaml:"c_pitch"`
	SideForceCoeff float64 `yaml:"c_side"`
	MaxSteering    float64 `yaml:"max_steering"`
}

type KCUConfig struct {
	Mass              float64 `yaml:"kcu_mass"`
	Diameter          float64 `yaml:"kcu_diameter"`
	Cd                float64 `yaml:"cd_kcu"`
	Power2SteerDist   float64 `yaml:"power2steer_dist"`
	DepowerLineLength float64 `yaml:"depower_line"`
}

type AeroConfig struct {
	Version  int       `yaml:"version"`
	Interp   string    `yaml:"interp"`
	AlphaCL  []float64 `yaml:"alpha_cl"`
	CLList   []float64 `yaml:"cl_list"`
	AlphaCD  []float64 `yaml:"alpha_cd"`
	CDList   []float64 `yaml:"cd_list"`
	Override Overrides `yaml:"override"`
}

// Overrides replaces individual fields of the coefficient set selected by
// the aero version. Nil fields keep the set's value.
type Overrides struct {
	KiteCompression   *float64 `yaml:"kite_compression"`
	TetherCompression *float64 `yaml:"tether_compression"`
	KiteDampingRatio  *float64 `yaml:"kite_damping_ratio"`
	DragCorrection    *float64 `yaml:"drag_correction"`
	AlphaZero         *float64 `yaml:"alpha_zero"`
	AlphaZeroTip      *float64 `yaml:"alpha_ztip"`
}

type EnvironmentConfig struct {
	WindSpeed     float64 `yaml:"v_wind"`
	WindDirection float64 `yaml:"wind_direction"`
	ProfileLaw    string  `yaml:"profile_law"`
	HRef          float64 `yaml:"h_ref"`
	Z0            float64 `yaml:"z0"`
	Alpha         float64 `yaml:"alpha"`
	HMin          float64 `yaml:"h_min"`
	Rho0          float64 `yaml:"rho_0"`
	HeightScale   float64 `yaml:"height_scale"`
	Gravity       float64 `yaml:"g_earth"`
}

type WinchConfig struct {
	Model        string   `yaml:"model"`
	DrumRadius   float64  `yaml:"drum_radius"`
	GearRatio    float64  `yaml:"gear_ratio"`
	Inertia      float64  `yaml:"inertia_total"`
	FCoulomb     float64  `yaml:"f_coulomb"`
	CVf          float64  `yaml:"c_vf"`
	PeakTorque   float64  `yaml:"peak_torque"`
	PeakSlip     float64  `yaml:"peak_slip"`
	MaxTorque    float64  `yaml:"max_torque"`
	SpeedGain    float64  `yaml:"speed_gain"`
	BrakeGain    float64  `yaml:"brake_gain"`
	SyncSpeed    *float64 `yaml:"sync_speed"`
	SetTorque    *float64 `yaml:"set_torque"`
	FrictionBand float64  `yaml:"friction_band"`
}

type SolverConfig struct {
	Integrator      string  `yaml:"integrator"`
	Dt              float64 `yaml:"dt"`
	Duration        float64 `yaml:"duration"`
	MinDt           float64 `yaml:"min_dt"`
	NewtonTol       float64 `yaml:"newton_tol"`
	NewtonMaxIter   int     `yaml:"newton_max_iter"`
	MaxIter         int     `yaml:"max_iter"`
	XTol            float64 `yaml:"xtol"`
	FTol            float64 `yaml:"ftol"`
	StiffnessSteady float64 `yaml:"stiffness_steady"`
	SaveEvery       int     `yaml:"save_every"`
}

func DefaultSettings() *Settings {
	return &Settings{
		Segments:     DefaultSegments,
		TetherLength: DefaultTetherLength,
		Elevation:    DefaultElevation,
		VReelOut:     0,
		Depower:      0.25,
		Steering:     0,
		MaxForce:     DefaultMaxForce,
		Tether: TetherConfig{
			Diameter: 0.004,
			Density:  724.0,
			CSpring:  614600.0,
			Damping:  473.0,
			Cd:       0.958,
		},
		Kite: KiteConfig{
			Mass:           6.2,
			Area:           10.18,
			Height:         2.23,
			Width:          4.9,
			BridleHeight:   4.9,
			NoseDistance:   0.2,
			RelSideArea:    0.306,
			RelNoseMass:    0.47,
			RelTopMass:     0.4,
			LineDiameter:   0.0025,
			PitchDamping:   10.0,
			SideForceCoeff: 0.05,
			MaxSteering:    16.834,
		},
		KCU: KCUConfig{
			Mass:              8.4,
			Diameter:          0.4,
			Cd:                0.958,
			Power2SteerDist:   1.3,
			DepowerLineLength: 0.6,
		},
		Aero: AeroConfig{
			Version: DefaultVersion,
			Interp:  "akima",
			AlphaCL: []float64{-180, -160, -90, -20, -10, -5, 0, 20, 40, 90, 160, 180},
			CLList:  []float64{0, 0.5, 0, 0.08, 0.125, 0.15, 0.2, 1, 1, 0, -0.5, 0},
			AlphaCD: []float64{-180, -170, -140, -90, -20, 0, 20, 90, 140, 170, 180},
			CDList:  []float64{0.5, 0.5, 0.5, 1, 0.2, 0.1, 0.2, 1, 0.5, 0.5, 0.5},
		},
		Environment: EnvironmentConfig{
			WindSpeed:     DefaultWindSpeed,
			WindDirection: 0,
			ProfileLaw:    "log",
			HRef:          6.0,
			Z0:            0.0002,
			Alpha:         0.08163,
			HMin:          0.5,
			Rho0:          1.225,
			HeightScale:   8550.0,
			Gravity:       GEarth,
		},
		Winch: WinchConfig{
			Model:        "async",
			DrumRadius:   0.1615,
			GearRatio:    6.2,
			Inertia:      0.024,
			FCoulomb:     122.0,
			CVf:          30.6,
			PeakTorque:   180.0,
			PeakSlip:     8.0,
			MaxTorque:    200.0,
			SpeedGain:    20.0,
			BrakeGain:    100.0,
			FrictionBand: 0.05,
		},
		Solver: SolverConfig{
			Integrator:      "implicit",
			Dt:              0.05,
			Duration:        10.0,
			MinDt:           1e-5,
			NewtonTol:       1e-6,
			NewtonMaxIter:   8,
			MaxIter:         200,
			XTol:            2e-7,
			FTol:            2e-7,
			StiffnessSteady: 0.035,
			SaveEvery:       1,
		},
	}
}

// Load reads a YAML settings file on top of the defaults.
func Load(path string) (*Settings, error) {
	return LoadOver(DefaultSettings(), path)
}

// LoadOver reads a YAML settings file on top of a copy of base, e.g. a
// preset. base is not modified.
func LoadOver(base *Settings, path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := base.Clone()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Points returns the number of point masses including the ground anchor.
func (s *Settings) Points() int { return s.Segments + KiteParticles + 1 }

// StateDim returns the DAE state length.
func (s *Settings) StateDim() int { return 6*(s.Segments+KiteParticles) + 2 }

// KiteParticles is the number of point masses forming the kite body.
const KiteParticles = 4

// Validate checks every field that would make model construction
// impossible and reports all problems at once.
func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	positive := func(v float64, name string) {
		check(v > 0 && !math.IsInf(v, 0), "%s must be positive, got %g", name, v)
	}

	check(s.Segments >= 1, "segments must be >= 1, got %d", s.Segments)
	positive(s.TetherLength, "l_tether")
	check(s.Elevation > 0 && s.Elevation < 90, "elevation must be in (0, 90) degrees, got %g", s.Elevation)
	check(s.Steering >= -1 && s.Steering <= 1, "steering must be in [-1, 1], got %g", s.Steering)
	check(s.Depower >= 0 && s.Depower <= 1, "depower must be in [0, 1], got %g", s.Depower)
	positive(s.MaxForce, "max_force")

	positive(s.Tether.Diameter, "tether.d_tether")
	positive(s.Tether.Density, "tether.rho_tether")
	positive(s.Tether.CSpring, "tether.c_spring")
	check(s.Tether.Damping >= 0, "tether.damping must not be negative, got %g", s.Tether.Damping)
	check(s.Tether.Cd >= 0, "tether.cd_tether must not be negative, got %g", s.Tether.Cd)

	positive(s.Kite.Mass, "kite.mass")
	positive(s.Kite.Area, "kite.area")
	positive(s.Kite.Height, "kite.height_k")
	positive(s.Kite.Width, "kite.width")
	positive(s.Kite.BridleHeight, "kite.h_bridle")
	positive(s.Kite.NoseDistance, "kite.m_k")
	positive(s.Kite.LineDiameter, "kite.d_line")
	check(s.Kite.RelNoseMass > 0 && s.Kite.RelNoseMass < 1, "kite.rel_nose_mass must be in (0, 1), got %g", s.Kite.RelNoseMass)
	check(s.Kite.RelTopMass > 0 && s.Kite.RelTopMass < 1, "kite.rel_top_mass must be in (0, 1), got %g", s.Kite.RelTopMass)
	check(s.Kite.RelSideArea >= 0, "kite.rel_side_area must not be negative, got %g", s.Kite.RelSideArea)

	check(s.KCU.Mass >= 0, "kcu.kcu_mass must not be negative, got %g", s.KCU.Mass)
	check(s.KCU.Diameter >= 0, "kcu.kcu_diameter must not be negative, got %g", s.KCU.Diameter)
	positive(s.KCU.Power2SteerDist, "kcu.power2steer_dist")

	check(len(s.Aero.AlphaCL) >= 2 && len(s.Aero.AlphaCL) == len(s.Aero.CLList),
		"aero.alpha_cl and aero.cl_list must have the same length >= 2, got %d and %d", len(s.Aero.AlphaCL), len(s.Aero.CLList))
	check(len(s.Aero.AlphaCD) >= 2 && len(s.Aero.AlphaCD) == len(s.Aero.CDList),
		"aero.alpha_cd and aero.cd_list must have the same length >= 2, got %d and %d", len(s.Aero.AlphaCD), len(s.Aero.CDList))
	_, err := CoefficientSetFor(s.Aero.Version)
	if err != nil {
		errs = append(errs, err)
	}

	check(s.Environment.WindSpeed >= 0, "environment.v_wind must not be negative, got %g", s.Environment.WindSpeed)
	positive(s.Environment.Rho0, "environment.rho_0")
	positive(s.Environment.HeightScale, "environment.height_scale")
	positive(s.Environment.HRef, "environment.h_ref")
	positive(s.Environment.HMin, "environment.h_min")
	check(s.Environment.Gravity >= 0, "environment.g_earth must not be negative, got %g", s.Environment.Gravity)
	if s.Environment.ProfileLaw == "log" {
		positive(s.Environment.Z0, "environment.z0")
	}

	positive(s.Winch.DrumRadius, "winch.drum_radius")
	positive(s.Winch.GearRatio, "winch.gear_ratio")
	positive(s.Winch.Inertia, "winch.inertia_total")

	positive(s.Solver.Dt, "solver.dt")
	positive(s.Solver.Duration, "solver.duration")
	check(s.Solver.MaxIter >= 1, "solver.max_iter must be >= 1, got %d", s.Solver.MaxIter)
	positive(s.Solver.StiffnessSteady, "solver.stiffness_steady")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", dynamo.ErrInvalidSettings, errors.Join(errs...))
}

// Coefficients returns the coefficient set for the configured aero version
// with the per-field overrides applied.
func (s *Settings) Coefficients() Coefficients {
	c, err := CoefficientSetFor(s.Aero.Version)
	if err != nil {
		c = coefficientSets[DefaultVersion]
	}
	o := s.Aero.Override
	apply := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&c.KiteCompression, o.KiteCompression)
	apply(&c.TetherCompression, o.TetherCompression)
	apply(&c.KiteDampingRatio, o.KiteDampingRatio)
	apply(&c.DragCorrection, o.DragCorrection)
	apply(&c.AlphaZero, o.AlphaZero)
	apply(&c.AlphaZeroTip, o.AlphaZeroTip)
	return c
}

// Clone returns a deep copy, used when one run needs a modified variant of
// shared settings.
func (s *Settings) Clone() *Settings {
	c := *s
	c.Aero.AlphaCL = append([]float64(nil), s.Aero.AlphaCL...)
	c.Aero.CLList = append([]float64(nil), s.Aero.CLList...)
	c.Aero.AlphaCD = append([]float64(nil), s.Aero.AlphaCD...)
	c.Aero.CDList = append([]float64(nil), s.Aero.CDList...)
	if s.Winch.SyncSpeed != nil {
		v := *s.Winch.SyncSpeed
		c.Winch.SyncSpeed = &v
	}
	if s.Winch.SetTorque != nil {
		v := *s.Winch.SetTorque
		c.Winch.SetTorque = &v
	}
	return &c
}
