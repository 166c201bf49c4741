// Package atmosphere provides the air density and wind profile models
// consumed by the kite model.
package atmosphere

import (
	"fmt"
	"math"

	"github.com/san-kum/kitesim/internal/config"
)

// Model gives air properties as a function of height above ground.
type Model interface {
	// Density returns the air density in kg/m³.
	Density(height float64) float64
	// WindFactor returns the multiplier on the ground wind speed.
	WindFactor(height float64) float64
}

type ProfileLaw int

const (
	LogLaw ProfileLaw = iota
	PowerLaw
)

func ParseProfileLaw(name string) (ProfileLaw, error) {
	switch name {
	case "", "log":
		return LogLaw, nil
	case "power", "exp":
		return PowerLaw, nil
	}
	return 0, fmt.Errorf("unknown wind profile law: %s", name)
}

func (p ProfileLaw) String() string {
	if p == PowerLaw {
		return "power"
	}
	return "log"
}

// Standard is an isothermal exponential atmosphere with a log-law or
// power-law boundary layer. Heights below HMin are clamped.
type Standard struct {
	Rho0        float64
	HeightScale float64
	Law         ProfileLaw
	HRef        float64
	Z0          float64
	Alpha       float64
	HMin        float64
}

func NewStandard(env config.EnvironmentConfig) (*Standard, error) {
	law, err := ParseProfileLaw(env.ProfileLaw)
	if err != nil {
		return nil, err
	}
	return &Standard{
		Rho0:        env.Rho0,
		HeightScale: env.HeightScale,
		Law:         law,
		HRef:        env.HRef,
		Z0:          env.Z0,
		Alpha:       env.Alpha,
		HMin:        env.HMin,
	}, nil
}

func (a *Standard) Density(height float64) float64 {
	return a.Rho0 * math.Exp(-height/a.HeightScale)
}

func (a *Standard) WindFactor(height float64) float64 {
	h := math.Max(height, a.HMin)
	if a.Law == PowerLaw {
		return math.Pow(h/a.HRef, a.Alpha)
	}
	return math.Log(h/a.Z0) / math.Log(a.HRef/a.Z0)
}

// Uniform has constant density and no wind shear. Used for tests and
// calm-air checks.
type Uniform struct {
	Rho    float64
	Factor float64
}

func (u Uniform) Density(float64) float64    { return u.Rho }
func (u Uniform) WindFactor(float64) float64 { return u.Factor }
