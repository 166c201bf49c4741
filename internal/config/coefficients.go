package config

import (
	"fmt"
	"sort"
)

// Coefficients is a calibration set for the force laws. The aero version
// in the settings picks one of the predefined sets.
type Coefficients struct {
	// Compression stiffness as a fraction of the tension stiffness.
	KiteCompression   float64
	TetherCompression float64
	// Multiplier on the damping of kite springs in the tension branch.
	KiteDampingRatio float64
	// Multiplier on all kite drag coefficients.
	DragCorrection float64
	// Zero-lift offsets in degrees for the centre and tip surfaces.
	AlphaZero    float64
	AlphaZeroTip float64
}

var coefficientSets = map[int]Coefficients{
	1: {
		KiteCompression:   0.25,
		TetherCompression: 0.1,
		KiteDampingRatio:  6.0,
		DragCorrection:    0.93,
		AlphaZero:         4.0,
		AlphaZeroTip:      10.0,
	},
	2: {
		KiteCompression:   0.25,
		TetherCompression: 0.1,
		KiteDampingRatio:  6.0,
		DragCorrection:    1.0,
		AlphaZero:         4.0,
		AlphaZeroTip:      4.0,
	},
	3: {
		KiteCompression:   0.5,
		TetherCompression: 0.05,
		KiteDampingRatio:  6.0,
		DragCorrection:    0.93,
		AlphaZero:         5.0,
		AlphaZeroTip:      10.0,
	},
}

// CoefficientSetFor returns the predefined set for an aero version.
func CoefficientSetFor(version int) (Coefficients, error) {
	c, ok := coefficientSets[version]
	if !ok {
		return Coefficients{}, fmt.Errorf("unknown aero version %d (available: %v)", version, Versions())
	}
	return c, nil
}

func Versions() []int {
	v := make([]int, 0, len(coefficientSets))
	for k := range coefficientSets {
		v = append(v, k)
	}
	sort.Ints(v)
	return v
}
