package atmosphere

import (
	"math"
	"testing"

	"github.com/san-kum/kitesim/internal/config"
)

func newDefault(t *testing.T, law string) *Standard {
	t.Helper()
	env := config.DefaultSettings().Environment
	env.ProfileLaw = law
	a, err := NewStandard(env)
	if err != nil {
		t.Fatalf("NewStandard: %v", err)
	}
	return a
}

func TestDensity(t *testing.T) {
	a := newDefault(t, "log")

	if got := a.Density(0); math.Abs(got-1.225) > 1e-12 {
		t.Errorf("sea level density = %f, want 1.225", got)
	}
	if a.Density(1000) >= a.Density(0) {
		t.Error("density should decrease with height")
	}
	want := 1.225 * math.Exp(-1)
	if got := a.Density(8550); math.Abs(got-want) > 1e-9 {
		t.Errorf("density at scale height = %f, want %f", got, want)
	}
}

func TestWindFactor(t *testing.T) {
	tests := []struct {
		law string
	}{
		{"log"},
		{"power"},
	}

	for _, tt := range tests {
		t.Run(tt.law, func(t *testing.T) {
			a := newDefault(t, tt.law)
			if got := a.WindFactor(a.HRef); math.Abs(got-1) > 1e-12 {
				t.Errorf("factor at reference height = %f, want 1", got)
			}
			if a.WindFactor(100) <= a.WindFactor(10) {
				t.Error("wind should increase with height")
			}
			if a.WindFactor(-5) != a.WindFactor(a.HMin) {
				t.Error("heights below h_min should be clamped")
			}
		})
	}
}

func TestParseProfileLaw(t *testing.T) {
	if _, err := ParseProfileLaw("cubic"); err == nil {
		t.Error("expected error for unknown law")
	}
	law, err := ParseProfileLaw("power")
	if err != nil || law != PowerLaw {
		t.Errorf("got %v, %v", law, err)
	}
	if law.String() != "power" {
		t.Errorf("String() = %s", law.String())
	}
}

func TestUniform(t *testing.T) {
	u := Uniform{Rho: 1.2, Factor: 1}
	if u.Density(500) != 1.2 || u.WindFactor(500) != 1 {
		t.Error("uniform atmosphere should not depend on height")
	}
}
