package aero

import (
	"math"
	"testing"

	"github.com/san-kum/kitesim/internal/config"
)

func TestWrapDegrees(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{180, -180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{540, -180},
		{725, 5},
	}

	for _, tt := range tests {
		if got := WrapDegrees(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("WrapDegrees(%f) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestTableKnots(t *testing.T) {
	cfg := config.DefaultSettings().Aero

	for _, m := range Methods() {
		t.Run(m, func(t *testing.T) {
			tab, err := NewTable(Method(m), cfg.AlphaCL, cfg.CLList)
			if err != nil {
				t.Fatalf("NewTable: %v", err)
			}
			for i, a := range cfg.AlphaCL[1 : len(cfg.AlphaCL)-1] {
				if got, want := tab.At(a), cfg.CLList[i+1]; math.Abs(got-want) > 1e-9 {
					t.Errorf("At(%f) = %f, want %f", a, got, want)
				}
			}
		})
	}
}

func TestTableLinearMidpoint(t *testing.T) {
	tab, err := NewTable(Linear, []float64{0, 10}, []float64{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := tab.At(5); math.Abs(got-2) > 1e-12 {
		t.Errorf("At(5) = %f, want 2", got)
	}
	if got := tab.At(50); got != 3 {
		t.Errorf("At(50) should clamp to the last value, got %f", got)
	}
}

func TestTablePeriodic(t *testing.T) {
	cfg := config.DefaultSettings().Aero
	tab, err := NewTable(Akima, cfg.AlphaCD, cfg.CDList)
	if err != nil {
		t.Fatal(err)
	}
	if tab.At(10) != tab.At(370) {
		t.Error("angles one turn apart should give the same coefficient")
	}
}

func TestNewTableErrors(t *testing.T) {
	tests := []struct {
		name   string
		m      Method
		alpha  []float64
		values []float64
	}{
		{"length mismatch", Linear, []float64{0, 1, 2}, []float64{0, 1}},
		{"too short", Linear, []float64{0}, []float64{0}},
		{"unsorted", Linear, []float64{0, 2, 1}, []float64{0, 1, 2}},
		{"unknown method", Method("cubic"), []float64{0, 1}, []float64{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.m, tt.alpha, tt.values); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPolarsDragCorrection(t *testing.T) {
	cfg := config.DefaultSettings().Aero
	p, err := NewPolars(cfg, 0.93)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := NewPolars(cfg, 1)

	if got, want := p.CD(0), 0.93*raw.CD(0); math.Abs(got-want) > 1e-12 {
		t.Errorf("CD(0) = %f, want %f", got, want)
	}
	if p.CL(0) != raw.CL(0) {
		t.Error("drag correction must not touch lift")
	}
}
