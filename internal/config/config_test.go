package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/kitesim/internal/dynamo"
)

func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	if cfg.Segments != DefaultSegments {
		t.Errorf("expected %d segments, got %d", DefaultSegments, cfg.Segments)
	}
	if cfg.Points() != cfg.Segments+5 {
		t.Errorf("expected %d points, got %d", cfg.Segments+5, cfg.Points())
	}
	if cfg.StateDim() != 6*(cfg.Segments+4)+2 {
		t.Errorf("unexpected state dim %d", cfg.StateDim())
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero segments", func(s *Settings) { s.Segments = 0 }},
		{"negative length", func(s *Settings) { s.TetherLength = -1 }},
		{"zero kite mass", func(s *Settings) { s.Kite.Mass = 0 }},
		{"zero tether density", func(s *Settings) { s.Tether.Density = 0 }},
		{"table mismatch", func(s *Settings) { s.Aero.CLList = s.Aero.CLList[:3] }},
		{"unknown version", func(s *Settings) { s.Aero.Version = 42 }},
		{"elevation out of range", func(s *Settings) { s.Elevation = 95 }},
		{"steering out of range", func(s *Settings) { s.Steering = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSettings()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, dynamo.ErrInvalidSettings) {
				t.Errorf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kite.yaml")
	data := []byte("segments: 8\nl_tether: 120\nenvironment:\n  v_wind: 11.5\naero:\n  version: 2\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Segments != 8 {
		t.Errorf("expected 8 segments, got %d", cfg.Segments)
	}
	if cfg.TetherLength != 120 {
		t.Errorf("expected l_tether 120, got %f", cfg.TetherLength)
	}
	if cfg.Environment.WindSpeed != 11.5 {
		t.Errorf("expected v_wind 11.5, got %f", cfg.Environment.WindSpeed)
	}
	if cfg.Kite.Area != DefaultSettings().Kite.Area {
		t.Errorf("unset fields should keep defaults, got area %f", cfg.Kite.Area)
	}
	if cfg.Coefficients().DragCorrection != 1.0 {
		t.Errorf("version 2 should disable drag correction, got %f", cfg.Coefficients().DragCorrection)
	}
}

func TestLoadOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wind.yaml")
	if err := os.WriteFile(path, []byte("environment:\n  v_wind: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	base := GetPreset("hydra20")
	cfg, err := LoadOver(base, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Environment.WindSpeed != 7 || cfg.Kite.Area != base.Kite.Area {
		t.Errorf("file not applied over the preset: v_wind %f area %f", cfg.Environment.WindSpeed, cfg.Kite.Area)
	}
	if base.Environment.WindSpeed == 7 {
		t.Error("base settings modified")
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("segments: -3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCoefficientOverrides(t *testing.T) {
	cfg := DefaultSettings()
	base := cfg.Coefficients()

	soft := 0.01
	cfg.Aero.Override.TetherCompression = &soft
	c := cfg.Coefficients()

	if c.TetherCompression != soft {
		t.Errorf("expected override %f, got %f", soft, c.TetherCompression)
	}
	if c.KiteCompression != base.KiteCompression {
		t.Errorf("untouched field changed: %f != %f", c.KiteCompression, base.KiteCompression)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("hydra20")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Kite.Area != 20.36 {
		t.Errorf("expected area 20.36, got %f", cfg.Kite.Area)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("preset invalid: %v", err)
	}

	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets()
	if len(presets) != len(Presets) {
		t.Errorf("expected %d presets, got %d", len(Presets), len(presets))
	}
	for _, name := range presets {
		if err := GetPreset(name).Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
}

func TestClone(t *testing.T) {
	cfg := GetPreset("reel_out")
	c := cfg.Clone()
	c.Aero.CLList[0] = 42
	*c.Winch.SyncSpeed = 1

	if cfg.Aero.CLList[0] == 42 {
		t.Error("clone shares CL table")
	}
	if *cfg.Winch.SyncSpeed == 1 {
		t.Error("clone shares sync speed")
	}
}
