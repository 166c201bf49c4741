package config

import "sort"

// Presets maps a name to a function that modifies the default settings.
var Presets = map[string]func(*Settings){
	"hydra10": func(s *Settings) {},
	"hydra20": func(s *Settings) {
		s.Kite.Mass = 11.4
		s.Kite.Area = 20.36
		s.Kite.Height = 2.59
		s.Kite.Width = 5.77
		s.Kite.BridleHeight = 5.0
		s.MaxForce = 8000
	},
	"long_tether": func(s *Settings) {
		s.Segments = 12
		s.TetherLength = 150
		s.Elevation = 60
		s.Environment.WindSpeed = 12
	},
	"reel_out": func(s *Settings) {
		v := 4.0
		s.VReelOut = v
		s.Winch.SyncSpeed = &v
		s.Depower = 0.2
	},
	"low_wind": func(s *Settings) {
		s.Environment.WindSpeed = 5.0
		s.Elevation = 75
	},
}

// GetPreset returns fresh settings with the named preset applied, or nil.
func GetPreset(name string) *Settings {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	s := DefaultSettings()
	apply(s)
	return s
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
