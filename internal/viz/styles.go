package viz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688"))

	StatusRunning = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	StatusPaused = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	// Also used for failures and overloads.
	StatusRecording = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))

	MetricValue = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ccff")).
			Bold(true)

	MetricLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899"))

	KeyHint = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688")).
		Italic(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#444466"))

	SparkHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	SparkMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00"))
	SparkLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

// GradientText colours each rune by linear interpolation between two hex
// colours.
func GradientText(text string, startColor, endColor lipgloss.Color) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	sr, sg, sb := parseHex(string(startColor))
	er, eg, eb := parseHex(string(endColor))

	var b strings.Builder
	for i, c := range runes {
		t := 0.0
		if len(runes) > 1 {
			t = float64(i) / float64(len(runes)-1)
		}
		lerp := func(a, z int) int { return a + int(t*float64(z-a)) }
		col := lipgloss.Color(hexColor(lerp(sr, er), lerp(sg, eg), lerp(sb, eb)))
		b.WriteString(lipgloss.NewStyle().Foreground(col).Render(string(c)))
	}
	return b.String()
}

// ProgressBar renders a bar filled to frac in [0, 1].
func ProgressBar(frac float64, width int) string {
	filled := int(frac * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	switch {
	case frac > 0.8:
		return SparkHigh.Render(bar)
	case frac > 0.4:
		return SparkMid.Render(bar)
	}
	return SparkLow.Render(bar)
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// SparklineChart renders the last width values as one line of bars.
func SparklineChart(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	var b strings.Builder
	for _, v := range values {
		norm := (v - lo) / rng
		idx := min(max(int(norm*float64(len(sparkChars)-1)), 0), len(sparkChars)-1)
		c := string(sparkChars[idx])
		switch {
		case norm > 0.7:
			b.WriteString(SparkHigh.Render(c))
		case norm > 0.3:
			b.WriteString(SparkMid.Render(c))
		default:
			b.WriteString(SparkLow.Render(c))
		}
	}
	return b.String()
}

// parseHex reads #rrggbb; anything else is white.
func parseHex(hex string) (r, g, b int) {
	if len(hex) != 7 || hex[0] != '#' {
		return 255, 255, 255
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 255, 255, 255
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}

func hexColor(r, g, b int) string {
	clamp := func(v int) int { return min(max(v, 0), 255) }
	return fmt.Sprintf("#%02x%02x%02x", clamp(r), clamp(g), clamp(b))
}
