package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/viz"
)

// CanvasToSVG draws every lit dot of a braille canvas as a circle.
func CanvasToSVG(canvas *viz.Canvas, scale float64) string {
	if canvas == nil {
		return ""
	}
	cw, ch := canvas.Dots()
	width := float64(cw) * scale
	height := float64(ch) * scale

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<g fill="#00ff00">
`, width, height, width, height)

	r := scale * 0.4
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			if canvas.Lit(x, y) {
				fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n",
					float64(x)*scale+scale/2, float64(y)*scale+scale/2, r)
			}
		}
	}

	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

type Point struct{ X, Y float64 }

// KitePath returns the kite's horizontal distance from the anchor and its
// height for each record.
func KitePath(records []dynamo.Record) []Point {
	pts := make([]Point, len(records))
	for i, r := range records {
		pts[i] = Point{X: math.Hypot(r.Kite.X, r.Kite.Y), Y: r.Kite.Z}
	}
	return pts
}

// PathSVG draws the points as one polyline scaled to fill the image with a
// 10% margin. It needs at least two points.
func PathSVG(points []Point, width, height int, strokeColor string) string {
	if len(points) < 2 {
		return ""
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	minY -= rangeY * 0.1
	rangeX *= 1.2
	rangeY *= 1.2

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height, strokeColor)

	for i, p := range points {
		x := (p.X - minX) / rangeX * float64(width)
		y := float64(height) - (p.Y-minY)/rangeY*float64(height)
		if i == 0 {
			fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
		}
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}
