package viz

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// PlaneView maps a vertical plane onto the canvas: the horizontal axis is
// the distance along Axis and the vertical axis is the height.
type PlaneView struct {
	Axis r3.Vec
	// Centered puts the anchor at the bottom centre instead of the lower
	// left corner, for axes the kite crosses in both directions.
	Centered bool
	// Extent is the largest distance shown along either axis; it only grows
	// so the picture does not jump while the tether reels out.
	Extent float64
}

// NewSideView looks across the wind: downwind distance against height.
func NewSideView(downwind r3.Vec) *PlaneView {
	return &PlaneView{Axis: downwind}
}

// NewFrontView looks downwind from behind the anchor: crosswind offset
// against height.
func NewFrontView(downwind r3.Vec) *PlaneView {
	cross := r3.Cross(r3.Vec{Z: 1}, downwind)
	if n := r3.Norm(cross); n > 0 {
		cross = r3.Scale(1/n, cross)
	} else {
		cross = r3.Vec{Y: 1}
	}
	return &PlaneView{Axis: cross, Centered: true}
}

// Fit grows Extent to hold every point with some margin.
func (v *PlaneView) Fit(pos []r3.Vec) {
	for _, p := range pos {
		e := 1.1 * math.Max(math.Abs(r3.Dot(p, v.Axis)), math.Abs(p.Z))
		if e > v.Extent {
			v.Extent = e
		}
	}
}

// Project returns dot coordinates on a canvas of cw by ch dots.
func (v *PlaneView) Project(p r3.Vec, cw, ch int) (int, int) {
	ext := v.Extent
	if ext <= 0 {
		ext = 1
	}
	across := float64(cw - 1)
	origin := 0
	if v.Centered {
		across /= 2
		origin = (cw - 1) / 2
	}
	scale := math.Min(across, float64(ch-1)) / ext
	x := origin + int(math.Round(r3.Dot(p, v.Axis)*scale))
	y := ch - 1 - int(p.Z*scale)
	return x, y
}

// DrawSystem draws the springs between points, marks the kite points and
// draws the ground line.
func DrawSystem(c *Canvas, v *PlaneView, pos []r3.Vec, springs [][2]int, kite []int) {
	cw, ch := c.Dots()
	v.Fit(pos)
	for _, s := range springs {
		x0, y0 := v.Project(pos[s[0]], cw, ch)
		x1, y1 := v.Project(pos[s[1]], cw, ch)
		c.DrawLine(x0, y0, x1, y1)
	}
	for _, i := range kite {
		x, y := v.Project(pos[i], cw, ch)
		c.DrawDot(x, y, 1)
	}
	c.DrawLine(0, ch-1, cw-1, ch-1)
}
