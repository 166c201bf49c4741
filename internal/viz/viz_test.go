package viz

import (
	"context"
	"image/gif"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/integrators"
	"github.com/san-kum/kitesim/internal/sim"
	"github.com/san-kum/kitesim/internal/winch"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestCanvas_SetAndLit(t *testing.T) {
	c := NewCanvas(4, 2)
	w, h := c.Dots()
	if w != 8 || h != 8 {
		t.Fatalf("Dots() = %d, %d, want 8, 8", w, h)
	}
	c.Set(3, 5)
	c.Set(-1, 0)
	c.Set(100, 100)
	if !c.Lit(3, 5) {
		t.Error("dot (3, 5) not lit")
	}
	if c.Lit(2, 5) || c.Lit(-1, 0) {
		t.Error("unexpected lit dot")
	}
	c.Clear()
	if c.Lit(3, 5) {
		t.Error("Clear left a lit dot")
	}
	if rows := strings.Count(c.String(), "\n"); rows != 2 {
		t.Errorf("String() has %d rows, want 2", rows)
	}
}

func TestCanvas_DrawLine(t *testing.T) {
	c := NewCanvas(10, 5)
	c.DrawLine(0, 0, 19, 19)
	for i := 0; i < 20; i++ {
		if !c.Lit(i, i) {
			t.Fatalf("diagonal dot %d not lit", i)
		}
	}
	c.DrawDot(10, 2, 1)
	if !c.Lit(9, 1) || !c.Lit(11, 3) {
		t.Error("DrawDot did not fill its square")
	}
}

func TestSideView_Project(t *testing.T) {
	v := NewSideView(r3.Vec{X: 1})
	v.Fit([]r3.Vec{{}, {X: 100, Z: 50}})
	if math.Abs(v.Extent-110) > 1e-9 {
		t.Errorf("Extent = %f, want 110", v.Extent)
	}
	x, y := v.Project(r3.Vec{}, 160, 96)
	if x != 0 || y != 95 {
		t.Errorf("anchor at (%d, %d), want (0, 95)", x, y)
	}
	x, y = v.Project(r3.Vec{X: 100, Y: 30, Z: 50}, 160, 96)
	if x <= 0 || y >= 95 || y <= 0 {
		t.Errorf("kite at (%d, %d) outside the drawing", x, y)
	}

	ext := v.Extent
	v.Fit([]r3.Vec{{X: 1}})
	if v.Extent != ext {
		t.Error("Fit shrank the extent")
	}
}

func TestDrawSystem(t *testing.T) {
	c := NewCanvas(40, 20)
	v := NewSideView(r3.Vec{X: 1})
	pos := []r3.Vec{{}, {X: 50, Z: 50}}
	DrawSystem(c, v, pos, [][2]int{{0, 1}}, []int{1})
	cw, ch := c.Dots()
	if !c.Lit(0, ch-1) {
		t.Error("anchor not drawn")
	}
	x, y := v.Project(pos[1], cw, ch)
	if !c.Lit(x, y) || !c.Lit(x+1, y) {
		t.Error("kite point not marked")
	}
}

func TestFrontView(t *testing.T) {
	v := NewFrontView(r3.Vec{X: 1})
	if math.Abs(v.Axis.Y-1) > 1e-12 || !v.Centered {
		t.Fatalf("front view axis %v", v.Axis)
	}
	v.Fit([]r3.Vec{{}, {X: 100, Y: -20, Z: 50}})
	x, y := v.Project(r3.Vec{}, 161, 96)
	if x != 80 || y != 95 {
		t.Errorf("anchor at (%d, %d), want (80, 95)", x, y)
	}
	left, _ := v.Project(r3.Vec{Y: -20, Z: 50}, 161, 96)
	right, _ := v.Project(r3.Vec{Y: 20, Z: 50}, 161, 96)
	if left >= 80 || right <= 80 || 80-left != right-80 {
		t.Errorf("crosswind offsets not symmetric: %d, %d", left, right)
	}
}

func TestStyles(t *testing.T) {
	r, g, b := parseHex("#0a80ff")
	if r != 10 || g != 128 || b != 255 {
		t.Errorf("parseHex = %d %d %d", r, g, b)
	}
	if r, _, _ := parseHex("oops"); r != 255 {
		t.Error("bad input should give white")
	}
	if got := hexColor(300, -5, 16); got != "#ff0010" {
		t.Errorf("hexColor = %s", got)
	}
	if GradientText("", "#000000", "#ffffff") != "" {
		t.Error("empty gradient text")
	}
	if n := strings.Count(ProgressBar(0.5, 10), "█"); n != 5 {
		t.Errorf("half bar has %d filled cells", n)
	}
	if n := len([]rune(SparklineChart(nil, 6))); n != 6 {
		t.Errorf("empty sparkline width %d", n)
	}
}

// drift moves one point downwind at unit speed below a fixed anchor.
type drift struct {
	x        float64
	steering float64
}

func (d *drift) StateDim() int { return 1 }
func (d *drift) Derive(yd, y dynamo.State, t float64) error {
	d.x = y[0]
	yd[0] = 1
	return nil
}
func (d *drift) Residual(res, yd, y dynamo.State, t float64) error {
	d.x = y[0]
	res[0] = yd[0] - 1
	return nil
}

func (d *drift) WinchForce() float64        { return 10 * d.x }
func (d *drift) ReelOutSpeed() float64      { return 1 }
func (d *drift) TetherLength() float64      { return d.x }
func (d *drift) KitePosition() r3.Vec       { return r3.Vec{X: d.x, Z: 10} }
func (d *drift) MaxTension() float64        { return 10 * d.x }
func (d *drift) Overloaded() bool           { return false }
func (d *drift) Lift() float64              { return 0 }
func (d *drift) Drag() float64              { return 0 }
func (d *drift) AnglesOfAttack() [3]float64 { return [3]float64{} }
func (d *drift) SetControl(winch.Control)   {}
func (d *drift) SetDepower(float64)         {}
func (d *drift) SetSteering(s float64)      { d.steering = s }
func (d *drift) Positions() []r3.Vec        { return []r3.Vec{{}, d.KitePosition()} }
func (d *drift) Downwind() r3.Vec           { return r3.Vec{X: 1} }

func newLive(t *testing.T) (Model, *drift, *control.Manual) {
	t.Helper()
	plant := &drift{}
	manual := control.NewManual(control.Setpoint{}, 1)
	s := sim.New(plant, integrators.NewEuler(), manual)
	cfg := dynamo.DefaultConfig()
	cfg.Dt = 0.1
	cfg.MinDt = 0.01
	cfg.Duration = 1
	m, err := NewModel(context.Background(), s, plant, manual, LiveConfig{
		Name:    "drift",
		Y0:      dynamo.State{1},
		Run:     cfg,
		Springs: [][2]int{{0, 1}},
		Kite:    []int{1},
		GIFPath: filepath.Join(t.TempDir(), "live.gif"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return m, plant, manual
}

func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(s string) tea.Msg {
	switch s {
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_StepsOnTick(t *testing.T) {
	m, plant, _ := newLive(t)
	m = update(m, TickMsg{})
	m = update(m, TickMsg{})
	if got := m.session.Time(); got < 0.2-1e-9 {
		t.Errorf("time after two ticks = %f", got)
	}
	if plant.x <= 1 {
		t.Error("plant did not move")
	}
	if len(m.history) != 3 {
		t.Errorf("history has %d snapshots, want 3", len(m.history))
	}
	if !strings.Contains(m.View(), "RUNNING") {
		t.Error("status missing from view")
	}

	m = update(m, key(" "))
	before := m.session.Time()
	m = update(m, TickMsg{})
	if m.session.Time() != before {
		t.Error("paused view kept stepping")
	}
}

func TestModel_RunsToEnd(t *testing.T) {
	m, _, _ := newLive(t)
	for i := 0; i < 20; i++ {
		m = update(m, TickMsg{})
	}
	if !m.session.Done() || m.running {
		t.Error("view did not stop at the end of the run")
	}
	if !strings.Contains(m.View(), "FINISHED") {
		t.Error("finished status missing")
	}
}

func TestModel_Keys(t *testing.T) {
	m, plant, manual := newLive(t)
	m = update(m, key("right"))
	if got := manual.Setpoint().Steering; got != 0.05 {
		t.Errorf("steering = %f after one key press", got)
	}
	m = update(m, TickMsg{})
	if plant.steering != 0.05 {
		t.Error("steering did not reach the plant")
	}
	m = update(m, key("+"))
	if sp := manual.Setpoint(); sp.SyncSpeed == nil || *sp.SyncSpeed != 1.5 {
		t.Error("speed key did not set the winch speed")
	}
	m = update(m, key("f"))
	if manual.Setpoint().SyncSpeed != nil {
		t.Error("winch not released")
	}

	m = update(m, key("["))
	if m.playHead != len(m.history)-2 || m.running {
		t.Errorf("scrub: playHead %d running %v", m.playHead, m.running)
	}

	m = update(m, key("r"))
	if m.session.Time() != 0 || manual.Setpoint().Steering != 0 || m.playHead != -1 {
		t.Error("reset did not restore the initial state")
	}

	m = update(m, key("v"))
	if !m.front {
		t.Error("v did not switch to the front view")
	}
	m.draw()
	if !strings.ContainsFunc(m.canvas.String(), func(r rune) bool { return r > 0x2800 && r <= 0x28ff }) {
		t.Error("front view drew nothing")
	}
}

func TestModel_RecordGIF(t *testing.T) {
	m, _, _ := newLive(t)
	m = update(m, key("g"))
	m = update(m, TickMsg{})
	m = update(m, TickMsg{})
	m = update(m, key("g"))
	if m.recording {
		t.Fatal("still recording")
	}
	f, err := os.Open(m.cfg.GIFPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(anim.Image) != 2 {
		t.Errorf("gif has %d frames, want 2", len(anim.Image))
	}
}

func TestCanvasImage(t *testing.T) {
	c := NewCanvas(3, 2)
	c.Set(1, 1)
	img := CanvasImage(c)
	if b := img.Bounds(); b.Dx() != 24 || b.Dy() != 32 {
		t.Errorf("image size %v", b)
	}
	if img.ColorIndexAt(5, 5) != 1 || img.ColorIndexAt(0, 0) != 0 {
		t.Error("dot not rendered")
	}
	if err := SaveGIF(filepath.Join(t.TempDir(), "none.gif"), nil); err != nil {
		t.Errorf("empty recording: %v", err)
	}
}
