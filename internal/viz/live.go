package viz

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/sim"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	width           = 80
	height          = 24
	historyCapacity = 600
	frameRate       = 30
)

// Scene is what the live view reads back from the model after each step.
// *physics.KPS4 implements it.
type Scene interface {
	dynamo.Telemetry
	Positions() []r3.Vec
	Downwind() r3.Vec
}

// Snapshot stores the drawn points at one output step for replay.
type Snapshot struct {
	Pos   []r3.Vec
	Time  float64
	Force float64
}

var (
	canvasStyle = lipgloss.NewStyle().Padding(1, 2)
	statsStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2).Width(46)
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// LiveConfig describes the run shown by the live view.
type LiveConfig struct {
	Name    string
	Y0, YD0 dynamo.State
	Run     dynamo.Config
	// Springs and Kite give the lines to draw and the points to mark.
	Springs [][2]int
	Kite    []int
	// StepsPerFrame output steps are taken per redraw.
	StepsPerFrame int
	SpeedStep     float64
	SteerStep     float64
	DepowerStep   float64
	GIFPath       string
}

// Model is the bubbletea model of the live view. The simulator's controller
// must be the Manual passed here so key presses reach the kite.
type Model struct {
	ctx     context.Context
	sim     *sim.Simulator
	scene   Scene
	manual  *control.Manual
	initial control.Setpoint
	cfg     LiveConfig

	session *sim.Session
	err     error
	note    string

	canvas   *Canvas
	side     *PlaneView
	frontal  *PlaneView
	front    bool
	running  bool
	showHelp bool

	history   []Snapshot
	forces    []float64
	speeds    []float64
	playHead  int
	recording bool
	frames    []*image.Paletted
}

// NewModel starts a session at cfg.Y0. scene must be the plant of s.
func NewModel(ctx context.Context, s *sim.Simulator, scene Scene, manual *control.Manual, cfg LiveConfig) (Model, error) {
	if cfg.StepsPerFrame < 1 {
		cfg.StepsPerFrame = 1
	}
	if cfg.SpeedStep == 0 {
		cfg.SpeedStep = 0.5
	}
	if cfg.SteerStep == 0 {
		cfg.SteerStep = 0.05
	}
	if cfg.DepowerStep == 0 {
		cfg.DepowerStep = 0.05
	}
	if cfg.GIFPath == "" {
		cfg.GIFPath = "kitesim.gif"
	}
	m := Model{
		ctx:      ctx,
		sim:      s,
		scene:    scene,
		manual:   manual,
		initial:  manual.Setpoint(),
		cfg:      cfg,
		canvas:   NewCanvas(width, height),
		side:     NewSideView(scene.Downwind()),
		frontal:  NewFrontView(scene.Downwind()),
		running:  true,
		history:  make([]Snapshot, 0, historyCapacity),
		forces:   make([]float64, 0, historyCapacity),
		speeds:   make([]float64, 0, historyCapacity),
		playHead: -1,
	}
	if err := m.start(); err != nil {
		return Model{}, err
	}
	return m, nil
}

func (m *Model) start() error {
	ss, err := m.sim.NewSession(m.cfg.Y0, m.cfg.YD0, m.cfg.Run)
	if err != nil {
		return err
	}
	m.session = ss
	m.err = nil
	m.history = m.history[:0]
	m.forces = m.forces[:0]
	m.speeds = m.speeds[:0]
	m.playHead = -1
	m.side.Extent = 0
	m.frontal.Extent = 0
	m.snapshot()
	return nil
}

func (m Model) Init() tea.Cmd { return tick() }

// Update handles key presses and steps the simulation on every tick.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.recording {
				m.finishRecording()
			}
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "r":
			m.reset()
		case "left", "h":
			m.manual.Steer(-m.cfg.SteerStep)
		case "right", "l":
			m.manual.Steer(m.cfg.SteerStep)
		case "up", "k":
			m.manual.Depower(m.cfg.DepowerStep)
		case "down", "j":
			m.manual.Depower(-m.cfg.DepowerStep)
		case "+", "=":
			m.manual.SetSyncSpeed(m.syncSpeed() + m.cfg.SpeedStep)
		case "-", "_":
			m.manual.SetSyncSpeed(m.syncSpeed() - m.cfg.SpeedStep)
		case "f":
			m.manual.Release()
		case "[":
			m.scrub(-1)
		case "]":
			m.scrub(1)
		case "v":
			m.front = !m.front
		case "g":
			if m.recording {
				m.finishRecording()
			} else {
				m.recording = true
				m.frames = make([]*image.Paletted, 0)
				m.note = ""
			}
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		if m.running {
			if m.playHead == -1 {
				m.step()
			} else {
				m.playHead++
				if m.playHead >= len(m.history) {
					m.playHead = -1
				}
			}
		}
		m.draw()
		if m.recording {
			m.captureFrame()
		}
		return m, tick()
	}
	return m, nil
}

func (m *Model) syncSpeed() float64 {
	if sp := m.manual.Setpoint(); sp.SyncSpeed != nil {
		return *sp.SyncSpeed
	}
	return m.scene.ReelOutSpeed()
}

// step advances the session by StepsPerFrame output steps. A failed step
// stops the view until it is reset.
func (m *Model) step() {
	for i := 0; i < m.cfg.StepsPerFrame; i++ {
		if m.session.Done() {
			m.running = false
			return
		}
		if err := m.session.Step(m.ctx); err != nil {
			m.err = err
			m.running = false
			return
		}
		m.snapshot()
	}
}

func (m *Model) snapshot() {
	push := func(s []float64, v float64) []float64 {
		s = append(s, v)
		if len(s) > historyCapacity {
			s = s[1:]
		}
		return s
	}
	m.forces = push(m.forces, m.scene.WinchForce())
	m.speeds = push(m.speeds, m.scene.ReelOutSpeed())
	m.history = append(m.history, Snapshot{
		Pos:   m.scene.Positions(),
		Time:  m.session.Time(),
		Force: m.scene.WinchForce(),
	})
	if len(m.history) > historyCapacity {
		m.history = m.history[1:]
	}
}

// scrub moves the replay position through the history.
func (m *Model) scrub(dir int) {
	if m.playHead == -1 {
		if len(m.history) == 0 {
			return
		}
		m.playHead = len(m.history) - 1
		m.running = false
	}
	m.playHead += dir
	if m.playHead < 0 {
		m.playHead = 0
	}
	if m.playHead >= len(m.history) {
		m.playHead = -1
	}
}

// reset restores the initial set points and starts a new session.
func (m *Model) reset() {
	m.manual.Release()
	if m.initial.SyncSpeed != nil {
		m.manual.SetSyncSpeed(*m.initial.SyncSpeed)
	}
	sp := m.manual.Setpoint()
	m.manual.Steer(m.initial.Steering - sp.Steering)
	m.manual.Depower(m.initial.Depower - sp.Depower)
	if err := m.start(); err != nil {
		m.err = err
		m.running = false
		return
	}
	m.running = true
}

func (m *Model) shown() Snapshot {
	if m.playHead >= 0 && m.playHead < len(m.history) {
		return m.history[m.playHead]
	}
	if len(m.history) > 0 {
		return m.history[len(m.history)-1]
	}
	return Snapshot{}
}

func (m *Model) draw() {
	m.canvas.Clear()
	pos := m.shown().Pos
	if len(pos) == 0 {
		return
	}
	view := m.side
	if m.front {
		view = m.frontal
	}
	DrawSystem(m.canvas, view, pos, m.cfg.Springs, m.cfg.Kite)
}

func (m *Model) status() string {
	switch {
	case m.err != nil:
		return StatusRecording.Render("FAILED")
	case m.playHead != -1:
		snap := m.shown()
		return StatusPaused.Render(fmt.Sprintf("REPLAY (%.1fs)", snap.Time-m.session.Time()))
	case m.session.Done():
		return StatusPaused.Render("FINISHED")
	case !m.running:
		return StatusPaused.Render("PAUSED")
	}
	return StatusRunning.Render("RUNNING")
}

func row(label, value string) string {
	return MetricLabel.Width(14).Render(label) + MetricValue.Render(value) + "\n"
}

// View renders the canvas next to the telemetry panel.
func (m Model) View() string {
	m.draw()
	canvasView := canvasStyle.Render(m.canvas.String())

	var s strings.Builder
	s.WriteString(HeaderStyle.Render(GradientText(strings.ToUpper(m.cfg.Name), "#00ffff", "#ff00ff")) + "\n")
	s.WriteString(m.status())
	if m.recording {
		s.WriteString("  " + StatusRecording.Render("● REC"))
	}
	s.WriteString("\n")

	if len(m.forces) > 1 {
		chart := asciigraph.Plot(m.forces, asciigraph.Height(5), asciigraph.Width(32), asciigraph.Caption("winch force [N]"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	s.WriteString(MetricLabel.Width(14).Render("v_ro") + SparklineChart(m.speeds, 28) + "\n\n")

	snap := m.shown()
	tel := m.scene
	kite := tel.KitePosition()
	s.WriteString(row("Time", fmt.Sprintf("%.2f s", snap.Time)))
	s.WriteString(row("Winch force", fmt.Sprintf("%.0f N", tel.WinchForce())))
	s.WriteString(row("Reel-out", fmt.Sprintf("%+.2f m/s", tel.ReelOutSpeed())))
	s.WriteString(row("Tether", fmt.Sprintf("%.1f m", tel.TetherLength())))
	s.WriteString(row("Height", fmt.Sprintf("%.1f m", kite.Z)))
	tension := fmt.Sprintf("%.0f N", tel.MaxTension())
	if tel.Overloaded() {
		tension += " " + StatusRecording.Render("OVERLOAD")
	}
	s.WriteString(row("Max tension", tension))

	sp := m.manual.Setpoint()
	s.WriteString("\n" + HeaderStyle.Render("SET POINTS") + "\n")
	winch := "free"
	if sp.SyncSpeed != nil {
		winch = fmt.Sprintf("%+.2f m/s", *sp.SyncSpeed)
	}
	s.WriteString(row("Winch", winch))
	s.WriteString(row("Depower", ProgressBar(sp.Depower, 16)+fmt.Sprintf(" %.2f", sp.Depower)))
	s.WriteString(row("Steering", ProgressBar((sp.Steering+1)/2, 16)+fmt.Sprintf(" %+.2f", sp.Steering)))

	if m.err != nil {
		s.WriteString("\n" + StatusRecording.Render(wrap(m.err.Error(), 40)) + "\n")
	}
	if m.note != "" {
		s.WriteString("\n" + Subtle.Render(m.note) + "\n")
	}
	s.WriteString("\n" + KeyHint.Render("SP:Pause R:Reset Q:Quit ?:Help\n←→:Steer ↑↓:Depower +-:Speed F:Free"))

	mainView := lipgloss.JoinHorizontal(lipgloss.Top, canvasView, statsStyle.Render(s.String()))
	if m.showHelp {
		return helpText + "\n\n" + mainView
	}
	return mainView
}

const helpText = `
  Space    pause or resume
  R        reset to the initial state
  ← →      steer
  ↑ ↓      depower more or less
  + -      change the winch set speed
  F        leave the winch free
  [ ]      step through the history
  V        switch between side and front view
  G        start or stop GIF recording
  Q        quit`

func wrap(s string, n int) string {
	var b strings.Builder
	for len(s) > n {
		b.WriteString(s[:n] + "\n")
		s = s[n:]
	}
	b.WriteString(s)
	return b.String()
}

func (m *Model) finishRecording() {
	if err := SaveGIF(m.cfg.GIFPath, m.frames); err != nil {
		m.note = "gif: " + err.Error()
	} else if len(m.frames) > 0 {
		m.note = fmt.Sprintf("saved %d frames to %s", len(m.frames), m.cfg.GIFPath)
	}
	m.recording = false
	m.frames = nil
}

func (m *Model) captureFrame() {
	m.frames = append(m.frames, CanvasImage(m.canvas))
}

// CanvasImage renders every lit dot as a 4 by 4 white block.
func CanvasImage(c *Canvas) *image.Paletted {
	const dot = 4
	cw, ch := c.Dots()
	img := image.NewPaletted(image.Rect(0, 0, cw*dot, ch*dot), color.Palette{color.Black, color.White})
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			if !c.Lit(x, y) {
				continue
			}
			for py := 0; py < dot; py++ {
				for px := 0; px < dot; px++ {
					img.SetColorIndex(x*dot+px, y*dot+py, 1)
				}
			}
		}
	}
	return img
}

// SaveGIF writes the frames as a looping animation at the live frame rate.
func SaveGIF(path string, frames []*image.Paletted) error {
	if len(frames) == 0 {
		return nil
	}
	anim := gif.GIF{LoopCount: 0}
	for _, frame := range frames {
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 100/frameRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gif.EncodeAll(f, &anim); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
