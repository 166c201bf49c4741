package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const plotDPI = 150

// Channel is one recorded quantity that can be plotted against time.
type Channel struct {
	Name  string
	Title string
	Unit  string
	Value func(r dynamo.Record) float64
}

var channels = []Channel{
	{"winch_force", "Winch force", "N", func(r dynamo.Record) float64 { return r.WinchForce }},
	{"reel_out_speed", "Reel-out speed", "m/s", func(r dynamo.Record) float64 { return r.VReelOut }},
	{"tether_length", "Tether length", "m", func(r dynamo.Record) float64 { return r.Length }},
	{"height", "Kite height", "m", func(r dynamo.Record) float64 { return r.Kite.Z }},
	{"lift", "Lift", "N", func(r dynamo.Record) float64 { return r.Lift }},
	{"drag", "Drag", "N", func(r dynamo.Record) float64 { return r.Drag }},
	{"alpha", "Angle of attack (top)", "deg", func(r dynamo.Record) float64 { return r.Alpha[0] * 180 / math.Pi }},
}

func Channels() []Channel { return append([]Channel(nil), channels...) }

func ChannelByName(name string) (Channel, error) {
	for _, c := range channels {
		if c.Name == name {
			return c, nil
		}
	}
	return Channel{}, fmt.Errorf("unknown channel %q", name)
}

func limitedTicker(maxLabels int, labelFmt string) plot.Ticker {
	if maxLabels < 2 {
		maxLabels = 2
	}
	return plot.TickerFunc(func(min, max float64) []plot.Tick {
		if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
			return nil
		}
		if min == max {
			return []plot.Tick{{Value: min, Label: fmt.Sprintf(labelFmt, min)}}
		}
		step := (max - min) / float64(maxLabels-1)
		ticks := make([]plot.Tick, 0, maxLabels)
		for i := 0; i < maxLabels; i++ {
			v := min + float64(i)*step
			ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf(labelFmt, v)})
		}
		return ticks
	})
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(8)
	p.X.Label.TextStyle.Font.Size = vg.Points(12)
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)
	p.X.Padding = vg.Points(10)
	p.Y.Padding = vg.Points(10)
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.X.Tick.Marker = limitedTicker(8, "%.1f")
	p.Y.Tick.Marker = limitedTicker(8, "%.4g")
	p.Add(plotter.NewGrid())
}

func linePlot(title, xlabel, ylabel string, pts plotter.XYs) (*plot.Plot, error) {
	if len(pts) == 0 {
		return nil, fmt.Errorf("plot %q: no data", title)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	stylePlot(p)

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("plot %q: %w", title, err)
	}
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)
	return p, nil
}

// TimeSeries plots one channel of the records over time.
func TimeSeries(records []dynamo.Record, ch Channel) (*plot.Plot, error) {
	pts := make(plotter.XYs, len(records))
	for i, r := range records {
		pts[i].X = r.Time
		pts[i].Y = ch.Value(r)
	}
	return linePlot(ch.Title, "time (s)", fmt.Sprintf("%s (%s)", ch.Name, ch.Unit), pts)
}

// KitePathPlot plots the kite height over its horizontal distance from the
// anchor.
func KitePathPlot(records []dynamo.Record) (*plot.Plot, error) {
	pts := make(plotter.XYs, len(records))
	for i, r := range records {
		pts[i].X = math.Hypot(r.Kite.X, r.Kite.Y)
		pts[i].Y = r.Kite.Z
	}
	p, err := linePlot("Kite path", "distance (m)", "height (m)", pts)
	if err != nil {
		return nil, err
	}
	p.X.Tick.Marker = limitedTicker(8, "%.0f")
	return p, nil
}

// WritePNG draws p on a canvas of the given size in inches.
func WritePNG(w io.Writer, p *plot.Plot, widthIn, heightIn float64) error {
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(plotDPI),
	)
	p.Draw(draw.New(c))

	bw := bufio.NewWriter(w)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}

func SavePNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	if err := WritePNG(f, p, widthIn, heightIn); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SavePlots writes one PNG per named channel, plus the kite path when
// names is empty. It returns the files written.
func SavePlots(dir string, records []dynamo.Record, names []string) ([]string, error) {
	all := len(names) == 0
	if all {
		for _, c := range channels {
			names = append(names, c.Name)
		}
	}
	files := make([]string, 0, len(names)+1)
	for _, name := range names {
		ch, err := ChannelByName(name)
		if err != nil {
			return files, err
		}
		p, err := TimeSeries(records, ch)
		if err != nil {
			return files, err
		}
		file := filepath.Join(dir, name+".png")
		if err := SavePNG(p, 8, 4, file); err != nil {
			return files, err
		}
		files = append(files, file)
	}
	if all {
		p, err := KitePathPlot(records)
		if err != nil {
			return files, err
		}
		file := filepath.Join(dir, "kite_path.png")
		if err := SavePNG(p, 6, 6, file); err != nil {
			return files, err
		}
		files = append(files, file)
	}
	return files, nil
}
