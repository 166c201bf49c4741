package export

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/viz"
	"gonum.org/v1/gonum/spatial/r3"
)

func records() []dynamo.Record {
	rs := make([]dynamo.Record, 20)
	for i := range rs {
		t := float64(i) * 0.1
		rs[i] = dynamo.Record{
			Time:       t,
			Kite:       r3.Vec{X: 100 + t, Y: 5, Z: 80 + 2*t},
			WinchForce: 1000 + 50*t,
			Length:     150 + t,
			VReelOut:   1,
		}
	}
	return rs
}

func TestCanvasToSVG(t *testing.T) {
	if CanvasToSVG(nil, 2) != "" {
		t.Error("nil canvas should give empty output")
	}
	c := viz.NewCanvas(4, 2)
	c.Set(0, 0)
	c.Set(7, 7)
	svg := CanvasToSVG(c, 2)
	if n := strings.Count(svg, "<circle"); n != 2 {
		t.Errorf("got %d circles, want 2", n)
	}
	if !strings.Contains(svg, `width="16" height="16"`) {
		t.Error("wrong image size")
	}
}

func TestPathSVG(t *testing.T) {
	if PathSVG([]Point{{1, 1}}, 100, 100, "#fff") != "" {
		t.Error("single point should give empty output")
	}
	pts := KitePath(records())
	if len(pts) != 20 || pts[0].Y != 80 {
		t.Fatalf("unexpected kite path %v", pts[:1])
	}
	svg := PathSVG(pts, 200, 100, "#00ff88")
	if !strings.Contains(svg, `stroke="#00ff88"`) {
		t.Error("stroke colour missing")
	}
	if n := strings.Count(svg, " L"); n != 19 {
		t.Errorf("got %d line segments, want 19", n)
	}
}

func TestChannelByName(t *testing.T) {
	for _, c := range Channels() {
		got, err := ChannelByName(c.Name)
		if err != nil || got.Title != c.Title {
			t.Errorf("ChannelByName(%q) = %v, %v", c.Name, got.Title, err)
		}
	}
	if _, err := ChannelByName("nope"); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestWritePNG(t *testing.T) {
	ch, _ := ChannelByName("winch_force")
	p, err := TimeSeries(records(), ch)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WritePNG(&buf, p, 4, 3); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4*plotDPI || b.Dy() != 3*plotDPI {
		t.Errorf("image size %v", b)
	}

	if _, err := TimeSeries(nil, ch); err == nil {
		t.Error("expected error without data")
	}
}

func TestSavePlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	files, err := SavePlots(dir, records(), []string{"height"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "height.png" {
		t.Errorf("files = %v", files)
	}

	files, err = SavePlots(dir, records(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != len(Channels())+1 {
		t.Errorf("wrote %d files", len(files))
	}
	for _, f := range files {
		if st, err := os.Stat(f); err != nil || st.Size() == 0 {
			t.Errorf("%s missing or empty", f)
		}
	}

	if _, err := SavePlots(dir, records(), []string{"bogus"}); err == nil {
		t.Error("expected error for unknown channel")
	}
}
