package storage

import (
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/dynamo"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	metadataFile = "metadata.json"
	recordsFile  = "records.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

// Store keeps one directory per run under baseDir holding the metadata as
// JSON and the records as CSV.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID         string             `json:"id"`
	Preset     string             `json:"preset"`
	Timestamp  time.Time          `json:"timestamp"`
	Dt         float64            `json:"dt"`
	Duration   float64            `json:"duration"`
	Integrator string             `json:"integrator"`
	Controller string             `json:"controller"`
	Winch      string             `json:"winch"`
	WindSpeed  float64            `json:"v_wind"`
	Segments   int                `json:"segments"`
	Steps      int                `json:"steps"`
	Rejected   int                `json:"rejected"`
	Overloads  int                `json:"overloads"`
	Metrics    map[string]float64 `json:"metrics"`
	Settings   *config.Settings   `json:"settings,omitempty"`
}

// NewMetadata fills the fields that come from the settings and the result.
func NewMetadata(preset, controller string, set *config.Settings, result *dynamo.Result) RunMetadata {
	return RunMetadata{
		Preset:     preset,
		Timestamp:  time.Now().UTC(),
		Dt:         set.Solver.Dt,
		Duration:   set.Solver.Duration,
		Integrator: set.Solver.Integrator,
		Controller: controller,
		Winch:      set.Winch.Model,
		WindSpeed:  set.Environment.WindSpeed,
		Segments:   set.Segments,
		Steps:      result.StepsTaken,
		Rejected:   result.Rejected,
		Overloads:  result.Overloads,
		Metrics:    result.Metrics,
		Settings:   set,
	}
}

// Save writes a new run and returns its id. meta.ID is overwritten.
func (s *Store) Save(meta RunMetadata, records []dynamo.Record) (string, error) {
	meta.ID = newRunID(meta.Preset, meta.Timestamp)
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, recordsFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteRecords(csvFile, records); err != nil {
		return "", err
	}
	return meta.ID, csvFile.Sync()
}

func newRunID(preset string, ts time.Time) string {
	if preset == "" {
		preset = "run"
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%s_%s", preset, ts.Format("20060102T150405"), hex.EncodeToString(b[:]))
}

var header = []string{
	"time", "kite_x", "kite_y", "kite_z", "winch_force", "l_tether", "v_reel_out",
	"lift", "drag", "alpha_top", "alpha_left", "alpha_right",
}

// WriteRecords writes records as CSV with a header row.
func WriteRecords(out io.Writer, records []dynamo.Record) error {
	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, r := range records {
		vals := [...]float64{
			r.Time, r.Kite.X, r.Kite.Y, r.Kite.Z, r.WinchForce, r.Length, r.VReelOut,
			r.Lift, r.Drag, r.Alpha[0], r.Alpha[1], r.Alpha[2],
		}
		for i, v := range vals {
			row[i] = strconv.FormatFloat(v, 'g', 10, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadRecords parses CSV written by WriteRecords.
func ReadRecords(in io.Reader) ([]dynamo.Record, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = len(header)

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("storage: missing header")
	}

	records := make([]dynamo.Record, 0, len(rows)-1)
	var vals [12]float64
	for i, row := range rows[1:] {
		for j, field := range row {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: row %d column %s: %w", i+1, header[j], err)
			}
			vals[j] = v
		}
		records = append(records, dynamo.Record{
			Time:       vals[0],
			Kite:       r3.Vec{X: vals[1], Y: vals[2], Z: vals[3]},
			WinchForce: vals[4],
			Length:     vals[5],
			VReelOut:   vals[6],
			Lift:       vals[7],
			Drag:       vals[8],
			Alpha:      [3]float64{vals[9], vals[10], vals[11]},
		})
	}
	return records, nil
}

// List returns the metadata of all runs, newest first. Directories without
// readable metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadRecords(runID string) ([]dynamo.Record, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, recordsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()
	return ReadRecords(file)
}
