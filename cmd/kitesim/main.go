package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/san-kum/kitesim/internal/analysis"
	"github.com/san-kum/kitesim/internal/automation"
	"github.com/san-kum/kitesim/internal/config"
	"github.com/san-kum/kitesim/internal/control"
	"github.com/san-kum/kitesim/internal/dynamo"
	"github.com/san-kum/kitesim/internal/experiment"
	"github.com/san-kum/kitesim/internal/export"
	"github.com/san-kum/kitesim/internal/logging"
	"github.com/san-kum/kitesim/internal/metrics"
	"github.com/san-kum/kitesim/internal/observability"
	"github.com/san-kum/kitesim/internal/optim"
	"github.com/san-kum/kitesim/internal/sim"
	"github.com/san-kum/kitesim/internal/storage"
	"github.com/san-kum/kitesim/internal/viz"
	"github.com/spf13/cobra"
)

var (
	dataDir     string
	showMetrics bool
	metricsAddr string

	preset     string
	configFile string
	integrator string
	controller string
	schedule   string
	wind       string
	dt         float64
	duration   float64
	windSpeed  float64
	segments   int
	fromSteady bool
	liveSteady bool
	tuneSteady bool
	kp         float64
	ki         float64
	kd         float64
	target     float64

	sweepFrom float64
	sweepTo   float64
	sweepN    int

	pngDir        string
	svgFile       string
	shapeSVG      string
	gifPath       string
	format        string
	channels      []string
	specChannels  []string
	stepsPerFrame int

	kpValues   []float64
	kiValues   []float64
	kdValues   []float64
	tuneMetric string
	workers    int

	peaks int

	trials         int
	seed           uint64
	windSigma      float64
	elevationSigma float64
	saveSteps      bool
)

var (
	collector  *observability.Collector
	log        logging.Logger
	metricsSrv *http.Server
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kitesim",
		Short:         "tethered kite power system simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log = logging.NewFromEnv()
			if showMetrics || metricsAddr != "" {
				var err error
				if collector, err = observability.NewCollector(prometheus.NewRegistry()); err != nil {
					return err
				}
			}
			if metricsAddr != "" {
				metricsSrv = serveMetrics(metricsAddr, collector)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			if collector == nil || !showMetrics {
				return nil
			}
			fmt.Fprintln(os.Stderr, "\nmetrics:")
			return collector.WriteSummary(os.Stderr)
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".kitesim", "data directory")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print solver metrics after the command")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address while the command runs")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation and store the result",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	settingsFlags(runCmd)
	controllerFlags(runCmd)
	runCmd.Flags().BoolVar(&fromSteady, "steady", false, "start from the steady state")

	steadyCmd := &cobra.Command{
		Use:   "steady",
		Short: "find the steady state for the current wind",
		Args:  cobra.NoArgs,
		RunE:  findSteady,
	}
	settingsFlags(steadyCmd)
	steadyCmd.Flags().StringVar(&shapeSVG, "svg", "", "draw the steady tether shape as SVG")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "steady-state tether force over a range of wind speeds",
		Args:  cobra.NoArgs,
		RunE:  sweepWind,
	}
	settingsFlags(sweepCmd)
	sweepCmd.Flags().Float64Var(&sweepFrom, "from", 5, "lowest ground wind speed (m/s)")
	sweepCmd.Flags().Float64Var(&sweepTo, "to", 15, "highest ground wind speed (m/s)")
	sweepCmd.Flags().IntVar(&sweepN, "n", 6, "number of wind speeds")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "fly the kite interactively in the terminal",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	settingsFlags(liveCmd)
	liveCmd.Flags().BoolVar(&liveSteady, "steady", true, "start from the steady state")
	liveCmd.Flags().IntVar(&stepsPerFrame, "steps-per-frame", 1, "output steps per redraw")
	liveCmd.Flags().StringVar(&gifPath, "gif", "kitesim.gif", "GIF recording path")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&pngDir, "png", "", "write PNG plots to this directory")
	plotCmd.Flags().StringVar(&svgFile, "svg", "", "write the kite path as SVG")
	plotCmd.Flags().StringSliceVar(&channels, "channel", []string{"winch_force", "height"}, "channels to plot")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&format, "format", "json", "json or csv")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list kite presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.ListPresets() {
				fmt.Println(p)
			}
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "describe the model built from the settings",
		Args:  cobra.NoArgs,
		RunE:  showInfo,
	}
	settingsFlags(infoCmd)

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search for force controller gains",
		Args:  cobra.NoArgs,
		RunE:  tuneController,
	}
	settingsFlags(tuneCmd)
	tuneCmd.Flags().BoolVar(&tuneSteady, "steady", true, "start from the steady state")
	tuneCmd.Flags().Float64SliceVar(&kpValues, "kp", []float64{0.001, 0.002, 0.004}, "kp candidates")
	tuneCmd.Flags().Float64SliceVar(&kiValues, "ki", []float64{0, 0.0005, 0.001}, "ki candidates")
	tuneCmd.Flags().Float64SliceVar(&kdValues, "kd", []float64{0}, "kd candidates")
	tuneCmd.Flags().Float64Var(&target, "target", 0, "target force (N), 0 means half the max force")
	tuneCmd.Flags().StringVar(&tuneMetric, "metric", "force_rms_error", "metric to minimize")
	tuneCmd.Flags().IntVar(&workers, "workers", 0, "parallel runs, 0 means one per CPU")

	spectrumCmd := &cobra.Command{
		Use:   "spectrum [run_id]",
		Short: "oscillation spectrum of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showSpectrum,
	}
	spectrumCmd.Flags().StringSliceVar(&specChannels, "channel", []string{"winch_force"}, "channels to analyze")
	spectrumCmd.Flags().IntVar(&peaks, "peaks", 3, "number of peaks to list")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run the steps of a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().BoolVar(&saveSteps, "save", false, "store every step, not only those marked save")

	monteCarloCmd := &cobra.Command{
		Use:   "montecarlo",
		Short: "repeat a run under perturbed wind speed and elevation",
		Args:  cobra.NoArgs,
		RunE:  runMonteCarlo,
	}
	settingsFlags(monteCarloCmd)
	controllerFlags(monteCarloCmd)
	monteCarloCmd.Flags().IntVar(&trials, "trials", 20, "number of trials")
	monteCarloCmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	monteCarloCmd.Flags().Float64Var(&windSigma, "wind-sigma", 1, "standard deviation of the ground wind speed (m/s)")
	monteCarloCmd.Flags().Float64Var(&elevationSigma, "elevation-sigma", 5, "standard deviation of the initial elevation (deg)")
	monteCarloCmd.Flags().IntVar(&workers, "workers", 0, "parallel runs, 0 means one per CPU")

	rootCmd.AddCommand(runCmd, steadyCmd, sweepCmd, liveCmd, listCmd, plotCmd, exportCmd, presetsCmd, infoCmd,
		tuneCmd, spectrumCmd, scenarioCmd, monteCarloCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func serveMetrics(addr string, c *observability.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func settingsFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&preset, "preset", "", "kite preset (see presets)")
	f.StringVar(&configFile, "config", "", "settings file (yaml), applied over the preset")
	f.StringVar(&integrator, "integrator", "", "integrator: implicit, rk45, rk4 or euler")
	f.StringVar(&wind, "wind", "", "wind profile: log, power or uniform")
	f.Float64Var(&dt, "dt", 0, "output time step (s)")
	f.Float64Var(&duration, "time", 0, "simulated time (s)")
	f.Float64Var(&windSpeed, "v-wind", 0, "ground wind speed (m/s)")
	f.IntVar(&segments, "segments", 0, "tether segments")
}

func controllerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&controller, "controller", "constant", "constant, pid or manual")
	f.StringVar(&schedule, "schedule", "", "set-point schedule (yaml), replaces the controller")
	f.Float64Var(&kp, "kp", 0.002, "pid kp")
	f.Float64Var(&ki, "ki", 0.0005, "pid ki")
	f.Float64Var(&kd, "kd", 0, "pid kd")
	f.Float64Var(&target, "target", 0, "pid target force (N), 0 means half the max force")
}

// loadSettings applies the preset, then the settings file, then the flags
// that were set explicitly.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	set := config.DefaultSettings()
	if preset != "" {
		if set = config.GetPreset(preset); set == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %s)", preset, strings.Join(config.ListPresets(), ", "))
		}
	}
	if configFile != "" {
		var err error
		if set, err = config.LoadOver(set, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	flags := cmd.Flags()
	if flags.Changed("integrator") {
		set.Solver.Integrator = integrator
	}
	if flags.Changed("dt") {
		set.Solver.Dt = dt
	}
	if flags.Changed("time") {
		set.Solver.Duration = duration
	}
	if flags.Changed("v-wind") {
		set.Environment.WindSpeed = windSpeed
	}
	if flags.Changed("segments") {
		set.Segments = segments
	}
	return set, set.Validate()
}

func buildExperiment(cmd *cobra.Command, set *config.Settings) (*experiment.Experiment, error) {
	params := map[string]float64{"kp": kp, "ki": ki, "kd": kd}
	if target > 0 {
		params["target"] = target
	}
	return experiment.Build(cmd.Context(), experiment.NewRegistry(), experiment.Config{
		Settings:   set,
		Controller: controller,
		Params:     params,
		Schedule:   schedule,
		Wind:       wind,
		Steady:     fromSteady,
		Log:        log,
		Collector:  collector,
	})
}

func controllerName() string {
	if schedule != "" {
		return "schedule:" + filepath.Base(schedule)
	}
	return controller
}

func runSimulation(cmd *cobra.Command, args []string) error {
	set, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	exp, err := buildExperiment(cmd, set)
	if err != nil {
		return err
	}

	fmt.Printf("running %.1fs at v_wind %.2f m/s with %s...\n",
		set.Solver.Duration, set.Environment.WindSpeed, integratorName(set))
	start := time.Now()
	result, runErr := exp.Run(cmd.Context())
	if result == nil {
		return runErr
	}
	elapsed := time.Since(start)

	runID, err := st.Save(storage.NewMetadata(preset, controllerName(), set, result), result.Records)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d (rejected sub-steps: %d, overloads: %d)\n",
		result.StepsTaken, result.Rejected, result.Overloads)
	fmt.Println("\nmetrics:")
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6g\n", name, result.Metrics[name])
	}

	if runErr != nil {
		if sim.IsCanceled(runErr) {
			fmt.Println("\ninterrupted; partial run saved")
			return nil
		}
		var se *dynamo.SimulationError
		if errors.As(runErr, &se) {
			return fmt.Errorf("simulation stopped at t=%.3fs (partial run saved): %w", se.Time, runErr)
		}
		return runErr
	}
	return nil
}

func integratorName(set *config.Settings) string {
	if set.Solver.Integrator == "" {
		return "implicit"
	}
	return set.Solver.Integrator
}

func findSteady(cmd *cobra.Command, args []string) error {
	set, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	fromSteady = true
	exp, err := buildExperiment(cmd, set)
	if err != nil {
		return err
	}
	res := exp.Steady
	m := exp.Model
	yd := make(dynamo.State, m.StateDim())
	if err := m.Derive(yd, res.Y, 0); err != nil {
		return err
	}

	status := "converged"
	if !res.Converged {
		status = "not converged"
	}
	fmt.Printf("steady state %s after %d iterations in %v\n", status, res.Iterations, res.Elapsed.Round(time.Millisecond))
	fmt.Printf("residual norm: %.3g (tolerance %.3g, initial %.3g)\n\n", res.Norm, res.Tolerance, res.InitialNorm)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POINT\tX\tY\tZ")
	names := map[int]string{0: "anchor", m.KCU(): "kcu", m.Nose(): "nose", m.Top(): "top", m.Left(): "left", m.Right(): "right"}
	for i, p := range m.Positions() {
		name, ok := names[i]
		if !ok {
			name = fmt.Sprintf("tether %d", i)
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\n", name, p.X, p.Y, p.Z)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if shapeSVG != "" {
		canvas := viz.NewCanvas(100, 40)
		viz.DrawSystem(canvas, viz.NewSideView(m.Downwind()), m.Positions(), exp.Springs(), exp.KitePoints())
		if err := os.WriteFile(shapeSVG, []byte(export.CanvasToSVG(canvas, 4)), 0o644); err != nil {
			return err
		}
		fmt.Println("wrote", shapeSVG)
	}

	kite := m.KitePosition()
	fmt.Printf("\nwinch force: %.1f N\n", m.WinchForce())
	fmt.Printf("lift: %.1f N, drag: %.1f N\n", m.Lift(), m.Drag())
	fmt.Printf("elevation: %.1f deg\n", math.Atan2(kite.Z, math.Hypot(kite.X, kite.Y))*180/math.Pi)
	return nil
}

func sweepWind(cmd *cobra.Command, args []string) error {
	set, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	speeds := experiment.Speeds(sweepFrom, sweepTo, sweepN)
	if len(speeds) == 0 {
		return fmt.Errorf("need at least one wind speed")
	}
	start := time.Now()
	pts, err := experiment.Sweep(cmd.Context(), experiment.NewRegistry(), set, wind, speeds, log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "V_WIND\tFORCE\tHEIGHT\tELEVATION\tITER\tSTATUS")
	forces := make([]float64, 0, len(pts))
	for _, p := range pts {
		if p.Err != nil {
			fmt.Fprintf(w, "%.2f\t-\t-\t-\t-\t%v\n", p.WindSpeed, p.Err)
			continue
		}
		status := "ok"
		if !p.Converged {
			status = fmt.Sprintf("norm %.2g", p.Norm)
		}
		fmt.Fprintf(w, "%.2f\t%.1f\t%.1f\t%.1f\t%d\t%s\n",
			p.WindSpeed, p.WinchForce, p.Height, p.Elevation, p.Iterations, status)
		forces = append(forces, p.WinchForce)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(forces) > 1 {
		fmt.Println()
		fmt.Println(asciigraph.Plot(forces, asciigraph.Height(10), asciigraph.Width(60),
			asciigraph.Caption("steady winch force [N] over wind speed")))
	}
	fmt.Printf("\n%d points in %v\n", len(pts), time.Since(start).Round(time.Millisecond))
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	set, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("time") {
		set.Solver.Duration = 3600
	}
	controller = "manual"
	schedule = ""
	fromSteady = liveSteady
	// The live view draws through its own terminal; keep logs quiet.
	log = logging.Noop()
	exp, err := buildExperiment(cmd, set)
	if err != nil {
		return err
	}
	manual, ok := exp.Controller.(*control.Manual)
	if !ok {
		return fmt.Errorf("live view needs the manual controller, got %T", exp.Controller)
	}

	name := preset
	if name == "" {
		name = "kitesim"
	}
	m, err := viz.NewModel(cmd.Context(), exp.Sim, exp.Model, manual, viz.LiveConfig{
		Name:          name,
		Y0:            exp.Y0,
		YD0:           exp.YD0,
		Run:           exp.RunConfig(),
		Springs:       exp.Springs(),
		Kite:          exp.KitePoints(),
		StepsPerFrame: stepsPerFrame,
		GIFPath:       gifPath,
	})
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(m, tea.WithContext(cmd.Context())).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tDURATION\tDT\tV_WIND\tINTEG\tCTRL\tSTEPS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%.2fs\t%.4fs\t%.2f\t%s\t%s\t%d\n",
			run.ID,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.WindSpeed,
			run.Integrator,
			run.Controller,
			run.Steps,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	records, err := st.LoadRecords(meta.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no data to plot")
	}

	if pngDir != "" || svgFile != "" {
		if pngDir != "" {
			var names []string
			if cmd.Flags().Changed("channel") {
				names = channels
			}
			files, err := export.SavePlots(pngDir, records, names)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Println("wrote", f)
			}
		}
		if svgFile != "" {
			svg := export.PathSVG(export.KitePath(records), 800, 500, "#00ff88")
			if err := os.WriteFile(svgFile, []byte(svg), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", svgFile)
		}
		return nil
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("samples: %d\n\n", len(records))
	for _, name := range channels {
		ch, err := export.ChannelByName(name)
		if err != nil {
			return err
		}
		data := make([]float64, len(records))
		for i, r := range records {
			data[i] = ch.Value(r)
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s [%s]", ch.Title, ch.Unit)),
		))
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	records, err := st.LoadRecords(meta.ID)
	if err != nil {
		return err
	}
	switch format {
	case "json":
		return storage.ExportJSON(os.Stdout, *meta, records)
	case "csv":
		return storage.WriteRecords(os.Stdout, records)
	}
	return fmt.Errorf("unknown format %q (want json or csv)", format)
}

func showInfo(cmd *cobra.Command, args []string) error {
	set, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	reg := experiment.NewRegistry()
	m, err := reg.Model(set, wind, nil)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "segments\t%d\n", set.Segments)
	fmt.Fprintf(w, "points\t%d\n", set.Points())
	fmt.Fprintf(w, "state size\t%d\n", m.StateDim())
	fmt.Fprintf(w, "springs\t%d\n", len(m.Springs()))
	fmt.Fprintf(w, "tether length\t%.1f m (segment %.2f m)\n", m.TetherLength(), m.SegmentLength())
	mass := 0.0
	for _, v := range m.Masses() {
		mass += v
	}
	fmt.Fprintf(w, "total mass\t%.2f kg\n", mass)
	fmt.Fprintf(w, "kite area\t%.2f m²\n", set.Kite.Area)
	fmt.Fprintf(w, "aero version\t%d\n", set.Aero.Version)
	fmt.Fprintf(w, "winch\t%s\n", orDefault(set.Winch.Model, "async"))
	fmt.Fprintf(w, "v_wind\t%.2f m/s (%s profile)\n", set.Environment.WindSpeed, orDefault(set.Environment.ProfileLaw, "log"))
	fmt.Fprintf(w, "max force\t%.0f N\n", set.MaxForce)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "integrators\t%s\n", strings.Join(reg.ListIntegrators(), ", "))
	fmt.Fprintf(w, "winches\t%s\n", strings.Join(reg.ListWinches(), ", "))
	fmt.Fprintf(w, "wind profiles\t%s\n", strings.Join(reg.ListWinds(), ", "))
	fmt.Fprintf(w, "controllers\t%s\n", strings.Join(reg.ListControllers(), ", "))
	names := make([]string, 0, len(export.Channels()))
	for _, c := range export.Channels() {
		names = append(names, c.Name)
	}
	fmt.Fprintf(w, "plot channels\t%s\n", strings.Join(names, ", "))
	fmt.Fprintf(w, "aero versions\t%v\n", config.Versions())
	return w.Flush()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func tuneController(cmd *cobra.Command, args []string) error {
	set, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	goal := target
	if goal <= 0 {
		goal = 0.5 * set.MaxForce
	}
	grid, err := optim.NewGrid([]string{"kp", "ki", "kd"}, [][]float64{kpValues, kiValues, kdValues})
	if err != nil {
		return err
	}
	reg := experiment.NewRegistry()
	cfg := experiment.Config{Settings: set, Controller: "pid", Wind: wind, Log: log, Collector: collector}

	// Every grid point starts from the same state; find it once.
	var y0, yd0 dynamo.State
	if tuneSteady {
		cfg.Steady = true
		base, err := experiment.Build(cmd.Context(), reg, cfg)
		if err != nil {
			return err
		}
		y0, yd0 = base.Y0, base.YD0
		cfg.Steady = false
	}
	build := func(params map[string]float64) (sim.Job, error) {
		c := cfg
		c.Settings = set.Clone()
		c.Params = map[string]float64{"target": goal}
		for k, v := range params {
			c.Params[k] = v
		}
		exp, err := experiment.Build(cmd.Context(), reg, c)
		if err != nil {
			return sim.Job{}, err
		}
		if y0 != nil {
			exp.Y0, exp.YD0 = y0.Clone(), yd0.Clone()
		}
		exp.Sim.AddMetric(metrics.NewForceError(goal))
		return exp.Job(""), nil
	}

	fmt.Printf("tuning %d gain sets against %.0f N...\n", grid.Size(), goal)
	start := time.Now()
	best, all, err := optim.Search(cmd.Context(), grid, build, tuneMetric, workers)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "KP\tKI\tKD\t%s\n", strings.ToUpper(tuneMetric))
	for _, c := range all {
		score := fmt.Sprintf("%.4g", c.Score)
		if c.Err != nil {
			score = c.Err.Error()
		}
		fmt.Fprintf(w, "%g\t%g\t%g\t%s\n", c.Params["kp"], c.Params["ki"], c.Params["kd"], score)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nbest: kp=%g ki=%g kd=%g (%s %.4g) in %v\n",
		best.Params["kp"], best.Params["ki"], best.Params["kd"], tuneMetric, best.Score,
		time.Since(start).Round(time.Millisecond))
	return nil
}

func showSpectrum(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	records, err := st.LoadRecords(meta.ID)
	if err != nil {
		return err
	}
	for _, name := range specChannels {
		ch, err := export.ChannelByName(name)
		if err != nil {
			return err
		}
		x, dt, err := analysis.Sampled(records, ch.Value)
		if err != nil {
			return err
		}
		sum := analysis.Summarize(x)
		fmt.Printf("%s [%s]: mean %.4g, std %.4g, range %.4g..%.4g\n", ch.Title, ch.Unit, sum.Mean, sum.Std, sum.Min, sum.Max)

		spec, err := analysis.NewSpectrum(x, dt)
		if err != nil {
			return err
		}
		found := spec.Peaks(peaks)
		if len(found) == 0 {
			fmt.Println("  no oscillation")
		}
		for _, p := range found {
			fmt.Printf("  %8.4f Hz (period %.2fs): amplitude %.4g\n", p.Freq, 1/p.Freq, p.Amp)
		}
		if len(spec.Amp) > 2 {
			fmt.Println(asciigraph.Plot(spec.Amp[1:], asciigraph.Height(8), asciigraph.Width(80),
				asciigraph.Caption(fmt.Sprintf("amplitude up to %.2f Hz", spec.Freq[len(spec.Freq)-1]))))
		}
		fmt.Println()
	}
	return nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	if saveSteps {
		for i := range sc.Steps {
			sc.Steps[i].Save = true
		}
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	fmt.Printf("scenario %s: %d steps\n", sc.Name, len(sc.Steps))
	if sc.Description != "" {
		fmt.Println(sc.Description)
	}
	r := &automation.Runner{Registry: experiment.NewRegistry(), Store: st, Log: log, Collector: collector}
	results, runErr := r.Run(cmd.Context(), sc)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTEP\tRUN\tSTEPS\tMAX_TENSION\tENERGY\tSTATUS")
	failed := 0
	for _, res := range results {
		status := "ok"
		if res.Err != nil {
			status = res.Err.Error()
			failed++
		}
		if res.Result == nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%s\n", res.Name, status)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%.1f\t%s\n", res.Name, orDefault(res.RunID, "-"),
			res.Result.StepsTaken, res.Result.Metrics["max_tension"], res.Result.Metrics["energy"], status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d steps failed", failed, len(results))
	}
	return nil
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	set, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	params := map[string]float64{"kp": kp, "ki": ki, "kd": kd}
	if target > 0 {
		params["target"] = target
	}
	r := &automation.Runner{Registry: experiment.NewRegistry(), Log: log, Collector: collector}
	mc := automation.MonteCarloConfig{
		Trials:         trials,
		Seed:           seed,
		WindSigma:      windSigma,
		ElevationSigma: elevationSigma,
		Workers:        workers,
	}
	fmt.Printf("running %d trials around v_wind %.2f m/s, elevation %.1f deg...\n",
		trials, set.Environment.WindSpeed, set.Elevation)
	start := time.Now()
	res, err := r.MonteCarlo(cmd.Context(), experiment.Config{
		Settings:   set,
		Controller: controller,
		Params:     params,
		Schedule:   schedule,
		Wind:       wind,
		Log:        log,
		Collector:  collector,
	}, mc)
	if err != nil && !sim.IsCanceled(err) {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tV_WIND\tELEVATION\tMAX_TENSION\tOVERLOADS\tSTATUS")
	for _, t := range res {
		if !t.Stable() {
			status := "not run"
			if t.Err != nil {
				status = t.Err.Error()
			}
			fmt.Fprintf(w, "%d\t%.2f\t%.1f\t-\t-\t%s\n", t.ID, t.WindSpeed, t.Elevation, status)
			continue
		}
		fmt.Fprintf(w, "%d\t%.2f\t%.1f\t%.1f\t%d\tok\n", t.ID, t.WindSpeed, t.Elevation,
			t.Result.Metrics["max_tension"], t.Result.Overloads)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	stable, unstable, tension := automation.MonteCarloStats(res)
	fmt.Printf("\n%d stable, %d failed in %v\n", stable, unstable, time.Since(start).Round(time.Millisecond))
	if stable > 0 {
		fmt.Printf("max tension: mean %.1f N, std %.1f N, worst %.1f N\n", tension.Mean, tension.Std, tension.Max)
	}
	return err
}
