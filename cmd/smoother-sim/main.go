// Package main simulates a planar robot driving forward while two
// odometry sources with different error statistics measure its motion,
// and feeds the stream through the fixed-lag smoother. Per-step smoothed
// estimates are printed, optionally persisted to sqlite, and optionally
// rendered as an HTML chart.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/fixedlag/internal/config"
	"github.com/banshee-data/fixedlag/internal/factor"
	"github.com/banshee-data/fixedlag/internal/optimize"
	"github.com/banshee-data/fixedlag/internal/smoother"
	"github.com/banshee-data/fixedlag/internal/storage/sqlite"
	"github.com/banshee-data/fixedlag/internal/version"
)

type chartPoint struct {
	X, Y float64
}

type simConfig struct {
	ConfigPath  string
	Lag         float64
	DT          float64
	Horizon     float64
	DBPath      string
	ChartPath   string
	Verbose     bool
	ShowVersion bool
}

func parseFlags() simConfig {
	var cfg simConfig
	flag.StringVar(&cfg.ConfigPath, "config", "", "optional tuning JSON; flags override file values")
	flag.Float64Var(&cfg.Lag, "lag", 2.0, "smoother lag window (seconds)")
	flag.Float64Var(&cfg.DT, "dt", 0.25, "time between odometry batches (seconds)")
	flag.Float64Var(&cfg.Horizon, "horizon", 3.0, "simulation end time (seconds)")
	flag.StringVar(&cfg.DBPath, "db", "", "sqlite path for trajectory persistence (empty disables)")
	flag.StringVar(&cfg.ChartPath, "chart", "", "HTML output path for the trajectory chart (empty disables)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "log per-cycle smoother reports")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	flag.Parse()
	return cfg
}

// timeKey follows the key = 1000*t convention for timed poses.
func timeKey(t float64) factor.Key {
	return factor.Key(uint64(math.Round(1000 * t)))
}

func main() {
	cfg := parseFlags()
	if cfg.ShowVersion {
		fmt.Println("smoother-sim", version.String())
		return
	}

	optCfg := optimize.DefaultConfig()
	migrationsDir := "migrations"
	if cfg.ConfigPath != "" {
		tuning, err := config.LoadTuningConfig(cfg.ConfigPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		optCfg.LambdaInit = tuning.GetLambdaInit()
		optCfg.LambdaFactor = tuning.GetLambdaFactor()
		optCfg.LambdaMax = tuning.GetLambdaMax()
		optCfg.MaxIterations = tuning.GetMaxIterations()
		optCfg.AbsErrorTol = tuning.GetAbsErrorTol()
		optCfg.RelErrorTol = tuning.GetRelErrorTol()
		migrationsDir = tuning.GetMigrationsDir()
		if cfg.DBPath == "" {
			cfg.DBPath = tuning.GetTrajectoryDBPath()
		}
	}

	var store *sqlite.DB
	var sessionID string
	if cfg.DBPath != "" {
		var err error
		store, err = sqlite.Open(cfg.DBPath, migrationsDir)
		if err != nil {
			log.Fatalf("open trajectory store: %v", err)
		}
		defer store.Close()

		sessionID, err = store.CreateSession(cfg.Lag, fmt.Sprintf("smoother-sim dt=%g horizon=%g", cfg.DT, cfg.Horizon))
		if err != nil {
			log.Fatalf("create session: %v", err)
		}
		log.Printf("recording session %s to %s", sessionID, cfg.DBPath)
	}

	sm := smoother.New(smoother.Config{Lag: cfg.Lag, Optimizer: optCfg})

	priorNoise := factor.MustDiagonalSigmas([]float64{0.3, 0.3, 0.1})
	odomNoise1 := factor.MustDiagonalSigmas([]float64{0.1, 0.1, 0.05})
	odomNoise2 := factor.MustDiagonalSigmas([]float64{0.05, 0.05, 0.05})
	odom1 := factor.NewPose2(0.61, -0.08, 0.02)
	odom2 := factor.NewPose2(0.47, 0.03, 0.01)

	// Anchor the first pose at the origin.
	prior := factor.NewPose2(0, 0, 0)
	if err := sm.Update(
		[]factor.Factor{factor.NewPrior(timeKey(0), prior, priorNoise)},
		map[factor.Key]factor.Pose2{timeKey(0): prior},
		map[factor.Key]float64{timeKey(0): 0},
	); err != nil {
		log.Fatalf("prior update: %v", err)
	}

	var trail []chartPoint

	for tm := cfg.DT; tm <= cfg.Horizon+1e-9; tm += cfg.DT {
		prevKey := timeKey(tm - cfg.DT)
		curKey := timeKey(tm)

		// Initial guess: the robot drives at roughly 2 m/s.
		guess := factor.NewPose2(tm*2, 0, 0)
		err := sm.Update(
			[]factor.Factor{
				factor.NewBetween(prevKey, curKey, odom1, odomNoise1),
				factor.NewBetween(prevKey, curKey, odom2, odomNoise2),
			},
			map[factor.Key]factor.Pose2{curKey: guess},
			map[factor.Key]float64{curKey: tm},
		)
		if err != nil {
			log.Fatalf("update at t=%g: %v", tm, err)
		}

		est, err := sm.Estimate(curKey)
		if err != nil {
			log.Fatalf("estimate at t=%g: %v", tm, err)
		}
		report := sm.LastReport()
		fmt.Printf("t=%.2f key=%s pose=%s\n", tm, curKey, est)
		if cfg.Verbose {
			log.Printf("cycle %d: error=%.6g iterations=%d marginalized=%d",
				report.Cycle, report.Error, report.Iterations, len(report.Marginalized))
		}
		trail = append(trail, chartPoint{X: est.X, Y: est.Y})

		if store != nil {
			for _, k := range sm.Keys() {
				pose, err := sm.Estimate(k)
				if err != nil {
					continue
				}
				stamp, _ := sm.Timestamp(k)
				rec := &sqlite.SmoothedPose{
					SessionID:  sessionID,
					Key:        k,
					Stamp:      stamp,
					Cycle:      report.Cycle,
					X:          pose.X,
					Y:          pose.Y,
					Theta:      pose.Theta,
					GraphError: report.Error,
					Iterations: report.Iterations,
				}
				if err := store.RecordPose(rec); err != nil {
					log.Fatalf("record pose: %v", err)
				}
			}
		}
	}

	if cfg.ChartPath != "" {
		if err := renderChart(cfg.ChartPath, trail); err != nil {
			log.Fatalf("render chart: %v", err)
		}
		log.Printf("wrote trajectory chart to %s", cfg.ChartPath)
	}
}

// renderChart writes an HTML scatter chart of the smoothed trail.
func renderChart(path string, trail []chartPoint) error {
	data := make([]opts.ScatterData, 0, len(trail))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range trail {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		lo = math.Min(lo, math.Min(p.X, p.Y))
		hi = math.Max(hi, math.Max(p.X, p.Y))
	}
	if len(trail) == 0 {
		lo, hi = -1, 1
	}
	pad := math.Max(1, 0.1*(hi-lo))

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Smoothed Trajectory", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fixed-Lag Smoothed Trajectory", Subtitle: fmt.Sprintf("%d poses", len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: lo - pad, Max: hi + pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: lo - pad, Max: hi + pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("smoothed", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	return scatter.Render(f)
}
