package smoother

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/fixedlag/internal/factor"
	"github.com/banshee-data/fixedlag/internal/monitoring"
	"github.com/banshee-data/fixedlag/internal/optimize"
	"github.com/banshee-data/fixedlag/internal/testutil"
)

var (
	priorNoise = factor.MustDiagonalSigmas([]float64{0.3, 0.3, 0.1})
	odomNoise1 = factor.MustDiagonalSigmas([]float64{0.1, 0.1, 0.05})
	odomNoise2 = factor.MustDiagonalSigmas([]float64{0.05, 0.05, 0.05})
)

func init() {
	monitoring.SetLogger(nil)
}

// timeKey matches the conventional key numbering for timed poses.
func timeKey(t float64) factor.Key {
	return factor.Key(uint64(math.Round(1000 * t)))
}

func TestSmoother_EstimateUnknown(t *testing.T) {
	s := New(DefaultConfig())
	if _, err := s.Estimate(1); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("Estimate on empty smoother = %v, want ErrUnknownVariable", err)
	}
}

func TestSmoother_SingleBatch(t *testing.T) {
	s := New(DefaultConfig())

	prior := factor.NewPose2(0, 0, 0)
	err := s.Update(
		[]factor.Factor{factor.NewPrior(0, prior, priorNoise)},
		map[factor.Key]factor.Pose2{0: prior},
		map[factor.Key]float64{0: 0.0},
	)
	testutil.AssertNoError(t, err)

	got, err := s.Estimate(0)
	testutil.AssertNoError(t, err)
	testutil.AssertPoseNear(t, got, factor.Pose2{}, 1e-6)

	report := s.LastReport()
	if !report.Converged {
		t.Error("report should mark the cycle converged")
	}
	if len(report.Marginalized) != 0 {
		t.Errorf("nothing should expire in the first batch, got %v", report.Marginalized)
	}
}

// TestSmoother_FixedLagScenario runs the canonical two-odometer scenario:
// a prior at the origin, one new pose every 0.25 time units with two
// relative measurements from different sensors, and a 2.0 lag. The
// estimate of the newest pose must advance monotonically in x, the live
// window must respect the lag bound every cycle, and the first pose must
// be marginalized out by the end.
func TestSmoother_FixedLagScenario(t *testing.T) {
	const (
		lag     = 2.0
		dt      = 0.25
		horizon = 3.0
	)
	s := New(Config{Lag: lag, Optimizer: optimize.DefaultConfig()})

	prior := factor.NewPose2(0, 0, 0)
	if err := s.Update(
		[]factor.Factor{factor.NewPrior(timeKey(0), prior, priorNoise)},
		map[factor.Key]factor.Pose2{timeKey(0): prior},
		map[factor.Key]float64{timeKey(0): 0.0},
	); err != nil {
		t.Fatalf("prior update: %v", err)
	}

	odom1 := factor.NewPose2(0.61, -0.08, 0.02)
	odom2 := factor.NewPose2(0.47, 0.03, 0.01)

	prevX := 0.0
	for tm := dt; tm <= horizon+1e-9; tm += dt {
		prevKey := timeKey(tm - dt)
		curKey := timeKey(tm)

		guess := factor.NewPose2(tm*2, 0, 0)
		err := s.Update(
			[]factor.Factor{
				factor.NewBetween(prevKey, curKey, odom1, odomNoise1),
				factor.NewBetween(prevKey, curKey, odom2, odomNoise2),
			},
			map[factor.Key]factor.Pose2{curKey: guess},
			map[factor.Key]float64{curKey: tm},
		)
		if err != nil {
			t.Fatalf("update at t=%v: %v", tm, err)
		}

		got, err := s.Estimate(curKey)
		if err != nil {
			t.Fatalf("estimate at t=%v: %v", tm, err)
		}
		if got.X <= prevX {
			t.Errorf("x at t=%v = %v, want > %v (monotonic forward motion)", tm, got.X, prevX)
		}
		prevX = got.X

		// Window invariant: every live variable inside [latest-lag, latest].
		for _, k := range s.Keys() {
			ts, ok := s.Timestamp(k)
			if !ok {
				t.Fatalf("live variable %s has no timestamp", k)
			}
			if ts < tm-lag-1e-9 || ts > tm+1e-9 {
				t.Errorf("t=%v: live variable %s stamped %v outside [%v, %v]", tm, k, ts, tm-lag, tm)
			}
		}
	}

	// 3.0 - 0.0 > 2.0, so the first pose must be gone.
	if _, err := s.Estimate(timeKey(0)); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("Estimate(x0) after expiry = %v, want ErrUnknownVariable", err)
	}
	// The newest pose is alive and roughly 12 steps of ~0.5 forward.
	final, err := s.Estimate(timeKey(horizon))
	if err != nil {
		t.Fatalf("estimate of newest pose: %v", err)
	}
	if final.X < 4.0 || final.X > 8.0 {
		t.Errorf("final x = %v, want around 6 (12 fused steps of ~0.5)", final.X)
	}
}

func TestSmoother_DisconnectedExpiryDropsOut(t *testing.T) {
	s := New(Config{Lag: 2.0, Optimizer: optimize.DefaultConfig()})

	if err := s.Update(
		[]factor.Factor{factor.NewPrior(1, factor.Pose2{}, priorNoise)},
		map[factor.Key]factor.Pose2{1: {}},
		map[factor.Key]float64{1: 0.0},
	); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// A second, unconnected pose far past the lag horizon.
	p2 := factor.NewPose2(5, 0, 0)
	if err := s.Update(
		[]factor.Factor{factor.NewPrior(2, p2, priorNoise)},
		map[factor.Key]factor.Pose2{2: p2},
		map[factor.Key]float64{2: 5.0},
	); err != nil {
		t.Fatalf("second update: %v", err)
	}

	if _, err := s.Estimate(1); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("expired disconnected variable still queryable: %v", err)
	}
	report := s.LastReport()
	if len(report.Marginalized) != 1 || report.Marginalized[0] != 1 {
		t.Errorf("Marginalized = %v, want [1]", report.Marginalized)
	}
	// No summary factor should remain for the dropped cluster: just the
	// new prior.
	if got, err := s.Estimate(2); err != nil || math.Abs(got.X-5) > 1e-6 {
		t.Errorf("Estimate(2) = %v, %v, want (5,0,0)", got, err)
	}
}

func TestSmoother_DivergenceKeepsIngestedData(t *testing.T) {
	cfg := Config{Lag: 2.0, Optimizer: optimize.DefaultConfig()}
	cfg.Optimizer.MaxIterations = 1
	cfg.Optimizer.AbsErrorTol = 0
	cfg.Optimizer.RelErrorTol = 0
	s := New(cfg)

	guess := factor.NewPose2(0.3, -0.2, 0.1)
	err := s.Update(
		[]factor.Factor{factor.NewPrior(1, factor.Pose2{}, priorNoise)},
		map[factor.Key]factor.Pose2{1: guess},
		map[factor.Key]float64{1: 0.0},
	)
	if !errors.Is(err, ErrOptimizationDiverged) {
		t.Fatalf("Update error = %v, want ErrOptimizationDiverged", err)
	}

	// Pre-cycle estimates are kept: the variable still answers with its
	// initial guess, and the timestamp is recorded for the next attempt.
	got, estErr := s.Estimate(1)
	if estErr != nil {
		t.Fatalf("Estimate after divergence: %v", estErr)
	}
	if got != guess {
		t.Errorf("estimate after divergence = %v, want untouched guess %v", got, guess)
	}
	if ts, ok := s.Timestamp(1); !ok || ts != 0.0 {
		t.Errorf("Timestamp(1) = %v, %v, want 0.0, true", ts, ok)
	}
	if s.LastReport().Converged {
		t.Error("report must not claim convergence")
	}
}

func TestSmoother_MarginalCovariance(t *testing.T) {
	s := New(DefaultConfig())
	if err := s.Update(
		[]factor.Factor{factor.NewPrior(1, factor.Pose2{}, priorNoise)},
		map[factor.Key]factor.Pose2{1: {}},
		map[factor.Key]float64{1: 0.0},
	); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cov, err := s.MarginalCovariance(1)
	if err != nil {
		t.Fatalf("MarginalCovariance: %v", err)
	}
	// A lone prior's covariance is its noise: diag(0.09, 0.09, 0.01).
	wants := []float64{0.09, 0.09, 0.01}
	for i, want := range wants {
		if math.Abs(cov.At(i, i)-want) > 1e-9 {
			t.Errorf("cov[%d,%d] = %v, want %v", i, i, cov.At(i, i), want)
		}
	}

	if _, err := s.MarginalCovariance(99); !errors.Is(err, ErrUnknownVariable) {
		t.Errorf("MarginalCovariance(99) = %v, want ErrUnknownVariable", err)
	}
}

func TestSmoother_KeyReuseAfterMarginalizationIsNewVariable(t *testing.T) {
	s := New(Config{Lag: 1.0, Optimizer: optimize.DefaultConfig()})

	if err := s.Update(
		[]factor.Factor{factor.NewPrior(1, factor.Pose2{}, priorNoise)},
		map[factor.Key]factor.Pose2{1: {}},
		map[factor.Key]float64{1: 0.0},
	); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Push time far forward so key 1 is marginalized away.
	p2 := factor.NewPose2(3, 0, 0)
	if err := s.Update(
		[]factor.Factor{factor.NewPrior(2, p2, priorNoise)},
		map[factor.Key]factor.Pose2{2: p2},
		map[factor.Key]float64{2: 10.0},
	); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if _, err := s.Estimate(1); !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("key 1 should be gone before reuse")
	}

	// Reusing the identifier introduces a brand-new variable.
	reborn := factor.NewPose2(9, 9, 0)
	if err := s.Update(
		[]factor.Factor{factor.NewPrior(1, reborn, priorNoise)},
		map[factor.Key]factor.Pose2{1: reborn},
		map[factor.Key]float64{1: 10.0},
	); err != nil {
		t.Fatalf("reuse update: %v", err)
	}
	got, err := s.Estimate(1)
	testutil.AssertNoError(t, err)
	testutil.AssertPoseNear(t, got, reborn, 1e-6)
}
