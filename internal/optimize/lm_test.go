package optimize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fixedlag/internal/factor"
)

var (
	priorNoise = factor.MustDiagonalSigmas([]float64{0.3, 0.3, 0.1})
	odomNoise  = factor.MustDiagonalSigmas([]float64{0.1, 0.1, 0.05})
)

func chainGraph() ([]factor.Factor, map[factor.Key]factor.Pose2) {
	factors := []factor.Factor{
		factor.NewPrior(1, factor.NewPose2(0, 0, 0), priorNoise),
		factor.NewBetween(1, 2, factor.NewPose2(1, 0, 0), odomNoise),
		factor.NewBetween(2, 3, factor.NewPose2(1, 0, 0), odomNoise),
	}
	initial := map[factor.Key]factor.Pose2{
		1: factor.NewPose2(0.3, -0.2, 0.1),
		2: factor.NewPose2(1.4, 0.3, -0.1),
		3: factor.NewPose2(1.6, -0.4, 0.2),
	}
	return factors, initial
}

func TestMinimize_ConvergesOnChain(t *testing.T) {
	factors, initial := chainGraph()

	result, err := Minimize(factors, initial, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, result.Converged)
	assert.Less(t, result.Error, 1e-6, "consistent graph should reach near-zero cost")

	wants := map[factor.Key]factor.Pose2{
		1: factor.NewPose2(0, 0, 0),
		2: factor.NewPose2(1, 0, 0),
		3: factor.NewPose2(2, 0, 0),
	}
	for key, want := range wants {
		got := result.Values[key]
		assert.InDelta(t, want.X, got.X, 1e-3, "x of %s", key)
		assert.InDelta(t, want.Y, got.Y, 1e-3, "y of %s", key)
		assert.InDelta(t, want.Theta, got.Theta, 1e-3, "theta of %s", key)
	}
}

func TestMinimize_EmptyGraph(t *testing.T) {
	initial := map[factor.Key]factor.Pose2{7: factor.NewPose2(1, 2, 3)}
	result, err := Minimize(nil, initial, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, result.Converged)
	assert.Equal(t, initial[7], result.Values[7], "untouched variable passes through")
}

func TestMinimize_UnreferencedVariableUntouched(t *testing.T) {
	factors, initial := chainGraph()
	initial[99] = factor.NewPose2(5, 5, 0.5)

	result, err := Minimize(factors, initial, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, factor.NewPose2(5, 5, 0.5), result.Values[99])
}

func TestMinimize_MissingEstimateIsNotDivergence(t *testing.T) {
	factors := []factor.Factor{
		factor.NewPrior(1, factor.Pose2{}, priorNoise),
	}
	_, err := Minimize(factors, map[factor.Key]factor.Pose2{}, DefaultConfig())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOptimizationDiverged), "caller error must not masquerade as divergence")
}

func TestMinimize_BudgetExhaustionDiverges(t *testing.T) {
	factors, initial := chainGraph()

	// Zero tolerances make convergence unreachable; a one-iteration budget
	// must therefore report divergence while still improving the estimate.
	cfg := DefaultConfig()
	cfg.MaxIterations = 1
	cfg.AbsErrorTol = 0
	cfg.RelErrorTol = 0

	result, err := Minimize(factors, initial, cfg)
	require.ErrorIs(t, err, ErrOptimizationDiverged)
	assert.False(t, result.Converged)
	assert.Equal(t, 1, result.Iterations)
	assert.NotNil(t, result.Values, "best-effort estimate is still returned")
}

func TestMinimize_Deterministic(t *testing.T) {
	factors, initial := chainGraph()

	a, err := Minimize(factors, initial, DefaultConfig())
	require.NoError(t, err)
	b, err := Minimize(factors, initial, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Error, b.Error)
	assert.Equal(t, a.Iterations, b.Iterations)
	for key, va := range a.Values {
		assert.Equal(t, va, b.Values[key], "estimate for %s", key)
	}
}

func TestOrderingFromFactors_SortedAndComplete(t *testing.T) {
	factors := []factor.Factor{
		factor.NewBetween(9, 3, factor.Pose2{}, odomNoise),
		factor.NewPrior(5, factor.Pose2{}, priorNoise),
	}
	ord := OrderingFromFactors(factors)
	assert.Equal(t, []factor.Key{3, 5, 9}, ord.Keys())
	off, ok := ord.Offset(5)
	require.True(t, ok)
	assert.Equal(t, factor.Pose2Dim, off)
	assert.Equal(t, 3*factor.Pose2Dim, ord.Cols())
}
