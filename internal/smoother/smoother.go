// Package smoother implements the batch fixed-lag smoother: an online
// estimator that keeps a sliding window of recent variables at their
// maximum-likelihood values and marginalizes everything older than the
// configured lag into linear summary factors.
package smoother

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fixedlag/internal/factor"
	"github.com/banshee-data/fixedlag/internal/graph"
	"github.com/banshee-data/fixedlag/internal/marginal"
	"github.com/banshee-data/fixedlag/internal/monitoring"
	"github.com/banshee-data/fixedlag/internal/optimize"
)

// Error re-exports so callers can match the whole taxonomy against one
// package.
var (
	// ErrUnknownVariable: estimate requested for a variable never inserted
	// or already marginalized out.
	ErrUnknownVariable = graph.ErrUnknownVariable
	// ErrOptimizationDiverged: the solver exhausted its budget; the cycle
	// aborted but ingested data was kept, so the next Update retries.
	ErrOptimizationDiverged = optimize.ErrOptimizationDiverged
	// ErrMarginalizationSingular: numerically degenerate elimination.
	ErrMarginalizationSingular = marginal.ErrSingular
)

// Config holds the smoother controls.
type Config struct {
	// Lag is the trailing window, in the caller's timestamp units. After
	// each cycle every live variable's timestamp lies within
	// [latest-Lag, latest].
	Lag float64
	// Optimizer configures the batch Levenberg-Marquardt runs.
	Optimizer optimize.Config
}

// DefaultConfig returns a smoother with a 2-unit lag and default solver
// settings.
func DefaultConfig() Config {
	return Config{Lag: 2.0, Optimizer: optimize.DefaultConfig()}
}

// Report summarises the most recent completed or attempted cycle.
type Report struct {
	Cycle        int
	Error        float64 // Final graph cost after optimization
	Iterations   int     // Optimizer iterations accepted
	Converged    bool
	Marginalized []factor.Key // Variables removed this cycle, sorted
}

// Smoother is the fixed-lag smoother controller. One Update call runs one
// full cycle: ingest, re-optimize the whole live window, expire, and
// marginalize. The internal mutex serializes cycles; a single smoother
// should still be fed from one logical update stream, one batch per time
// step.
type Smoother struct {
	mu       sync.Mutex
	cfg      Config
	store    *graph.Store
	registry *Registry
	cycle    int
	last     Report
}

// New creates a fixed-lag smoother with the given configuration.
func New(cfg Config) *Smoother {
	return &Smoother{
		cfg:      cfg,
		store:    graph.NewStore(),
		registry: NewRegistry(),
	}
}

// Lag returns the configured window length.
func (s *Smoother) Lag() float64 { return s.cfg.Lag }

// Update runs one full smoother cycle over a batch of new factors, initial
// guesses, and timestamps. The three maps may reference each other's keys
// in any order; all are applied before optimization.
//
// On ErrOptimizationDiverged the newly ingested factors, values, and
// timestamps remain recorded but pre-cycle estimates are kept, so calling
// Update again with the next batch retries with more context. Any other
// error indicates caller misuse and is not retryable.
func (s *Smoother) Update(newFactors []factor.Factor, newValues map[factor.Key]factor.Pose2, newStamps map[factor.Key]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycle++

	// Ingest. A key seen again after marginalization is simply a new
	// variable; the store and registry keep no history of removed ones.
	for _, k := range sortedValueKeys(newValues) {
		s.store.UpsertValue(k, newValues[k])
	}
	for _, f := range newFactors {
		s.store.AddFactor(f)
	}
	for _, k := range sortedStampKeys(newStamps) {
		s.registry.Associate(k, newStamps[k])
	}

	// Re-optimize the entire live window.
	initial := make(map[factor.Key]factor.Pose2, s.store.NumValues())
	for _, k := range s.store.Keys() {
		p, _ := s.store.Estimate(k)
		initial[k] = p
	}
	result, err := optimize.Minimize(s.store.LiveFactors(), initial, s.cfg.Optimizer)
	s.last = Report{
		Cycle:      s.cycle,
		Error:      result.Error,
		Iterations: result.Iterations,
		Converged:  result.Converged,
	}
	if err != nil {
		if errors.Is(err, optimize.ErrOptimizationDiverged) {
			monitoring.Logf("smoother cycle %d: optimizer diverged after %d iterations (error %.6g); keeping pre-cycle estimates", s.cycle, result.Iterations, result.Error)
			return fmt.Errorf("cycle %d: %w", s.cycle, err)
		}
		return fmt.Errorf("cycle %d: %w", s.cycle, err)
	}
	for k, v := range result.Values {
		s.store.UpsertValue(k, v)
	}

	// Expire and marginalize against the just-refined estimates.
	expired := s.registry.Expired(s.cfg.Lag)
	if len(expired) > 0 {
		res, err := marginal.Marginalize(s.store, expired)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", s.cycle, err)
		}
		s.store.Remove(expired, res.Consumed)
		if res.Summary != nil {
			s.store.AddFactor(res.Summary)
		}
		for _, k := range expired {
			s.registry.Forget(k)
		}
		s.last.Marginalized = expired
	}

	monitoring.Logf("smoother cycle %d: %d live variables, %d live factors, error %.6g after %d iterations, marginalized %d",
		s.cycle, s.store.NumValues(), s.store.NumFactors(), s.last.Error, s.last.Iterations, len(s.last.Marginalized))
	return nil
}

// Estimate returns the current smoothed estimate for key. Fails with
// ErrUnknownVariable if the variable was never inserted or has already
// been marginalized out.
func (s *Smoother) Estimate(key factor.Key) (factor.Pose2, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Estimate(key)
}

// Keys returns the live variable keys in sorted order.
func (s *Smoother) Keys() []factor.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Keys()
}

// Timestamp returns the recorded timestamp for a live variable.
func (s *Smoother) Timestamp(key factor.Key) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Timestamp(key)
}

// LastReport returns the report of the most recent Update cycle.
func (s *Smoother) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// MarginalCovariance returns the 3x3 marginal covariance of key in the
// current live graph, computed by inverting the information matrix at the
// current estimates.
func (s *Smoother) MarginalCovariance(key factor.Key) (*mat.SymDense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Has(key) {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownVariable, key)
	}
	factors := s.store.LiveFactors()
	ord := optimize.OrderingFromFactors(factors)
	off, ok := ord.Offset(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no incident factor", marginal.ErrSingular, key)
	}
	lambda, _, err := optimize.InformationSystem(factors, s.store, ord)
	if err != nil {
		return nil, fmt.Errorf("marginal covariance: %w", err)
	}
	var chol mat.Cholesky
	if !chol.Factorize(lambda) {
		return nil, fmt.Errorf("%w: live information matrix not positive definite", marginal.ErrSingular)
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("marginal covariance: %w", err)
	}
	out := mat.NewSymDense(factor.Pose2Dim, nil)
	for i := 0; i < factor.Pose2Dim; i++ {
		for j := i; j < factor.Pose2Dim; j++ {
			out.SetSym(i, j, cov.At(off+i, off+j))
		}
	}
	return out, nil
}

func sortedValueKeys(m map[factor.Key]factor.Pose2) []factor.Key {
	keys := make([]factor.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return factor.SortKeys(keys)
}

func sortedStampKeys(m map[factor.Key]float64) []factor.Key {
	keys := make([]factor.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return factor.SortKeys(keys)
}
