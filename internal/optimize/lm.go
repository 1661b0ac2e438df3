// Package optimize implements the batch nonlinear least-squares solver the
// smoother re-runs over the whole live window each cycle: damped
// Gauss-Newton (Levenberg-Marquardt) over whitened factor residuals, with
// Cholesky solves of the normal equations.
package optimize

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fixedlag/internal/factor"
)

// ErrOptimizationDiverged is returned when the iteration budget or damping
// ceiling is exhausted without acceptable error reduction. The Result still
// carries the best estimate reached; callers decide whether to keep it.
var ErrOptimizationDiverged = errors.New("optimization diverged")

// Config holds the Levenberg-Marquardt controls. The defaults mirror the
// usual batch-solver settings: start barely damped and adapt by a factor
// of 10 on accept/reject.
type Config struct {
	LambdaInit    float64 // Initial damping term
	LambdaFactor  float64 // Multiplicative damping adaptation
	LambdaMax     float64 // Damping ceiling; exceeding it means divergence
	MaxIterations int     // Outer iteration budget
	AbsErrorTol   float64 // Absolute error-decrease convergence threshold
	RelErrorTol   float64 // Relative error-decrease convergence threshold
}

// DefaultConfig returns the standard solver settings.
func DefaultConfig() Config {
	return Config{
		LambdaInit:    1e-5,
		LambdaFactor:  10,
		LambdaMax:     1e5,
		MaxIterations: 100,
		AbsErrorTol:   1e-5,
		RelErrorTol:   1e-5,
	}
}

// Result reports one optimization run. Values always holds a best-effort
// estimate for every input variable, converged or not.
type Result struct {
	Values     map[factor.Key]factor.Pose2
	Error      float64 // Final cost 0.5*sum of squared whitened residuals
	Iterations int     // Accepted outer iterations
	Converged  bool
}

// Minimize refines initial to a local minimum of the summed factor costs.
// Variables present in initial but untouched by any factor pass through
// unchanged. On divergence the second return is ErrOptimizationDiverged and
// the Result still carries the best estimate reached.
func Minimize(factors []factor.Factor, initial map[factor.Key]factor.Pose2, cfg Config) (Result, error) {
	current := make(map[factor.Key]factor.Pose2, len(initial))
	for k, v := range initial {
		current[k] = v
	}
	res := Result{Values: current}
	if len(factors) == 0 {
		res.Converged = true
		return res, nil
	}

	ord := OrderingFromFactors(factors)
	vals := factor.MapValues(current)

	errorAt := func(v factor.Values) (float64, error) {
		total := 0.0
		for _, f := range factors {
			lin, err := f.Linearize(v)
			if err != nil {
				return 0, err
			}
			total += 0.5 * mat.Dot(lin.Residual, lin.Residual)
		}
		return total, nil
	}

	currentError, err := errorAt(vals)
	if err != nil {
		return res, fmt.Errorf("evaluate graph: %w", err)
	}
	res.Error = currentError
	if currentError < cfg.AbsErrorTol {
		res.Converged = true
		return res, nil
	}

	lambda := cfg.LambdaInit
	n := ord.Cols()

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		jac, resid, err := AssembleSystem(factors, vals, ord)
		if err != nil {
			return res, fmt.Errorf("linearize graph: %w", err)
		}

		var hDense mat.Dense
		hDense.Mul(jac.T(), jac)
		grad := mat.NewVecDense(n, nil)
		grad.MulVec(jac.T(), resid)

		if mat.Norm(grad, 2) < 1e-12 {
			res.Converged = true
			return res, nil
		}

		// Inner loop: grow the damping until a step reduces the error.
		for {
			damped := mat.NewSymDense(n, nil)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					damped.SetSym(i, j, hDense.At(i, j))
				}
				d := hDense.At(i, i)
				if d < 1e-12 {
					d = 1
				}
				damped.SetSym(i, i, hDense.At(i, i)+lambda*d)
			}

			var chol mat.Cholesky
			delta := mat.NewVecDense(n, nil)
			solved := chol.Factorize(damped)
			if solved {
				if err := chol.SolveVecTo(delta, grad); err != nil {
					solved = false
				}
			}
			if !solved {
				lambda *= cfg.LambdaFactor
				if lambda > cfg.LambdaMax {
					return res, fmt.Errorf("%w: normal equations singular at lambda %g", ErrOptimizationDiverged, lambda)
				}
				continue
			}
			delta.ScaleVec(-1, delta)

			candidate := make(map[factor.Key]factor.Pose2, len(current))
			for k, v := range current {
				candidate[k] = v
			}
			for _, k := range ord.Keys() {
				off, _ := ord.Offset(k)
				step := []float64{delta.AtVec(off), delta.AtVec(off + 1), delta.AtVec(off + 2)}
				candidate[k] = candidate[k].Retract(step)
			}

			candidateError, err := errorAt(factor.MapValues(candidate))
			if err != nil {
				return res, fmt.Errorf("evaluate candidate: %w", err)
			}

			if candidateError < currentError {
				decrease := currentError - candidateError
				for k, v := range candidate {
					current[k] = v
				}
				vals = factor.MapValues(current)
				res.Values = current
				res.Error = candidateError
				res.Iterations = iter + 1

				lambda /= cfg.LambdaFactor
				if lambda < 1e-10 {
					lambda = 1e-10
				}
				if decrease < cfg.AbsErrorTol || decrease < cfg.RelErrorTol*currentError {
					res.Converged = true
					return res, nil
				}
				currentError = candidateError
				break
			}

			lambda *= cfg.LambdaFactor
			if lambda > cfg.LambdaMax {
				return res, fmt.Errorf("%w: no error reduction below damping ceiling", ErrOptimizationDiverged)
			}
		}
	}

	return res, fmt.Errorf("%w: iteration budget %d exhausted", ErrOptimizationDiverged, cfg.MaxIterations)
}
