// Package marginal removes expired variables from the live estimation
// problem without discarding their information: it eliminates them from
// the locally linearized system and keeps the Schur-complement constraint
// on the surviving neighbours as a linear container factor.
package marginal

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fixedlag/internal/factor"
	"github.com/banshee-data/fixedlag/internal/graph"
	"github.com/banshee-data/fixedlag/internal/optimize"
)

// ErrSingular is returned when the eliminated block of the local linear
// system is numerically singular, e.g. a removed variable with no
// informative constraint. Surfacing this beats fabricating an
// infinite-confidence summary.
var ErrSingular = errors.New("marginalization singular")

// Result describes one marginalization pass.
type Result struct {
	// Summary is the factor replacing the removed variables' net effect on
	// the separator, or nil when the removed set had no live neighbours.
	Summary *factor.LinearContainer
	// Separator lists the surviving variables the summary constrains,
	// in sorted order. Empty when Summary is nil.
	Separator []factor.Key
	// Consumed holds the handles of the original factors the summary
	// replaces; the caller removes them together with the variables.
	Consumed []graph.Handle
}

// Marginalize eliminates the removed variables from the graph in store,
// linearizing the factors that touch them at the current (just refined)
// estimates. The store itself is not mutated; the caller applies the
// removal and inserts the summary.
func Marginalize(store *graph.Store, removed []factor.Key) (*Result, error) {
	if len(removed) == 0 {
		return &Result{}, nil
	}
	removed = factor.SortKeys(append([]factor.Key(nil), removed...))
	removedSet := make(map[factor.Key]bool, len(removed))
	for _, k := range removed {
		removedSet[k] = true
	}

	handles := store.FactorsTouching(removed)
	factors := make([]factor.Factor, 0, len(handles))
	for _, h := range handles {
		factors = append(factors, store.Factor(h))
	}

	// Separator: live variables the touching factors reach outside the
	// removed set.
	sepSet := make(map[factor.Key]bool)
	for _, f := range factors {
		for _, k := range f.Keys() {
			if !removedSet[k] {
				sepSet[k] = true
			}
		}
	}
	separator := make([]factor.Key, 0, len(sepSet))
	for k := range sepSet {
		separator = append(separator, k)
	}
	factor.SortKeys(separator)

	// A fully expired disconnected cluster carries no information forward.
	if len(separator) == 0 {
		return &Result{Consumed: handles}, nil
	}

	// Joint information system over [removed | separator].
	layout := append(append([]factor.Key(nil), removed...), separator...)
	ord := optimize.NewOrdering(layout)
	lambda, eta, err := optimize.InformationSystem(factors, store, ord)
	if err != nil {
		return nil, fmt.Errorf("linearize for marginalization: %w", err)
	}

	nr := factor.Pose2Dim * len(removed)
	ns := factor.Pose2Dim * len(separator)

	lrr := mat.NewSymDense(nr, nil)
	for i := 0; i < nr; i++ {
		for j := i; j < nr; j++ {
			lrr.SetSym(i, j, lambda.At(i, j))
		}
	}
	lsr := mat.NewDense(ns, nr, nil)
	for i := 0; i < ns; i++ {
		for j := 0; j < nr; j++ {
			lsr.Set(i, j, lambda.At(nr+i, j))
		}
	}
	lss := mat.NewDense(ns, ns, nil)
	for i := 0; i < ns; i++ {
		for j := 0; j < ns; j++ {
			lss.Set(i, j, lambda.At(nr+i, nr+j))
		}
	}
	etaR := mat.NewVecDense(nr, nil)
	for i := 0; i < nr; i++ {
		etaR.SetVec(i, eta.AtVec(i))
	}
	etaS := mat.NewVecDense(ns, nil)
	for i := 0; i < ns; i++ {
		etaS.SetVec(i, eta.AtVec(nr+i))
	}

	var cholRR mat.Cholesky
	if !cholRR.Factorize(lrr) {
		return nil, fmt.Errorf("%w: eliminated block not positive definite over %v", ErrSingular, removed)
	}

	// Schur complement: Lss' = Lss - Lsr Lrr⁻¹ Lrs, eta' = etaS - Lsr Lrr⁻¹ etaR.
	var invTimesLrs mat.Dense // Lrr⁻¹ Lrs
	if err := cholRR.SolveTo(&invTimesLrs, lsr.T()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	var correction mat.Dense
	correction.Mul(lsr, &invTimesLrs)
	lss.Sub(lss, &correction)

	invEtaR := mat.NewVecDense(nr, nil)
	if err := cholRR.SolveVecTo(invEtaR, etaR); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	etaCorr := mat.NewVecDense(ns, nil)
	etaCorr.MulVec(lsr, invEtaR)
	etaS.SubVec(etaS, etaCorr)

	// Square-root form: R upper triangular with RᵀR = Lss', d solved from
	// Rᵀd = eta'.
	marginalInfo := mat.NewSymDense(ns, nil)
	for i := 0; i < ns; i++ {
		for j := i; j < ns; j++ {
			marginalInfo.SetSym(i, j, 0.5*(lss.At(i, j)+lss.At(j, i)))
		}
	}
	var cholSS mat.Cholesky
	if !cholSS.Factorize(marginalInfo) {
		return nil, fmt.Errorf("%w: marginal information not positive definite over %v", ErrSingular, separator)
	}
	var rTri mat.TriDense
	cholSS.UTo(&rTri)
	sqrtInfo := mat.NewDense(ns, ns, nil)
	sqrtInfo.Copy(&rTri)

	var dCol mat.Dense
	if err := rTri.SolveTo(&dCol, true, etaS); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	d := mat.NewVecDense(ns, nil)
	for i := 0; i < ns; i++ {
		d.SetVec(i, dCol.At(i, 0))
	}

	linPoints := make(map[factor.Key]factor.Pose2, len(separator))
	for _, k := range separator {
		p, err := store.Estimate(k)
		if err != nil {
			return nil, fmt.Errorf("separator estimate: %w", err)
		}
		linPoints[k] = p
	}

	summary, err := factor.NewLinearContainer(separator, linPoints, sqrtInfo, d)
	if err != nil {
		return nil, fmt.Errorf("build summary factor: %w", err)
	}

	return &Result{
		Summary:   summary,
		Separator: separator,
		Consumed:  handles,
	}, nil
}
