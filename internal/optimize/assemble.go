package optimize

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fixedlag/internal/factor"
)

// Ordering fixes the column layout of an assembled linear system: each key
// owns factor.Pose2Dim consecutive columns starting at its offset. Keys are
// always laid out in a caller-controlled deterministic order so repeated
// assemblies of the same graph are bit-identical.
type Ordering struct {
	keys    []factor.Key
	offsets map[factor.Key]int
}

// NewOrdering lays out the given keys in the order supplied.
func NewOrdering(keys []factor.Key) *Ordering {
	ord := &Ordering{
		keys:    append([]factor.Key(nil), keys...),
		offsets: make(map[factor.Key]int, len(keys)),
	}
	for i, k := range ord.keys {
		ord.offsets[k] = factor.Pose2Dim * i
	}
	return ord
}

// OrderingFromFactors collects every key referenced by the factors and lays
// them out in sorted key order.
func OrderingFromFactors(factors []factor.Factor) *Ordering {
	seen := make(map[factor.Key]bool)
	var keys []factor.Key
	for _, f := range factors {
		for _, k := range f.Keys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return NewOrdering(factor.SortKeys(keys))
}

// Keys returns the ordered key layout.
func (o *Ordering) Keys() []factor.Key { return append([]factor.Key(nil), o.keys...) }

// Offset returns the first column owned by key.
func (o *Ordering) Offset(key factor.Key) (int, bool) {
	off, ok := o.offsets[key]
	return off, ok
}

// Cols returns the total column count of the layout.
func (o *Ordering) Cols() int { return factor.Pose2Dim * len(o.keys) }

// AssembleSystem linearizes every factor at the estimates in values and
// stacks the whitened blocks into one Jacobian J and residual r, so the
// local cost is 0.5*||J*delta + r||². Fails if a factor references a
// variable with no estimate or one outside the ordering.
func AssembleSystem(factors []factor.Factor, values factor.Values, ord *Ordering) (*mat.Dense, *mat.VecDense, error) {
	rows := 0
	for _, f := range factors {
		rows += f.Dim()
	}
	jac := mat.NewDense(rows, ord.Cols(), nil)
	res := mat.NewVecDense(rows, nil)

	row := 0
	for _, f := range factors {
		lin, err := f.Linearize(values)
		if err != nil {
			return nil, nil, err
		}
		dim := f.Dim()
		for i, k := range lin.Keys {
			off, ok := ord.Offset(k)
			if !ok {
				return nil, nil, fmt.Errorf("assemble: %s not in ordering", k)
			}
			block := lin.Jacobians[i]
			for r := 0; r < dim; r++ {
				for c := 0; c < factor.Pose2Dim; c++ {
					jac.Set(row+r, off+c, block.At(r, c))
				}
			}
		}
		for r := 0; r < dim; r++ {
			res.SetVec(row+r, lin.Residual.AtVec(r))
		}
		row += dim
	}
	return jac, res, nil
}

// InformationSystem assembles the normal-equations form of the graph at the
// current estimates: the information matrix Lambda = JᵀJ and the
// information vector eta = -Jᵀr, both in ord's layout.
func InformationSystem(factors []factor.Factor, values factor.Values, ord *Ordering) (*mat.SymDense, *mat.VecDense, error) {
	jac, res, err := AssembleSystem(factors, values, ord)
	if err != nil {
		return nil, nil, err
	}
	n := ord.Cols()

	var h mat.Dense
	h.Mul(jac.T(), jac)
	lambda := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			lambda.SetSym(i, j, h.At(i, j))
		}
	}

	eta := mat.NewVecDense(n, nil)
	eta.MulVec(jac.T(), res)
	eta.ScaleVec(-1, eta)

	return lambda, eta, nil
}
