package factor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearContainer carries the Gaussian summary left behind by
// marginalization: a linear factor in square-root information form over
// the surviving variables, anchored at the linearization points in effect
// when the eliminated variables left the window.
//
// The residual is R*delta - d where delta stacks, per key, the local
// coordinates of the current estimate relative to the stored linearization
// point. R and d are already whitened; the container has no separate noise
// model.
type LinearContainer struct {
	keys      []Key
	linPoints map[Key]Pose2
	sqrtInfo  *mat.Dense    // R: dim x (Pose2Dim * len(keys))
	rhs       *mat.VecDense // d
}

// NewLinearContainer builds a marginal summary factor. keys fixes the block
// order of sqrtInfo's columns; linPoints must hold an entry for every key.
func NewLinearContainer(keys []Key, linPoints map[Key]Pose2, sqrtInfo *mat.Dense, rhs *mat.VecDense) (*LinearContainer, error) {
	rows, cols := sqrtInfo.Dims()
	if want := Pose2Dim * len(keys); cols != want {
		return nil, fmt.Errorf("linear container: sqrt information has %d columns, want %d", cols, want)
	}
	if rhs.Len() != rows {
		return nil, fmt.Errorf("linear container: rhs length %d, want %d", rhs.Len(), rows)
	}
	for _, k := range keys {
		if _, ok := linPoints[k]; !ok {
			return nil, fmt.Errorf("linear container: no linearization point for %s", k)
		}
	}
	return &LinearContainer{
		keys:      append([]Key(nil), keys...),
		linPoints: linPoints,
		sqrtInfo:  sqrtInfo,
		rhs:       rhs,
	}, nil
}

func (l *LinearContainer) Keys() []Key { return append([]Key(nil), l.keys...) }

func (l *LinearContainer) Dim() int {
	rows, _ := l.sqrtInfo.Dims()
	return rows
}

// LinearizationPoint returns the pose the summary was anchored at for key.
func (l *LinearContainer) LinearizationPoint(key Key) (Pose2, bool) {
	p, ok := l.linPoints[key]
	return p, ok
}

func (l *LinearContainer) Linearize(values Values) (*Linearized, error) {
	rows, _ := l.sqrtInfo.Dims()
	n := Pose2Dim * len(l.keys)

	// delta stacks the local displacement of each variable from its
	// stored linearization point.
	delta := mat.NewVecDense(n, nil)
	charts := make([]*mat.Dense, len(l.keys))
	for i, k := range l.keys {
		x, ok := values.Pose(k)
		if !ok {
			return nil, missingKeyError("linear container", k)
		}
		g := l.linPoints[k].Between(x)
		delta.SetVec(Pose2Dim*i, g.X)
		delta.SetVec(Pose2Dim*i+1, g.Y)
		delta.SetVec(Pose2Dim*i+2, g.Theta)
		charts[i] = chartJacobian(g)
	}

	r := mat.NewVecDense(rows, nil)
	r.MulVec(l.sqrtInfo, delta)
	r.SubVec(r, l.rhs)

	jacobians := make([]*mat.Dense, len(l.keys))
	for i := range l.keys {
		block := mat.NewDense(rows, Pose2Dim, nil)
		block.Mul(l.sqrtInfo.Slice(0, rows, Pose2Dim*i, Pose2Dim*(i+1)), charts[i])
		jacobians[i] = block
	}

	return &Linearized{
		Keys:      l.Keys(),
		Jacobians: jacobians,
		Residual:  r,
	}, nil
}
