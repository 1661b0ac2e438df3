package factor

import (
	"gonum.org/v1/gonum/mat"
)

// Between constrains the relative transform from one pose to another, the
// shape of an odometry or loop-closure measurement.
type Between struct {
	key1, key2 Key
	measured   Pose2
	noise      Noise
}

// NewBetween constructs a relative-measurement factor: measured is the
// transform carrying the pose at key1 onto the pose at key2.
func NewBetween(key1, key2 Key, measured Pose2, noise Noise) *Between {
	return &Between{key1: key1, key2: key2, measured: measured, noise: noise}
}

func (b *Between) Keys() []Key { return []Key{b.key1, b.key2} }
func (b *Between) Dim() int    { return b.noise.Dim() }

// Measured returns the relative measurement.
func (b *Between) Measured() Pose2 { return b.measured }

func (b *Between) Linearize(values Values) (*Linearized, error) {
	x1, ok := values.Pose(b.key1)
	if !ok {
		return nil, missingKeyError("between", b.key1)
	}
	x2, ok := values.Pose(b.key2)
	if !ok {
		return nil, missingKeyError("between", b.key2)
	}

	h := x1.Between(x2)
	g := b.measured.Between(h)
	r := mat.NewVecDense(Pose2Dim, []float64{g.X, g.Y, g.Theta})

	// Right-perturbation Jacobians of Local(measured, x1⁻¹x2): a
	// perturbation of x1 enters through the inverse adjoint of h, a
	// perturbation of x2 directly; both pick up the chart derivative at
	// the residual g.
	chart := chartJacobian(g)

	j1 := mat.NewDense(Pose2Dim, Pose2Dim, nil)
	j1.Mul(chart, h.Inverse().AdjointMatrix())
	j1.Scale(-1, j1)

	j2 := chart

	b.noise.WhitenVec(r)
	b.noise.WhitenMat(j1)
	b.noise.WhitenMat(j2)

	return &Linearized{
		Keys:      []Key{b.key1, b.key2},
		Jacobians: []*mat.Dense{j1, j2},
		Residual:  r,
	}, nil
}
