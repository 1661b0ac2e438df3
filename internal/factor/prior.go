package factor

import (
	"gonum.org/v1/gonum/mat"
)

// Prior anchors a single pose to a fixed value under Gaussian noise. Every
// well-posed trajectory needs at least one prior somewhere in its history
// (possibly carried forward as a marginal after the original expires).
type Prior struct {
	key   Key
	mean  Pose2
	noise Noise
}

// NewPrior constructs a prior factor on key with the given mean pose.
func NewPrior(key Key, mean Pose2, noise Noise) *Prior {
	return &Prior{key: key, mean: mean, noise: noise}
}

func (p *Prior) Keys() []Key { return []Key{p.key} }
func (p *Prior) Dim() int    { return p.noise.Dim() }

// Mean returns the anchored pose.
func (p *Prior) Mean() Pose2 { return p.mean }

func (p *Prior) Linearize(values Values) (*Linearized, error) {
	x, ok := values.Pose(p.key)
	if !ok {
		return nil, missingKeyError("prior", p.key)
	}

	// Residual is the local displacement from the prior mean to the
	// current estimate.
	g := p.mean.Between(x)
	r := mat.NewVecDense(Pose2Dim, []float64{g.X, g.Y, g.Theta})
	j := chartJacobian(g)

	p.noise.WhitenVec(r)
	p.noise.WhitenMat(j)

	return &Linearized{
		Keys:      []Key{p.key},
		Jacobians: []*mat.Dense{j},
		Residual:  r,
	}, nil
}
