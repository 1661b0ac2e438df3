package factor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Noise whitens residuals and Jacobians so that factor errors are expressed
// in units of standard deviations. Whitened blocks can be stacked directly
// into a least-squares system with an implicit identity covariance.
type Noise interface {
	// Dim is the residual dimension the model applies to.
	Dim() int
	// WhitenVec scales a residual vector in place.
	WhitenVec(v *mat.VecDense)
	// WhitenMat scales the rows of a Jacobian block in place.
	WhitenMat(m *mat.Dense)
}

// Diagonal is a noise model with independent per-dimension standard
// deviations, matching the diagonal sigmas used for pose priors and
// odometry measurements.
type Diagonal struct {
	invSigmas []float64
}

// DiagonalSigmas builds a diagonal noise model from standard deviations.
// Every sigma must be strictly positive.
func DiagonalSigmas(sigmas []float64) (*Diagonal, error) {
	inv := make([]float64, len(sigmas))
	for i, s := range sigmas {
		if s <= 0 {
			return nil, fmt.Errorf("noise sigma[%d] = %v, must be positive", i, s)
		}
		inv[i] = 1 / s
	}
	return &Diagonal{invSigmas: inv}, nil
}

// MustDiagonalSigmas is DiagonalSigmas for statically known sigmas; it
// panics on a non-positive entry.
func MustDiagonalSigmas(sigmas []float64) *Diagonal {
	d, err := DiagonalSigmas(sigmas)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Diagonal) Dim() int { return len(d.invSigmas) }

func (d *Diagonal) WhitenVec(v *mat.VecDense) {
	for i, w := range d.invSigmas {
		v.SetVec(i, v.AtVec(i)*w)
	}
}

func (d *Diagonal) WhitenMat(m *mat.Dense) {
	_, cols := m.Dims()
	for i, w := range d.invSigmas {
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)*w)
		}
	}
}
