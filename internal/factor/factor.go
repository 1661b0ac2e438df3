package factor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Values provides read access to the current estimate of each variable.
// The graph store implements it; tests may use a plain map wrapper.
type Values interface {
	// Pose returns the current estimate for key, or false if the variable
	// has no estimate (never inserted or already marginalized out).
	Pose(key Key) (Pose2, bool)
}

// MapValues is the trivial Values implementation over a map.
type MapValues map[Key]Pose2

func (m MapValues) Pose(key Key) (Pose2, bool) {
	p, ok := m[key]
	return p, ok
}

// Linearized is a factor evaluated and whitened at a linearization point:
// the local cost is 0.5 * || sum_i Jacobians[i]*delta_i + Residual ||².
// Jacobians[i] has Dim rows and Pose2Dim columns and corresponds to Keys[i].
type Linearized struct {
	Keys      []Key
	Jacobians []*mat.Dense
	Residual  *mat.VecDense
}

// Factor is a constraint over one or more variables. Implementations are
// immutable once constructed.
type Factor interface {
	// Keys lists the variables the factor constrains, in block order.
	Keys() []Key
	// Dim is the whitened residual dimension.
	Dim() int
	// Linearize evaluates the whitened residual and Jacobians at the
	// estimates in values. It fails if any referenced variable has no
	// estimate.
	Linearize(values Values) (*Linearized, error)
}

// missingKeyError is shared by the factor implementations; the optimizer
// surfaces it when a factor arrived without its variable's initial guess.
func missingKeyError(f string, key Key) error {
	return fmt.Errorf("%s factor references %s which has no estimate", f, key)
}
