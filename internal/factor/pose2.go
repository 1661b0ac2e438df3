package factor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pose2Dim is the tangent-space dimension of a planar pose (x, y, theta).
const Pose2Dim = 3

// Pose2 is a planar rigid transform: translation (X, Y) and heading Theta
// in radians. The zero value is the origin pose.
type Pose2 struct {
	X     float64
	Y     float64
	Theta float64
}

// NewPose2 constructs a pose with the heading normalised to (-pi, pi].
func NewPose2(x, y, theta float64) Pose2 {
	return Pose2{X: x, Y: y, Theta: wrapAngle(theta)}
}

func (p Pose2) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", p.X, p.Y, p.Theta)
}

// Compose returns p * q: q expressed in p's frame mapped to the world frame.
func (p Pose2) Compose(q Pose2) Pose2 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	return Pose2{
		X:     p.X + c*q.X - s*q.Y,
		Y:     p.Y + s*q.X + c*q.Y,
		Theta: wrapAngle(p.Theta + q.Theta),
	}
}

// Inverse returns the transform mapping world coordinates into p's frame.
func (p Pose2) Inverse() Pose2 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	return Pose2{
		X:     -(c*p.X + s*p.Y),
		Y:     -(-s*p.X + c*p.Y),
		Theta: wrapAngle(-p.Theta),
	}
}

// Between returns p⁻¹ * q: the relative transform that carries p onto q.
// This is the predicted measurement of an odometry factor.
func (p Pose2) Between(q Pose2) Pose2 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	dx, dy := q.X-p.X, q.Y-p.Y
	return Pose2{
		X:     c*dx + s*dy,
		Y:     -s*dx + c*dy,
		Theta: wrapAngle(q.Theta - p.Theta),
	}
}

// LocalCoordinates returns the tangent-space coordinates of q relative to p,
// the first-order local chart used for residuals and retraction. For small
// displacements this coincides with the SE(2) log map.
func (p Pose2) LocalCoordinates(q Pose2) [Pose2Dim]float64 {
	d := p.Between(q)
	return [Pose2Dim]float64{d.X, d.Y, d.Theta}
}

// Retract applies a tangent-space update delta = (dx, dy, dtheta) in p's
// local frame. Retract is the inverse of LocalCoordinates to first order.
func (p Pose2) Retract(delta []float64) Pose2 {
	return p.Compose(Pose2{X: delta[0], Y: delta[1], Theta: delta[2]})
}

// AdjointMatrix returns the 3x3 adjoint of p, which maps tangent vectors
// expressed in p's frame into the parent frame:
//
//	[ R  (y, -x)ᵀ ]
//	[ 0      1    ]
func (p Pose2) AdjointMatrix() *mat.Dense {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	return mat.NewDense(Pose2Dim, Pose2Dim, []float64{
		c, -s, p.Y,
		s, c, -p.X,
		0, 0, 1,
	})
}

// chartJacobian returns the derivative of the local-chart coordinates of
// g*Exp(xi) with respect to xi at zero: blkdiag(R_g, 1). Residual
// Jacobians pick up this factor; it reduces to identity as the residual
// rotation goes to zero.
func chartJacobian(g Pose2) *mat.Dense {
	c, s := math.Cos(g.Theta), math.Sin(g.Theta)
	return mat.NewDense(Pose2Dim, Pose2Dim, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// wrapAngle normalises an angle to (-pi, pi].
func wrapAngle(theta float64) float64 {
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	for theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}
