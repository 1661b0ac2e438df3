// Package factor defines the variable and constraint model for the
// fixed-lag smoother: integer variable keys, the planar Pose2 manifold,
// diagonal Gaussian noise models, and the closed set of factor types
// (prior, between/odometry, and the linear container produced by
// marginalization). All factors linearize to whitened Jacobian blocks
// through a single interface so the optimizer and the marginalization
// engine never dispatch on concrete types.
package factor
