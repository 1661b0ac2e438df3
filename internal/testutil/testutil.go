// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/fixedlag/internal/factor"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertInDelta checks that got is within delta of want.
func AssertInDelta(t *testing.T, got, want, delta float64, label string) {
	t.Helper()
	if math.Abs(got-want) > delta {
		t.Errorf("%s = %v, want %v (±%v)", label, got, want, delta)
	}
}

// AssertPoseNear checks per-component pose agreement within delta, with
// heading compared on the circle.
func AssertPoseNear(t *testing.T, got, want factor.Pose2, delta float64) {
	t.Helper()
	if math.Abs(got.X-want.X) > delta || math.Abs(got.Y-want.Y) > delta {
		t.Errorf("pose translation = (%v, %v), want (%v, %v) (±%v)", got.X, got.Y, want.X, want.Y, delta)
	}
	dTheta := math.Abs(got.Theta - want.Theta)
	if dTheta > math.Pi {
		dTheta = 2*math.Pi - dTheta
	}
	if dTheta > delta {
		t.Errorf("pose heading = %v, want %v (±%v)", got.Theta, want.Theta, delta)
	}
}
