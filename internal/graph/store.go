// Package graph holds the live nonlinear factor graph: the arena of
// factors plus the current estimate of every live variable. The store is
// plain data with no locking; the smoother controller owns mutation and
// serializes cycles.
package graph

import (
	"errors"
	"fmt"

	"github.com/banshee-data/fixedlag/internal/factor"
)

// ErrUnknownVariable is returned when an estimate is requested for a
// variable that was never inserted or has been marginalized out.
var ErrUnknownVariable = errors.New("unknown variable")

// Handle is a stable identifier for a factor slot in the arena. Handles of
// removed factors go on a free list and may be reused by later inserts.
type Handle int

// Store owns the live factors and estimates. Factors live in an arena
// indexed by Handle so removal is O(1) and never shifts other factors.
type Store struct {
	values  map[factor.Key]factor.Pose2
	factors []factor.Factor // nil entries are free slots
	free    []Handle
	live    int
}

// NewStore creates an empty factor graph store.
func NewStore() *Store {
	return &Store{values: make(map[factor.Key]factor.Pose2)}
}

// AddFactor appends a factor to the live set and returns its handle. The
// referenced variables need not have estimates yet; factors and values may
// arrive in the same batch in either order, and consistency is checked at
// optimization time.
func (s *Store) AddFactor(f factor.Factor) Handle {
	s.live++
	if n := len(s.free); n > 0 {
		h := s.free[n-1]
		s.free = s.free[:n-1]
		s.factors[h] = f
		return h
	}
	s.factors = append(s.factors, f)
	return Handle(len(s.factors) - 1)
}

// UpsertValue inserts an initial guess for a new variable or overwrites the
// current estimate of an existing one. Last write wins; the authoritative
// estimate is whatever the optimizer last wrote back.
func (s *Store) UpsertValue(key factor.Key, estimate factor.Pose2) {
	s.values[key] = estimate
}

// Estimate returns the current best estimate for key.
func (s *Store) Estimate(key factor.Key) (factor.Pose2, error) {
	p, ok := s.values[key]
	if !ok {
		return factor.Pose2{}, fmt.Errorf("%w: %s", ErrUnknownVariable, key)
	}
	return p, nil
}

// Pose implements factor.Values.
func (s *Store) Pose(key factor.Key) (factor.Pose2, bool) {
	p, ok := s.values[key]
	return p, ok
}

// Has reports whether key has a live estimate.
func (s *Store) Has(key factor.Key) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns the live variable keys in sorted order.
func (s *Store) Keys() []factor.Key {
	keys := make([]factor.Key, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return factor.SortKeys(keys)
}

// NumValues returns the number of live variables.
func (s *Store) NumValues() int { return len(s.values) }

// NumFactors returns the number of live factors.
func (s *Store) NumFactors() int { return s.live }

// Factor returns the factor at h, or nil if the slot is free.
func (s *Store) Factor(h Handle) factor.Factor {
	if int(h) < 0 || int(h) >= len(s.factors) {
		return nil
	}
	return s.factors[h]
}

// LiveFactors returns every live factor in handle order. The slice is
// freshly allocated; callers may keep it across mutations but the factors
// themselves are shared.
func (s *Store) LiveFactors() []factor.Factor {
	out := make([]factor.Factor, 0, s.live)
	for _, f := range s.factors {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// FactorsTouching returns the handles of all live factors that reference
// at least one key in keys, in handle order.
func (s *Store) FactorsTouching(keys []factor.Key) []Handle {
	set := make(map[factor.Key]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	var out []Handle
	for h, f := range s.factors {
		if f == nil {
			continue
		}
		for _, k := range f.Keys() {
			if set[k] {
				out = append(out, Handle(h))
				break
			}
		}
	}
	return out
}

// Remove deletes the given variables and factor slots from the live state.
// Elements already absent are skipped, so removal is idempotent.
func (s *Store) Remove(keys []factor.Key, handles []Handle) {
	for _, k := range keys {
		delete(s.values, k)
	}
	for _, h := range handles {
		if int(h) < 0 || int(h) >= len(s.factors) || s.factors[h] == nil {
			continue
		}
		s.factors[h] = nil
		s.free = append(s.free, h)
		s.live--
	}
}
