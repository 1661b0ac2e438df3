package factor

import (
	"fmt"
	"sort"
)

// Key identifies a single variable in the factor graph. Callers choose the
// numbering scheme; a common convention for timed poses is key = 1000*t.
type Key uint64

// String renders a key for logs and error messages.
func (k Key) String() string {
	return fmt.Sprintf("x%d", uint64(k))
}

// SortKeys sorts a key slice in place and returns it. Every place that
// derives a column ordering from a key set goes through this so that
// assembly order never depends on map iteration.
func SortKeys(keys []Key) []Key {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
