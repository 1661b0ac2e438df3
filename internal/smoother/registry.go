package smoother

import (
	"errors"

	"github.com/banshee-data/fixedlag/internal/factor"
)

// ErrEmptyRegistry is returned by Latest before any variable has ever been
// associated with a timestamp.
var ErrEmptyRegistry = errors.New("empty timestamp registry")

// Registry maps each variable to the most recent timestamp at which it was
// observed. Timestamps are caller-defined seconds on a shared time axis;
// the lag-window policy assumes they are non-decreasing across batches.
type Registry struct {
	stamps map[factor.Key]float64
	latest float64
	seeded bool
}

// NewRegistry creates an empty timestamp registry.
func NewRegistry() *Registry {
	return &Registry{stamps: make(map[factor.Key]float64)}
}

// Associate records or overwrites the timestamp for key. Re-stamping a
// variable is legal; the latest write wins.
func (r *Registry) Associate(key factor.Key, stamp float64) {
	r.stamps[key] = stamp
	if !r.seeded || stamp > r.latest {
		r.latest = stamp
		r.seeded = true
	}
}

// Latest returns the maximum timestamp ever associated. The high-water mark
// survives Forget so the lag window keeps its anchor while old variables
// drain out.
func (r *Registry) Latest() (float64, error) {
	if !r.seeded {
		return 0, ErrEmptyRegistry
	}
	return r.latest, nil
}

// Expired returns, in sorted order, the variables whose timestamp is
// strictly older than latest minus lag. Pure query.
func (r *Registry) Expired(lag float64) []factor.Key {
	if !r.seeded {
		return nil
	}
	horizon := r.latest - lag
	var out []factor.Key
	for k, ts := range r.stamps {
		if ts < horizon {
			out = append(out, k)
		}
	}
	return factor.SortKeys(out)
}

// Timestamp returns the recorded timestamp for key.
func (r *Registry) Timestamp(key factor.Key) (float64, bool) {
	ts, ok := r.stamps[key]
	return ts, ok
}

// Forget drops the timestamp entry for key. No-op if absent.
func (r *Registry) Forget(key factor.Key) {
	delete(r.stamps, key)
}

// Len returns the number of variables currently stamped.
func (r *Registry) Len() int { return len(r.stamps) }
