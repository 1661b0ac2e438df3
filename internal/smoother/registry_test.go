package smoother

import (
	"errors"
	"testing"
)

func TestRegistry_LatestEmpty(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Latest(); !errors.Is(err, ErrEmptyRegistry) {
		t.Errorf("Latest() error = %v, want ErrEmptyRegistry", err)
	}
}

func TestRegistry_AssociateAndLatest(t *testing.T) {
	r := NewRegistry()
	r.Associate(1, 0.0)
	r.Associate(2, 0.25)
	r.Associate(3, 0.5)

	latest, err := r.Latest()
	if err != nil {
		t.Fatalf("Latest(): %v", err)
	}
	if latest != 0.5 {
		t.Errorf("Latest() = %v, want 0.5", latest)
	}
}

func TestRegistry_RestampLatestWriteWins(t *testing.T) {
	r := NewRegistry()
	r.Associate(1, 1.0)
	r.Associate(1, 2.0)

	ts, ok := r.Timestamp(1)
	if !ok || ts != 2.0 {
		t.Errorf("Timestamp(1) = %v, %v, want 2.0, true", ts, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_ExpiredIsStrict(t *testing.T) {
	r := NewRegistry()
	r.Associate(1, 0.0)
	r.Associate(2, 1.0)
	r.Associate(3, 3.0)

	// Horizon is 3.0 - 2.0 = 1.0; only strictly older timestamps expire,
	// so the variable at exactly 1.0 stays.
	expired := r.Expired(2.0)
	if len(expired) != 1 || expired[0] != 1 {
		t.Errorf("Expired(2.0) = %v, want [1]", expired)
	}
}

func TestRegistry_ForgetKeepsHighWaterMark(t *testing.T) {
	r := NewRegistry()
	r.Associate(1, 5.0)
	r.Forget(1)

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after forget", r.Len())
	}
	latest, err := r.Latest()
	if err != nil {
		t.Fatalf("Latest() after forget: %v", err)
	}
	if latest != 5.0 {
		t.Errorf("Latest() = %v, want high-water mark 5.0", latest)
	}

	if got := r.Expired(2.0); len(got) != 0 {
		t.Errorf("Expired on drained registry = %v, want empty", got)
	}
}
