package server

import (
	"testing"
	"time"
)

func TestAcceptRetry(t *testing.T) {
	r := newAcceptRetry(10*time.Millisecond, 40*time.Millisecond)

	for i, base := range []time.Duration{10, 20, 40, 40} {
		base *= time.Millisecond
		d := r.failed()
		if lo, hi := base*8/10, base*12/10; d < lo || d > hi {
			t.Errorf("failure %d: pause %v outside [%v, %v]", i+1, d, lo, hi)
		}
	}

	r.succeeded()
	if d := r.failed(); d > 12*time.Millisecond {
		t.Errorf("pause after success = %v, want about 10ms", d)
	}
}
