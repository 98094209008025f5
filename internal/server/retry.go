package server

import (
	"math/rand"
	"time"
)

// acceptRetry paces the accept loop after errors such as EMFILE that only
// clear once other descriptors are released.
type acceptRetry struct {
	min   time.Duration
	max   time.Duration
	delay time.Duration
}

func newAcceptRetry(floor, ceiling time.Duration) *acceptRetry {
	return &acceptRetry{min: floor, max: ceiling, delay: floor}
}

// failed returns the pause before the next Accept. Each consecutive failure
// doubles it up to max; the returned value carries up to 20% jitter.
func (r *acceptRetry) failed() time.Duration {
	d := r.delay + time.Duration((rand.Float64()*0.4-0.2)*float64(r.delay))
	if r.delay = 2 * r.delay; r.delay > r.max {
		r.delay = r.max
	}
	return d
}

// succeeded ends a failure streak.
func (r *acceptRetry) succeeded() {
	r.delay = r.min
}
