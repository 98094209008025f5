package ports

import (
	"github.com/bft-labs/ctlplane/internal/domain"
	"github.com/bft-labs/ctlplane/pkg/wire"
)

// Kernel accepts events into its queue.
type Kernel interface {
	// Submit enqueues ev. The returned channel receives exactly one value:
	// nil once the kernel has durably processed ev, or the failure reason.
	// Submit must not block on processing, and the channel must be buffered
	// so callers that do not care about the result can drop it.
	Submit(ev domain.Event) <-chan error
}

// EffectSink receives kernel effects. It returns false for effects that are
// not addressed to it so the kernel can offer them to another driver.
type EffectSink interface {
	OnEffect(path wire.Path, tag string, payload any) bool
}
