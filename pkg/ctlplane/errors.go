package ctlplane

import "github.com/bft-labs/ctlplane/internal/domain"

// Sentinel errors, checked with errors.Is.
var (
	ErrAlreadyStarted    = domain.ErrAlreadyStarted
	ErrTerminated        = domain.ErrTerminated
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrInvalidConfig     = domain.ErrInvalidConfig
	ErrNoKernel          = domain.ErrNoKernel
	ErrChannelClosed     = domain.ErrChannelClosed
	ErrOutboxFull        = domain.ErrOutboxFull
)
