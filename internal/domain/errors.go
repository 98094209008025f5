package domain

import "errors"

// Domain errors returned by the public API. Check with errors.Is.
var (
	// ErrAlreadyStarted is returned when Start() is called more than once.
	ErrAlreadyStarted = errors.New("ctlplane: already started")

	// ErrTerminated is returned when the driver has already shut down.
	ErrTerminated = errors.New("ctlplane: terminated")

	// ErrInvalidTransition is returned for a lifecycle transition the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("ctlplane: invalid state transition")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("ctlplane: invalid configuration")

	// ErrNoKernel is returned when a driver is created without a kernel.
	ErrNoKernel = errors.New("ctlplane: kernel is required")

	// ErrChannelClosed is returned when sending on a closed connection.
	ErrChannelClosed = errors.New("ctlplane: channel closed")

	// ErrOutboxFull is returned when a connection's send queue is full.
	ErrOutboxFull = errors.New("ctlplane: outbox full")
)
