// Package ports defines the interfaces that connect the driver to the kernel
// it runs inside.
//
// The driver never sees the kernel's event log, replay or interpreter. It
// only submits events and learns whether they were durably processed; the
// kernel in turn pushes effects back through the driver's OnEffect hook.
//
//   - [Kernel]: event submission with acknowledgement
//   - [EffectSink]: the effect hook a kernel calls
package ports
