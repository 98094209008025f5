// Package ctlplane provides an embeddable control-plane driver for an
// event-sourced kernel.
//
// The driver exposes a Unix socket under the pier directory. Each client
// connection exchanges length-prefixed frames whose payloads are CBOR
// values. Every decoded client message is submitted to the kernel as a
// command event addressed
//
//	["control", <session>, <connection>]
//
// and kernel effects carrying that address are routed back to the
// connection they name.
//
// # Basic Usage
//
//	drv, err := ctlplane.New(ctlplane.Config{PierDir: "/path/to/pier"}, kernel,
//	    ctlplane.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	kernel.Attach(drv) // the kernel delivers effects through drv.OnEffect
//
//	if err := drv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	<-drv.Ready()
//
//	// ... run until shutdown signal ...
//
//	if err := drv.Shutdown(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Lifecycle States
//
// A driver moves through [StateUninitialized], [StateAwaitingReady],
// [StateLive], [StateShuttingDown] and [StateTerminated]. The socket is only
// opened after the kernel acknowledges the startup announcement submitted by
// [Driver.Start]; if the kernel rejects it the driver never goes live.
//
// # Plugins
//
//	import "github.com/bft-labs/ctlplane/plugins/configwatcher"
//
//	drv, err := ctlplane.New(cfg, kernel,
//	    ctlplane.WithPlugin(configwatcher.New(configwatcher.DefaultConfig())),
//	)
package ctlplane
