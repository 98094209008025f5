// Package log provides the structured logging abstraction used by ctlplane.
//
// Driver components only depend on the Logger interface. A zerolog adapter
// is provided for production use and a no-op logger for tests and embedders
// that want silence.
//
// # Usage
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	logger.Info("live", log.String("socket", path), log.Uint32("session", sid))
//
// Embedders with their own logging stack implement Logger directly.
package log
