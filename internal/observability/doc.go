// Package observability holds the driver's Prometheus instrumentation.
package observability
