// Package domain contains the core types exchanged between the control-plane
// driver and the kernel.
//
// # Types
//
//   - [Event]: a request the driver submits to the kernel, tagged with an address
//   - [Effect]: a closed set of effect kinds the kernel may address to the driver
//
// This package has no dependencies on sockets, logging or codecs.
package domain
