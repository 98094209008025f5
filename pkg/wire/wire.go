// Package wire converts between address paths and the driver's
// (session, connection, sequence) triple.
//
// An address path has the form
//
//	["control", session, connection?, sequence?]
//
// where session is @uv text and connection/sequence are @ud text (see
// package aura). Connection 0 names the driver-global channel. The sequence
// segment is reserved and always 0 today.
package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/bft-labs/ctlplane/pkg/aura"
)

// Driver is the leading path segment that routes an address to this driver.
const Driver = "control"

// GlobalConn is the connection id of the driver-global channel.
const GlobalConn uint32 = 0

// maxSegments counts the segments after the driver name.
const maxSegments = 3

var (
	// ErrForeign reports a path whose leading segment names another driver.
	ErrForeign = errors.New("wire: address not for this driver")

	// ErrMalformed reports a path for this driver that cannot be decoded.
	ErrMalformed = errors.New("wire: malformed address")
)

// Path is a hierarchical address as exchanged with the kernel.
type Path []string

// Address is a decoded Path.
type Address struct {
	Session uint32
	Conn    uint32
	Seq     uint32
}

// Global reports whether the address targets the driver itself.
func (a Address) Global() bool {
	return a.Conn == GlobalConn
}

// Encode builds the path for the given triple. Trailing zero segments are
// omitted so that Decode(Encode(s, c, q)) == (s, c, q).
func Encode(session, conn, seq uint32) Path {
	p := Path{Driver, aura.FormatUV(uint64(session))}
	if conn != 0 || seq != 0 {
		p = append(p, aura.FormatUD(uint64(conn)))
	}
	if seq != 0 {
		p = append(p, aura.FormatUD(uint64(seq)))
	}
	return p
}

// IsForeign reports whether p is addressed to some other driver.
func IsForeign(p Path) bool {
	return len(p) == 0 || p[0] != Driver
}

// Decode parses p. It returns ErrForeign when the leading segment is not
// Driver, and ErrMalformed for anything else it cannot accept.
func Decode(p Path) (Address, error) {
	if IsForeign(p) {
		return Address{}, ErrForeign
	}
	rest := p[1:]
	if len(rest) == 0 {
		return Address{}, fmt.Errorf("%w: missing session", ErrMalformed)
	}
	if len(rest) > maxSegments {
		return Address{}, fmt.Errorf("%w: %d segments", ErrMalformed, len(rest))
	}

	var a Address
	var err error
	if a.Session, err = segment(rest[0], aura.ParseUV); err != nil {
		return Address{}, fmt.Errorf("%w: session: %v", ErrMalformed, err)
	}
	if len(rest) > 1 {
		if a.Conn, err = segment(rest[1], aura.ParseUD); err != nil {
			return Address{}, fmt.Errorf("%w: connection: %v", ErrMalformed, err)
		}
	}
	if len(rest) > 2 {
		if a.Seq, err = segment(rest[2], aura.ParseUD); err != nil {
			return Address{}, fmt.Errorf("%w: sequence: %v", ErrMalformed, err)
		}
	}
	return a, nil
}

func segment(s string, parse func(string) (uint64, error)) (uint32, error) {
	v, err := parse(s)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%s exceeds 32 bits", s)
	}
	return uint32(v), nil
}
