// Package frame implements the length-prefixed framing spoken on the control
// socket. Each frame is a version byte, a little-endian uint64 payload
// length, and exactly that many payload bytes:
//
//	+---------+----------------------+-----------------+
//	| 0x00    | len (8 bytes, LE)    | payload (len)   |
//	+---------+----------------------+-----------------+
//
// The payload is opaque here; it is one value-codec blob.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// Version is the only header version understood.
	Version byte = 0x00

	// HeaderLen is the fixed header size in bytes.
	HeaderLen = 9
)

var (
	ErrVersion         = errors.New("frame: unsupported version")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Read reads one frame payload from r. It returns io.EOF only when r ends
// cleanly on a frame boundary and io.ErrUnexpectedEOF when it ends inside a
// frame.
func Read(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n, err := DecodeHeader(hdr[:], limits)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Write writes payload to w as a single frame.
func Write(w io.Writer, payload []byte, limits Limits) error {
	b, err := Append(nil, payload, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Append appends the framed payload to dst.
func Append(dst, payload []byte, limits Limits) ([]byte, error) {
	if uint64(len(payload)) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	dst = append(dst, EncodeHeader(uint64(len(payload)))...)
	return append(dst, payload...), nil
}

func EncodeHeader(n uint64) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = Version
	binary.LittleEndian.PutUint64(buf[1:], n)
	return buf
}

// DecodeHeader validates a fixed header and returns the payload length.
func DecodeHeader(b []byte, limits Limits) (uint64, error) {
	if len(b) != HeaderLen {
		return 0, io.ErrUnexpectedEOF
	}
	if b[0] != Version {
		return 0, ErrVersion
	}
	n := binary.LittleEndian.Uint64(b[1:])
	if n > limits.MaxPayloadBytes {
		return 0, ErrPayloadTooLarge
	}
	return n, nil
}
