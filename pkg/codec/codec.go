// Package codec holds the value codec that turns frame payloads into
// structured values and back.
//
// The driver treats values as opaque: it decodes inbound payloads so that
// malformed blobs are rejected at the edge, hands the decoded value to the
// kernel untouched, and encodes whatever value the kernel replies with.
package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrDecode = errors.New("codec: decode failed")
	ErrEncode = errors.New("codec: encode failed")
)

// Codec is a reversible binary encoding of structured values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// DefaultMaxNested bounds the nesting depth accepted from clients.
const DefaultMaxNested = 32

// CBOR is a Codec backed by RFC 8949 CBOR with deterministic encoding.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds a CBOR codec. Decoding rejects trailing bytes, duplicate
// map keys and values nested deeper than maxNested.
func NewCBOR(maxNested int) (*CBOR, error) {
	if maxNested <= 0 {
		maxNested = DefaultMaxNested
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: maxNested,
		IndefLength:     cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("codec: dec mode: %w", err)
	}
	return &CBOR{enc: enc, dec: dec}, nil
}

// Encode serializes v.
func (c *CBOR) Encode(v any) ([]byte, error) {
	b, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return b, nil
}

// Decode parses exactly one value from b.
func (c *CBOR) Decode(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	var v any
	if err := c.dec.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

var _ Codec = (*CBOR)(nil)
