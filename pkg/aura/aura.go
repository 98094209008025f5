// Package aura formats and parses unsigned integers in the typed text forms
// used inside address segments.
//
// Two forms are supported:
//
//	@ud  decimal, dot-separated groups of three:        1.000.000
//	@uv  base32 (0-9a-v) with a 0v prefix, groups of five: 0v1f.ok3ni
//
// Both parsers are strict inverses of their formatters: a string is accepted
// only if formatting the parsed value reproduces it exactly.
package aura

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrSyntax reports text that is not a canonical encoding for the aura.
	ErrSyntax = errors.New("aura: invalid syntax")

	// ErrRange reports a value that does not fit in 64 bits.
	ErrRange = errors.New("aura: value out of range")
)

const (
	udGroup = 3
	uvGroup = 5

	uvPrefix   = "0v"
	uvAlphabet = "0123456789abcdefghijklmnopqrstuv"
)

// FormatUD renders v as @ud.
func FormatUD(v uint64) string {
	return group(strconv.FormatUint(v, 10), udGroup)
}

// ParseUD parses a canonical @ud string.
func ParseUD(s string) (uint64, error) {
	digits, err := ungroup(s, udGroup)
	if err != nil {
		return 0, fmt.Errorf("%w: @ud %q", err, s)
	}
	var v uint64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: @ud %q", ErrSyntax, s)
		}
		d := uint64(c - '0')
		if v > (math.MaxUint64-d)/10 {
			return 0, fmt.Errorf("%w: @ud %q", ErrRange, s)
		}
		v = v*10 + d
	}
	return v, nil
}

// FormatUV renders v as @uv.
func FormatUV(v uint64) string {
	if v == 0 {
		return uvPrefix + "0"
	}
	var buf [13]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = uvAlphabet[v&31]
		v >>= 5
	}
	return uvPrefix + group(string(buf[i:]), uvGroup)
}

// ParseUV parses a canonical @uv string.
func ParseUV(s string) (uint64, error) {
	body, ok := strings.CutPrefix(s, uvPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: @uv %q", ErrSyntax, s)
	}
	digits, err := ungroup(body, uvGroup)
	if err != nil {
		return 0, fmt.Errorf("%w: @uv %q", err, s)
	}
	var v uint64
	for i := 0; i < len(digits); i++ {
		d := strings.IndexByte(uvAlphabet, digits[i])
		if d < 0 {
			return 0, fmt.Errorf("%w: @uv %q", ErrSyntax, s)
		}
		if v > math.MaxUint64>>5 {
			return 0, fmt.Errorf("%w: @uv %q", ErrRange, s)
		}
		v = v<<5 | uint64(d)
	}
	return v, nil
}

// group inserts a dot every n characters counting from the right.
func group(digits string, n int) string {
	if len(digits) <= n {
		return digits
	}
	var b strings.Builder
	head := len(digits) % n
	if head == 0 {
		head = n
	}
	b.WriteString(digits[:head])
	for i := head; i < len(digits); i += n {
		b.WriteByte('.')
		b.WriteString(digits[i : i+n])
	}
	return b.String()
}

// ungroup validates dot placement and strips the dots. The leading group
// holds 1..n characters and may only start with '0' when it is the whole
// number; every following group holds exactly n characters.
func ungroup(s string, n int) (string, error) {
	if s == "" {
		return "", ErrSyntax
	}
	groups := strings.Split(s, ".")
	head := groups[0]
	if len(head) == 0 || len(head) > n {
		return "", ErrSyntax
	}
	if head[0] == '0' && (len(head) > 1 || len(groups) > 1) {
		return "", ErrSyntax
	}
	for _, g := range groups[1:] {
		if len(g) != n {
			return "", ErrSyntax
		}
	}
	return strings.Join(groups, ""), nil
}
