// Package rle implements the run-length codec for sampled bit grids.
//
// A grid is encoded as run tokens of the form <bit>x<COUNT> where COUNT is
// fixed-width uppercase hexadecimal, joined by a separator character:
//
//	1x0003.0x01F4.1x0001
//
// Runs longer than the widest representable count are split into multiple
// max-width tokens, so any input round-trips through Encode/Decode.
package rle

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultWidth is the hex-digit width used by the service. Four digits cover
// runs up to 65535 tiles, far beyond any plannable single-query grid.
const DefaultWidth = 4

// Separator joins run tokens in the encoded stream.
const Separator = "."

// Codec encodes and decodes boolean runs at a fixed hex width.
type Codec struct {
	width  int
	maxRun int
}

// New returns a Codec with the given hex-digit width. Widths outside 1..8
// fall back to DefaultWidth.
func New(width int) Codec {
	if width < 1 || width > 8 {
		width = DefaultWidth
	}
	maxRun := 1
	for i := 0; i < width; i++ {
		maxRun *= 16
	}
	return Codec{width: width, maxRun: maxRun - 1}
}

// Width reports the configured hex-digit width.
func (c Codec) Width() int { return c.width }

// MaxRun reports the longest run a single token can carry.
func (c Codec) MaxRun() int { return c.maxRun }

// Encode renders bits as a run-token stream. Empty input encodes to "".
// Encode is a pure function of its input.
func (c Codec) Encode(bits []bool) string {
	if len(bits) == 0 {
		return ""
	}

	var sb strings.Builder
	current := bits[0]
	count := 1

	flush := func() {
		if sb.Len() > 0 {
			sb.WriteString(Separator)
		}
		fmt.Fprintf(&sb, "%dx%0*X", bitVal(current), c.width, count)
	}

	for _, b := range bits[1:] {
		if b == current && count < c.maxRun {
			count++
			continue
		}
		flush()
		current = b
		count = 1
	}
	flush()
	return sb.String()
}

// Decode expands a run-token stream back into a boolean sequence. It is the
// inverse of Encode: Decode(Encode(x)) == x for every input x.
func (c Codec) Decode(s string) ([]bool, error) {
	if s == "" {
		return nil, nil
	}

	tokens := strings.Split(s, Separator)
	// Best-effort capacity guess: one run is at least one bit.
	bits := make([]bool, 0, len(tokens))

	for i, tok := range tokens {
		bit, count, err := parseToken(tok)
		if err != nil {
			return nil, fmt.Errorf("token %d (%q): %w", i, tok, err)
		}
		if count > c.maxRun {
			return nil, fmt.Errorf("token %d (%q): count %d exceeds width limit %d", i, tok, count, c.maxRun)
		}
		for j := 0; j < count; j++ {
			bits = append(bits, bit)
		}
	}
	return bits, nil
}

func parseToken(tok string) (bool, int, error) {
	if len(tok) < 3 || tok[1] != 'x' {
		return false, 0, fmt.Errorf("malformed run token")
	}
	var bit bool
	switch tok[0] {
	case '0':
		bit = false
	case '1':
		bit = true
	default:
		return false, 0, fmt.Errorf("invalid bit %q", tok[0])
	}
	count, err := strconv.ParseUint(tok[2:], 16, 32)
	if err != nil {
		return false, 0, fmt.Errorf("invalid count: %w", err)
	}
	if count == 0 {
		return false, 0, fmt.Errorf("zero-length run")
	}
	return bit, int(count), nil
}

func bitVal(b bool) int {
	if b {
		return 1
	}
	return 0
}
