package rle

import (
	"math/rand"
	"strings"
	"testing"
)

func TestEncodeEmpty(t *testing.T) {
	c := New(DefaultWidth)
	if got := c.Encode(nil); got != "" {
		t.Errorf("Encode(nil) = %q, want empty", got)
	}
	if got := c.Encode([]bool{}); got != "" {
		t.Errorf("Encode([]) = %q, want empty", got)
	}
}

func TestEncodeKnownStreams(t *testing.T) {
	c := New(4)
	cases := []struct {
		bits []bool
		want string
	}{
		{[]bool{true}, "1x0001"},
		{[]bool{false, false, false}, "0x0003"},
		{[]bool{true, true, false, true}, "1x0002.0x0001.1x0001"},
		{[]bool{false, true, false, true}, "0x0001.1x0001.0x0001.1x0001"},
	}
	for _, tc := range cases {
		if got := c.Encode(tc.bits); got != tc.want {
			t.Errorf("Encode(%v) = %q, want %q", tc.bits, got, tc.want)
		}
	}
}

func TestLongRunSplits(t *testing.T) {
	c := New(4)
	run := make([]bool, c.MaxRun()+5)
	for i := range run {
		run[i] = true
	}
	got := c.Encode(run)
	want := "1xFFFF.1x0005"
	if got != want {
		t.Errorf("Encode(long run) = %q, want %q", got, want)
	}
	back, err := c.Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(back) != len(run) {
		t.Fatalf("round-trip length = %d, want %d", len(back), len(run))
	}
}

func TestNarrowWidthSplits(t *testing.T) {
	c := New(1)
	if c.MaxRun() != 15 {
		t.Fatalf("MaxRun = %d, want 15", c.MaxRun())
	}
	run := make([]bool, 33)
	got := c.Encode(run)
	want := "0xF.0xF.0x3"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	c := New(4)
	for _, bad := range []string{
		"2x0001",       // invalid bit
		"1y0001",       // missing x
		"1x",           // no count
		"1x0000",       // zero-length run
		"1xZZZZ",       // not hex
		"1x0001..",     // empty token
		"1x10000",      // exceeds width limit
		"1x0001.0x000", // ok token then short: still valid hex, should pass
	} {
		_, err := c.Decode(bad)
		if bad == "1x0001.0x000" {
			// "000" parses as zero-length run
			if err == nil {
				t.Errorf("Decode(%q): expected error", bad)
			}
			continue
		}
		if err == nil {
			t.Errorf("Decode(%q): expected error", bad)
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	c := New(4)
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(4000)
		bits := make([]bool, n)
		for i := range bits {
			bits[i] = rng.Intn(3) != 0 // biased toward runs
		}
		enc := c.Encode(bits)
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("trial %d: Decode: %v", trial, err)
		}
		if len(dec) != len(bits) {
			t.Fatalf("trial %d: length %d, want %d", trial, len(dec), len(bits))
		}
		for i := range bits {
			if dec[i] != bits[i] {
				t.Fatalf("trial %d: bit %d mismatch", trial, i)
			}
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	c := New(4)
	bits := []bool{true, false, false, true, true, true}
	first := c.Encode(bits)
	for i := 0; i < 10; i++ {
		if got := c.Encode(bits); got != first {
			t.Fatalf("Encode not deterministic: %q vs %q", got, first)
		}
	}
	if strings.Contains(first, " ") {
		t.Errorf("encoded stream contains whitespace: %q", first)
	}
}
