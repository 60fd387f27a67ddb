package core

import (
	"fmt"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"0", 0, true},
		{"0.00", 0, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		in  int64
		out string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{10, "0.10"},
		{100, "1.00"},
		{1234, "12.34"},
		{120050, "1200.50"},
		{-1234, "-12.34"},
	}
	for _, tc := range cases {
		if got := FormatCents(tc.in); got != tc.out {
			t.Fatalf("FormatCents(%d) = %q, want %q", tc.in, got, tc.out)
		}
	}
}

// Round-trip law: any two-decimal display value survives
// parse-then-format unchanged.
func TestMoneyRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 101, 5049, 99999999_99} {
		display := FormatCents(cents)
		parsed, err := ParseDecimalToCents(display)
		if err != nil {
			t.Fatalf("parse %q: %v", display, err)
		}
		if parsed != cents {
			t.Fatalf("round trip %d -> %q -> %d", cents, display, parsed)
		}
	}
	// Sweep a band of values to catch carry bugs.
	for cents := int64(0); cents < 5000; cents++ {
		display := FormatCents(cents)
		parsed, err := ParseDecimalToCents(display)
		if err != nil || parsed != cents {
			t.Fatalf("round trip %d -> %q -> %d (err=%v)", cents, display, parsed, err)
		}
	}
}

func TestMoneyString(t *testing.T) {
	m := Money{Cents: 1234}
	if got := fmt.Sprint(m); got != "12.34" {
		t.Fatalf("got %q", got)
	}
}
