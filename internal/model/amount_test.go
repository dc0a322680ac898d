package model

import (
	"math/big"
	"testing"
)

func TestPercentToBps(t *testing.T) {
	cases := map[string]uint64{
		"75":   7500,
		"2.5":  250,
		"0.01": 1,
		"100":  10000,
	}
	for input, want := range cases {
		got, err := PercentToBps(input)
		if err != nil {
			t.Fatalf("PercentToBps(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("PercentToBps(%q) = %d, want %d", input, got, want)
		}
	}

	for _, bad := range []string{"0.001", "-1", "abc"} {
		if _, err := PercentToBps(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRatioAndApplyBps(t *testing.T) {
	if got := RatioBps(big.NewInt(800), big.NewInt(1000)); got != 8000 {
		t.Fatalf("progress mismatch: %d", got)
	}
	if got := RatioBps(big.NewInt(5), big.NewInt(0)); got != 0 {
		t.Fatalf("zero goal must yield zero progress: %d", got)
	}
	if got := ApplyBps(big.NewInt(1000), 7500); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("threshold mismatch: %s", got)
	}
	if got := ApplyBps(big.NewInt(999), 250); got.Cmp(big.NewInt(24)) != 0 {
		t.Fatalf("fee must floor: %s", got)
	}
	if got := CeilBps(big.NewInt(1001), 7500); got.Cmp(big.NewInt(751)) != 0 {
		t.Fatalf("threshold must round up: %s", got)
	}
	if got := CeilBps(big.NewInt(1000), 7500); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("exact threshold mismatch: %s", got)
	}
}

func TestFormatBps(t *testing.T) {
	if got := FormatBps(7550); got != "75.50%" {
		t.Fatalf("format mismatch: %s", got)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("12345678901234567890")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.String() != "12345678901234567890" {
		t.Fatalf("value mismatch: %s", v)
	}
	if _, err := ParseAmount("-4"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}
