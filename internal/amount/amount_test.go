package amount

import (
	"math/big"
	"testing"
)

func TestAddSub(t *testing.T) {
	sum, err := Add("60.5", "39.5")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum != "100" {
		t.Fatalf("unexpected sum: %s", sum)
	}

	diff, err := Sub("100", "40")
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff != "60" {
		t.Fatalf("unexpected diff: %s", diff)
	}

	if _, err := Sub("1", "2"); err == nil {
		t.Fatalf("expected underflow error")
	}
}

func TestAdd_NoFloatDrift(t *testing.T) {
	sum, err := Add("0.1", "0.2")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum != "0.3" {
		t.Fatalf("expected exact 0.3, got %s", sum)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, bad := range []string{"", "  ", "-1", "abc", "1..2"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCmp(t *testing.T) {
	got, err := Cmp("40", "100")
	if err != nil {
		t.Fatalf("cmp: %v", err)
	}
	if got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestRawConversion(t *testing.T) {
	dec := FromRaw(big.NewInt(2_000_000), 6)
	if dec != "2" {
		t.Fatalf("FromRaw: got %s", dec)
	}

	dec = FromRaw(big.NewInt(1_500_000), 6)
	if dec != "1.5" {
		t.Fatalf("FromRaw fractional: got %s", dec)
	}

	raw, err := ToRaw("2", 6)
	if err != nil {
		t.Fatalf("ToRaw: %v", err)
	}
	if raw.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("ToRaw: got %s", raw)
	}

	raw, err = ToRaw("0.0000001", 6) // below one raw unit
	if err != nil {
		t.Fatalf("ToRaw tiny: %v", err)
	}
	if raw.Sign() != 0 {
		t.Fatalf("expected truncation to zero, got %s", raw)
	}
}
