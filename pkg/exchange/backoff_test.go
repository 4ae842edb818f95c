package exchange

import (
	"testing"
	"time"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

// TestBackoffTable checks the connect retry schedule for the default
// 200 ms base delay.
//
// | Retry | Min (ms) | Max (ms) |
// |-------|----------|----------|
// | 0     | 200      | 250      |
// | 1     | 200      | 250      |
// | 2     | 320      | 400      |
// | 3     | 512      | 640      |
func TestBackoffTable(t *testing.T) {
	base := 200 * time.Millisecond
	calc := NewBackoffCalculator(nil)

	tests := []struct {
		attempt      int
		minMs, maxMs int64
	}{
		{0, 200, 250},
		{1, 200, 250},
		{2, 320, 400},
		{3, 512, 640},
	}
	for _, tc := range tests {
		if got := calc.CalculateMin(base, tc.attempt).Milliseconds(); got != tc.minMs {
			t.Errorf("attempt %d: min = %dms, want %dms", tc.attempt, got, tc.minMs)
		}
		if got := calc.CalculateMax(base, tc.attempt).Milliseconds(); got != tc.maxMs {
			t.Errorf("attempt %d: max = %dms, want %dms", tc.attempt, got, tc.maxMs)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	base := 200 * time.Millisecond

	if got := NewBackoffCalculator(fixedRandom(0)).Calculate(base, 0); got != base {
		t.Errorf("zero jitter = %v, want %v", got, base)
	}
	if got := NewBackoffCalculator(fixedRandom(1)).Calculate(base, 0); got != 250*time.Millisecond {
		t.Errorf("full jitter = %v, want 250ms", got)
	}

	calc := NewBackoffCalculator(nil)
	for i := 0; i < 100; i++ {
		d := calc.Calculate(base, 2)
		if d < calc.CalculateMin(base, 2) || d > calc.CalculateMax(base, 2) {
			t.Fatalf("backoff %v outside bounds", d)
		}
	}
}

func TestBackoffGrowth(t *testing.T) {
	calc := NewBackoffCalculator(fixedRandom(0))
	base := 100 * time.Millisecond

	if calc.Calculate(base, 0) != calc.Calculate(base, 1) {
		t.Error("first two retries should wait the same")
	}
	ratio := float64(calc.Calculate(base, 3)) / float64(calc.Calculate(base, 2))
	if ratio < 1.59 || ratio > 1.61 {
		t.Errorf("growth ratio = %v, want 1.6", ratio)
	}
}
