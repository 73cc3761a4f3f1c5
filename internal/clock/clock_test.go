package clock

import (
	"testing"
	"time"
)

func TestFake_SleepAdvancesTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Sleep(150 * time.Millisecond)
	f.Advance(time.Minute)

	want := start.Add(time.Minute + 150*time.Millisecond)
	if got := f.Now(); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}

	slept, calls := f.Slept()
	if slept != 150*time.Millisecond || calls != 1 {
		t.Errorf("Slept() = (%v, %d), want (150ms, 1)", slept, calls)
	}
}

func TestCryptoJitter_StaysInRange(t *testing.T) {
	j := CryptoJitter()
	lo, hi := 100*time.Millisecond, 250*time.Millisecond

	for range 200 {
		d := j.Between(lo, hi)
		if d < lo || d > hi {
			t.Fatalf("Between() = %v, want within [%v, %v]", d, lo, hi)
		}
	}
}

func TestCryptoJitter_DegenerateRange(t *testing.T) {
	if d := CryptoJitter().Between(time.Second, time.Second); d != time.Second {
		t.Errorf("Between(1s, 1s) = %v, want 1s", d)
	}
}

func TestFixedJitter_Clamps(t *testing.T) {
	tests := []struct {
		name  string
		fixed FixedJitter
		want  time.Duration
	}{
		{"inside", FixedJitter(120 * time.Millisecond), 120 * time.Millisecond},
		{"below", FixedJitter(0), 100 * time.Millisecond},
		{"above", FixedJitter(time.Second), 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fixed.Between(100*time.Millisecond, 250*time.Millisecond); got != tt.want {
				t.Errorf("Between() = %v, want %v", got, tt.want)
			}
		})
	}
}
