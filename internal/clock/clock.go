package clock

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Clock supplies the current time and a way to wait.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Jitter picks a delay in the closed interval [lo, hi].
type Jitter interface {
	Between(lo, hi time.Duration) time.Duration
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time        { return time.Now().UTC() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a manually driven Clock. Sleep advances the fake time instead of
// blocking, so code under test that waits observes the elapsed time.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	slept  time.Duration
	sleeps int
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the fake time by d and records the wait.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.now = f.now.Add(d)
		f.slept += d
	}
	f.sleeps++
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set jumps the fake time to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Slept returns the total duration passed to Sleep and the number of calls.
func (f *Fake) Slept() (time.Duration, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept, f.sleeps
}

type cryptoJitter struct{}

// CryptoJitter returns a Jitter drawing from crypto/rand. If the random
// source fails the upper bound is used, so the delay never shrinks.
func CryptoJitter() Jitter { return cryptoJitter{} }

func (cryptoJitter) Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := uint64(hi-lo) + 1

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return hi
	}
	return lo + time.Duration(binary.BigEndian.Uint64(b[:])%span) //nolint:gosec // G115: result < span which fits int64
}

// FixedJitter always returns d, clamped into [lo, hi].
type FixedJitter time.Duration

// Between returns the fixed delay clamped into [lo, hi].
func (j FixedJitter) Between(lo, hi time.Duration) time.Duration {
	d := time.Duration(j)
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
