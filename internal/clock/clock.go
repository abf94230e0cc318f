// Package clock provides the time source every other component reads
// through, so tests can inject a virtual clock instead of wall time.
package clock

import (
	"sync"
	"time"
)

// Clock is the narrow time interface named in the external-interfaces
// section: now() in epoch seconds, a monotonic float for interval timing,
// and a cancellable sleep for periodic workers.
type Clock interface {
	Now() int64
	Monotonic() float64
	Sleep(d time.Duration)
}

// Real is the production Clock backed by the OS clock.
type Real struct{}

func NewReal() Real { return Real{} }

func (Real) Now() int64           { return time.Now().Unix() }
func (Real) Monotonic() float64   { return float64(time.Now().UnixNano()) / 1e9 }
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Virtual is a manually-advanced Clock for deterministic tests.
type Virtual struct {
	mu  sync.Mutex
	now int64
	mono float64
}

func NewVirtual(start int64) *Virtual {
	return &Virtual{now: start, mono: float64(start)}
}

func (v *Virtual) Now() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Monotonic() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mono
}

// Sleep advances the virtual clock by d and returns at once; it never
// blocks.
func (v *Virtual) Sleep(d time.Duration) {
	v.Advance(d)
}

func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now += int64(d.Seconds())
	v.mono += d.Seconds()
}

func (v *Virtual) Set(now int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
	v.mono = float64(now)
}
