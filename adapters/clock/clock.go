// Package clock provides the time source behind grant expiry and
// settlement timestamps. Services take a ports.Clock so tests can walk
// accounts across their expiry windows without sleeping.
package clock

import (
	"sync"
	"time"

	"github.com/torresproject/creditd/ports"
)

// Real reads the wall clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fake is a hand-driven clock for tests.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock pinned to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the pinned time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set pins the clock to a new time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the clock forward by d. Tests use this to push grants
// past their expiry.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
