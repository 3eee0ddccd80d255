// Package random provides the byte source for referral code
// generation: crypto/rand in production, a deterministic fake for
// tests that need to predict or collide codes.
package random

import (
	"crypto/rand"
	"sync"

	"github.com/torresproject/creditd/ports"
)

// Real draws from crypto/rand.
type Real struct{}

// Bytes generates n cryptographically secure random bytes.
func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Fake is a deterministic byte source. Preset values are served first,
// then a counter sequence, so a test can force a specific code or a
// code collision and still let later calls differ.
type Fake struct {
	mu      sync.Mutex
	counter int
	values  [][]byte
	index   int
}

// NewFake creates a fake byte source.
func NewFake() *Fake {
	return &Fake{}
}

// WithValues queues preset byte values to serve before the counter
// sequence.
func (f *Fake) WithValues(values ...[]byte) *Fake {
	f.values = values
	f.index = 0
	return f
}

// Bytes returns the next preset value, zero-padded to n, or a
// counter-derived sequence once the presets are spent.
func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index < len(f.values) {
		v := f.values[f.index]
		f.index++
		if len(v) >= n {
			return v[:n], nil
		}
		result := make([]byte, n)
		copy(result, v)
		return result, nil
	}

	f.counter++
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte((f.counter + i) % 256)
	}
	return b, nil
}

// Reset rewinds the presets and the counter.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter = 0
	f.index = 0
}

// Ensure interface compliance.
var (
	_ ports.Random = Real{}
	_ ports.Random = (*Fake)(nil)
)
