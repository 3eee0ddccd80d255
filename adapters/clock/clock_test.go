package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/torresproject/creditd/adapters/clock"
)

func TestRealNow(t *testing.T) {
	c := clock.Real{}

	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestFakePinned(t *testing.T) {
	pinned := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(pinned)

	for i := 0; i < 3; i++ {
		if got := c.Now(); !got.Equal(pinned) {
			t.Errorf("call %d: Now() = %v, want %v", i, got, pinned)
		}
	}

	later := pinned.AddDate(0, 1, 0)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("after Set: Now() = %v, want %v", got, later)
	}
}

func TestFakeAdvanceCrossesExpiryWindow(t *testing.T) {
	granted := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(granted)
	expiry := granted.Add(40 * 24 * time.Hour)

	c.Advance(39 * 24 * time.Hour)
	if !c.Now().Before(expiry) {
		t.Errorf("Now() = %v, want before expiry %v", c.Now(), expiry)
	}

	c.Advance(2 * 24 * time.Hour)
	if !c.Now().After(expiry) {
		t.Errorf("Now() = %v, want after expiry %v", c.Now(), expiry)
	}
}

func TestFakeConcurrentAccess(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Now()
				c.Advance(time.Second)
			}
		}()
	}
	wg.Wait()
}
