package alert

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually-advanced clock for deterministic gate tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestGateFirstAlertPasses validates that a fresh gate accepts
// immediately: the zero last-accepted time never suppresses.
func TestGateFirstAlertPasses(t *testing.T) {
	g := NewGate(5 * time.Second)

	if !g.TryAcquire() {
		t.Fatal("fresh gate denied the first acquire")
	}
}

// TestGateCooldownWindow validates the acceptance-to-acceptance window.
//
// Scenario (5s cooldown):
//  1. t=0: acquire → granted
//  2. t=2: acquire → denied (inside window)
//  3. t=6: acquire → granted (window elapsed)
func TestGateCooldownWindow(t *testing.T) {
	clock := newFakeClock()
	g := NewGate(5 * time.Second)
	g.now = clock.Now

	if !g.TryAcquire() {
		t.Fatal("t=0: expected grant")
	}

	clock.Advance(2 * time.Second)
	if g.TryAcquire() {
		t.Error("t=2: expected denial inside cooldown window")
	}

	clock.Advance(4 * time.Second) // t=6
	if !g.TryAcquire() {
		t.Error("t=6: expected grant after window elapsed")
	}
}

// TestGateDenialDoesNotExtendWindow validates that denied attempts leave
// gate state untouched: the window is measured from the last acceptance,
// not the last attempt.
func TestGateDenialDoesNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	g := NewGate(5 * time.Second)
	g.now = clock.Now

	if !g.TryAcquire() {
		t.Fatal("t=0: expected grant")
	}
	accepted := g.LastAccepted()

	clock.Advance(4 * time.Second)
	if g.TryAcquire() {
		t.Fatal("t=4: expected denial")
	}
	if !g.LastAccepted().Equal(accepted) {
		t.Error("denied attempt moved the last-accepted instant")
	}

	clock.Advance(time.Second) // t=5, exactly one window after acceptance
	if !g.TryAcquire() {
		t.Error("t=5: expected grant, denial at t=4 must not extend the window")
	}
}

// TestGateNegativeCooldownClamped validates the repair policy: negative
// cooldowns clamp to the default instead of failing construction.
func TestGateNegativeCooldownClamped(t *testing.T) {
	g := NewGate(-3 * time.Second)

	if g.Cooldown() != DefaultCooldown {
		t.Errorf("Cooldown() = %v, want %v", g.Cooldown(), DefaultCooldown)
	}
}

// TestGateZeroCooldownUnlimited validates that zero disables rate
// limiting entirely.
func TestGateZeroCooldownUnlimited(t *testing.T) {
	g := NewGate(0)

	for i := 0; i < 10; i++ {
		if !g.TryAcquire() {
			t.Fatalf("acquire %d denied with zero cooldown", i)
		}
	}
}

// TestGateConcurrentExactlyOne validates the atomic check-and-set: of N
// concurrent acquires inside one window, exactly one wins.
func TestGateConcurrentExactlyOne(t *testing.T) {
	g := NewGate(time.Hour)

	const n = 50
	var wg sync.WaitGroup
	var granted sync.Map

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			if g.TryAcquire() {
				granted.Store(id, true)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	count := 0
	granted.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count != 1 {
		t.Errorf("granted count = %d, want exactly 1", count)
	}
}
