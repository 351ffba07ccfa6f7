package alert

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultCooldown is the minimum interval between accepted alerts when
// the configured cooldown is invalid.
const DefaultCooldown = 5 * time.Second

// Gate enforces the alert cooldown: at most one accepted alert per
// cooldown window, measured acceptance-to-acceptance.
//
// Thread-safety: TryAcquire is a single atomic check-and-set; two
// concurrent callers can never both acquire within one window.
type Gate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time // zero value = never alerted

	// now is swappable for deterministic tests
	now func() time.Time
}

// NewGate creates a gate with the given cooldown.
//
// Construction is total: a negative cooldown is clamped to
// DefaultCooldown (invariant-repair policy, logged). Zero is valid and
// means no rate limiting.
func NewGate(cooldown time.Duration) *Gate {
	if cooldown < 0 {
		slog.Warn("invalid alert cooldown, using default",
			"requested", cooldown,
			"default", DefaultCooldown,
		)
		cooldown = DefaultCooldown
	}
	return &Gate{
		cooldown: cooldown,
		now:      time.Now,
	}
}

// TryAcquire reports whether a new alert is allowed right now.
//
// On success the gate's last-accepted instant advances to now, consuming
// the window. On denial the gate state is untouched. Never blocks.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.cooldown {
		return false
	}

	g.last = now
	return true
}

// Cooldown returns the effective (post-clamp) cooldown.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// LastAccepted returns the instant of the most recently accepted alert,
// or the zero time if no alert has been accepted yet.
func (g *Gate) LastAccepted() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
