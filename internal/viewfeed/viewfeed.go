// Package viewfeed distributes pipeline output to presentation consumers
// (terminal display, future web UI) with just-in-time semantics: each
// subscriber holds a single-slot mailbox, a new update overwrites an
// unconsumed one, and slow consumers never back-pressure the pipeline.
package viewfeed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelshield/sentinel/internal/alert"
	"github.com/sentinelshield/sentinel/internal/types"
)

// ThroughputSample is a periodic FPS measurement attached to an update.
type ThroughputSample struct {
	FPS      float64
	Frames   uint64
	Detected uint64
}

// FrameUpdate is the unit of presentation data: the processed frame plus
// everything the consumer needs to render it.
type FrameUpdate struct {
	Frame        types.Frame
	Labels       []string
	Scores       []float64
	HasDetection bool
	// Alert is non-nil only on the update where an alert was accepted
	Alert *alert.Record
	// Throughput is non-nil on sampling boundaries
	Throughput *ThroughputSample
}

// slot is a per-subscriber mailbox. Single-slot buffer, overwrite on
// publish, blocking consume via sync.Cond.
type slot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	update *FrameUpdate // nil = consumed

	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64
	lastConsumedAt   time.Time

	closed bool
}

// SubscriberStats is a point-in-time snapshot of one subscriber's mailbox.
type SubscriberStats struct {
	ID               string
	LastConsumedSeq  uint64
	ConsecutiveDrops uint64
	TotalDrops       uint64
	LastConsumedAt   time.Time
}

// Feed fans pipeline updates out to registered subscribers.
//
// Thread-safety: all methods safe for concurrent use. Each subscriber's
// readFunc must be called from a single goroutine.
type Feed struct {
	slots      sync.Map // subscriber ID (string) → *slot
	publishSeq uint64
	stopping   atomic.Bool
}

// New creates an empty feed.
func New() *Feed {
	return &Feed{}
}

// Publish delivers an update to every subscriber. Non-blocking: a
// subscriber still holding its previous update loses it (overwrite,
// drop counted). No-op after Close.
func (f *Feed) Publish(update FrameUpdate) {
	if f.stopping.Load() {
		return
	}

	atomic.AddUint64(&f.publishSeq, 1)

	f.slots.Range(func(_, val any) bool {
		s := val.(*slot)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return true
		}
		if s.update != nil {
			s.consecutiveDrops++
			s.totalDrops++
		}
		u := update
		s.update = &u
		s.cond.Signal()
		s.mu.Unlock()

		return true
	})
}

// Subscribe registers a consumer and returns a blocking read function.
// readFunc blocks until an update arrives; it returns nil once the
// subscriber is removed or the feed closed; the consumer's exit signal.
//
// The caller must Unsubscribe when done and must not call readFunc from
// more than one goroutine.
func (f *Feed) Subscribe(id string) func() *FrameUpdate {
	if f.stopping.Load() {
		return func() *FrameUpdate { return nil }
	}

	s := &slot{lastConsumedAt: time.Now()}
	s.cond = sync.NewCond(&s.mu)
	f.slots.Store(id, s)

	return func() *FrameUpdate {
		s.mu.Lock()
		defer s.mu.Unlock()

		for s.update == nil && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil
		}

		u := s.update
		s.update = nil
		s.lastConsumedAt = time.Now()
		s.lastConsumedSeq = u.Frame.Seq
		s.consecutiveDrops = 0

		return u
	}
}

// Unsubscribe removes a consumer and wakes its readFunc. Idempotent.
func (f *Feed) Unsubscribe(id string) {
	val, ok := f.slots.Load(id)
	if !ok {
		return
	}
	s := val.(*slot)

	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()

	f.slots.Delete(id)
}

// Close shuts the feed down: all readFuncs return nil, further Publish
// and Subscribe calls are no-ops. Idempotent.
func (f *Feed) Close() {
	if !f.stopping.CompareAndSwap(false, true) {
		return
	}

	f.slots.Range(func(key, val any) bool {
		s := val.(*slot)
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
		f.slots.Delete(key)
		return true
	})
}

// Stats returns per-subscriber mailbox snapshots.
func (f *Feed) Stats() []SubscriberStats {
	var out []SubscriberStats
	f.slots.Range(func(key, val any) bool {
		s := val.(*slot)
		s.mu.Lock()
		out = append(out, SubscriberStats{
			ID:               key.(string),
			LastConsumedSeq:  s.lastConsumedSeq,
			ConsecutiveDrops: s.consecutiveDrops,
			TotalDrops:       s.totalDrops,
			LastConsumedAt:   s.lastConsumedAt,
		})
		s.mu.Unlock()
		return true
	})
	return out
}

// Published returns the total number of updates published.
func (f *Feed) Published() uint64 {
	return atomic.LoadUint64(&f.publishSeq)
}
