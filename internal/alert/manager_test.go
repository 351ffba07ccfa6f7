package alert

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelshield/sentinel/internal/types"
)

type fakeWriter struct {
	path  string
	err   error
	calls int
}

func (w *fakeWriter) Save(frame types.Frame, ts time.Time) (string, error) {
	w.calls++
	return w.path, w.err
}

type fakeNotifier struct {
	plays atomic.Int32
}

func (n *fakeNotifier) PlayAsync() { n.plays.Add(1) }

type fakeArchiver struct {
	stored []Record
	err    error
}

func (a *fakeArchiver) Store(r Record) error {
	if a.err != nil {
		return a.err
	}
	a.stored = append(a.stored, r)
	return nil
}

func testFrame() types.Frame {
	return types.Frame{
		Seq:       1,
		Timestamp: time.Now(),
		Width:     2,
		Height:    1,
		Data:      []byte{10, 20, 30, 40, 50, 60},
	}
}

// TestTriggerEmptyFrameRejected validates the precondition: an empty
// frame produces no alert and does not consume the cooldown.
func TestTriggerEmptyFrameRejected(t *testing.T) {
	m := NewManager(5*time.Second, nil, nil, nil)

	if rec := m.Trigger(types.Frame{}, []string{"pistol"}, []float64{0.9}); rec != nil {
		t.Fatal("empty frame produced an alert")
	}
	if m.Count() != 0 {
		t.Errorf("ledger count = %d after rejection, want 0", m.Count())
	}

	// Cooldown untouched: a valid trigger right after must succeed
	if rec := m.Trigger(testFrame(), []string{"pistol"}, []float64{0.9}); rec == nil {
		t.Error("valid trigger denied, rejection must not consume cooldown")
	}
}

// TestTriggerNoDetectionsRejected validates the empty-labels precondition.
func TestTriggerNoDetectionsRejected(t *testing.T) {
	m := NewManager(5*time.Second, nil, nil, nil)

	if rec := m.Trigger(testFrame(), nil, nil); rec != nil {
		t.Fatal("empty detection list produced an alert")
	}
	if rec := m.Trigger(testFrame(), []string{"pistol"}, []float64{0.9}); rec == nil {
		t.Error("valid trigger denied, rejection must not consume cooldown")
	}
}

// TestTriggerCooldownScenario validates the canonical timing sequence.
//
// Scenario (5s cooldown):
//  1. t=0: detection → alert accepted
//  2. t=2: detection → suppressed, no record, no side effects
//  3. t=6: detection → alert accepted again
func TestTriggerCooldownScenario(t *testing.T) {
	clock := newFakeClock()
	writer := &fakeWriter{path: "alerts/alert_20250601_120000.jpg"}
	notifier := &fakeNotifier{}
	m := NewManager(5*time.Second, writer, notifier, nil)
	m.gate.now = clock.Now

	first := m.Trigger(testFrame(), []string{"pistol"}, []float64{0.97})
	if first == nil {
		t.Fatal("t=0: alert not accepted")
	}

	clock.Advance(2 * time.Second)
	if rec := m.Trigger(testFrame(), []string{"rifle"}, []float64{0.95}); rec != nil {
		t.Error("t=2: alert accepted inside cooldown window")
	}
	if writer.calls != 1 {
		t.Errorf("t=2: screenshot writer called %d times, want 1 (no side effects on suppression)", writer.calls)
	}

	clock.Advance(4 * time.Second)
	second := m.Trigger(testFrame(), []string{"rifle"}, []float64{0.95})
	if second == nil {
		t.Fatal("t=6: alert not accepted after window elapsed")
	}

	if first.ID == second.ID {
		t.Error("accepted alerts share an ID")
	}
	if m.Count() != 2 {
		t.Errorf("ledger count = %d, want 2", m.Count())
	}
	if notifier.plays.Load() != 2 {
		t.Errorf("notifier fired %d times, want 2", notifier.plays.Load())
	}
}

// TestTriggerScreenshotFailureDegrades validates best-effort semantics:
// a failed screenshot write degrades the record (empty path) but the
// alert is still accepted, appended and archived.
func TestTriggerScreenshotFailureDegrades(t *testing.T) {
	writer := &fakeWriter{err: errors.New("disk full")}
	archiver := &fakeArchiver{}
	m := NewManager(5*time.Second, writer, nil, archiver)

	rec := m.Trigger(testFrame(), []string{"pistol"}, []float64{0.9})
	if rec == nil {
		t.Fatal("screenshot failure aborted the alert")
	}
	if rec.ScreenshotPath != "" {
		t.Errorf("ScreenshotPath = %q, want empty after write failure", rec.ScreenshotPath)
	}
	if m.Count() != 1 {
		t.Errorf("ledger count = %d, want 1", m.Count())
	}
	if len(archiver.stored) != 1 {
		t.Errorf("archived %d records, want 1", len(archiver.stored))
	}
}

// TestTriggerArchiveFailureTolerated validates that a failing archiver
// never blocks the in-memory record.
func TestTriggerArchiveFailureTolerated(t *testing.T) {
	archiver := &fakeArchiver{err: errors.New("database is locked")}
	m := NewManager(5*time.Second, nil, nil, archiver)

	rec := m.Trigger(testFrame(), []string{"pistol"}, []float64{0.9})
	if rec == nil {
		t.Fatal("archive failure aborted the alert")
	}
	if m.Count() != 1 {
		t.Errorf("ledger count = %d, want 1", m.Count())
	}
}

// TestTriggerCopiesDetectionSlices validates that the caller's slices
// are copied: mutating them afterwards must not change the stored record.
func TestTriggerCopiesDetectionSlices(t *testing.T) {
	m := NewManager(5*time.Second, nil, nil, nil)

	labels := []string{"pistol"}
	scores := []float64{0.9}
	rec := m.Trigger(testFrame(), labels, scores)
	if rec == nil {
		t.Fatal("alert not accepted")
	}

	labels[0] = "mutated"
	scores[0] = 0.0

	stored := m.Recent(1)[0]
	if stored.Labels[0] != "pistol" || stored.Scores[0] != 0.9 {
		t.Errorf("stored record aliases caller slices: labels=%v scores=%v", stored.Labels, stored.Scores)
	}
}

// TestManagerClear validates the control plane reset path.
func TestManagerClear(t *testing.T) {
	m := NewManager(0, nil, nil, nil)

	for i := 0; i < 3; i++ {
		if rec := m.Trigger(testFrame(), []string{"pistol"}, []float64{0.9}); rec == nil {
			t.Fatalf("trigger %d denied with zero cooldown", i)
		}
	}
	if m.Count() != 3 {
		t.Fatalf("ledger count = %d, want 3", m.Count())
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("ledger count after Clear = %d, want 0", m.Count())
	}
}

// TestTriggerConcurrentExactlyOne validates the gate through the full
// Trigger path: many simultaneous triggers inside one cooldown window
// produce exactly one record and one ledger entry.
func TestTriggerConcurrentExactlyOne(t *testing.T) {
	m := NewManager(time.Hour, nil, nil, nil)

	const callers = 50
	var accepted atomic.Int32
	var wg sync.WaitGroup

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if rec := m.Trigger(testFrame(), []string{"pistol"}, []float64{0.95}); rec != nil {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Errorf("accepted = %d concurrent triggers, want exactly 1", got)
	}
	if m.Count() != 1 {
		t.Errorf("ledger count = %d, want 1", m.Count())
	}
}
