package alert

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelshield/sentinel/internal/types"
)

// ScreenshotWriter persists a frame to durable storage.
type ScreenshotWriter interface {
	// Save writes the frame and returns the resulting path.
	// The timestamp is the alert acceptance instant (used for naming).
	Save(frame types.Frame, ts time.Time) (string, error)
}

// Notifier plays an audible cue. PlayAsync returns immediately; playback
// failures are logged by the implementation, never propagated.
type Notifier interface {
	PlayAsync()
}

// Archiver durably records accepted alerts (best-effort collaborator).
type Archiver interface {
	Store(r Record) error
}

// Manager composes the cooldown gate, the bounded ledger and the
// side-effect collaborators into a single Trigger operation.
//
// Collaborators are capability-optional: a nil writer, notifier or
// archiver simply disables that side effect. No hidden singletons; the
// caller constructs and owns one Manager per pipeline.
type Manager struct {
	gate     *Gate
	ledger   *Ledger
	writer   ScreenshotWriter
	notifier Notifier
	archiver Archiver
	log      *slog.Logger
}

// NewManager creates an alert manager with the given cooldown and
// collaborators. Construction never fails (the gate clamps invalid
// cooldowns internally).
func NewManager(cooldown time.Duration, writer ScreenshotWriter, notifier Notifier, archiver Archiver) *Manager {
	return &Manager{
		gate:     NewGate(cooldown),
		ledger:   NewLedger(),
		writer:   writer,
		notifier: notifier,
		archiver: archiver,
		log:      slog.With("component", "alerts"),
	}
}

// Trigger runs the detection-to-alert path for one positive detection.
//
// Returns nil without consuming the cooldown when preconditions fail
// (empty frame or no detections), and nil when the gate denies; both
// are rejections, not errors, and stay at debug level. Once the gate
// grants, the ledger append and cooldown consumption are guaranteed;
// screenshot, sound and archive are best-effort.
//
// Locks are never held across I/O: the gate releases before the
// screenshot write, the ledger locks only for the O(1) append.
func (m *Manager) Trigger(frame types.Frame, labels []string, scores []float64) *Record {
	if frame.IsEmpty() {
		m.log.Debug("alert rejected: empty frame")
		return nil
	}
	if len(labels) == 0 {
		m.log.Debug("alert rejected: no detections")
		return nil
	}

	if !m.gate.TryAcquire() {
		// Normal, frequent case during sustained detection
		m.log.Debug("alert suppressed by cooldown", "cooldown", m.gate.Cooldown())
		return nil
	}

	accepted := time.Now()

	// Screenshot is synchronous but infrequent (gated); failure degrades
	// the record, never aborts the alert.
	var screenshotPath string
	if m.writer != nil {
		path, err := m.writer.Save(frame, accepted)
		if err != nil {
			m.log.Error("failed to save alert screenshot", "error", err)
		} else {
			screenshotPath = path
		}
	}

	// Fire-and-forget sound cue
	if m.notifier != nil {
		m.notifier.PlayAsync()
	}

	rec := Record{
		ID:        uuid.New().String(),
		Timestamp: accepted,
		// Defensive copies: the caller's slices must not alias the ledger
		Labels:         append([]string(nil), labels...),
		Scores:         append([]float64(nil), scores...),
		ScreenshotPath: screenshotPath,
	}

	m.ledger.Append(rec)

	if m.archiver != nil {
		if err := m.archiver.Store(rec); err != nil {
			m.log.Error("failed to archive alert", "alert_id", rec.ID, "error", err)
		}
	}

	m.log.Info("alert accepted",
		"alert_id", rec.ID,
		"labels", rec.Labels,
		"screenshot", rec.ScreenshotPath,
		"ledger_len", m.ledger.Len(),
	)

	out := rec.clone()
	return &out
}

// Recent returns up to count most-recent alerts, newest last.
func (m *Manager) Recent(count int) []Record {
	return m.ledger.Recent(count)
}

// Clear empties the in-memory alert history.
func (m *Manager) Clear() {
	m.ledger.Clear()
	m.log.Info("alert history cleared")
}

// Count returns the current in-memory alert count.
func (m *Manager) Count() int {
	return m.ledger.Len()
}

// Gate exposes the cooldown gate for health reporting.
func (m *Manager) Gate() *Gate {
	return m.gate
}
