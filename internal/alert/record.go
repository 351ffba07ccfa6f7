package alert

import "time"

// Record is one accepted alert. Created exactly once per accepted
// Trigger call and immutable afterwards; the ledger owns it until
// eviction, observers get copies.
type Record struct {
	// ID is a unique identifier for cross-referencing (logs, archive)
	ID string `json:"id"`
	// Timestamp is the acceptance instant (when the gate granted the
	// alert, not when side effects finished)
	Timestamp time.Time `json:"timestamp"`
	// Labels are the detected classes, in detector output order
	Labels []string `json:"labels"`
	// Scores are the confidence scores, index-aligned with Labels
	Scores []float64 `json:"scores"`
	// ScreenshotPath is the persisted screenshot, or "" when persistence
	// failed or no writer is configured
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// clone returns an independent copy safe to hand to observers.
func (r Record) clone() Record {
	c := r
	c.Labels = append([]string(nil), r.Labels...)
	c.Scores = append([]float64(nil), r.Scores...)
	return c
}
