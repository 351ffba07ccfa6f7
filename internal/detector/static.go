package detector

import (
	"context"
	"sync/atomic"

	"github.com/sentinelshield/sentinel/internal/types"
)

// ScriptedDetection describes one canned detection emitted by the
// scripted detector.
type ScriptedDetection struct {
	Label string
	Score float64
}

// Scripted is a deterministic detector for tests and demo runs: it
// reports the configured detections on every Nth frame and nothing
// otherwise. No subprocess, no model.
type Scripted struct {
	id         string
	every      uint64
	detections []ScriptedDetection
	seen       atomic.Uint64
}

// NewScripted creates a scripted detector that fires every `every`
// frames. every <= 0 means never fire.
func NewScripted(id string, every int, detections []ScriptedDetection) *Scripted {
	return &Scripted{
		id:         id,
		every:      uint64(max(every, 0)),
		detections: append([]ScriptedDetection(nil), detections...),
	}
}

// ID implements Detector.
func (s *Scripted) ID() string { return s.id }

// Start implements Detector (no backend to bring up).
func (s *Scripted) Start(ctx context.Context) error { return nil }

// Stop implements Detector.
func (s *Scripted) Stop() error { return nil }

// Detect implements Detector.
func (s *Scripted) Detect(ctx context.Context, frame types.Frame) (types.DetectionResult, error) {
	n := s.seen.Add(1)

	if s.every == 0 || n%s.every != 0 || len(s.detections) == 0 {
		return passthrough(frame), nil
	}

	result := types.DetectionResult{
		Annotated:    frame,
		HasDetection: true,
	}
	for _, d := range s.detections {
		result.Labels = append(result.Labels, d.Label)
		result.Scores = append(result.Scores, d.Score)
	}
	return result, nil
}
