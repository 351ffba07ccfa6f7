// Package detector defines the inference boundary of the pipeline.
//
// The pipeline treats inference as an opaque capability: it hands in a
// frame and receives an annotated frame plus (label, confidence) pairs.
// Model loading, weight formats and tensor math live behind this
// boundary (in the python worker subprocess).
package detector

import (
	"context"

	"github.com/sentinelshield/sentinel/internal/types"
)

// Detector runs weapon detection on single frames.
//
// Contract:
//   - Per-frame failures never surface as errors: the implementation
//     returns the original frame with empty detections and logs the
//     cause. The returned error is reserved for "detector is down"
//     (process exited, pipe broken); the pipeline counts it and keeps
//     running with fallback frames.
//   - Detect is called from the pipeline goroutine only; Start/Stop from
//     the orchestrator. Implementations need not support concurrent
//     Detect calls.
type Detector interface {
	// ID returns the detector's identifier for logs and health reports
	ID() string
	// Start brings up the inference backend (spawns the worker process)
	Start(ctx context.Context) error
	// Detect runs inference on one frame
	Detect(ctx context.Context, frame types.Frame) (types.DetectionResult, error)
	// Stop tears down the backend
	Stop() error
}

// passthrough builds the no-detection result for a frame, used as the
// per-frame failure fallback by implementations.
func passthrough(frame types.Frame) types.DetectionResult {
	return types.DetectionResult{Annotated: frame}
}
