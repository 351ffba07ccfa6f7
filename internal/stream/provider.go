// Package stream provides video frame acquisition for the pipeline.
package stream

import (
	"context"

	"github.com/sentinelshield/sentinel/internal/types"
)

// Provider supplies a stream of video frames.
//
// Implementations must guarantee:
//   - Start returns immediately; frames arrive asynchronously on the
//     returned channel.
//   - The channel stays open across transient source failures (the
//     provider reconnects internally); it closes only when the source is
//     permanently exhausted or Stop is called. A closed channel is the
//     pipeline's end-of-stream signal.
//   - Frames are sent non-blocking: when the consumer lags, frames are
//     dropped (newest wins), never queued unboundedly.
//   - Stop is idempotent.
//   - Stats is safe from any goroutine.
type Provider interface {
	Start(ctx context.Context) (<-chan types.Frame, error)
	Stop() error
	Stats() types.StreamStats
}
