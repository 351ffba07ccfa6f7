// Package pipeline runs the frame→detection→alert loop.
//
// The pipeline owns no collaborator: stream provider, detector, alert
// manager and view feed are constructed by the caller and composed here.
// One goroutine consumes the frame channel; detection and alert
// triggering run inline on that goroutine (one frame in flight).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelshield/sentinel/internal/alert"
	"github.com/sentinelshield/sentinel/internal/detector"
	"github.com/sentinelshield/sentinel/internal/stream"
	"github.com/sentinelshield/sentinel/internal/types"
	"github.com/sentinelshield/sentinel/internal/viewfeed"
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// fpsSampleEvery is the frame interval between throughput samples.
const fpsSampleEvery = 30

// Stats is a monotonic snapshot of pipeline counters. Counters only
// grow during a run; Reset zeroes them explicitly.
type Stats struct {
	State            State
	FramesProcessed  uint64
	FramesDetected   uint64
	AlertsAccepted   uint64
	DetectorFailures uint64
	FPS              float64
	Uptime           time.Duration
}

// Pipeline orchestrates one stream→detector→alerts path.
type Pipeline struct {
	provider stream.Provider
	det      detector.Detector
	alerts   *alert.Manager
	feed     *viewfeed.Feed // nil = headless, no presentation output
	log      *slog.Logger

	state  atomic.Int32
	paused atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	framesProcessed  atomic.Uint64
	framesDetected   atomic.Uint64
	alertsAccepted   atomic.Uint64
	detectorFailures atomic.Uint64

	mu        sync.Mutex
	startedAt time.Time
	termErr   error // set once when the frame source dies
}

// New composes a pipeline. Provider, detector and alert manager are
// required; feed may be nil.
func New(provider stream.Provider, det detector.Detector, alerts *alert.Manager, feed *viewfeed.Feed) (*Pipeline, error) {
	if provider == nil {
		return nil, fmt.Errorf("pipeline: stream provider is required")
	}
	if det == nil {
		return nil, fmt.Errorf("pipeline: detector is required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("pipeline: alert manager is required")
	}
	return &Pipeline{
		provider: provider,
		det:      det,
		alerts:   alerts,
		feed:     feed,
		log:      slog.With("component", "pipeline"),
	}, nil
}

// Start brings up the detector and the stream, then spawns the
// processing loop. Fail-fast: any collaborator failing to start leaves
// the pipeline idle with everything torn down.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("pipeline: not idle (state=%s)", p.State())
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := p.det.Start(runCtx); err != nil {
		cancel()
		p.state.Store(int32(StateIdle))
		return fmt.Errorf("pipeline: detector start: %w", err)
	}

	frames, err := p.provider.Start(runCtx)
	if err != nil {
		_ = p.det.Stop()
		cancel()
		p.state.Store(int32(StateIdle))
		return fmt.Errorf("pipeline: stream start: %w", err)
	}

	p.mu.Lock()
	p.cancel = cancel
	p.startedAt = time.Now()
	p.termErr = nil
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(runCtx, frames)

	p.log.Info("pipeline started", "detector", p.det.ID())
	return nil
}

// run is the processing loop: one frame in flight, detector failures
// absorbed, channel close fatal.
func (p *Pipeline) run(ctx context.Context, frames <-chan types.Frame) {
	defer p.wg.Done()

	windowStart := time.Now()
	windowFrames := 0

	for {
		select {
		case <-ctx.Done():
			p.log.Info("pipeline loop stopping",
				"frames", p.framesProcessed.Load(),
				"alerts", p.alertsAccepted.Load(),
			)
			return

		case frame, ok := <-frames:
			if !ok {
				// A cancelled context means the provider closed the channel
				// in response to Stop; that is a clean shutdown, not a dead
				// source.
				if ctx.Err() != nil {
					p.log.Info("pipeline loop stopping",
						"frames", p.framesProcessed.Load(),
						"alerts", p.alertsAccepted.Load(),
					)
					return
				}
				// Frame source exhausted; the provider already retried
				// transient failures internally, so this is terminal.
				p.mu.Lock()
				p.termErr = fmt.Errorf("pipeline: frame source closed after %d frames", p.framesProcessed.Load())
				p.mu.Unlock()
				p.state.Store(int32(StateIdle))
				p.log.Error("frame source closed, pipeline stopped",
					"frames", p.framesProcessed.Load(),
				)
				return
			}

			if p.paused.Load() {
				continue
			}

			p.framesProcessed.Add(1)
			windowFrames++

			result, err := p.det.Detect(ctx, frame)
			if err != nil {
				// Detector down: count it, keep the pipeline alive with a
				// passthrough frame. The detector reconnects on its own.
				p.detectorFailures.Add(1)
				p.log.Warn("detector unavailable, passing frame through",
					"seq", frame.Seq,
					"trace_id", frame.TraceID,
					"error", err,
				)
				result = types.DetectionResult{Annotated: frame}
			}

			var rec *alert.Record
			if result.HasDetection {
				p.framesDetected.Add(1)
				rec = p.alerts.Trigger(result.Annotated, result.Labels, result.Scores)
				if rec != nil {
					p.alertsAccepted.Add(1)
				}
			}

			if p.feed != nil {
				update := viewfeed.FrameUpdate{
					Frame:        result.Annotated,
					Labels:       result.Labels,
					Scores:       result.Scores,
					HasDetection: result.HasDetection,
					Alert:        rec,
				}
				if windowFrames >= fpsSampleEvery {
					elapsed := time.Since(windowStart).Seconds()
					sample := &viewfeed.ThroughputSample{
						Frames:   p.framesProcessed.Load(),
						Detected: p.framesDetected.Load(),
					}
					if elapsed > 0 {
						sample.FPS = float64(windowFrames) / elapsed
					}
					update.Throughput = sample
					windowStart = time.Now()
					windowFrames = 0
				}
				p.feed.Publish(update)
			}
		}
	}
}

// Stop shuts the loop down and tears down the stream and detector.
// Safe to call from any state; returns once the loop has exited.
func (p *Pipeline) Stop() error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		// Loop may have already gone idle on a dead source; still make
		// sure collaborators are down.
		if p.State() != StateIdle {
			return nil
		}
	}

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	var errs []error
	if err := p.provider.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stream stop: %w", err))
	}
	if err := p.det.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("detector stop: %w", err))
	}

	p.state.Store(int32(StateIdle))
	p.log.Info("pipeline stopped")

	if len(errs) > 0 {
		return fmt.Errorf("pipeline: shutdown: %v", errs)
	}
	return nil
}

// Pause suspends frame processing without tearing anything down. Frames
// keep draining from the provider so the stream stays healthy.
func (p *Pipeline) Pause() {
	if p.paused.CompareAndSwap(false, true) {
		p.log.Info("pipeline paused")
	}
}

// Resume re-enables frame processing.
func (p *Pipeline) Resume() {
	if p.paused.CompareAndSwap(true, false) {
		p.log.Info("pipeline resumed")
	}
}

// Paused reports whether processing is suspended.
func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Err returns the terminal error, non-nil only after the frame source
// died and the pipeline went idle on its own.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.termErr
}

// Stats returns a snapshot of the run counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	startedAt := p.startedAt
	p.mu.Unlock()

	s := Stats{
		State:            p.State(),
		FramesProcessed:  p.framesProcessed.Load(),
		FramesDetected:   p.framesDetected.Load(),
		AlertsAccepted:   p.alertsAccepted.Load(),
		DetectorFailures: p.detectorFailures.Load(),
	}
	if !startedAt.IsZero() {
		s.Uptime = time.Since(startedAt)
		if secs := s.Uptime.Seconds(); secs > 0 {
			s.FPS = float64(s.FramesProcessed) / secs
		}
	}
	return s
}

// ResetStats zeroes the run counters. Counters never reset implicitly.
func (p *Pipeline) ResetStats() {
	p.framesProcessed.Store(0)
	p.framesDetected.Store(0)
	p.alertsAccepted.Store(0)
	p.detectorFailures.Store(0)
	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()
}
