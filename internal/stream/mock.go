package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelshield/sentinel/internal/types"
)

// Mock generates synthetic frames for testing and bench runs.
type Mock struct {
	width  int
	height int
	fps    float64
	source string

	// MaxFrames, when > 0, exhausts the source after that many frames
	// (the channel closes; simulates end-of-stream).
	maxFrames uint64

	framesCh chan types.Frame
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMock creates a mock stream provider. maxFrames <= 0 means endless;
// a non-positive fps is clamped to 1 so the frame ticker stays valid.
func NewMock(width, height int, fps float64, source string, maxFrames int) *Mock {
	if fps <= 0 {
		slog.Warn("mock stream fps out of range, using 1", "fps", fps)
		fps = 1
	}
	m := &Mock{
		width:    width,
		height:   height,
		fps:      fps,
		source:   source,
		framesCh: make(chan types.Frame, 10),
		stopCh:   make(chan struct{}),
	}
	if maxFrames > 0 {
		m.maxFrames = uint64(maxFrames)
	}
	return m
}

// Start begins generating frames.
func (m *Mock) Start(ctx context.Context) (<-chan types.Frame, error) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil, fmt.Errorf("stream already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("mock stream starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
		"source", m.source,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)

	return m.framesCh, nil
}

// Stop stops the stream. Idempotent.
func (m *Mock) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	m.isRunning = false
	m.mu.Unlock()

	slog.Info("mock stream stopped",
		"frames_emitted", m.framesEmitted,
		"duration", time.Since(m.startTime),
	)

	return nil
}

// Stats returns stream statistics.
func (m *Mock) Stats() types.StreamStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.framesEmitted > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:   m.framesEmitted,
		FPSTarget:    m.fps,
		FPSReal:      fpsReal,
		SourceStream: m.source,
		Resolution:   fmt.Sprintf("%dx%d", m.width, m.height),
		IsConnected:  m.isRunning,
	}
}

// generateFrames emits frames at the target FPS until stopped or
// exhausted. The channel closes on exit, which consumers treat as
// end-of-stream.
func (m *Mock) generateFrames(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.framesCh)

	frameDuration := time.Duration(float64(time.Second) / m.fps)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame()
			select {
			case m.framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				emitted := m.framesEmitted
				m.mu.Unlock()
				if m.maxFrames > 0 && emitted >= m.maxFrames {
					slog.Info("mock stream exhausted", "frames_emitted", emitted)
					return
				}
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

// createFrame creates a synthetic RGB24 frame (black).
func (m *Mock) createFrame() types.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	data := make([]byte, m.width*m.height*3)

	return types.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        m.width,
		Height:       m.height,
		Data:         data,
		SourceStream: m.source,
		TraceID:      uuid.New().String(),
	}
}
