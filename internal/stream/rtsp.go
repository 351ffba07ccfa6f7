package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/sentinelshield/sentinel/internal/types"
)

// RTSPConfig contains configuration for RTSP stream capture.
type RTSPConfig struct {
	// URL is the RTSP stream URL (required)
	URL string
	// Width and Height are the target frame dimensions
	Width  int
	Height int
	// TargetFPS is the target frames per second (0.1 - 30.0)
	TargetFPS float64
	// SourceStream identifies the stream in frame metadata
	SourceStream string
	// MaxReconnects bounds reconnection attempts before the stream is
	// declared exhausted (default 5)
	MaxReconnects int
}

// RTSP implements Provider using GStreamer.
//
// Pipeline: rtspsrc → rtph264depay → avdec_h264 → videoconvert →
// videoscale → videorate → capsfilter(RGB, size, fps) → appsink.
//
// Transient failures reconnect internally with exponential backoff; the
// frame channel closes only when reconnection is exhausted or Stop is
// called; that close is the pipeline's fatal-source signal.
type RTSP struct {
	cfg RTSPConfig

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames      chan types.Frame
	framesClose sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	frameCount    uint64
	framesDropped uint64
	bytesRead     uint64
	reconnects    uint32
	errors        uint64
	started       time.Time
	lastFrameAt   time.Time
	connected     atomic.Bool
}

// NewRTSP creates an RTSP provider with fail-fast validation.
func NewRTSP(cfg RTSPConfig) (*RTSP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("stream: RTSP URL is required")
	}
	if cfg.TargetFPS < 0.1 || cfg.TargetFPS > 30 {
		return nil, fmt.Errorf("stream: invalid FPS %.2f (must be 0.1-30)", cfg.TargetFPS)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("stream: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}

	s := &RTSP{
		cfg:    cfg,
		frames: make(chan types.Frame, 10),
	}

	slog.Info("stream: RTSP stream created",
		"url", cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"target_fps", cfg.TargetFPS,
		"source_stream", cfg.SourceStream,
	)

	return s, nil
}

// Start builds the GStreamer pipeline and begins capture. Returns
// immediately; frames arrive once the pipeline reaches PLAYING state.
func (s *RTSP) Start(ctx context.Context) (<-chan types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("stream: already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	if err := s.buildPipeline(); err != nil {
		return nil, fmt.Errorf("stream: failed to create pipeline: %w", err)
	}

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("stream: failed to start pipeline: %w", err)
	}

	s.wg.Add(1)
	go s.supervise()

	slog.Info("stream: RTSP capture started", "url", s.cfg.URL)

	return s.frames, nil
}

// buildPipeline assembles the decode chain and wires the appsink
// callback that publishes frames.
func (s *RTSP) buildPipeline() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", s.cfg.URL)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	rtspsrc.SetProperty("latency", 200)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000)) // 10s

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return fmt.Errorf("failed to create rtph264depay: %w", err)
	}

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return fmt.Errorf("failed to create avdec_h264: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("failed to create videoscale: %w", err)
	}

	rate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("failed to create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	fpsNum, fpsDen := fpsFraction(s.cfg.TargetFPS)
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		s.cfg.Width, s.cfg.Height, fpsNum, fpsDen,
	))
	capsfilter.SetProperty("caps", caps)

	sinkElem, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	sinkElem.SetProperty("max-buffers", 2) // Keep only latest frames
	sinkElem.SetProperty("drop", true)

	pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, rate, capsfilter, sinkElem.Element)

	// rtspsrc links to depay dynamically (pad-added); the rest links now
	if err := gst.ElementLinkMany(depay, decoder, converter, scaler, rate, capsfilter, sinkElem.Element); err != nil {
		return fmt.Errorf("failed to link elements: %w", err)
	}

	rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil || sinkPad.IsLinked() {
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Warn("stream: failed to link rtspsrc pad", "result", ret)
		}
	})

	sinkElem.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	s.pipeline = pipeline
	s.appsink = sinkElem
	return nil
}

// onNewSample copies one decoded frame out of GStreamer and publishes it
// non-blocking (channel full = drop, newest wins).
func (s *RTSP) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single corrupted frame should not kill the pipeline
		slog.Warn("stream: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("stream: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("stream: empty buffer received")
		return gst.FlowOK
	}

	// Copy out: GStreamer reuses the buffer
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := atomic.AddUint64(&s.frameCount, 1)
	atomic.AddUint64(&s.bytesRead, uint64(len(frameData)))
	s.connected.Store(true)

	s.mu.Lock()
	s.lastFrameAt = time.Now()
	s.mu.Unlock()

	frame := types.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        s.cfg.Width,
		Height:       s.cfg.Height,
		Data:         frameData,
		SourceStream: s.cfg.SourceStream,
		TraceID:      uuid.New().String(),
	}

	select {
	case s.frames <- frame:
	default:
		atomic.AddUint64(&s.framesDropped, 1)
		slog.Debug("stream: dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}

// supervise watches the pipeline bus and reconnects on error with
// exponential backoff. When retries are exhausted or the stream ends,
// the frame channel closes; the consumer's fatal-source signal.
func (s *RTSP) supervise() {
	defer s.wg.Done()
	defer s.closeFrames()

	retries := 0
	delay := time.Second
	const maxDelay = 30 * time.Second

	for {
		err := s.watchBus()
		if err == nil {
			// Clean EOS or shutdown
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		atomic.AddUint64(&s.errors, 1)
		s.connected.Store(false)

		retries++
		if retries > s.cfg.MaxReconnects {
			slog.Error("stream: max reconnect attempts exceeded, giving up",
				"attempts", s.cfg.MaxReconnects,
				"url", s.cfg.URL,
				"uptime", time.Since(s.started),
			)
			return
		}

		atomic.AddUint32(&s.reconnects, 1)
		slog.Warn("stream: reconnecting after pipeline error",
			"error", err,
			"attempt", retries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}

		// Restart pipeline
		_ = s.pipeline.SetState(gst.StateNull)
		if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
			slog.Error("stream: pipeline restart failed", "error", err)
			continue
		}
		// A successful frame will mark the stream connected again; reset
		// the retry budget once frames flow
		if s.connected.Load() {
			retries = 0
			delay = time.Second
		}
	}
}

// watchBus blocks on pipeline bus messages until error, EOS or shutdown.
// Returns nil on clean exit, the pipeline error otherwise.
func (s *RTSP) watchBus() error {
	bus := s.pipeline.GetPipelineBus()

	for {
		if s.ctx.Err() != nil {
			return nil
		}

		msg := bus.TimedPop(time.Second)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("stream: end of stream")
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		case gst.MessageStateChanged:
			// Mark connected once the pipeline reaches PLAYING
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				s.connected.Store(true)
			}
		}
	}
}

// Stop gracefully shuts down the stream. Idempotent.
func (s *RTSP) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		return fmt.Errorf("stream: shutdown timeout")
	}

	if s.pipeline != nil {
		_ = s.pipeline.SetState(gst.StateNull)
	}
	s.connected.Store(false)

	slog.Info("stream: RTSP capture stopped",
		"frames", atomic.LoadUint64(&s.frameCount),
		"dropped", atomic.LoadUint64(&s.framesDropped),
		"reconnects", atomic.LoadUint32(&s.reconnects),
	)

	return nil
}

// Stats returns current stream statistics.
func (s *RTSP) Stats() types.StreamStats {
	s.mu.RLock()
	lastFrameAt := s.lastFrameAt
	started := s.started
	s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)

	var fpsReal float64
	if !started.IsZero() && frameCount > 0 {
		elapsed := time.Since(started).Seconds()
		if elapsed > 0 {
			fpsReal = float64(frameCount) / elapsed
		}
	}

	var latencyMS int64
	if !lastFrameAt.IsZero() {
		latencyMS = time.Since(lastFrameAt).Milliseconds()
	}

	return types.StreamStats{
		FrameCount:   frameCount,
		FPSTarget:    s.cfg.TargetFPS,
		FPSReal:      fpsReal,
		LatencyMS:    latencyMS,
		SourceStream: s.cfg.SourceStream,
		Resolution:   fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		Reconnects:   atomic.LoadUint32(&s.reconnects),
		BytesRead:    atomic.LoadUint64(&s.bytesRead),
		IsConnected:  s.connected.Load(),
		Errors:       atomic.LoadUint64(&s.errors),
	}
}

func (s *RTSP) closeFrames() {
	s.framesClose.Do(func() { close(s.frames) })
}

// fpsFraction converts a float FPS into a GStreamer framerate fraction.
func fpsFraction(fps float64) (num, den int) {
	if fps == float64(int(fps)) {
		return int(fps), 1
	}
	return int(fps * 1000), 1000
}
