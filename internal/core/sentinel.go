// Package core wires the sensor together: stream, detector, alert
// manager, view feed and the MQTT control plane. Construction is
// fail-fast; the run loop absorbs what it can and only exits on
// cancellation or a dead frame source.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelshield/sentinel/internal/alert"
	"github.com/sentinelshield/sentinel/internal/config"
	"github.com/sentinelshield/sentinel/internal/detector"
	"github.com/sentinelshield/sentinel/internal/emitter"
	"github.com/sentinelshield/sentinel/internal/notify"
	"github.com/sentinelshield/sentinel/internal/pipeline"
	"github.com/sentinelshield/sentinel/internal/screenshot"
	"github.com/sentinelshield/sentinel/internal/stream"
	"github.com/sentinelshield/sentinel/internal/types"
	"github.com/sentinelshield/sentinel/internal/viewfeed"
)

// healthInterval is how often a health snapshot goes to MQTT.
const healthInterval = 10 * time.Second

// Sentinel is the service orchestrator.
type Sentinel struct {
	cfg *config.Config

	provider stream.Provider
	det      detector.Detector
	writer   *screenshot.DirWriter
	archive  *alert.SQLiteArchive
	alerts   *alert.Manager
	feed     *viewfeed.Feed
	pipe     *pipeline.Pipeline
	emit     *emitter.Emitter
	control  *emitter.ControlHandler

	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelRun context.CancelFunc

	// latest successfully processed frame, for manual snapshots
	latestMu sync.Mutex
	latest   types.Frame
}

// New builds a Sentinel from configuration. All components that can
// fail do so here, before a single frame flows.
func New(cfg *config.Config) (*Sentinel, error) {
	s := &Sentinel{
		cfg:  cfg,
		feed: viewfeed.New(),
	}

	writer, err := screenshot.NewDirWriter(cfg.Alerts.Folder, cfg.Alerts.Format, cfg.Alerts.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to create screenshot writer: %w", err)
	}
	s.writer = writer

	// Sound is capability-optional: the notifier constructor returns nil
	// when the player or sound file is unavailable.
	var notifier alert.Notifier
	if n := notify.NewCommandNotifier(cfg.Alerts.SoundCmd, cfg.Alerts.SoundFile); n != nil {
		notifier = n
	}

	var archiver alert.Archiver
	if cfg.Archive.Path != "" {
		archive, err := alert.OpenArchive(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open alert archive: %w", err)
		}
		s.archive = archive
		archiver = archive
	}

	cooldown := time.Duration(cfg.Alerts.CooldownS) * time.Second
	s.alerts = alert.NewManager(cooldown, writer, notifier, archiver)

	if err := s.initDetector(); err != nil {
		return nil, err
	}
	s.initStream()

	pipe, err := pipeline.New(s.provider, s.det, s.alerts, s.feed)
	if err != nil {
		return nil, err
	}
	s.pipe = pipe

	if cfg.MQTT.Broker != "" {
		s.emit = emitter.New(cfg)
	}

	return s, nil
}

// initDetector selects the inference backend: the python worker when
// configured, a no-op scripted detector otherwise (bring-up without a
// model).
func (s *Sentinel) initDetector() error {
	if s.cfg.Detector.WorkerCmd == "" {
		s.det = detector.NewScripted("scripted", 0, nil)
		slog.Info("using scripted detector (no worker_cmd configured)")
		return nil
	}

	det, err := detector.NewPython(detector.PythonConfig{
		WorkerID:   "weapon-detector",
		WorkerCmd:  s.cfg.Detector.WorkerCmd,
		ModelPath:  s.cfg.Detector.ModelPath,
		Confidence: s.cfg.Detector.Confidence,
	})
	if err != nil {
		return fmt.Errorf("failed to create python detector: %w", err)
	}
	s.det = det

	slog.Info("python detector configured",
		"model", s.cfg.Detector.ModelPath,
		"confidence", s.cfg.Detector.Confidence,
	)
	return nil
}

// initStream selects RTSP when configured, mock otherwise.
func (s *Sentinel) initStream() {
	width, height := parseResolution(s.cfg.Stream.Resolution)

	if s.cfg.Camera.RTSPURL != "" {
		rtsp, err := stream.NewRTSP(stream.RTSPConfig{
			URL:          s.cfg.Camera.RTSPURL,
			Width:        width,
			Height:       height,
			TargetFPS:    s.cfg.Stream.FPS,
			SourceStream: s.cfg.Camera.Location,
		})
		if err == nil {
			s.provider = rtsp
			slog.Info("using rtsp stream", "url", s.cfg.Camera.RTSPURL)
			return
		}
		slog.Error("failed to create rtsp stream, falling back to mock", "error", err)
	}

	s.provider = stream.NewMock(width, height, s.cfg.Stream.FPS, s.cfg.Camera.Location, 0)
	slog.Info("using mock stream")
}

// Run starts the service and blocks until the context is cancelled or
// the frame source dies. The returned error is nil on clean shutdown.
func (s *Sentinel) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	slog.Info("sentinel service starting",
		"instance_id", s.cfg.InstanceID,
		"site_id", s.cfg.SiteID,
	)

	if err := s.pipe.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	// Cache the newest frame for manual snapshots
	s.wg.Add(1)
	go s.cacheFrames()

	if s.emit != nil {
		if err := s.emit.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		s.control = emitter.NewControlHandler(s.cfg, s.emit.Client, emitter.CommandCallbacks{
			OnGetStatus:    s.getStatus,
			OnPause:        s.pauseVia,
			OnResume:       s.resumeVia,
			OnClearAlerts:  s.clearAlerts,
			OnRecentAlerts: s.recentAlerts,
			OnResetStats:   s.resetStats,
			OnSaveSnapshot: s.SaveSnapshot,
			OnShutdown:     s.shutdownVia,
		})
		if err := s.control.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		s.wg.Add(1)
		go s.publishHealth(ctx)
	}

	slog.Info("sentinel service running")

	// Block until cancellation or the pipeline goes idle on its own
	// (frame source exhausted).
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("sentinel service run loop exiting")
			return nil
		case <-ticker.C:
			if err := s.pipe.Err(); err != nil {
				slog.Error("pipeline terminated", "error", err)
				return err
			}
		}
	}
}

// cacheFrames keeps the most recent processed frame for SaveSnapshot.
func (s *Sentinel) cacheFrames() {
	defer s.wg.Done()

	read := s.feed.Subscribe("snapshot-cache")
	for {
		update := read()
		if update == nil {
			return
		}
		s.latestMu.Lock()
		s.latest = update.Frame
		s.latestMu.Unlock()
	}
}

// publishHealth pushes a snapshot to the health topic periodically.
func (s *Sentinel) publishHealth(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.emit.PublishHealth(s.getStatus()); err != nil {
				slog.Debug("health publish skipped", "error", err)
			}
		}
	}
}

// Shutdown performs graceful shutdown. Order matters: control plane
// first (no new commands), then the pipeline (which stops stream and
// detector), then the feed and external connections.
func (s *Sentinel) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down sentinel service")

	if s.control != nil {
		if err := s.control.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if err := s.pipe.Stop(); err != nil {
		slog.Error("failed to stop pipeline", "error", err)
	}

	s.feed.Close()
	s.wg.Wait()

	if s.emit != nil {
		if err := s.emit.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			slog.Error("failed to close alert archive", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("sentinel service shutdown complete", "uptime", uptime)
	return nil
}

// SaveSnapshot writes the most recent frame to the alert folder with a
// manual_save_ prefix. Used by the SIGUSR1 handler and the control
// plane.
func (s *Sentinel) SaveSnapshot() (string, error) {
	s.latestMu.Lock()
	frame := s.latest
	s.latestMu.Unlock()

	if frame.IsEmpty() {
		return "", fmt.Errorf("no frame available yet")
	}
	path, err := s.writer.SaveManual(frame, time.Now())
	if err != nil {
		return "", fmt.Errorf("manual save failed: %w", err)
	}
	slog.Info("manual snapshot saved", "path", path)
	return path, nil
}

// Alerts exposes the alert manager (terminal UI, tests).
func (s *Sentinel) Alerts() *alert.Manager { return s.alerts }

// Feed exposes the view feed for presentation subscribers.
func (s *Sentinel) Feed() *viewfeed.Feed { return s.feed }

// Pipeline exposes the pipeline for status surfaces.
func (s *Sentinel) Pipeline() *pipeline.Pipeline { return s.pipe }

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (s *Sentinel) ShutdownTimeout() time.Duration {
	timeout := time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

func (s *Sentinel) getStatus() map[string]any {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	stats := s.pipe.Stats()
	streamStats := s.provider.Stats()

	return map[string]any{
		"instance_id":       s.cfg.InstanceID,
		"site_id":           s.cfg.SiteID,
		"uptime_s":          time.Since(started).Seconds(),
		"running":           running,
		"pipeline_state":    stats.State.String(),
		"paused":            s.pipe.Paused(),
		"frames_processed":  stats.FramesProcessed,
		"frames_detected":   stats.FramesDetected,
		"alerts_accepted":   stats.AlertsAccepted,
		"detector_failures": stats.DetectorFailures,
		"fps":               stats.FPS,
		"stream_connected":  streamStats.IsConnected,
		"alerts_in_memory":  s.alerts.Count(),
	}
}

func (s *Sentinel) pauseVia() error {
	s.pipe.Pause()
	return nil
}

func (s *Sentinel) resumeVia() error {
	s.pipe.Resume()
	return nil
}

func (s *Sentinel) clearAlerts() error {
	s.alerts.Clear()
	return nil
}

func (s *Sentinel) recentAlerts(count int) []map[string]any {
	recs := s.alerts.Recent(count)
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]any{
			"id":         r.ID,
			"timestamp":  r.Timestamp.UTC().Format(time.RFC3339),
			"labels":     r.Labels,
			"scores":     r.Scores,
			"screenshot": r.ScreenshotPath,
		})
	}
	return out
}

func (s *Sentinel) resetStats() error {
	s.pipe.ResetStats()
	return nil
}

func (s *Sentinel) shutdownVia() error {
	s.mu.RLock()
	cancel := s.cancelRun
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// parseResolution converts a resolution label to width/height.
func parseResolution(res string) (width, height int) {
	switch res {
	case "512p":
		return 640, 512
	case "720p":
		return 1280, 720
	case "1080p":
		return 1920, 1080
	default:
		slog.Warn("unknown resolution, using default", "resolution", res, "default", "1280x720")
		return 1280, 720
	}
}
