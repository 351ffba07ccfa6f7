package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the service.
type HealthStatus struct {
	Status           string  `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds    int64   `json:"uptime_seconds"`
	PipelineState    string  `json:"pipeline_state"`
	Paused           bool    `json:"paused"`
	StreamConnected  bool    `json:"stream_connected"`
	MQTTConnected    bool    `json:"mqtt_connected"`
	FramesProcessed  uint64  `json:"frames_processed"`
	FramesDetected   uint64  `json:"frames_detected"`
	AlertsAccepted   uint64  `json:"alerts_accepted"`
	DetectorFailures uint64  `json:"detector_failures"`
	FPS              float64 `json:"fps"`
	AlertsInMemory   int     `json:"alerts_in_memory"`
}

// HealthCheck returns the current health status.
func (s *Sentinel) HealthCheck() HealthStatus {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	stats := s.pipe.Stats()
	streamStats := s.provider.Stats()

	status := HealthStatus{
		Status:           "healthy",
		UptimeSeconds:    int64(time.Since(started).Seconds()),
		PipelineState:    stats.State.String(),
		Paused:           s.pipe.Paused(),
		StreamConnected:  streamStats.IsConnected,
		FramesProcessed:  stats.FramesProcessed,
		FramesDetected:   stats.FramesDetected,
		AlertsAccepted:   stats.AlertsAccepted,
		DetectorFailures: stats.DetectorFailures,
		FPS:              stats.FPS,
		AlertsInMemory:   s.alerts.Count(),
	}

	if s.emit != nil && s.emit.Client != nil && s.emit.Client.IsConnected() {
		status.MQTTConnected = true
	}

	if !running {
		status.Status = "unhealthy"
	} else if !status.StreamConnected || (s.emit != nil && !status.MQTTConnected) {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check).
func (s *Sentinel) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness (detailed readiness check).
func (s *Sentinel) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StartHealthServer starts the HTTP health server. Non-blocking.
func (s *Sentinel) StartHealthServer(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}
