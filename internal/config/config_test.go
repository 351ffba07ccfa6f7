package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestLoadValidConfig validates parsing of a complete configuration.
func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
instance_id: sentinel-test-01
site_id: test-site
camera:
  rtsp_url: "rtsp://localhost:8554/cam"
  location: entrance
stream:
  resolution: 1080p
  fps: 12
detector:
  model_path: models/test.onnx
  confidence: 0.85
  worker_cmd: scripts/worker.sh
alerts:
  folder: /tmp/alerts
  format: png
  cooldown_s: 10
archive:
  path: /tmp/alerts.db
mqtt:
  broker: "localhost:1883"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.InstanceID != "sentinel-test-01" {
		t.Errorf("InstanceID = %q", cfg.InstanceID)
	}
	if cfg.Stream.Resolution != "1080p" || cfg.Stream.FPS != 12 {
		t.Errorf("stream config = %+v", cfg.Stream)
	}
	if cfg.Detector.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", cfg.Detector.Confidence)
	}
	if cfg.Alerts.CooldownS != 10 || cfg.Alerts.Format != "png" {
		t.Errorf("alerts config = %+v", cfg.Alerts)
	}

	// Defaulted MQTT topics derive from the instance id
	if cfg.MQTT.Topics.Control != "sentinel/control/sentinel-test-01" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.QoS["control"] != 1 {
		t.Errorf("control qos = %d, want 1", cfg.MQTT.QoS["control"])
	}
}

// TestLoadMissingFile validates the error path for an absent file.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/sentinel.yaml"); err == nil {
		t.Error("Load() succeeded on missing file")
	}
}

// TestLoadInvalidYAML validates the parse error path.
func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "instance_id: [broken")
	if _, err := Load(path); err == nil {
		t.Error("Load() succeeded on invalid YAML")
	}
}

// TestValidateRequiresInstanceID validates the unrepairable-setting policy.
func TestValidateRequiresInstanceID(t *testing.T) {
	cfg := &Config{}
	if err := Validate(cfg); err == nil {
		t.Error("Validate() accepted empty instance_id")
	}

	cfg.InstanceID = "Has Spaces"
	if err := Validate(cfg); err == nil {
		t.Error("Validate() accepted malformed instance_id")
	}
}

// TestValidateClampsRepairableSettings validates the repair policy:
// out-of-range numerics clamp to defaults instead of failing.
func TestValidateClampsRepairableSettings(t *testing.T) {
	cfg := &Config{
		InstanceID: "sentinel-01",
		Stream:     StreamConfig{FPS: -5},
		Detector:   DetectorConfig{Confidence: 1.5},
		Alerts: AlertsConfig{
			CooldownS:   -3,
			JPEGQuality: 400,
		},
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if cfg.Stream.FPS != 15 {
		t.Errorf("FPS = %v, want default 15", cfg.Stream.FPS)
	}
	if cfg.Stream.Resolution != "720p" {
		t.Errorf("Resolution = %q, want default 720p", cfg.Stream.Resolution)
	}
	if cfg.Detector.Confidence != DefaultConfidence {
		t.Errorf("Confidence = %v, want %v", cfg.Detector.Confidence, DefaultConfidence)
	}
	if cfg.Alerts.CooldownS != DefaultCooldownS {
		t.Errorf("CooldownS = %d, want %d", cfg.Alerts.CooldownS, DefaultCooldownS)
	}
	if cfg.Alerts.JPEGQuality != DefaultJPEGQuality {
		t.Errorf("JPEGQuality = %d, want %d", cfg.Alerts.JPEGQuality, DefaultJPEGQuality)
	}
	if cfg.Alerts.Folder != DefaultAlertFolder {
		t.Errorf("Folder = %q, want %q", cfg.Alerts.Folder, DefaultAlertFolder)
	}
	if cfg.Alerts.Format != "jpeg" {
		t.Errorf("Format = %q, want jpeg", cfg.Alerts.Format)
	}
}

// TestValidateRejectsUnknownEnums validates hard errors for settings
// with no sensible repair.
func TestValidateRejectsUnknownEnums(t *testing.T) {
	cfg := &Config{InstanceID: "sentinel-01", Stream: StreamConfig{Resolution: "4k"}}
	if err := Validate(cfg); err == nil {
		t.Error("Validate() accepted unknown resolution")
	}

	cfg = &Config{InstanceID: "sentinel-01", Alerts: AlertsConfig{Format: "bmp"}}
	if err := Validate(cfg); err == nil {
		t.Error("Validate() accepted unknown screenshot format")
	}
}

// TestValidateMQTTOptional validates that an empty broker leaves the
// MQTT section untouched (emitter disabled).
func TestValidateMQTTOptional(t *testing.T) {
	cfg := &Config{InstanceID: "sentinel-01"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if cfg.MQTT.Topics.Control != "" {
		t.Errorf("control topic defaulted with empty broker: %q", cfg.MQTT.Topics.Control)
	}
}
