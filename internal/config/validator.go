package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Defaults applied by Validate. Exported so the alert package can share
// the cooldown clamp policy.
const (
	DefaultCooldownS        = 5
	DefaultConfidence       = 0.90
	DefaultAlertFolder      = "alerts"
	DefaultJPEGQuality      = 90
	DefaultShutdownTimeoutS = 5
)

// Validate checks if the configuration is valid and fills in defaults.
//
// Policy: hard errors only for settings that cannot be repaired (missing
// instance id, unknown format). Out-of-range numeric settings are clamped
// to defaults; construction stays total for operator typos.
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = DefaultShutdownTimeoutS
	}

	// Validate stream config
	if cfg.Stream.FPS <= 0 {
		cfg.Stream.FPS = 15 // default
	}
	switch cfg.Stream.Resolution {
	case "", "512p", "720p", "1080p":
	default:
		return fmt.Errorf("stream.resolution must be 512p, 720p or 1080p, got %q", cfg.Stream.Resolution)
	}
	if cfg.Stream.Resolution == "" {
		cfg.Stream.Resolution = "720p"
	}

	// Validate detector config
	if cfg.Detector.Confidence <= 0 || cfg.Detector.Confidence > 1 {
		cfg.Detector.Confidence = DefaultConfidence
	}

	// Validate alert config (clamp, never reject; invariant-repair policy)
	if cfg.Alerts.CooldownS < 0 {
		cfg.Alerts.CooldownS = DefaultCooldownS
	}
	if cfg.Alerts.Folder == "" {
		cfg.Alerts.Folder = DefaultAlertFolder
	}
	switch cfg.Alerts.Format {
	case "":
		cfg.Alerts.Format = "jpeg"
	case "jpeg", "png":
	default:
		return fmt.Errorf("alerts.format must be jpeg or png, got %q", cfg.Alerts.Format)
	}
	if cfg.Alerts.JPEGQuality < 1 || cfg.Alerts.JPEGQuality > 100 {
		cfg.Alerts.JPEGQuality = DefaultJPEGQuality
	}

	// MQTT is optional: empty broker disables the emitter entirely.
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("sentinel/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("sentinel/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"health":  0,
			}
		}
	}

	return nil
}
