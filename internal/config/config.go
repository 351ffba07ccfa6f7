package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Sentinel configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id"`
	SiteID           string         `yaml:"site_id"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig   `yaml:"camera"`
	Stream           StreamConfig   `yaml:"stream"`
	Detector         DetectorConfig `yaml:"detector"`
	Alerts           AlertsConfig   `yaml:"alerts"`
	Archive          ArchiveConfig  `yaml:"archive"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
}

// CameraConfig contains camera settings
type CameraConfig struct {
	// RTSPURL selects the GStreamer RTSP provider; empty means mock source
	RTSPURL string `yaml:"rtsp_url"`
	// Location is a free-form label for the camera position (entrance, lobby)
	Location string `yaml:"location"`
}

// StreamConfig contains stream processing settings
type StreamConfig struct {
	Resolution string  `yaml:"resolution"` // 512p, 720p, 1080p
	FPS        float64 `yaml:"fps"`        // target fps
}

// DetectorConfig contains inference worker settings
type DetectorConfig struct {
	ModelPath  string  `yaml:"model_path"`
	Confidence float64 `yaml:"confidence"` // detection threshold (default: 0.90)
	WorkerCmd  string  `yaml:"worker_cmd"` // wrapper script for the python worker
}

// AlertsConfig contains alert pipeline settings
type AlertsConfig struct {
	// Folder receives alert screenshots (created on first use)
	Folder string `yaml:"folder"`
	// Format is the screenshot encoding: jpeg or png
	Format string `yaml:"format"`
	// JPEGQuality applies to jpeg screenshots (1-100)
	JPEGQuality int `yaml:"jpeg_quality"`
	// CooldownS is the minimum interval between accepted alerts in seconds.
	// Invalid values are clamped to the default (5).
	CooldownS int `yaml:"cooldown_s"`
	// SoundCmd is the command used to play the audible cue (e.g. "aplay").
	// Empty disables sound.
	SoundCmd string `yaml:"sound_cmd"`
	// SoundFile is the audio file passed to SoundCmd
	SoundFile string `yaml:"sound_file"`
}

// ArchiveConfig contains durable alert archive settings
type ArchiveConfig struct {
	// Path is the sqlite database file; empty disables the archive
	Path string `yaml:"path"`
}

// MQTTConfig contains MQTT broker settings. Empty broker disables the emitter.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	Health  string `yaml:"health"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
