// Package config holds the service-wide defaults loaded from YAML,
// separate from the per-connection parameters negotiated out-of-band
// by the RTSP layer (see session.Params).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClockConfig configures the Shared-Clock Reader.
type ClockConfig struct {
	SharedMemoryName string `yaml:"shared_memory_name"`
}

// TimingConfig configures the NTP Ping Exchanger.
type TimingConfig struct {
	HistoryLength int `yaml:"history_length"`
}

// OutputConfig configures the audio output bridge.
type OutputConfig struct {
	RingBufferSeconds int    `yaml:"ring_buffer_seconds"`
	Backend           string `yaml:"backend"`
}

// ClassicConfig configures the classic AirPlay-1 control receiver's
// latency computation.
type ClassicConfig struct {
	AudioBackendOffsetSec     float64 `yaml:"audio_backend_offset_sec"`
	MinimumFreeHeadroomFrames uint32  `yaml:"minimum_free_headroom_frames"`
}

// AP2Config configures the AirPlay-2 buffered-audio pipeline.
type AP2Config struct {
	TCPQueueBytes         int     `yaml:"tcp_queue_bytes"`
	PCMQueueFrames        int     `yaml:"pcm_queue_frames"`
	AudioBackendOffsetSec float64 `yaml:"audio_backend_offset_sec"`
	ScheduleLeadTimeMs    int     `yaml:"schedule_lead_time_ms"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StatusConfig configures the debug websocket endpoint.
type StatusConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level service configuration tree.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Clock   ClockConfig   `yaml:"clock"`
	Timing  TimingConfig  `yaml:"timing"`
	Output  OutputConfig  `yaml:"output"`
	Classic ClassicConfig `yaml:"classic"`
	AP2     AP2Config     `yaml:"ap2"`
	Metrics MetricsConfig `yaml:"metrics"`
	Status  StatusConfig  `yaml:"status"`
}

// Default returns the built-in defaults, used when no config file is
// supplied or a field is left unset.
func Default() Config {
	return Config{
		Clock:   ClockConfig{SharedMemoryName: "/nqptp"},
		Timing:  TimingConfig{HistoryLength: 64},
		Output:  OutputConfig{RingBufferSeconds: 4, Backend: "classic"},
		Classic: ClassicConfig{MinimumFreeHeadroomFrames: 1024},
		AP2:     AP2Config{TCPQueueBytes: 1 << 20, PCMQueueFrames: 1 << 16, ScheduleLeadTimeMs: 50},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
		Status:  StatusConfig{ListenAddr: ":9091"},
	}
}

// Load reads and parses a YAML config file, filling in defaults for
// anything the file doesn't specify.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}
