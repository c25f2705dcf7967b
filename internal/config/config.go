package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete forwarder configuration
type Config struct {
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"` // Graceful shutdown timeout (default: 5s)
	VTS             VTSConfig      `yaml:"vts"`
	Camera          CameraConfig   `yaml:"camera"`
	Detector        DetectorConfig `yaml:"detector"`
	Mapper          MapperConfig   `yaml:"mapper"`
	Recorder        RecorderConfig `yaml:"recorder"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Health          HealthConfig   `yaml:"health"`
}

// VTSConfig contains the remote engine connection settings
type VTSConfig struct {
	Address         string        `yaml:"address"` // ws://localhost:8001
	PluginName      string        `yaml:"plugin_name"`
	PluginDeveloper string        `yaml:"plugin_developer"`
	RequestID       string        `yaml:"request_id"`
	AuthFile        string        `yaml:"auth_file"`       // token file (default: auth.json)
	MaxFailures     int           `yaml:"max_failures"`    // consecutive send failures tolerated (default: 5)
	Timeout         time.Duration `yaml:"timeout"`         // dial handshake and each write (default: 2s)
	RegisterParams  bool          `yaml:"register_params"` // register custom parameters on startup
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Backend     string        `yaml:"backend"` // gocv, gstreamer, synthetic
	Device      int           `yaml:"device"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	FPS         float64       `yaml:"fps"`
	MaxFailures int           `yaml:"max_failures"` // consecutive failed reads tolerated (default: 5)
	Warmup      time.Duration `yaml:"warmup"`       // 0 skips warmup
}

// DetectorConfig describes the external face landmarker process
type DetectorConfig struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	Model       string   `yaml:"model"`
	UseGPU      bool     `yaml:"use_gpu"`
	InputWidth  int      `yaml:"input_width"` // resize before encoding, 0 keeps camera size
	JPEGQuality int      `yaml:"jpeg_quality"`
}

// MapperConfig selects the parameter policy
type MapperConfig struct {
	Policy string `yaml:"policy"` // classic, perceptual, landmark
	Mode   string `yaml:"mode"`   // add or set, empty keeps the policy's mode
}

// RecorderConfig enables the SQLite session recorder
type RecorderConfig struct {
	Path string `yaml:"path"` // empty disables recording
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker            string        `yaml:"broker"` // empty disables control plane and telemetry
	ClientID          string        `yaml:"client_id"`
	Topics            MQTTTopics    `yaml:"topics"`
	QoS               byte          `yaml:"qos"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Telemetry string `yaml:"telemetry"`
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// Environment variables that override file values.
const (
	EnvAddress    = "MPF_ADDRESS"
	EnvAuthFile   = "MPF_AUTH_FILE"
	EnvPolicy     = "MPF_POLICY"
	EnvMQTTBroker = "MPF_MQTT_BROKER"
	EnvCamera     = "MPF_CAMERA"
)

// Load reads and parses a YAML configuration file. An empty path yields the
// defaults. A .env file in the working directory, when present, is loaded
// into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: failed to load .env", "error", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration fields whose zero value is itself a valid
// setting, so they must be seeded before the file is decoded. Validate fills
// the rest.
func Default() Config {
	return Config{
		VTS:    VTSConfig{MaxFailures: DefaultMaxFailures},
		Camera: CameraConfig{MaxFailures: DefaultMaxFailures},
	}
}

// applyEnv overrides file values with MPF_* environment variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvAddress); v != "" {
		cfg.VTS.Address = v
	}
	if v := os.Getenv(EnvAuthFile); v != "" {
		cfg.VTS.AuthFile = v
	}
	if v := os.Getenv(EnvPolicy); v != "" {
		cfg.Mapper.Policy = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv(EnvCamera); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCamera, err)
		}
		cfg.Camera.Device = n
	}
	return nil
}
