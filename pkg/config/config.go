// Package config provides configuration management for Facemark.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rollover policies for the attendance ledger.
const (
	RolloverReset = "reset"
	RolloverCarry = "carry"
)

// Config holds all Facemark configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Gallery     GalleryConfig     `yaml:"gallery"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	Tolerance float64 `yaml:"tolerance"`
	ModelPath string  `yaml:"model_path"`
}

// LivenessConfig holds liveness challenge settings.
//
// HeadTurnThreshold is the relative nose displacement a head turn must
// exceed. SmileThreshold is the absolute relative mouth width a smile
// must exceed. ConfirmationFrames is the number of consecutive
// satisfying frames required to pass a challenge. GracePeriod and
// Timeout are seconds.
type LivenessConfig struct {
	HeadTurnThreshold  float64 `yaml:"head_turn_threshold"`
	SmileThreshold     float64 `yaml:"smile_threshold"`
	ConfirmationFrames int     `yaml:"confirmation_frames"`
	GracePeriod        float64 `yaml:"grace_period"`
	Timeout            float64 `yaml:"timeout"`
}

// GalleryConfig holds reference image gallery settings.
type GalleryConfig struct {
	ImagesDir         string `yaml:"images_dir"`
	CacheFile         string `yaml:"cache_file"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// AttendanceConfig holds attendance ledger settings.
type AttendanceConfig struct {
	Dir      string `yaml:"dir"`
	Rollover string `yaml:"rollover"` // "reset" or "carry"
}

// ServerConfig holds QR attendance server settings.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facemark")
	return &Config{
		Camera: CameraConfig{
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Recognition: RecognitionConfig{
			Tolerance: 0.50,
			ModelPath: filepath.Join(dataDir, "models"),
		},
		Liveness: LivenessConfig{
			HeadTurnThreshold:  0.3,
			SmileThreshold:     0.7,
			ConfirmationFrames: 5,
			GracePeriod:        0.5,
			Timeout:            10,
		},
		Gallery: GalleryConfig{
			ImagesDir:         "student_images",
			CacheFile:         filepath.Join(dataDir, "encodings.bin"),
			EncryptionEnabled: true,
		},
		Attendance: AttendanceConfig{
			Dir:      ".",
			Rollover: RolloverReset,
		},
		Server: ServerConfig{
			Addr:            ":5000",
			TokenTTLSeconds: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "facemark.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// Try system config first
	if _, err := os.Stat("/etc/facemark/facemark.yaml"); err == nil {
		return Load("/etc/facemark/facemark.yaml")
	}

	// Try user config
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facemark/facemark.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	// Return defaults
	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	if c.Recognition.Tolerance < 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be between 0 and 1, got %f", c.Recognition.Tolerance)
	}

	if c.Liveness.HeadTurnThreshold <= 0 {
		return fmt.Errorf("head_turn_threshold must be positive, got %f", c.Liveness.HeadTurnThreshold)
	}
	if c.Liveness.SmileThreshold <= 0 {
		return fmt.Errorf("smile_threshold must be positive, got %f", c.Liveness.SmileThreshold)
	}
	if c.Liveness.ConfirmationFrames <= 0 {
		return fmt.Errorf("confirmation_frames must be positive, got %d", c.Liveness.ConfirmationFrames)
	}
	if c.Liveness.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative, got %f", c.Liveness.GracePeriod)
	}
	if c.Liveness.Timeout <= c.Liveness.GracePeriod {
		return fmt.Errorf("timeout (%f) must exceed grace_period (%f)", c.Liveness.Timeout, c.Liveness.GracePeriod)
	}

	if c.Attendance.Rollover != RolloverReset && c.Attendance.Rollover != RolloverCarry {
		return fmt.Errorf("invalid rollover policy: %s (must be reset or carry)", c.Attendance.Rollover)
	}

	if c.Server.TokenTTLSeconds <= 0 {
		return fmt.Errorf("token_ttl_seconds must be positive, got %d", c.Server.TokenTTLSeconds)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Gallery.ImagesDir = ExpandPath(c.Gallery.ImagesDir)
	c.Gallery.CacheFile = ExpandPath(c.Gallery.CacheFile)
	c.Attendance.Dir = ExpandPath(c.Attendance.Dir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Attendance.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create attendance directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Gallery.CacheFile), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	logDir := filepath.Dir(c.Logging.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}
