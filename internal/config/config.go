// Package config provides the configuration structure for speaker-forge.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied to fields left empty.
const (
	DefaultServiceURL     = "http://127.0.0.1:8000"
	DefaultTimeoutSeconds = 120
	DefaultLanguage       = "en"
	DefaultPreviewSubject = "speaker.preview"
	DefaultMixSubject     = "speaker.mix"
	DefaultAudioBucket    = "SPEAKER_AUDIO"
	DefaultSpeakerBucket  = "SPEAKER_FILES"
)

// ErrMissingField indicates a required configuration value that is empty.
var ErrMissingField = errors.New("missing required configuration field")

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	SpeakersFile string `toml:"speakers_file"`
	BaseLogsDir  string `toml:"base_logs_dir"`
	// OutputDir receives synthesized audio; the system temp dir when empty.
	OutputDir string `toml:"output_dir"`
}

// ModelConfig describes the XTTS inference server.
type ModelConfig struct {
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Language       string `toml:"language"`
}

// Timeout returns the request timeout for the inference server.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	PreviewSubject           string `toml:"preview_subject"`
	MixSubject               string `toml:"mix_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	SpeakerObjectStoreBucket string `toml:"speaker_object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Paths PathsConfig `toml:"paths"`
	Model ModelConfig `toml:"model"`
	NATS  NATSConfig  `toml:"nats"`
}

// Load loads the configuration through the shared configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadFile loads the configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills empty fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Model.ServiceURL == "" {
		c.Model.ServiceURL = DefaultServiceURL
	}

	if c.Model.TimeoutSeconds <= 0 {
		c.Model.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Model.Language == "" {
		c.Model.Language = DefaultLanguage
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}

	if c.NATS.PreviewSubject == "" {
		c.NATS.PreviewSubject = DefaultPreviewSubject
	}

	if c.NATS.MixSubject == "" {
		c.NATS.MixSubject = DefaultMixSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = DefaultAudioBucket
	}

	if c.NATS.SpeakerObjectStoreBucket == "" {
		c.NATS.SpeakerObjectStoreBucket = DefaultSpeakerBucket
	}
}

// Validate reports every required field that is empty. NATS settings are
// required only when needNATS is set.
func (c *Config) Validate(needNATS bool) error {
	var errs []error

	need := func(value, name string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, name))
		}
	}

	need(c.Paths.SpeakersFile, "paths.speakers_file")
	need(c.Model.ServiceURL, "model.service_url")

	if needNATS {
		need(c.NATS.URL, "nats.url")
		need(c.NATS.PreviewSubject, "nats.preview_subject")
		need(c.NATS.MixSubject, "nats.mix_subject")
		need(c.NATS.AudioObjectStoreBucket, "nats.audio_object_store_bucket")
		need(c.NATS.SpeakerObjectStoreBucket, "nats.speaker_object_store_bucket")
	}

	return errors.Join(errs...)
}
