// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables win over the file, and the file
// wins over the built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Configuration is the complete service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Engine        EngineConfig        `yaml:"engine"`
	Session       SessionConfig       `yaml:"session"`
	Audio         AudioConfig         `yaml:"audio"`
	Attribution   AttributionConfig   `yaml:"attribution"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds listener settings.
type ServiceConfig struct {
	Principal   string `yaml:"principal" validate:"required"`
	HTTPPort    string `yaml:"httpPort" validate:"required,numeric"`
	GRPCPort    string `yaml:"grpcPort" validate:"required,numeric"`
	MetricsPort string `yaml:"metricsPort" validate:"required,numeric"`
}

// EngineConfig selects and configures the recognition engine.
type EngineConfig struct {
	// Mode is "exec" to run the engine binary, "google" to stream to Cloud
	// Speech-to-Text or "mock" for the built-in simulated engine.
	Mode        string        `yaml:"mode" validate:"oneof=mock exec google"`
	Binary      string        `yaml:"binary" validate:"required_if=Mode exec"`
	Args        []string      `yaml:"args"`
	WorkDir     string        `yaml:"workDir"`
	StderrLines int           `yaml:"stderrLines" validate:"gte=0"`
	ReadyDelay  time.Duration `yaml:"readyDelay"`
	Google      GoogleConfig  `yaml:"google"`
}

// GoogleConfig configures the Cloud Speech-to-Text engine. Credentials come
// from GOOGLE_APPLICATION_CREDENTIALS.
type GoogleConfig struct {
	// LanguageCode is used when a session asks for automatic detection.
	LanguageCode string `yaml:"languageCode" validate:"required"`
	Model        string `yaml:"model"`
	Punctuation  bool   `yaml:"punctuation"`
}

// SessionConfig holds controller timeouts and the defaults applied to
// sessions started without explicit settings.
type SessionConfig struct {
	NoAudioTimeout time.Duration `yaml:"noAudioTimeout" validate:"gt=0"`
	ReadyTimeout   time.Duration `yaml:"readyTimeout" validate:"gt=0"`
	StopGrace      time.Duration `yaml:"stopGrace" validate:"gt=0"`
	MaxBuffer      time.Duration `yaml:"maxBuffer" validate:"gt=0"`
	ResolveTimeout time.Duration `yaml:"resolveTimeout" validate:"gt=0"`
	Model          string        `yaml:"model"`
	Language       string        `yaml:"language"`
	Diarization    bool          `yaml:"diarization"`
	MaxSpeakers    int           `yaml:"maxSpeakers" validate:"gte=0,lte=20"`
}

// AudioConfig bounds individual capture chunks. CaptureFile, when set, is a
// PCM WAV file played into every session as its capture source.
type AudioConfig struct {
	MaxChunkBytes    int           `yaml:"maxChunkBytes" validate:"gt=0"`
	MaxChunkDuration time.Duration `yaml:"maxChunkDuration" validate:"gt=0"`
	CaptureFile      string        `yaml:"captureFile"`
}

// AttributionConfig controls how transcripts are attributed to speakers.
type AttributionConfig struct {
	Policy              string  `yaml:"policy" validate:"oneof=withhold block"`
	MinCoverage         float64 `yaml:"minCoverage" validate:"gte=0,lte=1"`
	RequireFullCoverage bool    `yaml:"requireFullCoverage"`
	MaxSpeakerGap       float64 `yaml:"maxSpeakerGap" validate:"gt=0"`
	EnableSplitting     bool    `yaml:"enableSplitting"`
}

// KafkaConfig holds publisher settings.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers" validate:"required_if=Enabled true"`
	TopicSegments string   `yaml:"topicSegments"`
	TopicAligned  string   `yaml:"topicAligned"`
	TopicHealth   string   `yaml:"topicHealth"`
	Principal     string   `yaml:"principal"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat" validate:"oneof=json console"`
	LogFile   string `yaml:"logFile"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-live-transcript",
			HTTPPort:    "8080",
			GRPCPort:    "50051",
			MetricsPort: "9090",
		},
		Engine: EngineConfig{
			Mode:        "mock",
			Binary:      "transcription-engine",
			StderrLines: 20,
			Google: GoogleConfig{
				LanguageCode: "en-US",
				Punctuation:  true,
			},
		},
		Session: SessionConfig{
			NoAudioTimeout: 30 * time.Second,
			ReadyTimeout:   120 * time.Second,
			StopGrace:      5 * time.Second,
			MaxBuffer:      30 * time.Second,
			ResolveTimeout: 2 * time.Second,
			Model:          "base",
			Language:       "auto",
			Diarization:    true,
			MaxSpeakers:    8,
		},
		Audio: AudioConfig{
			MaxChunkBytes:    4 * 1024 * 1024,
			MaxChunkDuration: 10 * time.Second,
		},
		Attribution: AttributionConfig{
			Policy:          "withhold",
			MinCoverage:     0.3,
			MaxSpeakerGap:   0.5,
			EnableSplitting: true,
		},
		Kafka: KafkaConfig{
			TopicSegments: "recording.transcript.segment",
			TopicAligned:  "recording.transcript.aligned",
			TopicHealth:   "recording.diarization.health",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE if set, then environment overrides.
func Load() (*Configuration, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.MetricsPort = envOrDefault("METRICS_PORT", c.Service.MetricsPort)

	c.Engine.Mode = strings.ToLower(envOrDefault("ENGINE_MODE", c.Engine.Mode))
	c.Engine.Binary = envOrDefault("ENGINE_BINARY", c.Engine.Binary)
	c.Engine.Args = envOrDefaultList("ENGINE_ARGS", c.Engine.Args)
	c.Engine.WorkDir = envOrDefault("ENGINE_WORKDIR", c.Engine.WorkDir)
	c.Engine.StderrLines = envOrDefaultInt("ENGINE_STDERR_LINES", c.Engine.StderrLines)
	c.Engine.ReadyDelay = envOrDefaultDuration("ENGINE_MOCK_READY_DELAY", c.Engine.ReadyDelay)
	c.Engine.Google.LanguageCode = envOrDefault("ENGINE_GOOGLE_LANGUAGE", c.Engine.Google.LanguageCode)
	c.Engine.Google.Model = envOrDefault("ENGINE_GOOGLE_MODEL", c.Engine.Google.Model)
	c.Engine.Google.Punctuation = envOrDefaultBool("ENGINE_GOOGLE_PUNCTUATION", c.Engine.Google.Punctuation)

	c.Session.NoAudioTimeout = envOrDefaultDuration("SESSION_NO_AUDIO_TIMEOUT", c.Session.NoAudioTimeout)
	c.Session.ReadyTimeout = envOrDefaultDuration("SESSION_READY_TIMEOUT", c.Session.ReadyTimeout)
	c.Session.StopGrace = envOrDefaultDuration("SESSION_STOP_GRACE", c.Session.StopGrace)
	c.Session.MaxBuffer = envOrDefaultDuration("SESSION_MAX_BUFFER", c.Session.MaxBuffer)
	c.Session.ResolveTimeout = envOrDefaultDuration("SESSION_RESOLVE_TIMEOUT", c.Session.ResolveTimeout)
	c.Session.Model = envOrDefault("SESSION_MODEL", c.Session.Model)
	c.Session.Language = envOrDefault("SESSION_LANGUAGE", c.Session.Language)
	c.Session.Diarization = envOrDefaultBool("SESSION_DIARIZATION", c.Session.Diarization)
	c.Session.MaxSpeakers = envOrDefaultInt("SESSION_MAX_SPEAKERS", c.Session.MaxSpeakers)

	c.Audio.MaxChunkBytes = envOrDefaultInt("AUDIO_MAX_CHUNK_BYTES", c.Audio.MaxChunkBytes)
	c.Audio.MaxChunkDuration = envOrDefaultDuration("AUDIO_MAX_CHUNK_DURATION", c.Audio.MaxChunkDuration)
	c.Audio.CaptureFile = envOrDefault("AUDIO_CAPTURE_FILE", c.Audio.CaptureFile)

	c.Attribution.Policy = strings.ToLower(envOrDefault("ATTRIBUTION_POLICY", c.Attribution.Policy))
	c.Attribution.MinCoverage = envOrDefaultFloat("ATTRIBUTION_MIN_COVERAGE", c.Attribution.MinCoverage)
	c.Attribution.RequireFullCoverage = envOrDefaultBool("ATTRIBUTION_REQUIRE_FULL_COVERAGE", c.Attribution.RequireFullCoverage)
	c.Attribution.MaxSpeakerGap = envOrDefaultFloat("ATTRIBUTION_MAX_SPEAKER_GAP", c.Attribution.MaxSpeakerGap)
	c.Attribution.EnableSplitting = envOrDefaultBool("ATTRIBUTION_ENABLE_SPLITTING", c.Attribution.EnableSplitting)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicSegments = envOrDefault("KAFKA_TOPIC_SEGMENTS", c.Kafka.TopicSegments)
	c.Kafka.TopicAligned = envOrDefault("KAFKA_TOPIC_ALIGNED", c.Kafka.TopicAligned)
	c.Kafka.TopicHealth = envOrDefault("KAFKA_TOPIC_HEALTH", c.Kafka.TopicHealth)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", c.Observability.LogFormat))
	c.Observability.LogFile = envOrDefault("LOG_FILE", c.Observability.LogFile)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for values the service cannot run with.
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
