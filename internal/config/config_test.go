package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "METRICS_PORT",
	"ENGINE_MODE", "ENGINE_BINARY", "ENGINE_ARGS",
	"ENGINE_GOOGLE_LANGUAGE", "ENGINE_GOOGLE_MODEL", "ENGINE_GOOGLE_PUNCTUATION",
	"SESSION_READY_TIMEOUT", "SESSION_MAX_BUFFER", "SESSION_DIARIZATION",
	"ATTRIBUTION_POLICY", "ATTRIBUTION_MIN_COVERAGE",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every variable the tests touch; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Principal != "svc-live-transcript" {
		t.Errorf("expected default principal, got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" || cfg.Service.GRPCPort != "50051" {
		t.Errorf("unexpected ports %s/%s", cfg.Service.HTTPPort, cfg.Service.GRPCPort)
	}
	if cfg.Engine.Mode != "mock" {
		t.Errorf("expected mock engine by default, got %s", cfg.Engine.Mode)
	}
	if cfg.Session.ReadyTimeout != 120*time.Second {
		t.Errorf("expected 120s ready timeout, got %v", cfg.Session.ReadyTimeout)
	}
	if cfg.Session.MaxBuffer != 30*time.Second {
		t.Errorf("expected 30s buffer, got %v", cfg.Session.MaxBuffer)
	}
	if cfg.Attribution.Policy != "withhold" {
		t.Errorf("expected withhold policy, got %s", cfg.Attribution.Policy)
	}
	if cfg.Kafka.Enabled {
		t.Error("kafka should be disabled by default")
	}
	if cfg.Kafka.Principal != cfg.Service.Principal {
		t.Errorf("kafka principal should default to service principal, got %s", cfg.Kafka.Principal)
	}
	if cfg.Engine.Google.LanguageCode != "en-US" || !cfg.Engine.Google.Punctuation {
		t.Errorf("unexpected google defaults %+v", cfg.Engine.Google)
	}
}

func TestLoad_GoogleEngine(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_MODE", "google")
	t.Setenv("ENGINE_GOOGLE_LANGUAGE", "de-DE")
	t.Setenv("ENGINE_GOOGLE_MODEL", "latest_long")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Mode != "google" {
		t.Errorf("expected google mode, got %s", cfg.Engine.Mode)
	}
	if cfg.Engine.Google.LanguageCode != "de-DE" || cfg.Engine.Google.Model != "latest_long" {
		t.Errorf("unexpected google config %+v", cfg.Engine.Google)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("ENGINE_MODE", "EXEC")
	t.Setenv("ENGINE_BINARY", "/opt/engine/bin/engine")
	t.Setenv("ENGINE_ARGS", "--device, cuda ,")
	t.Setenv("SESSION_READY_TIMEOUT", "45s")
	t.Setenv("SESSION_DIARIZATION", "false")
	t.Setenv("ATTRIBUTION_POLICY", "block")
	t.Setenv("ATTRIBUTION_MIN_COVERAGE", "0.6")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Engine.Mode != "exec" {
		t.Errorf("expected engine mode to be lowercased, got %s", cfg.Engine.Mode)
	}
	if len(cfg.Engine.Args) != 2 || cfg.Engine.Args[1] != "cuda" {
		t.Errorf("unexpected engine args %q", cfg.Engine.Args)
	}
	if cfg.Session.ReadyTimeout != 45*time.Second {
		t.Errorf("expected 45s ready timeout, got %v", cfg.Session.ReadyTimeout)
	}
	if cfg.Session.Diarization {
		t.Error("expected diarization disabled")
	}
	if cfg.Attribution.Policy != "block" || cfg.Attribution.MinCoverage != 0.6 {
		t.Errorf("unexpected attribution config %+v", cfg.Attribution)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("unexpected kafka config %+v", cfg.Kafka)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_READY_TIMEOUT", "soon")
	t.Setenv("SESSION_DIARIZATION", "maybe")
	t.Setenv("ATTRIBUTION_MIN_COVERAGE", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.ReadyTimeout != 120*time.Second {
		t.Errorf("expected default ready timeout on invalid input, got %v", cfg.Session.ReadyTimeout)
	}
	if !cfg.Session.Diarization {
		t.Error("expected default diarization on invalid input")
	}
	if cfg.Attribution.MinCoverage != 0.3 {
		t.Errorf("expected default coverage on invalid input, got %v", cfg.Attribution.MinCoverage)
	}
}

func TestLoad_RejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown engine mode", map[string]string{"ENGINE_MODE": "cloud"}},
		{"unknown policy", map[string]string{"ATTRIBUTION_POLICY": "guess"}},
		{"kafka without brokers", map[string]string{"KAFKA_ENABLED": "true"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
service:
  httpPort: "8181"
engine:
  mode: exec
  binary: /usr/local/bin/engine
  args: ["--device", "cpu"]
session:
  maxBuffer: 10s
  model: small
kafka:
  topicAligned: custom.aligned
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "8282")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.HTTPPort != "8282" {
		t.Errorf("env should override file, got %s", cfg.Service.HTTPPort)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Binary != "/usr/local/bin/engine" {
		t.Errorf("unexpected engine config %+v", cfg.Engine)
	}
	if cfg.Session.MaxBuffer != 10*time.Second {
		t.Errorf("expected 10s buffer from file, got %v", cfg.Session.MaxBuffer)
	}
	if cfg.Session.Model != "small" {
		t.Errorf("expected model from file, got %s", cfg.Session.Model)
	}
	if cfg.Session.ReadyTimeout != 120*time.Second {
		t.Errorf("fields absent from the file keep defaults, got %v", cfg.Session.ReadyTimeout)
	}
	if cfg.Kafka.TopicAligned != "custom.aligned" || cfg.Kafka.TopicSegments == "" {
		t.Errorf("unexpected kafka topics %+v", cfg.Kafka)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_VAR", tt.envValue)
			got := envOrDefaultBool("TEST_BOOL_VAR", tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
