package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/insightops/modelgate/guard"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected default http addr :8080, got %s", cfg.HTTP.Addr)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.Comparison.AutoPromote {
		t.Error("auto_promote must be off by default")
	}
	if cfg.Drift.ConsecutiveBreaches != 3 {
		t.Errorf("expected 3 consecutive breaches by default, got %d", cfg.Drift.ConsecutiveBreaches)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing http addr",
			modify:  func(c *Config) { c.HTTP.Addr = "" },
			wantErr: true,
		},
		{
			name:    "missing prometheus url",
			modify:  func(c *Config) { c.MetricSource.PrometheusURL = "" },
			wantErr: true,
		},
		{
			name:    "missing inference url",
			modify:  func(c *Config) { c.Inference.URL = "" },
			wantErr: true,
		},
		{
			name:    "zero retry attempts",
			modify:  func(c *Config) { c.Registry.RetryAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "reference window smaller than current window",
			modify:  func(c *Config) { c.Drift.ReferenceWindow = 30 * time.Minute },
			wantErr: true,
		},
		{
			name: "monitor without model",
			modify: func(c *Config) {
				c.Drift.Monitors = []DriftMonitor{{Filter: "f", Threshold: 0.5}}
			},
			wantErr: true,
		},
		{
			name: "monitor without threshold",
			modify: func(c *Config) {
				c.Drift.Monitors = []DriftMonitor{{Model: "detector", Filter: "f"}}
			},
			wantErr: true,
		},
		{
			name: "bad guard rule operator",
			modify: func(c *Config) {
				c.Guard.Rules = []guard.Rule{{Name: "r", Query: "q", Operator: "between", Threshold: 1, Level: guard.LevelDegraded}}
			},
			wantErr: true,
		},
		{
			name: "fallbacks keyed by NORMAL",
			modify: func(c *Config) {
				c.Guard.Fallbacks = map[guard.Level]map[string]string{guard.LevelNormal: {"detector": "detector-lite"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
nats:
  url: "nats://test:4222"
metric_source:
  prometheus_url: "http://prom:9091"
  timeout: 5s
inference:
  url: "http://serving:8000"
  api_key: "secret"
drift:
  interval: 10m
  monitors:
    - model: detector
      filter: detector_embeddings
      threshold: 0.6
comparison:
  max_concurrency: 8
  thresholds:
    promote_similarity: 0.95
guard:
  poll_interval: 15s
  cooldown: 2m
  rules:
    - name: error-critical
      query: 'avg_over_time(error_rate[5m])'
      operator: gt
      threshold: 0.2
      level: CRITICAL
  fallbacks:
    DEGRADED:
      detector: detector-lite
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.MetricSource.PrometheusURL != "http://prom:9091" {
		t.Errorf("expected prometheus url http://prom:9091, got %s", cfg.MetricSource.PrometheusURL)
	}
	if cfg.MetricSource.Timeout != 5*time.Second {
		t.Errorf("expected metric source timeout 5s, got %v", cfg.MetricSource.Timeout)
	}
	if cfg.Inference.APIKey != "secret" {
		t.Errorf("expected inference api key to load, got %q", cfg.Inference.APIKey)
	}
	if cfg.Drift.Interval != 10*time.Minute {
		t.Errorf("expected drift interval 10m, got %v", cfg.Drift.Interval)
	}
	if len(cfg.Drift.Monitors) != 1 || cfg.Drift.Monitors[0].Model != "detector" {
		t.Errorf("expected one detector monitor, got %+v", cfg.Drift.Monitors)
	}
	if cfg.Comparison.MaxConcurrency != 8 {
		t.Errorf("expected max concurrency 8, got %d", cfg.Comparison.MaxConcurrency)
	}
	if cfg.Comparison.Thresholds.PromoteSimilarity != 0.95 {
		t.Errorf("expected promote similarity 0.95, got %f", cfg.Comparison.Thresholds.PromoteSimilarity)
	}
	if cfg.Guard.PollInterval != 15*time.Second {
		t.Errorf("expected guard poll interval 15s, got %v", cfg.Guard.PollInterval)
	}
	if len(cfg.Guard.Rules) != 1 || cfg.Guard.Rules[0].Level != guard.LevelCritical {
		t.Errorf("expected one CRITICAL rule, got %+v", cfg.Guard.Rules)
	}
	if cfg.Guard.Fallbacks[guard.LevelDegraded]["detector"] != "detector-lite" {
		t.Errorf("expected DEGRADED fallback detector-lite, got %+v", cfg.Guard.Fallbacks)
	}
	// Fields absent from the file keep their defaults.
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected http addr to remain default, got %s", cfg.HTTP.Addr)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
		Inference: InferenceConfig{
			URL: "http://override:8000",
		},
	}

	base.Merge(override)

	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected NATS URL nats://override:4222, got %s", base.NATS.URL)
	}
	if base.NATS.Embedded {
		t.Error("setting an external NATS URL should disable embedded NATS")
	}
	if base.Inference.URL != "http://override:8000" {
		t.Errorf("expected inference url http://override:8000, got %s", base.Inference.URL)
	}
	// Prometheus URL should remain from base since override didn't set it
	if base.MetricSource.PrometheusURL != "http://localhost:9091" {
		t.Errorf("expected prometheus url to remain default, got %s", base.MetricSource.PrometheusURL)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Inference.URL = "http://saved:8000"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Inference.URL != "http://saved:8000" {
		t.Errorf("expected inference url http://saved:8000, got %s", loaded.Inference.URL)
	}
}

func TestLoaderApplyEnv(t *testing.T) {
	t.Setenv("MODELGATE_NATS_URL", "nats://env:4222")
	t.Setenv("MODELGATE_INFERENCE_API_KEY", "env-key")

	cfg := DefaultConfig()
	NewLoader(nil).applyEnv(cfg)

	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("expected env NATS URL, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.Embedded {
		t.Error("env NATS URL should disable embedded NATS")
	}
	if cfg.Inference.APIKey != "env-key" {
		t.Errorf("expected env api key, got %q", cfg.Inference.APIKey)
	}
}
