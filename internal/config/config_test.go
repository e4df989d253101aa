package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alec-deason/cascade/internal/errs"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Engine.Executable != "dmdismod" {
		t.Errorf("expected Executable 'dmdismod', got '%s'", config.Engine.Executable)
	}
	if config.Engine.Timeout != 0 {
		t.Errorf("expected no Timeout, got %v", config.Engine.Timeout)
	}
	if len(config.Solver.Map()) != 0 {
		t.Errorf("expected no solver options, got %v", config.Solver.Map())
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
engine:
  executable: /opt/dismod/bin/dmdismod
  timeout: 10m

solver:
  random_seed: 12
  quasi_fixed: false
  derivative_test_fixed: first-order

logging:
  level: debug
  model_log_dir: /var/log/cascade
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Engine.Executable != "/opt/dismod/bin/dmdismod" {
		t.Errorf("expected Executable '/opt/dismod/bin/dmdismod', got '%s'", config.Engine.Executable)
	}
	if config.Engine.Timeout != 10*time.Minute {
		t.Errorf("expected Timeout 10m, got %v", config.Engine.Timeout)
	}
	if config.Solver.RandomSeed == nil || *config.Solver.RandomSeed != 12 {
		t.Errorf("expected random_seed 12, got %v", config.Solver.RandomSeed)
	}
	if config.Solver.QuasiFixed == nil || *config.Solver.QuasiFixed {
		t.Errorf("expected quasi_fixed false, got %v", config.Solver.QuasiFixed)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", config.Logging.Level)
	}
	if config.Logging.ModelLogDir != "/var/log/cascade" {
		t.Errorf("expected ModelLogDir '/var/log/cascade', got '%s'", config.Logging.ModelLogDir)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
engine:
  executable: ${TEST_DISMOD_HOME}/bin/dmdismod
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TEST_DISMOD_HOME", "/opt/dismod")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Engine.Executable != "/opt/dismod/bin/dmdismod" {
		t.Errorf("expected expanded Executable, got '%s'", config.Engine.Executable)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CASCADE_DISMOD", "/usr/local/bin/dismod_at")
	t.Setenv("CASCADE_ENGINE_TIMEOUT", "90s")
	t.Setenv("CASCADE_LOG_LEVEL", "trace")
	t.Setenv("CASCADE_MODEL_LOG_DIR", "/tmp/cascade-logs")

	config := Default()
	if err := applyEnvOverrides(config); err != nil {
		t.Fatalf("applyEnvOverrides failed: %v", err)
	}

	if config.Engine.Executable != "/usr/local/bin/dismod_at" {
		t.Errorf("expected Executable override, got '%s'", config.Engine.Executable)
	}
	if config.Engine.Timeout != 90*time.Second {
		t.Errorf("expected Timeout 90s, got %v", config.Engine.Timeout)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected Logging.Level 'trace', got '%s'", config.Logging.Level)
	}
	if config.Logging.ModelLogDir != "/tmp/cascade-logs" {
		t.Errorf("expected ModelLogDir override, got '%s'", config.Logging.ModelLogDir)
	}
}

func TestEnvOverrides_BadTimeout(t *testing.T) {
	t.Setenv("CASCADE_ENGINE_TIMEOUT", "soon")

	if err := applyEnvOverrides(Default()); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoad_UsesHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CASCADE_LOG_LEVEL", "")

	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath failed: %v", err)
	}
	cfg := Default()
	if err := cfg.Set("solver.max_num_iter_fixed", "200"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, _ := loaded.Get("solver.max_num_iter_fixed"); got != "200" {
		t.Errorf("expected max_num_iter_fixed '200', got '%s'", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*CascadeConfig)
		wantField string
	}{
		{"defaults", func(*CascadeConfig) {}, ""},
		{"empty log level", func(c *CascadeConfig) { c.Logging.Level = "" }, ""},
		{"no executable", func(c *CascadeConfig) { c.Engine.Executable = "" }, "engine.executable"},
		{"negative timeout", func(c *CascadeConfig) { c.Engine.Timeout = -time.Second }, "engine.timeout"},
		{"unknown log level", func(c *CascadeConfig) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad solver option", func(c *CascadeConfig) {
			step := -1.0
			c.Solver.OdeStepSize = &step
		}, "ode_step_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("expected valid config, got error: %v", err)
				}
				return
			}
			var ve *errs.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, ve.Field)
			}
		})
	}
}

func TestGetSet(t *testing.T) {
	config := Default()

	if err := config.Set("engine.timeout", "2h"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, ok := config.Get("engine.timeout"); !ok || got != "2h0m0s" {
		t.Errorf("Get(engine.timeout) = %q, %v", got, ok)
	}
	if err := config.Set("solver.zero_sum_random", "iota"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _ := config.Get("solver.zero_sum_random"); got != "iota" {
		t.Errorf("Get(solver.zero_sum_random) = %q, want iota", got)
	}
	if got, ok := config.Get("solver.random_seed"); !ok || got != "" {
		t.Errorf("Get(solver.random_seed) = %q, %v; want unset", got, ok)
	}

	if err := config.Set("logging.level", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
	if config.Logging.Level != "info" {
		t.Errorf("failed Set changed level to %q", config.Logging.Level)
	}
	if err := config.Set("solver.zero_sum_random", "kappa"); err == nil {
		t.Error("expected error for unknown rate")
	}
	if err := config.Set("store.path", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, ok := config.Get("solver.nonsense"); ok {
		t.Error("expected unknown solver key to be missing")
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if len(keys) != 24 {
		t.Errorf("expected 24 keys, got %d", len(keys))
	}
	for _, k := range keys {
		if _, ok := Default().Get(k); !ok {
			t.Errorf("Get(%q) not found", k)
		}
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
engine:
  executable: [invalid yaml
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
