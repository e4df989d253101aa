// Package config provides unified configuration loading for cascade.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/session"
)

// CascadeConfig contains all cascade configuration settings.
type CascadeConfig struct {
	// Engine says how to run the solver.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Solver holds engine options written to every model's option table.
	Solver session.Options `json:"solver" yaml:"solver" validate:"-"`

	// Logging contains settings for diagnostic and modelling logs.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EngineConfig configures the external solver process.
type EngineConfig struct {
	// Executable is the solver program, a name on PATH or a path.
	Executable string `json:"executable" yaml:"executable" validate:"required"`

	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
}

// LoggingConfig configures cascade's logging behavior.
type LoggingConfig struct {
	// Level sets the diagnostic verbosity: "info" (default), "debug", or "trace".
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=info debug trace"`

	// ModelLogDir holds model.jsonl. Empty means ~/.cascade/logs.
	ModelLogDir string `json:"model_log_dir,omitempty" yaml:"model_log_dir,omitempty"`
}

var configValidate = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		return name
	})
	return v
}

// Default returns a CascadeConfig with sensible defaults.
func Default() *CascadeConfig {
	return &CascadeConfig{
		Engine: EngineConfig{
			Executable: constants.DefaultExecutable,
			Timeout:    constants.DefaultEngineTimeout,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath is ~/.cascade/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.ConfigDirName, constants.ConfigFileName), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.cascade/config.yaml -> environment variables
func Load() (*CascadeConfig, error) {
	config := Default()

	if configPath, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*CascadeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	config.Engine.Executable = expandEnvVars(config.Engine.Executable)
	config.Logging.ModelLogDir = expandEnvVars(config.Logging.ModelLogDir)

	return config, nil
}

// Save writes the configuration as YAML to path, creating its directory.
func (c *CascadeConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *CascadeConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			return errs.Invalid(field, "value %v fails %s", fe.Value(), fe.Tag())
		}
		return err
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	return nil
}

// Get returns a setting by dot-notation key, such as "engine.executable"
// or "solver.random_seed". Unset solver options read as "".
func (c *CascadeConfig) Get(key string) (string, bool) {
	switch key {
	case "engine.executable":
		return c.Engine.Executable, true
	case "engine.timeout":
		return c.Engine.Timeout.String(), true
	case "logging.level":
		return c.Logging.Level, true
	case "logging.model_log_dir":
		return c.Logging.ModelLogDir, true
	}
	if name, ok := strings.CutPrefix(key, "solver."); ok {
		for _, known := range session.OptionNames() {
			if known == name {
				return c.Solver.Map()[name], true
			}
		}
	}
	return "", false
}

// Set changes a setting by dot-notation key. The result is validated.
func (c *CascadeConfig) Set(key, value string) error {
	next := *c
	switch key {
	case "engine.executable":
		next.Engine.Executable = value
	case "engine.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return errs.Invalid(key, "invalid duration: %s", value)
		}
		next.Engine.Timeout = d
	case "logging.level":
		next.Logging.Level = value
	case "logging.model_log_dir":
		next.Logging.ModelLogDir = value
	default:
		name, ok := strings.CutPrefix(key, "solver.")
		if !ok {
			return errs.Invalid(key, "unknown configuration key")
		}
		var o session.Options
		if err := o.ParseOption(name, value); err != nil {
			return err
		}
		next.Solver = next.Solver.Merge(o)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Keys lists every settable key.
func Keys() []string {
	keys := []string{"engine.executable", "engine.timeout", "logging.level", "logging.model_log_dir"}
	for _, name := range session.OptionNames() {
		keys = append(keys, "solver."+name)
	}
	return keys
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *CascadeConfig) error {
	if v := os.Getenv("CASCADE_DISMOD"); v != "" {
		config.Engine.Executable = v
	}

	if v := os.Getenv("CASCADE_ENGINE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errs.Invalid("CASCADE_ENGINE_TIMEOUT", "invalid duration: %s", v)
		}
		config.Engine.Timeout = d
	}

	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("CASCADE_MODEL_LOG_DIR"); v != "" {
		config.Logging.ModelLogDir = v
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
