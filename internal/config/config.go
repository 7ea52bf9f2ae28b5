// Package config loads pointnet run configurations.
// It supports YAML files with a manifest of path variables and environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/engine"
)

// BaseDirVar is the manifest variable that defaults to the config file's directory.
const BaseDirVar = "BASE_DIR"

// Config is a pointnet run configuration.
type Config struct {
	// Manifest maps variable names to values usable as $NAME or ${NAME} in
	// path settings. Values may reference other manifest variables.
	Manifest map[string]string `json:"manifest,omitempty" yaml:"manifest,omitempty"`

	Components ComponentsConfig `json:"components" yaml:"components"`
	Network    NetworkConfig    `json:"network" yaml:"network"`
	Inputs     []InputConfig    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Run        RunConfig        `json:"run" yaml:"run"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`

	path string
}

// ComponentsConfig locates model components.
type ComponentsConfig struct {
	// ModelsDir is where relative dynamics parameter files are found.
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// NetworkConfig locates the network description.
type NetworkConfig struct {
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// InputConfig is one spike-train input for virtual nodes.
type InputConfig struct {
	Name       string   `json:"name" yaml:"name"`
	NodeSet    []string `json:"node_set" yaml:"node_set"`
	SpikesFile string   `json:"spikes_file" yaml:"spikes_file"`

	// GeneratorParams overrides the spike generator parameters.
	// Empty means {"precise_times": true}.
	GeneratorParams map[string]any `json:"generator_params,omitempty" yaml:"generator_params,omitempty"`
}

// RunConfig configures the engine.
type RunConfig struct {
	// DT is the kernel resolution in ms.
	DT float64 `json:"dt" yaml:"dt"`

	// EngineVersion selects the engine dialect, e.g. "2.20.1" or "3.6".
	EngineVersion string `json:"engine_version" yaml:"engine_version"`
}

// StoreConfig configures where identity snapshots are persisted.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "memory".
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "error", "warn", "info" (default), "debug", or "trace".
	// "debug" and "trace" enable the build trace when TraceDir is set.
	Level    string `json:"level" yaml:"level"`
	TraceDir string `json:"trace_dir,omitempty" yaml:"trace_dir,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			DT:            constants.DefaultResolution,
			EngineVersion: constants.DefaultEngineVersion,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    filepath.Join(".pointnet", "runs.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load returns the configuration at path with environment overrides applied.
// An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a YAML file. Manifest variables are
// substituted and relative paths are resolved against the file's directory.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	config.path = abs

	if err := config.resolvePaths(filepath.Dir(abs)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Path returns the absolute path of the file the config was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Component returns the configured directory for a named component.
// It satisfies params.ComponentResolver.
func (c *Config) Component(name string) (string, error) {
	switch name {
	case constants.ModelsDirComponent:
		if c.Components.ModelsDir == "" {
			return "", fmt.Errorf("component %q is not configured", name)
		}
		return c.Components.ModelsDir, nil
	}
	return "", fmt.Errorf("unknown component %q", name)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if !(c.Run.DT > 0) {
		return fmt.Errorf("run.dt must be positive, got %v", c.Run.DT)
	}
	if _, err := engine.ParseMajor(c.Run.EngineVersion); err != nil {
		return fmt.Errorf("run.engine_version: %w", err)
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (valid: sqlite, memory)", c.Store.Backend)
	}

	validLevels := map[string]bool{"error": true, "warn": true, "warning": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}

	names := make(map[string]bool)
	for i, in := range c.Inputs {
		if in.Name == "" {
			return fmt.Errorf("inputs[%d]: name is required", i)
		}
		if names[in.Name] {
			return fmt.Errorf("inputs[%d]: duplicate input name %q", i, in.Name)
		}
		names[in.Name] = true
		if len(in.NodeSet) == 0 {
			return fmt.Errorf("input %q: node_set is required", in.Name)
		}
		if in.SpikesFile == "" {
			return fmt.Errorf("input %q: spikes_file is required", in.Name)
		}
	}
	return nil
}

// resolvePaths substitutes manifest variables into every path setting and
// makes relative paths absolute against baseDir.
func (c *Config) resolvePaths(baseDir string) error {
	m := &manifest{vars: c.Manifest, baseDir: baseDir, resolving: make(map[string]bool)}

	fields := []*string{
		&c.Components.ModelsDir,
		&c.Network.File,
		&c.Store.Path,
		&c.Logging.TraceDir,
	}
	for i := range c.Inputs {
		fields = append(fields, &c.Inputs[i].SpikesFile)
	}

	for _, f := range fields {
		if *f == "" {
			continue
		}
		expanded, err := m.expand(*f)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(baseDir, expanded)
		}
		*f = filepath.Clean(expanded)
	}
	return nil
}

type manifest struct {
	vars      map[string]string
	baseDir   string
	resolving map[string]bool
}

// expand substitutes $NAME and ${NAME}. Manifest entries win over the
// environment; BASE_DIR defaults to the config directory.
func (m *manifest) expand(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var firstErr error
	out := os.Expand(s, func(name string) string {
		v, err := m.lookup(name)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	return out, firstErr
}

func (m *manifest) lookup(name string) (string, error) {
	if raw, ok := m.vars[name]; ok {
		if m.resolving[name] {
			return "", fmt.Errorf("manifest variable %q refers to itself", name)
		}
		m.resolving[name] = true
		defer delete(m.resolving, name)
		return m.expand(raw)
	}
	if name == BaseDirVar {
		return m.baseDir, nil
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown manifest variable %q", name)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("POINTNET_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("POINTNET_MODELS_DIR"); v != "" {
		config.Components.ModelsDir = v
	}
	if v := os.Getenv("POINTNET_STORE_BACKEND"); v != "" {
		config.Store.Backend = v
	}
	if v := os.Getenv("POINTNET_STORE_PATH"); v != "" {
		config.Store.Path = v
	}
	if v := os.Getenv("POINTNET_DT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Run.DT = f
		}
	}
	if v := os.Getenv("POINTNET_ENGINE_VERSION"); v != "" {
		config.Run.EngineVersion = v
	}
}
