// Package config loads smoother tuning parameters from JSON. Fields are
// pointers so a partial file only overrides what it names; the Get*
// accessors supply the canonical defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/smoother.defaults.json"

// TuningConfig represents the root configuration for smoother tuning
// parameters.
type TuningConfig struct {
	// Window params
	Lag *float64 `json:"lag,omitempty"` // Trailing window length (timestamp units)

	// Optimizer params
	LambdaInit    *float64 `json:"lambda_init,omitempty"`
	LambdaFactor  *float64 `json:"lambda_factor,omitempty"`
	LambdaMax     *float64 `json:"lambda_max,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
	AbsErrorTol   *float64 `json:"abs_error_tol,omitempty"`
	RelErrorTol   *float64 `json:"rel_error_tol,omitempty"`

	// Trajectory persistence params (optional)
	TrajectoryDBPath *string `json:"trajectory_db_path,omitempty"`
	MigrationsDir    *string `json:"migrations_dir,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON retain their default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches from the current directory up through
// common parent directories. Panics if the file cannot be loaded; intended
// for test setup and binaries that have already validated availability.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Lag != nil && *c.Lag <= 0 {
		return fmt.Errorf("lag must be positive, got %f", *c.Lag)
	}
	if c.LambdaInit != nil && *c.LambdaInit <= 0 {
		return fmt.Errorf("lambda_init must be positive, got %f", *c.LambdaInit)
	}
	if c.LambdaFactor != nil && *c.LambdaFactor <= 1 {
		return fmt.Errorf("lambda_factor must be greater than 1, got %f", *c.LambdaFactor)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	return nil
}

// GetLag returns the lag window length or the default.
func (c *TuningConfig) GetLag() float64 {
	if c.Lag == nil {
		return 2.0
	}
	return *c.Lag
}

// GetLambdaInit returns the initial damping term or the default.
func (c *TuningConfig) GetLambdaInit() float64 {
	if c.LambdaInit == nil {
		return 1e-5
	}
	return *c.LambdaInit
}

// GetLambdaFactor returns the damping adaptation factor or the default.
func (c *TuningConfig) GetLambdaFactor() float64 {
	if c.LambdaFactor == nil {
		return 10
	}
	return *c.LambdaFactor
}

// GetLambdaMax returns the damping ceiling or the default.
func (c *TuningConfig) GetLambdaMax() float64 {
	if c.LambdaMax == nil {
		return 1e5
	}
	return *c.LambdaMax
}

// GetMaxIterations returns the optimizer iteration budget or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 100
	}
	return *c.MaxIterations
}

// GetAbsErrorTol returns the absolute error tolerance or the default.
func (c *TuningConfig) GetAbsErrorTol() float64 {
	if c.AbsErrorTol == nil {
		return 1e-5
	}
	return *c.AbsErrorTol
}

// GetRelErrorTol returns the relative error tolerance or the default.
func (c *TuningConfig) GetRelErrorTol() float64 {
	if c.RelErrorTol == nil {
		return 1e-5
	}
	return *c.RelErrorTol
}

// GetTrajectoryDBPath returns the trajectory database path or empty when
// persistence is disabled.
func (c *TuningConfig) GetTrajectoryDBPath() string {
	if c.TrajectoryDBPath == nil {
		return ""
	}
	return *c.TrajectoryDBPath
}

// GetMigrationsDir returns the schema migrations directory or the default.
func (c *TuningConfig) GetMigrationsDir() string {
	if c.MigrationsDir == nil {
		return "migrations"
	}
	return *c.MigrationsDir
}
