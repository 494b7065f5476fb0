// Package config provides configuration loading for the astrofit
// application. It handles loading solver data configuration (index
// files and catalog column mappings) and application settings from
// environment variables and a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Environment variable names.
const (
	// EnvLogLevel is the log level (debug, info, warn, error).
	EnvLogLevel = "ASTROFIT_LOG_LEVEL"

	// EnvDataDir is the directory relative index file paths resolve
	// against.
	EnvDataDir = "ASTROFIT_DATA_DIR"

	// EnvSolverConfig is the path to the solver data configuration JSON
	// file.
	EnvSolverConfig = "ASTROFIT_SOLVER_CONFIG"
)

// Default values.
const (
	DefaultLogLevel = "info"
)

// Configuration errors.
var (
	// ErrSolverConfigNotFound indicates the solver data config file does
	// not exist.
	ErrSolverConfigNotFound = errors.New("solver data configuration file not found")

	// ErrSolverConfigInvalid indicates the solver data config is not
	// valid JSON.
	ErrSolverConfigInvalid = errors.New("solver data configuration is not valid JSON")
)

// SolverDataConfig describes the blind-solve index files and the
// reference catalog column layout. It is loaded from a JSON file so
// installations with differently-shaped catalogs can remap columns
// without rebuilding.
type SolverDataConfig struct {
	// IndexFiles are the blind-solve index files. Relative paths are
	// resolved against the data directory at load time.
	IndexFiles []string `json:"index_files"`

	// IDColumn names the catalog identifier column.
	IDColumn string `json:"id_column"`

	// MagColumnMap maps a filter name to its magnitude column.
	MagColumnMap map[string]string `json:"mag_column_map"`

	// DefaultMagColumn is used for filters absent from MagColumnMap.
	DefaultMagColumn string `json:"default_mag_column"`

	// MagErrColumnMap maps a filter name to its magnitude-error column.
	MagErrColumnMap map[string]string `json:"mag_err_column_map"`

	// DefaultMagErrColumn is used for filters absent from MagErrColumnMap.
	DefaultMagErrColumn string `json:"default_mag_err_column"`

	// StarGalaxyColumn names the optional star/galaxy flag column.
	StarGalaxyColumn string `json:"star_galaxy_column"`

	// VariableColumn names the optional variability flag column.
	VariableColumn string `json:"variable_column"`
}

// Config holds all application configuration.
type Config struct {
	// SolverData holds index file paths and catalog column mappings.
	// Nil when no solver config file is configured.
	SolverData *SolverDataConfig

	// DataDir is the base directory for relative index paths.
	DataDir string

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string
}

// Load loads the application configuration from environment variables.
// The solver data file named by ASTROFIT_SOLVER_CONFIG is optional;
// when unset, blind solving and catalog column remapping use built-in
// defaults.
func Load() (*Config, error) {
	logLevel := os.Getenv(EnvLogLevel)
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}
	dataDir := os.Getenv(EnvDataDir)

	cfg := &Config{
		DataDir:  dataDir,
		LogLevel: logLevel,
	}

	solverConfigPath := os.Getenv(EnvSolverConfig)
	if solverConfigPath == "" {
		return cfg, nil
	}

	solverData, err := loadSolverDataConfig(solverConfigPath, dataDir)
	if err != nil {
		return nil, err
	}
	cfg.SolverData = solverData
	return cfg, nil
}

// loadSolverDataConfig reads and parses the solver data configuration,
// resolving relative index paths against dataDir.
func loadSolverDataConfig(path, dataDir string) (*SolverDataConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSolverConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read solver data config: %w", err)
	}

	var cfg SolverDataConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSolverConfigInvalid, err)
	}

	for i, idx := range cfg.IndexFiles {
		if !filepath.IsAbs(idx) && dataDir != "" {
			cfg.IndexFiles[i] = filepath.Join(dataDir, idx)
		}
	}
	return &cfg, nil
}
