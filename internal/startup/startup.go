// Package startup loads configuration from the environment and an
// optional .env file, applying defaults and validation before the
// pipeline runs.
package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"photoatlas/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	PhotosDir         string
	DatabasePath      string
	LibraryName       string
	MaxWorkers        int
	BatchSize         int
	IncludeWithoutGeo bool
	UseDirectoryCache bool
	AllowResume       bool
	UseParallelScan   bool
	MetricsAddr       string
}

// LoadConfig reads configuration from environment variables, after
// merging an optional .env file. Flags on the command line override
// these values afterward.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug("No .env file loaded: %v", err)
	}

	cfg := &Config{
		PhotosDir:         getEnv("PHOTOS_DIR", ""),
		DatabasePath:      getEnv("DATABASE_PATH", "photoatlas.db"),
		LibraryName:       getEnv("LIBRARY_NAME", "default"),
		MaxWorkers:        getEnvInt("INDEX_WORKERS", 0),
		BatchSize:         getEnvInt("BATCH_SIZE", 500),
		IncludeWithoutGeo: getEnvBool("INCLUDE_WITHOUT_GEO", false),
		UseDirectoryCache: getEnvBool("USE_DIRECTORY_CACHE", true),
		AllowResume:       getEnvBool("ALLOW_RESUME", true),
		UseParallelScan:   getEnvBool("PARALLEL_SCAN", true),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  PHOTOS_DIR:          %s", cfg.PhotosDir)
	logging.Info("  DATABASE_PATH:       %s", cfg.DatabasePath)
	logging.Info("  LIBRARY_NAME:        %s", cfg.LibraryName)
	logging.Info("  INDEX_WORKERS:       %d (0 = auto)", cfg.MaxWorkers)
	logging.Info("  BATCH_SIZE:          %d", cfg.BatchSize)
	logging.Info("  INCLUDE_WITHOUT_GEO: %v", cfg.IncludeWithoutGeo)
	logging.Info("  USE_DIRECTORY_CACHE: %v", cfg.UseDirectoryCache)
	logging.Info("  ALLOW_RESUME:        %v", cfg.AllowResume)
	logging.Info("  PARALLEL_SCAN:       %v", cfg.UseParallelScan)
	if cfg.MetricsAddr != "" {
		logging.Info("  METRICS_ADDR:        %s", cfg.MetricsAddr)
	}

	return cfg, cfg.Validate()
}

// Validate checks constraints that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("startup: batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("startup: worker count cannot be negative, got %d", c.MaxWorkers)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("startup: database path is required")
	}
	if c.PhotosDir != "" {
		info, err := os.Stat(c.PhotosDir)
		if err != nil {
			return fmt.Errorf("startup: photos directory %s: %w", c.PhotosDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("startup: photos directory %s is not a directory", c.PhotosDir)
		}
	}
	return nil
}

// WorkspaceDir returns the side-file directory next to the database.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(filepath.Dir(c.DatabasePath), ".workspace")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
