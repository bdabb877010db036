package config

import (
	"os"
	"runtime"
	"strconv"

	"diffex/domain/core"

	"github.com/joho/godotenv"
)

// Config holds the engine configuration. Significance thresholds are
// deliberately caller-facing configuration rather than constants baked into
// the classifier.
type Config struct {
	Engine     EngineConfig
	Thresholds ThresholdConfig
	Database   DatabaseConfig
	Export     ExportConfig
}

// EngineConfig holds numerical engine settings
type EngineConfig struct {
	Workers     int     // bounded worker pool size for per-feature work
	Pseudocount float64 // added before the log transform
	TrendBins   int     // bins of the mean-variance shrinkage trend
	TrendWeight float64 // shrinkage weight toward the trend
}

// ThresholdConfig holds significance and display-label thresholds
type ThresholdConfig struct {
	QValue       float64 // q-value cutoff for the significance flag
	Effect       float64 // minimum absolute effect size for significance
	LabelQValue  float64 // q-value cutoff for the display-label subset
	LabelEffect  float64 // effect cutoff for the display-label subset
}

// DatabaseConfig holds result persistence settings
type DatabaseConfig struct {
	URL string
}

// ExportConfig holds spreadsheet export settings
type ExportConfig struct {
	Path string
}

// Load reads configuration from the environment, consulting .env when
// present, and validates it
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Engine: EngineConfig{
			Workers:     getEnvIntOrDefault("DIFFEX_WORKERS", runtime.NumCPU()),
			Pseudocount: getEnvFloatOrDefault("DIFFEX_PSEUDOCOUNT", 0.5),
			TrendBins:   getEnvIntOrDefault("DIFFEX_TREND_BINS", 20),
			TrendWeight: getEnvFloatOrDefault("DIFFEX_TREND_WEIGHT", 3.0),
		},
		Thresholds: ThresholdConfig{
			QValue:      getEnvFloatOrDefault("DIFFEX_Q_THRESHOLD", 0.05),
			Effect:      getEnvFloatOrDefault("DIFFEX_EFFECT_THRESHOLD", 0),
			LabelQValue: getEnvFloatOrDefault("DIFFEX_LABEL_Q_THRESHOLD", 0.001),
			LabelEffect: getEnvFloatOrDefault("DIFFEX_LABEL_EFFECT_THRESHOLD", 1.0),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Export: ExportConfig{
			Path: getEnvOrDefault("DIFFEX_EXPORT_PATH", "results.xlsx"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Engine.Workers < 1 {
		return core.ConfigError("DIFFEX_WORKERS must be at least 1, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.TrendBins < 1 {
		return core.ConfigError("DIFFEX_TREND_BINS must be at least 1, got %d", cfg.Engine.TrendBins)
	}
	if cfg.Engine.TrendWeight < 0 {
		return core.ConfigError("DIFFEX_TREND_WEIGHT must be non-negative")
	}
	if cfg.Thresholds.QValue < 0 || cfg.Thresholds.QValue > 1 {
		return core.ConfigError("DIFFEX_Q_THRESHOLD must be in [0,1]")
	}
	if cfg.Thresholds.LabelQValue < 0 || cfg.Thresholds.LabelQValue > 1 {
		return core.ConfigError("DIFFEX_LABEL_Q_THRESHOLD must be in [0,1]")
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
