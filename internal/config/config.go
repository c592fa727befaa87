package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/vjranagit/plotbuffer/pkg/history"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Series  SeriesConfig  `json:"series"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `json:"listen_addr"`
	Timeout    time.Duration `json:"timeout"`
}

// StorageConfig holds history store configuration
type StorageConfig struct {
	Path             string `json:"path"`
	CompressionLevel int    `json:"compression_level"`
	EnableWAL        bool   `json:"enable_wal"`
	CacheSize        int    `json:"cache_size"`
}

// SeriesConfig describes the live series served to plot clients
type SeriesConfig struct {
	Key          string  `json:"key"`
	XKey         string  `json:"x_key"`
	YKey         string  `json:"y_key"`
	Name         string  `json:"name"`
	Color        string  `json:"color"`
	Markers      bool    `json:"markers"`
	Units        string  `json:"units"`
	Precision    int     `json:"precision"`
	WarningLow   float64 `json:"warning_low"`
	WarningHigh  float64 `json:"warning_high"`
	CriticalLow  float64 `json:"critical_low"`
	CriticalHigh float64 `json:"critical_high"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ":9090"),
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Path:             getEnv("STORAGE_PATH", "./data"),
			CompressionLevel: getEnvInt("COMPRESSION_LEVEL", 2),
			EnableWAL:        getEnvBool("ENABLE_WAL", true),
			CacheSize:        getEnvInt("CACHE_SIZE", 100),
		},
		Series: SeriesConfig{
			Key:          getEnv("SERIES_KEY", "power"),
			XKey:         getEnv("SERIES_X_KEY", "timestamp"),
			YKey:         getEnv("SERIES_Y_KEY", "value"),
			Name:         getEnv("SERIES_NAME", "Power"),
			Color:        getEnv("SERIES_COLOR", "#1f77b4"),
			Markers:      getEnvBool("SERIES_MARKERS", false),
			Units:        getEnv("SERIES_UNITS", ""),
			Precision:    getEnvInt("SERIES_PRECISION", 2),
			WarningLow:   getEnvFloat("WARNING_LOW", math.Inf(-1)),
			WarningHigh:  getEnvFloat("WARNING_HIGH", math.Inf(1)),
			CriticalLow:  getEnvFloat("CRITICAL_LOW", math.Inf(-1)),
			CriticalHigh: getEnvFloat("CRITICAL_HIGH", math.Inf(1)),
		},
	}
}

// ToHistoryConfig converts to history.Config
func (c *Config) ToHistoryConfig() *history.Config {
	return &history.Config{
		Path:             c.Storage.Path,
		XKey:             c.Series.XKey,
		YKey:             c.Series.YKey,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Series.Key == "" {
		return fmt.Errorf("series key is required")
	}

	if c.Series.XKey == "" || c.Series.YKey == "" {
		return fmt.Errorf("series x and y keys are required")
	}

	if c.Series.XKey == c.Series.YKey {
		return fmt.Errorf("series x and y keys must differ")
	}

	if c.Series.WarningLow > c.Series.WarningHigh {
		return fmt.Errorf("warning low exceeds warning high")
	}

	if c.Series.CriticalLow > c.Series.CriticalHigh {
		return fmt.Errorf("critical low exceeds critical high")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
