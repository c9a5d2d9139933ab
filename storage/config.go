package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds buffer pool configuration
type Config struct {
	// Buffer pool configuration
	BufferPoolSize uint32 `json:"buffer_pool_size"` // Number of frames in the pool
	CacheReplacer  string `json:"cache_replacer"`   // Replacement policy (lru, 2q)

	// Disk configuration
	DataDirectory string `json:"data_directory"` // Directory for data files
	PageSize      uint32 `json:"page_size"`      // Page size in bytes (must match PageSize)
	UseMmap       bool   `json:"use_mmap"`       // Use the mmap disk manager

	// WAL configuration
	WALDirectory      string `json:"wal_directory"`       // Directory for WAL files
	WALEnabled        bool   `json:"wal_enabled"`         // Whether WAL is enabled
	WALCompressionAlg string `json:"wal_compression_alg"` // Compression algorithm (none, snappy, lz4)

	// Performance configuration
	EnableMetrics bool   `json:"enable_metrics"` // Whether to collect performance metrics
	LogLevel      string `json:"log_level"`      // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BufferPoolSize:    100,
		CacheReplacer:     "lru",
		DataDirectory:     "./data",
		PageSize:          PageSize,
		UseMmap:           false,
		WALDirectory:      "./wal",
		WALEnabled:        false,
		WALCompressionAlg: "none",
		EnableMetrics:     true,
		LogLevel:          "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables,
// falling back to default values when a variable is not set
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	// Buffer pool
	if val := os.Getenv("PAGEPOOL_BUFFER_POOL_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.BufferPoolSize = uint32(size)
		}
	}

	if val := os.Getenv("PAGEPOOL_CACHE_REPLACER"); val != "" {
		config.CacheReplacer = val
	}

	// Disk
	if val := os.Getenv("PAGEPOOL_DATA_DIRECTORY"); val != "" {
		config.DataDirectory = val
	}

	if val := os.Getenv("PAGEPOOL_USE_MMAP"); val != "" {
		config.UseMmap = val == "true" || val == "1"
	}

	// WAL
	if val := os.Getenv("PAGEPOOL_WAL_DIRECTORY"); val != "" {
		config.WALDirectory = val
	}

	if val := os.Getenv("PAGEPOOL_WAL_ENABLED"); val != "" {
		config.WALEnabled = val == "true" || val == "1"
	}

	if val := os.Getenv("PAGEPOOL_WAL_COMPRESSION_ALG"); val != "" {
		config.WALCompressionAlg = val
	}

	// Performance
	if val := os.Getenv("PAGEPOOL_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("PAGEPOOL_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BufferPoolSize == 0 {
		return fmt.Errorf("buffer pool size must be greater than 0")
	}

	switch c.CacheReplacer {
	case "lru", "2q":
	default:
		return fmt.Errorf("invalid cache replacer: %s (must be lru or 2q)", c.CacheReplacer)
	}

	// The page size is a build-time constant shared with the disk
	// manager; a config that disagrees would corrupt the page file.
	if c.PageSize != PageSize {
		return fmt.Errorf("page size must be %d, got %d", PageSize, c.PageSize)
	}

	if c.DataDirectory == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.WALEnabled && c.WALDirectory == "" {
		return fmt.Errorf("WAL directory cannot be empty when WAL is enabled")
	}

	switch c.WALCompressionAlg {
	case "none", "snappy", "lz4":
	default:
		return fmt.Errorf("invalid WAL compression algorithm: %s (must be none, snappy, or lz4)", c.WALCompressionAlg)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
