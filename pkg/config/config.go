// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all SpikeFlow configuration.
type Config struct {
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Filter    FilterConfig    `yaml:"filter"`
	Spikes    SpikesConfig    `yaml:"spikes"`
	Sorting   SortingConfig   `yaml:"sorting"`
	Mappings  MappingsConfig  `yaml:"mappings"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig for the HTTP API.
type ServerConfig struct {
	Port          int      `yaml:"port"`
	Host          string   `yaml:"host"`
	MaxUploadSize string   `yaml:"max_upload_size"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// DatasetConfig controls dataset discovery and extraction.
type DatasetConfig struct {
	Dir           string `yaml:"dir"`            // folder holding dataset files
	LabelsDir     string `yaml:"labels_dir"`     // folder holding spike label files
	BinaryRows    int    `yaml:"binary_rows"`    // channel count for raw interleaved binaries
	MaxWindowSpan int    `yaml:"max_window_span"` // server-side cap on end-start
}

// FilterConfig carries window-filter defaults.
type FilterConfig struct {
	SamplingRate float64 `yaml:"sampling_rate"` // Hz
	Order        int     `yaml:"order"`
	EdgePad      int     `yaml:"edge_pad"` // samples of padding either side of a window
	HighpassHz   float64 `yaml:"highpass_hz"`
	LowpassHz    float64 `yaml:"lowpass_hz"`
}

// SpikesConfig carries spike-detection defaults.
type SpikesConfig struct {
	Dilation int `yaml:"dilation"` // half-width of the mask around a precomputed peak
}

// SortingConfig controls the background job pool.
type SortingConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

// MappingsConfig selects the dataset-to-label mapping backend.
type MappingsConfig struct {
	Backend string      `yaml:"backend"` // file | redis
	Path    string      `yaml:"path"`    // file backend: JSON database path
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig for the redis mapping backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	Prefix   string `yaml:"prefix"`
}

// StorageConfig for object-storage dataset transfer.
type StorageConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	CacheDir string `yaml:"cache_dir"`
}

// TelemetryConfig for optional trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	spikeflowDir := filepath.Join(homeDir, ".spikeflow")

	return &Config{
		Version: 1,
		Server: ServerConfig{
			Port:          5000,
			Host:          "localhost",
			MaxUploadSize: "50GB",
			CORSOrigins:   []string{"*"},
		},
		Dataset: DatasetConfig{
			Dir:           "datasets",
			LabelsDir:     filepath.Join("datasets", "labels"),
			BinaryRows:    385,
			MaxWindowSpan: 20000,
		},
		Filter: FilterConfig{
			SamplingRate: 30000,
			Order:        4,
			EdgePad:      100,
			HighpassHz:   300,
			LowpassHz:    3000,
		},
		Spikes: SpikesConfig{
			Dilation: 5,
		},
		Sorting: SortingConfig{
			Workers:    2,
			QueueDepth: 64,
		},
		Mappings: MappingsConfig{
			Backend: "file",
			Path:    filepath.Join("datasets", "dataset_labels_mapping.json"),
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "spikeflow:mappings:",
			},
		},
		Storage: StorageConfig{
			Region:   "us-east-1",
			CacheDir: filepath.Join(spikeflowDir, "cache"),
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/spikeflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".spikeflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".spikeflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Server
	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}
	if src.Server.MaxUploadSize != "" {
		m.config.Server.MaxUploadSize = src.Server.MaxUploadSize
	}
	if len(src.Server.CORSOrigins) > 0 {
		m.config.Server.CORSOrigins = src.Server.CORSOrigins
	}

	// Dataset
	if src.Dataset.Dir != "" {
		m.config.Dataset.Dir = src.Dataset.Dir
	}
	if src.Dataset.LabelsDir != "" {
		m.config.Dataset.LabelsDir = src.Dataset.LabelsDir
	}
	if src.Dataset.BinaryRows != 0 {
		m.config.Dataset.BinaryRows = src.Dataset.BinaryRows
	}
	if src.Dataset.MaxWindowSpan != 0 {
		m.config.Dataset.MaxWindowSpan = src.Dataset.MaxWindowSpan
	}

	// Filter
	if src.Filter.SamplingRate != 0 {
		m.config.Filter.SamplingRate = src.Filter.SamplingRate
	}
	if src.Filter.Order != 0 {
		m.config.Filter.Order = src.Filter.Order
	}
	if src.Filter.EdgePad != 0 {
		m.config.Filter.EdgePad = src.Filter.EdgePad
	}
	if src.Filter.HighpassHz != 0 {
		m.config.Filter.HighpassHz = src.Filter.HighpassHz
	}
	if src.Filter.LowpassHz != 0 {
		m.config.Filter.LowpassHz = src.Filter.LowpassHz
	}

	// Spikes
	if src.Spikes.Dilation != 0 {
		m.config.Spikes.Dilation = src.Spikes.Dilation
	}

	// Sorting
	if src.Sorting.Workers != 0 {
		m.config.Sorting.Workers = src.Sorting.Workers
	}
	if src.Sorting.QueueDepth != 0 {
		m.config.Sorting.QueueDepth = src.Sorting.QueueDepth
	}

	// Mappings
	if src.Mappings.Backend != "" {
		m.config.Mappings.Backend = src.Mappings.Backend
	}
	if src.Mappings.Path != "" {
		m.config.Mappings.Path = src.Mappings.Path
	}
	if src.Mappings.Redis.Address != "" {
		m.config.Mappings.Redis = src.Mappings.Redis
	}

	// Storage
	if src.Storage.Bucket != "" {
		m.config.Storage.Bucket = src.Storage.Bucket
	}
	if src.Storage.Region != "" {
		m.config.Storage.Region = src.Storage.Region
	}
	if src.Storage.Endpoint != "" {
		m.config.Storage.Endpoint = src.Storage.Endpoint
	}
	if src.Storage.CacheDir != "" {
		m.config.Storage.CacheDir = src.Storage.CacheDir
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("SPIKEFLOW_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			m.config.Server.Port = port
		}
	}

	if v := os.Getenv("SPIKEFLOW_DATASET_DIR"); v != "" {
		m.config.Dataset.Dir = v
	}

	if v := os.Getenv("SPIKEFLOW_LABELS_DIR"); v != "" {
		m.config.Dataset.LabelsDir = v
	}

	if v := os.Getenv("SPIKEFLOW_MAPPINGS_BACKEND"); v != "" {
		m.config.Mappings.Backend = v
	}

	if v := os.Getenv("SPIKEFLOW_REDIS_ADDR"); v != "" {
		m.config.Mappings.Redis.Address = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".spikeflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
