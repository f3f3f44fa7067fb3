package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete core configuration: WAL durability
// policy, segment tiering/compaction, ANN tuning, and placement router
// knobs, per spec.md §6's configuration options table.
type Config struct {
	Profile   string          `mapstructure:"profile"`
	WAL       WALConfig       `mapstructure:"wal"`
	Segment   SegmentConfig   `mapstructure:"segment"`
	ANNTuning ANNTuningConfig `mapstructure:"ann_tuning"`
	Router    RouterConfig    `mapstructure:"router"`
	RestAPI   RestAPIConfig   `mapstructure:"rest_api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WALConfig controls write-ahead-log durability and checkpoint triggers.
type WALConfig struct {
	Path                   string        `mapstructure:"path"`
	SyncEveryRecords       int           `mapstructure:"sync_every_records"`
	AppendBufferMaxRecords int           `mapstructure:"append_buffer_max_records"`
	SyncInterval           time.Duration `mapstructure:"sync_interval"`
	BackgroundFlushOnly    bool          `mapstructure:"background_flush_only"`
	MaxWalRecords          int           `mapstructure:"max_wal_records"`
	MaxWalBytes            int64         `mapstructure:"max_wal_bytes"`
}

// SegmentConfig controls tiered segment publication, compaction, and GC.
type SegmentConfig struct {
	Root                       string        `mapstructure:"root"`
	MaxSegmentSize             int           `mapstructure:"max_segment_size"`
	MaxSegmentsPerTier         int           `mapstructure:"max_segments_per_tier"`
	MaxCompactionInputSegments int           `mapstructure:"max_compaction_input_segments"`
	MaintenanceInterval        time.Duration `mapstructure:"maintenance_interval"`
	MinStaleAge                time.Duration `mapstructure:"min_stale_age"`
}

// ANNTuningConfig controls the vector index's neighbor fan-out and search
// expansion bounds.
type ANNTuningConfig struct {
	MaxNeighborsBase      int     `mapstructure:"max_neighbors_base"`
	MaxNeighborsUpper     int     `mapstructure:"max_neighbors_upper"`
	SearchExpansionFactor float64 `mapstructure:"search_expansion_factor"`
	SearchExpansionMin    int     `mapstructure:"search_expansion_min"`
	SearchExpansionMax    int     `mapstructure:"search_expansion_max"`
}

// RouterConfig controls the placement router's ring geometry and live
// reload.
type RouterConfig struct {
	PlacementCSVPath        string        `mapstructure:"placement_csv_path"`
	VirtualNodesPerShard    int           `mapstructure:"virtual_nodes_per_shard"`
	ReplicaCount            int           `mapstructure:"replica_count"`
	PlacementReloadInterval time.Duration `mapstructure:"placement_reload_interval"`
}

// RestAPIConfig holds the HTTP shell's listener and auth configuration.
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	CORS    bool   `mapstructure:"cors"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

// DefaultConfig returns configuration with the original implementation's
// default knobs (see internal/wal, internal/segment, internal/store/ann,
// internal/placement's own Default*/New constructors).
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".dash")

	return &Config{
		Profile: "default",
		WAL: WALConfig{
			Path:                   filepath.Join(configDir, "dash.wal"),
			SyncEveryRecords:       1,
			AppendBufferMaxRecords: 1,
			SyncInterval:           5 * time.Second,
			BackgroundFlushOnly:    false,
			MaxWalRecords:          100000,
			MaxWalBytes:            64 << 20,
		},
		Segment: SegmentConfig{
			Root:                       filepath.Join(configDir, "segments"),
			MaxSegmentSize:             1000,
			MaxSegmentsPerTier:         8,
			MaxCompactionInputSegments: 4,
			MaintenanceInterval:        10 * time.Minute,
			MinStaleAge:                24 * time.Hour,
		},
		ANNTuning: ANNTuningConfig{
			MaxNeighborsBase:      16,
			MaxNeighborsUpper:     32,
			SearchExpansionFactor: 4.0,
			SearchExpansionMin:    32,
			SearchExpansionMax:    256,
		},
		Router: RouterConfig{
			VirtualNodesPerShard:    64,
			ReplicaCount:            1,
			PlacementReloadInterval: 30 * time.Second,
		},
		RestAPI: RestAPIConfig{
			Enabled: true,
			Port:    7420,
			Host:    "localhost",
			CORS:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from YAML file with fallback to defaults.
// Searches in multiple locations:
// 1. ./config.yaml (current directory)
// 2. ~/.dash/config.yaml (user home)
// 3. /etc/dash/config.yaml (system-wide)
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".dash"))
	v.AddConfigPath("/etc/dash")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadFrom loads configuration from an explicit file path, bypassing the
// search-path fallback Load uses. Used by the CLI's --config flag.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default values in Viper so a partial config file only
// overrides the fields it names.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("profile", def.Profile)

	v.SetDefault("wal.path", def.WAL.Path)
	v.SetDefault("wal.sync_every_records", def.WAL.SyncEveryRecords)
	v.SetDefault("wal.append_buffer_max_records", def.WAL.AppendBufferMaxRecords)
	v.SetDefault("wal.sync_interval", def.WAL.SyncInterval)
	v.SetDefault("wal.background_flush_only", def.WAL.BackgroundFlushOnly)
	v.SetDefault("wal.max_wal_records", def.WAL.MaxWalRecords)
	v.SetDefault("wal.max_wal_bytes", def.WAL.MaxWalBytes)

	v.SetDefault("segment.root", def.Segment.Root)
	v.SetDefault("segment.max_segment_size", def.Segment.MaxSegmentSize)
	v.SetDefault("segment.max_segments_per_tier", def.Segment.MaxSegmentsPerTier)
	v.SetDefault("segment.max_compaction_input_segments", def.Segment.MaxCompactionInputSegments)
	v.SetDefault("segment.maintenance_interval", def.Segment.MaintenanceInterval)
	v.SetDefault("segment.min_stale_age", def.Segment.MinStaleAge)

	v.SetDefault("ann_tuning.max_neighbors_base", def.ANNTuning.MaxNeighborsBase)
	v.SetDefault("ann_tuning.max_neighbors_upper", def.ANNTuning.MaxNeighborsUpper)
	v.SetDefault("ann_tuning.search_expansion_factor", def.ANNTuning.SearchExpansionFactor)
	v.SetDefault("ann_tuning.search_expansion_min", def.ANNTuning.SearchExpansionMin)
	v.SetDefault("ann_tuning.search_expansion_max", def.ANNTuning.SearchExpansionMax)

	v.SetDefault("router.virtual_nodes_per_shard", def.Router.VirtualNodesPerShard)
	v.SetDefault("router.replica_count", def.Router.ReplicaCount)
	v.SetDefault("router.placement_reload_interval", def.Router.PlacementReloadInterval)

	v.SetDefault("rest_api.enabled", def.RestAPI.Enabled)
	v.SetDefault("rest_api.port", def.RestAPI.Port)
	v.SetDefault("rest_api.host", def.RestAPI.Host)
	v.SetDefault("rest_api.cors", def.RestAPI.CORS)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.WAL.Path == "" {
		return fmt.Errorf("wal.path is required")
	}
	if c.WAL.SyncEveryRecords < 0 {
		return fmt.Errorf("wal.sync_every_records must be >= 0")
	}

	if c.Segment.Root == "" {
		return fmt.Errorf("segment.root is required")
	}
	if c.Segment.MaxSegmentSize <= 0 {
		return fmt.Errorf("segment.max_segment_size must be > 0")
	}
	if c.Segment.MaxCompactionInputSegments < 2 {
		return fmt.Errorf("segment.max_compaction_input_segments must be >= 2")
	}

	if c.ANNTuning.SearchExpansionMin > c.ANNTuning.SearchExpansionMax {
		return fmt.Errorf("ann_tuning.search_expansion_min must be <= search_expansion_max")
	}

	if c.Router.VirtualNodesPerShard <= 0 {
		return fmt.Errorf("router.virtual_nodes_per_shard must be > 0")
	}
	if c.Router.ReplicaCount < 1 {
		return fmt.Errorf("router.replica_count must be >= 1")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when REST API is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	return nil
}

// EnsureConfigDir creates the WAL's parent directory if it doesn't exist.
func (c *Config) EnsureConfigDir() error {
	if err := os.MkdirAll(filepath.Dir(c.WAL.Path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the configuration directory.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".dash")
}

// WALPath returns the default WAL file path.
func WALPath() string {
	return filepath.Join(ConfigPath(), "dash.wal")
}
