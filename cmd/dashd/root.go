package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dashlabs/dash/internal/core"
	"github.com/dashlabs/dash/internal/logging"
	"github.com/dashlabs/dash/internal/placement"
	"github.com/dashlabs/dash/internal/segment"
	"github.com/dashlabs/dash/internal/store/ann"
	"github.com/dashlabs/dash/internal/wal"
	"github.com/dashlabs/dash/pkg/config"
)

var (
	// Version is set during build
	Version = "0.1.0"

	// Global flags
	cfgFile string
	quiet   bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "dashd",
	Short: "Tiered claim/evidence knowledge store",
	Long: `dashd runs the durable WAL-backed claim/evidence/edge store: ingestion,
tiered segment publication and compaction, a consistent-hash placement
router, and the ranked retrieval planner.

Examples:
  dashd serve                        # run the HTTP API and background loops
  dashd ingest --file claim.json     # ingest a claim bundle from a file
  dashd retrieve --tenant t1 --query "database outage"
  dashd segment publish --tenant t1
  dashd placement route-write --tenant t1 --entity-key user-42`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log_level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-essential output")
}

// loadConfig loads configuration, honoring --config when set, and
// initializes the global logger from its logging section.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logLevel := cfg.Logging.Level
	if rootCmd.PersistentFlags().Changed("log_level") {
		logLevel, _ = rootCmd.PersistentFlags().GetString("log_level")
	}
	logging.Init(logging.Config{Level: logLevel, Format: cfg.Logging.Format, Output: "stderr"})

	return cfg, nil
}

// openCore opens a *core.Core from the loaded configuration.
func openCore(cfg *config.Config) (*core.Core, error) {
	if err := cfg.EnsureConfigDir(); err != nil {
		return nil, err
	}

	return core.Open(core.Config{
		WalPath:          cfg.WAL.Path,
		SegmentRoot:      cfg.Segment.Root,
		PlacementCSVPath: cfg.Router.PlacementCSVPath,
		WritePolicy: wal.WritePolicy{
			SyncEveryRecords:       cfg.WAL.SyncEveryRecords,
			AppendBufferMaxRecords: cfg.WAL.AppendBufferMaxRecords,
			BackgroundFlushOnly:    cfg.WAL.BackgroundFlushOnly,
		},
		CheckpointPolicy: wal.CheckpointPolicy{
			MaxWalRecords: nonZeroIntPtr(cfg.WAL.MaxWalRecords),
			MaxWalBytes:   nonZeroInt64Ptr(cfg.WAL.MaxWalBytes),
		},
		ANNTuning: ann.TuningConfig{
			MaxNeighborsBase:      cfg.ANNTuning.MaxNeighborsBase,
			MaxNeighborsUpper:     cfg.ANNTuning.MaxNeighborsUpper,
			SearchExpansionFactor: cfg.ANNTuning.SearchExpansionFactor,
			SearchExpansionMin:    cfg.ANNTuning.SearchExpansionMin,
			SearchExpansionMax:    cfg.ANNTuning.SearchExpansionMax,
		},
		SegmentEngine: segment.Engine{
			Root:           cfg.Segment.Root,
			MaxSegmentSize: cfg.Segment.MaxSegmentSize,
			CompactionSchedulerConfig: segment.CompactionSchedulerConfig{
				MaxSegmentsPerTier:         cfg.Segment.MaxSegmentsPerTier,
				MaxCompactionInputSegments: cfg.Segment.MaxCompactionInputSegments,
			},
			MinStaleAge: cfg.Segment.MinStaleAge,
		},
		RingConfig: placement.RingConfig{
			ShardIDs:             []uint32{0},
			VirtualNodesPerShard: uint32(cfg.Router.VirtualNodesPerShard),
			ReplicaCount:         cfg.Router.ReplicaCount,
		},
	})
}

func nonZeroIntPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func nonZeroInt64Ptr(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
