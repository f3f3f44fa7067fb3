// Package testutil provides testing utilities and helpers for dash.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dashlabs/dash/internal/core"
	"github.com/dashlabs/dash/internal/placement"
	"github.com/dashlabs/dash/internal/segment"
	"github.com/dashlabs/dash/internal/store/ann"
	"github.com/dashlabs/dash/internal/wal"
	"github.com/dashlabs/dash/pkg/config"
)

// NewTempCore wires a fresh WAL, store, and segment root under
// t.TempDir() and opens a *core.Core against them. cfg may be nil, in
// which case config.DefaultConfig() is used; any WAL/segment root paths it
// names are ignored in favor of the temp directory so tests never collide.
// The core is closed (background loops stopped, if started) automatically
// via t.Cleanup.
func NewTempCore(t *testing.T, cfg *config.Config) *core.Core {
	t.Helper()

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	dir := t.TempDir()

	c, err := core.Open(core.Config{
		WalPath:          filepath.Join(dir, "dash.wal"),
		SegmentRoot:      filepath.Join(dir, "segments"),
		PlacementCSVPath: cfg.Router.PlacementCSVPath,
		WritePolicy: wal.WritePolicy{
			SyncEveryRecords:       cfg.WAL.SyncEveryRecords,
			AppendBufferMaxRecords: cfg.WAL.AppendBufferMaxRecords,
			BackgroundFlushOnly:    cfg.WAL.BackgroundFlushOnly,
		},
		CheckpointPolicy: wal.CheckpointPolicy{
			MaxWalRecords: intPtr(cfg.WAL.MaxWalRecords),
			MaxWalBytes:   int64Ptr(cfg.WAL.MaxWalBytes),
		},
		ANNTuning: ann.TuningConfig{
			MaxNeighborsBase:      cfg.ANNTuning.MaxNeighborsBase,
			MaxNeighborsUpper:     cfg.ANNTuning.MaxNeighborsUpper,
			SearchExpansionFactor: cfg.ANNTuning.SearchExpansionFactor,
			SearchExpansionMin:    cfg.ANNTuning.SearchExpansionMin,
			SearchExpansionMax:    cfg.ANNTuning.SearchExpansionMax,
		},
		SegmentEngine: segment.Engine{
			Root:                      filepath.Join(dir, "segments"),
			MaxSegmentSize:            cfg.Segment.MaxSegmentSize,
			CompactionSchedulerConfig: segment.CompactionSchedulerConfig{MaxSegmentsPerTier: cfg.Segment.MaxSegmentsPerTier, MaxCompactionInputSegments: cfg.Segment.MaxCompactionInputSegments},
			MinStaleAge:               cfg.Segment.MinStaleAge,
		},
		RingConfig:        placement.RingConfig{ShardIDs: []uint32{0}, VirtualNodesPerShard: uint32(cfg.Router.VirtualNodesPerShard), ReplicaCount: cfg.Router.ReplicaCount},
		InitialPlacements: nil,
	})
	if err != nil {
		t.Fatalf("NewTempCore: open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func intPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func int64Ptr(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// TempDir creates a temporary directory for testing.
// Automatically cleaned up after test completion.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// TempFile creates a temporary file for testing.
// Automatically cleaned up after test completion.
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	return path
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()

	if got != want {
		t.Errorf("Got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if str doesn't contain substr.
func AssertStringContains(t *testing.T, str, substr string) {
	t.Helper()

	if !containsString(str, substr) {
		t.Errorf("String %q does not contain %q", str, substr)
	}
}

func containsString(str, substr string) bool {
	return len(str) >= len(substr) && (str == substr || findSubstring(str, substr))
}

func findSubstring(str, substr string) bool {
	for i := 0; i <= len(str)-len(substr); i++ {
		if str[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
