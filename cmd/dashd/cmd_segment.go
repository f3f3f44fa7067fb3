package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dashlabs/dash/internal/core"
)

var segmentTenant string

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "Segment lifecycle operations",
}

var segmentPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish segments for a tenant from the current store snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(c *core.Core) error {
			manifest, err := c.PublishSegments(segmentTenant)
			if err != nil {
				return err
			}
			return printJSON(manifest)
		})
	},
}

var segmentCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run one compaction round for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(c *core.Core) error {
			manifest, err := c.CompactSegments(segmentTenant)
			if err != nil {
				return err
			}
			return printJSON(manifest)
		})
	},
}

var segmentHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report tenant/tier/segment counts across the segment root",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(c *core.Core) error {
			health, err := c.SegmentHealth()
			if err != nil {
				return err
			}
			return printJSON(health)
		})
	},
}

func init() {
	for _, sub := range []*cobra.Command{segmentPublishCmd, segmentCompactCmd} {
		sub.Flags().StringVar(&segmentTenant, "tenant", "", "tenant id (required)")
		_ = sub.MarkFlagRequired("tenant")
	}
	segmentCmd.AddCommand(segmentPublishCmd, segmentCompactCmd, segmentHealthCmd)
	rootCmd.AddCommand(segmentCmd)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withCore loads config, opens a core, runs fn against it, and always
// closes it afterward.
func withCore(fn func(*core.Core) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c, err := openCore(cfg)
	if err != nil {
		return fmt.Errorf("opening core: %w", err)
	}
	defer c.Close()
	return fn(c)
}
