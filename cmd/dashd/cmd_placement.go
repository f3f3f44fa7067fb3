package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dashlabs/dash/internal/core"
	"github.com/dashlabs/dash/internal/placement"
)

var (
	placementTenant     string
	placementEntityKey  string
	placementShardID    uint32
	placementNodeID     string
	placementPreference string
)

var placementCmd = &cobra.Command{
	Use:   "placement",
	Short: "Shard placement routing operations",
}

var placementRouteWriteCmd = &cobra.Command{
	Use:   "route-write",
	Short: "Resolve the write leader for a tenant/entity key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(c *core.Core) error {
			replica, err := c.RouteWrite(placementTenant, placementEntityKey)
			if err != nil {
				return err
			}
			return printJSON(replica)
		})
	},
}

var placementRouteReadCmd = &cobra.Command{
	Use:   "route-read",
	Short: "Resolve a readable replica for a tenant/entity key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(c *core.Core) error {
			replica, err := c.RouteRead(placementTenant, placementEntityKey, placement.ReadPreference(placementPreference))
			if err != nil {
				return err
			}
			return printJSON(replica)
		})
	},
}

var placementPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote a replica to leader for a tenant/shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(c *core.Core) error {
			epoch, err := c.PromoteReplica(placementTenant, placementShardID, placementNodeID)
			if err != nil {
				return err
			}
			fmt.Printf("promoted %s to leader, epoch %d\n", placementNodeID, epoch)
			return nil
		})
	},
}

var placementReloadStatsCmd = &cobra.Command{
	Use:   "reload-stats",
	Short: "Report the placement router's live-reload counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(func(c *core.Core) error {
			return printJSON(c.PlacementReloadStats())
		})
	},
}

func init() {
	for _, sub := range []*cobra.Command{placementRouteWriteCmd, placementRouteReadCmd, placementPromoteCmd} {
		sub.Flags().StringVar(&placementTenant, "tenant", "", "tenant id (required)")
		_ = sub.MarkFlagRequired("tenant")
	}
	placementRouteWriteCmd.Flags().StringVar(&placementEntityKey, "entity-key", "", "entity key (required)")
	_ = placementRouteWriteCmd.MarkFlagRequired("entity-key")

	placementRouteReadCmd.Flags().StringVar(&placementEntityKey, "entity-key", "", "entity key (required)")
	placementRouteReadCmd.Flags().StringVar(&placementPreference, "preference", string(placement.ReadAnyHealthy), "leader_only, prefer_follower, or any_healthy")
	_ = placementRouteReadCmd.MarkFlagRequired("entity-key")

	placementPromoteCmd.Flags().Uint32Var(&placementShardID, "shard", 0, "shard id")
	placementPromoteCmd.Flags().StringVar(&placementNodeID, "node-id", "", "node id to promote (required)")
	_ = placementPromoteCmd.MarkFlagRequired("node-id")

	placementCmd.AddCommand(placementRouteWriteCmd, placementRouteReadCmd, placementPromoteCmd, placementReloadStatsCmd)
	rootCmd.AddCommand(placementCmd)
}
