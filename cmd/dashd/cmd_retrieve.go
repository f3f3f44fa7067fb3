package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dashlabs/dash/internal/domain"
	"github.com/dashlabs/dash/internal/retrieval"
)

var (
	retrieveTenant     string
	retrieveQuery      string
	retrieveTopK       int
	retrieveStanceMode string
	retrieveEntities   []string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Run a ranked retrieval query",
	Long:  `retrieve runs the retrieval planner against the current store and prints the ranked results as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		c, err := openCore(cfg)
		if err != nil {
			return fmt.Errorf("opening core: %w", err)
		}
		defer c.Close()

		resp, err := c.Retrieve(retrieval.Request{
			TenantID:      retrieveTenant,
			QueryText:     retrieveQuery,
			TopK:          retrieveTopK,
			StanceMode:    domain.StanceMode(retrieveStanceMode),
			EntityFilters: retrieveEntities,
		})
		if err != nil {
			return fmt.Errorf("retrieve: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	retrieveCmd.Flags().StringVar(&retrieveTenant, "tenant", "", "tenant id (required)")
	retrieveCmd.Flags().StringVar(&retrieveQuery, "query", "", "query text")
	retrieveCmd.Flags().IntVar(&retrieveTopK, "top-k", 20, "number of results to return")
	retrieveCmd.Flags().StringVar(&retrieveStanceMode, "stance-mode", string(domain.StanceModeBalanced), "balanced or support_only")
	retrieveCmd.Flags().StringSliceVar(&retrieveEntities, "entity", nil, "entity filter (repeatable)")
	_ = retrieveCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(retrieveCmd)
}
