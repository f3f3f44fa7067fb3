package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dashlabs/dash/internal/domain"
)

var ingestFile string

// ingestBundle is the on-disk JSON shape for `dashd ingest`: one claim plus
// its evidence rows and outgoing edges.
type ingestBundle struct {
	Claim     *domain.Claim       `json:"claim"`
	Evidences []*domain.Evidence  `json:"evidences"`
	Edges     []*domain.ClaimEdge `json:"edges"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a claim bundle",
	Long: `ingest reads a JSON claim bundle ({"claim": ..., "evidences": [...],
"edges": [...]}) from --file, or stdin if --file is omitted, validates it,
and appends it to the WAL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		var err error
		if ingestFile != "" {
			raw, err = os.ReadFile(ingestFile)
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading claim bundle: %w", err)
		}

		var bundle ingestBundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return fmt.Errorf("parsing claim bundle: %w", err)
		}
		if bundle.Claim == nil {
			return fmt.Errorf("claim bundle missing \"claim\"")
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		c, err := openCore(cfg)
		if err != nil {
			return fmt.Errorf("opening core: %w", err)
		}
		defer c.Close()

		if err := c.Ingest(bundle.Claim, bundle.Evidences, bundle.Edges); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}

		if !quiet {
			fmt.Printf("ingested claim %s\n", bundle.Claim.ClaimID)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to a JSON claim bundle (defaults to stdin)")
	rootCmd.AddCommand(ingestCmd)
}
