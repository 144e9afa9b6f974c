package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute builds and runs the gateway CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "gateway", Short: "Market-data aggregation gateway"}
	root.AddCommand(runCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(healthcheckCmd())
	log.Info().Msg("gateway starting")
	return root.ExecuteContext(ctx)
}
