package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the local store",
	Long: `Initialize the local store: create the schema, seed baseline reference
data, import operational records from the handoff file if one is configured,
and verify integrity.

Safe to run repeatedly; an already-initialized store completes immediately.
Concurrent invocations share a single underlying initialization.

Examples:
  depot init
  depot init --import-file handoff.jsonl
  depot init --db /path/to/depot.db`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, coord, err := ensureReady(ctx)
		if err != nil {
			if jsonOutput {
				outputJSON(map[string]string{"error": err.Error()})
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				fmt.Fprintln(os.Stderr, "Initialization can be retried once the data is corrected.")
			}
			os.Exit(1)
		}
		defer store.Close()

		st := coord.State()
		if jsonOutput {
			outputJSON(map[string]interface{}{
				"state": st,
				"tier":  store.Tier().String(),
				"path":  store.Path(),
			})
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Store ready at %s (tier: %s)\n", green("✓"), store.Path(), store.Tier())
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
