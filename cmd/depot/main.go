// depot is the local persistence core for intermittently-connected field
// clients: a durable SQLite store with corruption recovery, single-flight
// initialization and an outbound sync queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haulhq/depot/internal/bootstrap"
	"github.com/haulhq/depot/internal/config"
	"github.com/haulhq/depot/internal/seed"
	"github.com/haulhq/depot/internal/storage"
	"github.com/haulhq/depot/internal/storage/sqlite"
)

// Version info, set at build time via -ldflags
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	dbPath     string
	importFile string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "depot",
	Short: "depot - resilient local store with a durable sync outbox",
	Long: `depot keeps a local SQLite store usable through corruption and start-up
races, and buffers outbound changes in a priority-ordered retry queue until a
remote backend confirms delivery.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Priority: flags > config file + env vars > defaults
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if !cmd.Flags().Changed("db") && dbPath == "" {
			dbPath = config.GetString("db")
		}
		if !cmd.Flags().Changed("import-file") && importFile == "" {
			importFile = config.GetString("import-file")
		}
		if dbPath == "" {
			dbPath = defaultDBPath()
		}
	},
}

func defaultDBPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".depot", "depot.db")
	}
	return filepath.Join(".depot", "depot.db")
}

// openStore opens the store through the recovery ladder. The returned store
// is always usable; check its Tier for how the open went.
func openStore() (storage.Store, error) {
	store, err := sqlite.Open(dbPath, storage.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", dbPath, err)
	}
	return store, nil
}

// ensureReady opens the store and runs the initialization pipeline.
func ensureReady(ctx context.Context) (storage.Store, *bootstrap.Coordinator, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	coord := bootstrap.New(store, seed.New(store, importFile), bootstrap.Config{})
	if err := coord.EnsureReady(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, coord, nil
}

func outputJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(map[string]string{"version": Version, "build": Build})
			return
		}
		fmt.Printf("depot version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to database file")
	rootCmd.PersistentFlags().StringVar(&importFile, "import-file", "", "Path to JSONL handoff file imported during init")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
