package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/haulhq/depot/internal/seed"
	"github.com/haulhq/depot/internal/storage"
)

// Status constants for doctor checks
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

type doctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // statusOK, statusWarning, or statusError
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

type doctorResult struct {
	Path       string        `json:"path"`
	Checks     []doctorCheck `json:"checks"`
	OverallOK  bool          `json:"overall_ok"`
	CLIVersion string        `json:"cli_version"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check local store health",
	Long: `Sanity check the local store.

This command checks:
  - Which recovery tier the store opened at
  - SQLite integrity (PRAGMA integrity_check)
  - Foreign key consistency (PRAGMA foreign_key_check)
  - Baseline reference data presence
  - Quarantined database files from past corruption events

Examples:
  depot doctor           # Check the configured store
  depot doctor --json    # Machine-readable output`,
	Run: func(cmd *cobra.Command, args []string) {
		result := runDiagnostics()

		if jsonOutput {
			outputJSON(result)
		} else {
			printDiagnostics(result)
		}

		if !result.OverallOK {
			os.Exit(1)
		}
	},
}

func runDiagnostics() doctorResult {
	result := doctorResult{
		Path:       dbPath,
		CLIVersion: Version,
		OverallOK:  true,
	}

	store, err := openStore()
	if err != nil {
		result.Checks = append(result.Checks, doctorCheck{
			Name:    "Store open",
			Status:  statusError,
			Message: err.Error(),
			Fix:     "Check file permissions and free disk space",
		})
		result.OverallOK = false
		return result
	}
	defer store.Close()

	ctx := context.Background()

	tierCheck := checkTier(store)
	result.Checks = append(result.Checks, tierCheck)
	if tierCheck.Status == statusError {
		result.OverallOK = false
	}

	integrityCheck := checkIntegrity(ctx, store)
	result.Checks = append(result.Checks, integrityCheck)
	if integrityCheck.Status == statusError {
		result.OverallOK = false
	}

	fkCheck := checkForeignKeys(ctx, store)
	result.Checks = append(result.Checks, fkCheck)
	if fkCheck.Status == statusError {
		result.OverallOK = false
	}

	result.Checks = append(result.Checks, checkBaseline(ctx, store))
	result.Checks = append(result.Checks, checkQuarantine())

	return result
}

func checkTier(store storage.Store) doctorCheck {
	tier := store.Tier()
	switch tier {
	case storage.TierPrimary:
		return doctorCheck{
			Name:    "Recovery tier",
			Status:  statusOK,
			Message: "Primary database opened normally",
		}
	case storage.TierMemory:
		return doctorCheck{
			Name:    "Recovery tier",
			Status:  statusError,
			Message: "Running in-memory only; nothing persists across restarts",
			Fix:     "Check disk space and permissions, then restart",
		}
	default:
		return doctorCheck{
			Name:    "Recovery tier",
			Status:  statusWarning,
			Message: fmt.Sprintf("Store opened at tier %q after a recovery event", tier),
			Fix:     "Review quarantined files and re-sync from the backend if data is missing",
		}
	}
}

func checkIntegrity(ctx context.Context, store storage.Store) doctorCheck {
	var verdict string
	if err := store.QueryRow(ctx, `PRAGMA integrity_check`).Scan(&verdict); err != nil {
		return doctorCheck{
			Name:    "Database integrity",
			Status:  statusError,
			Message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}
	if verdict != "ok" {
		return doctorCheck{
			Name:    "Database integrity",
			Status:  statusError,
			Message: verdict,
			Fix:     "Restart the application; the recovery ladder will quarantine the file",
		}
	}
	return doctorCheck{
		Name:    "Database integrity",
		Status:  statusOK,
		Message: "integrity_check passed",
	}
}

func checkForeignKeys(ctx context.Context, store storage.Store) doctorCheck {
	rows, err := store.Query(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return doctorCheck{
			Name:    "Foreign keys",
			Status:  statusError,
			Message: fmt.Sprintf("foreign_key_check failed: %v", err),
		}
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		violations++
	}
	if err := rows.Err(); err != nil {
		return doctorCheck{
			Name:    "Foreign keys",
			Status:  statusError,
			Message: fmt.Sprintf("foreign_key_check scan failed: %v", err),
		}
	}
	if violations > 0 {
		return doctorCheck{
			Name:    "Foreign keys",
			Status:  statusError,
			Message: fmt.Sprintf("%d foreign key violations", violations),
			Fix:     "Run 'depot init' to re-verify and repair reference data",
		}
	}
	return doctorCheck{
		Name:    "Foreign keys",
		Status:  statusOK,
		Message: "no violations",
	}
}

func checkBaseline(ctx context.Context, store storage.Store) doctorCheck {
	present, err := seed.New(store, "").BaselinePresent(ctx)
	if err != nil {
		return doctorCheck{
			Name:    "Baseline data",
			Status:  statusWarning,
			Message: fmt.Sprintf("could not verify baseline data: %v", err),
			Fix:     "Run 'depot init'",
		}
	}
	if !present {
		return doctorCheck{
			Name:    "Baseline data",
			Status:  statusWarning,
			Message: "baseline reference data missing",
			Fix:     "Run 'depot init'",
		}
	}
	return doctorCheck{
		Name:    "Baseline data",
		Status:  statusOK,
		Message: "reference data seeded",
	}
}

func checkQuarantine() doctorCheck {
	// WAL and SHM siblings quarantine under db-wal.corrupt-* names, so this
	// glob counts one match per corruption event.
	matches, err := filepath.Glob(dbPath + ".corrupt-*")
	if err != nil || len(matches) == 0 {
		return doctorCheck{
			Name:    "Quarantined files",
			Status:  statusOK,
			Message: "none",
		}
	}
	return doctorCheck{
		Name:    "Quarantined files",
		Status:  statusWarning,
		Message: fmt.Sprintf("%d quarantined database file(s) from past corruption", len(matches)),
		Fix:     "Inspect and delete them once you no longer need forensics: " + dbPath + ".corrupt-*",
	}
}

func printDiagnostics(result doctorResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("Checking store at %s\n\n", result.Path)
	for _, check := range result.Checks {
		var mark string
		switch check.Status {
		case statusOK:
			mark = green("✓")
		case statusWarning:
			mark = yellow("⚠")
		default:
			mark = red("✗")
		}
		fmt.Printf("%s %s: %s\n", mark, check.Name, check.Message)
		if check.Fix != "" {
			fmt.Printf("  Fix: %s\n", check.Fix)
		}
	}

	fmt.Println()
	if result.OverallOK {
		fmt.Printf("%s Store is healthy\n", green("✓"))
	} else {
		fmt.Printf("%s Problems found\n", red("✗"))
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
