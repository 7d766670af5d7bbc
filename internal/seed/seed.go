// Package seed ensures baseline reference data exists and imports external
// operational records. Every operation is idempotent: rows are matched by
// natural key and skipped when already present.
package seed

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/haulhq/depot/internal/debug"
	"github.com/haulhq/depot/internal/storage"
	"github.com/haulhq/depot/internal/types"
)

// importFingerprintKey is the metadata key recording the hash of the last
// imported handoff file, so an unchanged file is not re-read.
const importFingerprintKey = "import_fingerprint"

// BaselineCategories are the task categories every installation starts with.
var BaselineCategories = []string{
	"inspection",
	"repair",
	"cleaning",
	"safety",
	"delivery",
}

// BaselineBuildings are the buildings every installation starts with. Real
// buildings arrive via import; the unassigned placeholder keeps work orders
// representable before that happens.
var BaselineBuildings = []types.Building{
	{ID: "unassigned", Name: "Unassigned"},
}

// Seeder seeds baseline rows and imports operational records.
type Seeder struct {
	store      storage.Store
	importPath string
}

// New creates a Seeder. importPath is the optional JSONL handoff file of
// work orders; empty means nothing to import.
func New(store storage.Store, importPath string) *Seeder {
	return &Seeder{store: store, importPath: importPath}
}

// EnsureBaseline inserts any missing baseline reference rows, skipping ones
// that already exist by natural key.
func (s *Seeder) EnsureBaseline(ctx context.Context) error {
	return s.store.Transaction(ctx, func(tx *sql.Tx) error {
		for _, name := range BaselineCategories {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO task_categories (name) VALUES (?)
			`, name); err != nil {
				return fmt.Errorf("failed to seed category %s: %w", name, err)
			}
		}
		for _, b := range BaselineBuildings {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO buildings (id, name, address) VALUES (?, ?, ?)
			`, b.ID, b.Name, b.Address); err != nil {
				return fmt.Errorf("failed to seed building %s: %w", b.ID, err)
			}
		}
		return nil
	}, "task_categories", "buildings")
}

// BaselinePresent reports whether the baseline rows already exist, the fast
// path that lets initialization complete as a no-op.
func (s *Seeder) BaselinePresent(ctx context.Context) (bool, error) {
	var categories, buildings int
	if err := s.store.QueryRow(ctx, `SELECT COUNT(*) FROM task_categories`).Scan(&categories); err != nil {
		return false, fmt.Errorf("failed to count categories: %w", err)
	}
	if err := s.store.QueryRow(ctx, `SELECT COUNT(*) FROM buildings`).Scan(&buildings); err != nil {
		return false, fmt.Errorf("failed to count buildings: %w", err)
	}
	return categories >= len(BaselineCategories) && buildings >= len(BaselineBuildings), nil
}

// ImportRecords converts work orders from the JSONL handoff file, skipping
// any already present by ID. An unchanged file (by content hash) is skipped
// entirely. Returns the number of newly imported records.
func (s *Seeder) ImportRecords(ctx context.Context) (int, error) {
	if s.importPath == "" {
		return 0, nil
	}

	f, err := os.Open(s.importPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open import file: %w", err)
	}
	defer func() { _ = f.Close() }()

	fingerprint, err := fileFingerprint(f)
	if err != nil {
		return 0, err
	}
	var previous string
	err = s.store.QueryRow(ctx, `SELECT value FROM metadata WHERE key = ?`, importFingerprintKey).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to read import fingerprint: %w", err)
	}
	if previous == fingerprint {
		debug.Logf("seed: import file unchanged, skipping\n")
		return 0, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind import file: %w", err)
	}

	imported := 0
	err = s.store.Transaction(ctx, func(tx *sql.Tx) error {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var wo types.WorkOrder
			if err := json.Unmarshal(raw, &wo); err != nil {
				return fmt.Errorf("failed to parse import line %d: %w", line, err)
			}
			if wo.ID == "" {
				return fmt.Errorf("import line %d has no id", line)
			}
			if wo.BuildingID == "" {
				wo.BuildingID = "unassigned"
			}
			if wo.Status == "" {
				wo.Status = types.WorkOrderOpen
			}

			// Buildings referenced by imported orders are created on the fly
			// so referential checks hold.
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO buildings (id, name) VALUES (?, ?)
			`, wo.BuildingID, wo.BuildingID); err != nil {
				return fmt.Errorf("failed to ensure building %s: %w", wo.BuildingID, err)
			}

			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO work_orders (id, building_id, category, summary, status)
				VALUES (?, ?, ?, ?, ?)
			`, wo.ID, wo.BuildingID, wo.Category, wo.Summary, wo.Status)
			if err != nil {
				return fmt.Errorf("failed to import work order %s: %w", wo.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				imported++
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`, importFingerprintKey, fingerprint)
		if err != nil {
			return fmt.Errorf("failed to record import fingerprint: %w", err)
		}
		return nil
	}, "work_orders", "buildings", "metadata")
	if err != nil {
		return 0, err
	}

	debug.Logf("seed: imported %d work orders\n", imported)
	return imported, nil
}

func fileFingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash import file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
