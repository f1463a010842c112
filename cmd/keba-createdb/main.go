// Command keba-createdb bootstraps or upgrades a sqlite database file to
// the current schema version without running the agent. Grounded in
// original_source/src/bin/create_test_db.rs.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aj9599/keba-telemetry/internal/storage"
)

func main() {
	path := flag.String("path", "./data/keba.db", "target sqlite file")
	force := flag.Bool("force", false, "delete existing file before creating")
	flag.Parse()

	if err := run(*path, *force); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create db: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, force bool) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}
	}

	if force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove existing db file: %w", err)
		}
	}

	db, err := storage.OpenWriter(path)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := storage.SchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	fmt.Printf("created/updated db at: %s\n", path)
	fmt.Printf("schema version: %d\n", version)
	return nil
}
