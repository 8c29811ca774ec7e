package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lmmpower/adapters/sqlstore"
	"lmmpower/domain/core"
	"lmmpower/domain/power"
)

// Creates the schema in a database and imports analyses exported as JSON
// (the body of GET /v1/analyses/:id), one per file.
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate <database_url> [analysis_export_dir]")
	}

	databaseURL := os.Args[1]
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	log.Printf("Schema ready in %s database", sqlstore.Driver(databaseURL))

	if len(os.Args) < 3 {
		return
	}
	exportDir := os.Args[2]

	files, err := findAnalysisFiles(exportDir)
	if err != nil {
		log.Fatalf("Failed to find analysis files: %v", err)
	}
	log.Printf("Found %d analysis files to import", len(files))

	migrated := 0
	skipped := 0
	for _, file := range files {
		analysis, err := loadAnalysisFromFile(file)
		if err != nil {
			log.Printf("Failed to load analysis from %s: %v", file, err)
			skipped++
			continue
		}
		if analysis.Table == nil {
			log.Printf("Skipping %s: no power table", filepath.Base(file))
			skipped++
			continue
		}

		if err := store.Save(ctx, analysis); err != nil {
			log.Printf("Failed to save analysis %s: %v", analysis.ID, err)
			skipped++
			continue
		}
		migrated++
		log.Printf("Imported analysis %s from %s", analysis.ID, filepath.Base(file))
	}

	log.Printf("Migration complete: %d imported, %d skipped", migrated, skipped)
}

func findAnalysisFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func loadAnalysisFromFile(filePath string) (*power.Analysis, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var analysis power.Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, err
	}

	// Exports without an id get a deterministic one so re-imports replace
	// rather than duplicate.
	if analysis.ID == "" {
		analysis.ID = core.RunID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(filePath)).String())
	}
	if analysis.CreatedAt.IsZero() {
		if info, err := os.Stat(filePath); err == nil {
			analysis.CreatedAt = info.ModTime().UTC()
		} else {
			analysis.CreatedAt = time.Now().UTC()
		}
	}
	return &analysis, nil
}
