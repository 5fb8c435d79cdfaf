package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/repository/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/crowd.db", "Database path")
	action := flag.String("action", "up", "Migration action: up, down, version or force")
	version := flag.Int("version", -1, "Version for -action force")
	legacyPath := flag.String("legacy", "", "Import realtime_crowd rows from this legacy database after migrating")
	flag.Parse()

	appLogger := logger.NewLogger(config.Load())
	defer appLogger.Close()

	db, err := sqlite.Open(*dbPath, appLogger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	switch *action {
	case "up":
		fmt.Printf("Migrating %s to the latest schema\n", *dbPath)
		if err := db.MigrateUp(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	case "down":
		fmt.Printf("Rolling back one migration on %s\n", *dbPath)
		if err := db.MigrateDown(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
	case "force":
		if *version < 0 {
			log.Fatalf("-action force requires -version")
		}
		if err := db.MigrateForce(*version); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
	case "version":
	default:
		log.Fatalf("Unknown action %q", *action)
	}

	v, dirty, err := db.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("📐 Schema version: %d (dirty: %v)\n", v, dirty)

	if *legacyPath == "" {
		return
	}
	if *action != "up" {
		log.Fatalf("-legacy can only be combined with -action up")
	}

	ctx := context.Background()
	repo := sqlite.NewAggregateRepository(db)

	fmt.Printf("Importing legacy records from %s...\n", *legacyPath)
	imported, err := repo.ImportLegacy(ctx, *legacyPath)
	if err != nil {
		log.Fatalf("Failed to import legacy records: %v", err)
	}
	fmt.Printf("✅ Successfully imported %d records\n", imported)

	stats, err := repo.Stats(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to read stats: %v", err)
		return
	}
	sources := make([]string, 0, len(stats))
	for source := range stats {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	fmt.Printf("\n📊 Database Statistics:\n")
	for _, source := range sources {
		fmt.Printf("   - %s: %d records\n", source, stats[source])
	}
}
