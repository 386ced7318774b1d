package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/dqn-trader/internal/checkpoint"
	"github.com/your-org/dqn-trader/internal/config"
	"github.com/your-org/dqn-trader/internal/csvwriter"
	"github.com/your-org/dqn-trader/internal/datastore"
	"github.com/your-org/dqn-trader/pkg/logger"
)

func main() {
	// --- Argument Parsing ---
	configPath := flag.String("config", "config/config.yaml", "config file with the database settings")
	runID := flag.String("run", "", "run to export (empty for the latest)")
	checkpointDir := flag.String("checkpoint", "", "export the history stored in this checkpoint instead of the database")
	outPath := flag.String("out", "", "CSV file to write")
	flag.Parse()

	if *outPath == "" {
		logger.Fatal("The --out flag is required.")
	}

	if *checkpointDir != "" {
		if err := exportCheckpoint(*checkpointDir, *outPath); err != nil {
			logger.Fatalf("Export failed: %v", err)
		}
		return
	}

	// --- Config and Logger Setup ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration to get DB settings: %v", err)
	}
	logger.SetGlobalLogLevel(cfg.LogLevel)
	if cfg.Database.Driver != "postgres" {
		logger.Fatalf("Database export needs the postgres driver, got %q; use --checkpoint instead", cfg.Database.Driver)
	}

	// --- Database Connection ---
	ctx := context.Background()
	dbpool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN())
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	n, err := exportRun(ctx, datastore.NewTimescaleRepository(dbpool), *runID, *outPath)
	if err != nil {
		logger.Fatalf("Export failed: %v", err)
	}
	logger.Infof("Successfully exported %d episodes to %s.", n, *outPath)
}

// exportRun writes the episode history of runID to outPath and returns the
// number of episodes written.
func exportRun(ctx context.Context, repo datastore.Repository, runID, outPath string) (int, error) {
	run, h, err := datastore.LoadRunHistory(ctx, repo, runID)
	if err != nil {
		return 0, fmt.Errorf("load run: %w", err)
	}
	logger.Infof("Exporting run %s (%s)", run.RunID, run.ModelVersion)
	if err := csvwriter.WriteHistory(outPath, h, logger.Zap()); err != nil {
		return 0, err
	}
	return h.Len(), nil
}

func exportCheckpoint(dir, outPath string) error {
	cp, err := checkpoint.NewFileStore(logger.Zap()).Load(dir)
	if err != nil {
		return err
	}
	return csvwriter.WriteHistory(outPath, cp.History, logger.Zap())
}
