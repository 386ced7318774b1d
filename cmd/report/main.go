package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/dqn-trader/internal/checkpoint"
	"github.com/your-org/dqn-trader/internal/config"
	"github.com/your-org/dqn-trader/internal/datastore"
	"github.com/your-org/dqn-trader/internal/report"
	"github.com/your-org/dqn-trader/internal/trainer"
	"github.com/your-org/dqn-trader/pkg/logger"
)

func main() {
	checkpointDir := flag.String("checkpoint", "", "checkpoint directory to summarize")
	configPath := flag.String("config", "config/config.yaml", "config file with the database settings")
	runID := flag.String("run", "", "summarize this run from the database (empty for the latest)")
	flag.Parse()

	var (
		out *reportOutput
		err error
	)
	if *checkpointDir != "" {
		out, err = fromCheckpoint(*checkpointDir)
	} else {
		out, err = fromDatabase(*configPath, *runID)
	}
	if err != nil {
		log.Fatalf("Failed to build report: %v", err)
	}
	if err := writeJSON(os.Stdout, out); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
}

// reportOutput is the JSON document printed by the command. Non-finite
// numbers are written as null.
type reportOutput struct {
	Source       string              `json:"source"`
	RunID        string              `json:"run_id"`
	ModelVersion string              `json:"model_version,omitempty"`
	Summary      trainer.Summary     `json:"summary"`
	LastEpisode  map[string]*float64 `json:"last_episode_metrics,omitempty"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func newReport(source, runID, version string, h *trainer.History) *reportOutput {
	out := &reportOutput{
		Source:       source,
		RunID:        runID,
		ModelVersion: version,
		Summary:      h.Summarize(),
	}
	if n := len(h.Metrics); n > 0 {
		out.LastEpisode = make(map[string]*float64, len(report.MetricNames))
		for i, v := range h.Metrics[n-1].Values() {
			out.LastEpisode[report.MetricNames[i]] = finite(v)
		}
	}
	return out
}

func writeJSON(w io.Writer, out *reportOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func fromCheckpoint(dir string) (*reportOutput, error) {
	cp, err := checkpoint.NewFileStore(logger.Zap()).Load(dir)
	if err != nil {
		return nil, err
	}
	return newReport("checkpoint:"+dir, cp.RunID, cp.Agent.Version, cp.History), nil
}

func summarizeRun(ctx context.Context, repo datastore.Repository, runID string) (*reportOutput, error) {
	run, h, err := datastore.LoadRunHistory(ctx, repo, runID)
	if err != nil {
		return nil, err
	}
	return newReport("database", run.RunID, run.ModelVersion, h), nil
}

func fromDatabase(configPath, runID string) (*reportOutput, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("database reports need the postgres driver, got %q; use -checkpoint instead", cfg.Database.Driver)
	}
	logger.SetGlobalLogLevel(cfg.LogLevel)

	ctx := context.Background()
	dbpool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	defer dbpool.Close()

	return summarizeRun(ctx, datastore.NewTimescaleRepository(dbpool), runID)
}
