package datastore

import (
	"context"
	"math"

	"github.com/your-org/dqn-trader/internal/dbwriter"
	"github.com/your-org/dqn-trader/internal/trainer"
)

// HistoryFromSummaries rebuilds the per-episode history from stored rows.
// Step losses are not stored, so only the episode mean loss survives, and
// the success rate is unknown.
func HistoryFromSummaries(rows []dbwriter.EpisodeSummary) *trainer.History {
	h := trainer.NewHistory()
	for _, r := range rows {
		h.Append(trainer.EpisodeRecord{
			Reward:      r.Reward,
			Length:      r.Length,
			Epsilon:     r.Epsilon,
			FinalValue:  r.FinalValue,
			TradeCount:  r.Trades,
			Diagnostics: trainer.Diagnostics{Loss: r.MeanLoss, SuccessRate: math.NaN()},
			Metrics:     r.Metrics,
		})
	}
	return h
}

// LoadRunHistory resolves runID (the latest run when empty) and rebuilds its history.
func LoadRunHistory(ctx context.Context, repo Repository, runID string) (*dbwriter.TrainingRun, *trainer.History, error) {
	var (
		run *dbwriter.TrainingRun
		err error
	)
	if runID == "" {
		run, err = repo.FetchLatestRun(ctx)
	} else {
		run, err = repo.FetchRun(ctx, runID)
	}
	if err != nil {
		return nil, nil, err
	}
	rows, err := repo.FetchEpisodeSummaries(ctx, run.RunID)
	if err != nil {
		return nil, nil, err
	}
	return run, HistoryFromSummaries(rows), nil
}
