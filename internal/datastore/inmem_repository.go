package datastore

import (
	"context"
	"sort"

	"github.com/your-org/dqn-trader/internal/dbwriter"
)

// InMemRepository reads what a dbwriter.InMemWriter has recorded.
type InMemRepository struct {
	w *dbwriter.InMemWriter
}

// NewInMemRepository creates a repository over w.
func NewInMemRepository(w *dbwriter.InMemWriter) *InMemRepository {
	return &InMemRepository{w: w}
}

// FetchRun returns the last recorded run with runID.
func (r *InMemRepository) FetchRun(ctx context.Context, runID string) (*dbwriter.TrainingRun, error) {
	runs := r.w.SnapshotRuns()
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].RunID == runID {
			run := runs[i]
			return &run, nil
		}
	}
	return nil, ErrRunNotFound
}

// FetchLatestRun returns the run with the latest start time.
func (r *InMemRepository) FetchLatestRun(ctx context.Context) (*dbwriter.TrainingRun, error) {
	runs := r.w.SnapshotRuns()
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	latest := runs[0]
	for _, run := range runs[1:] {
		if !run.StartedAt.Before(latest.StartedAt) {
			latest = run
		}
	}
	return &latest, nil
}

// FetchEpisodeSummaries returns the summaries of runID by episode, keeping
// the last one written for each episode.
func (r *InMemRepository) FetchEpisodeSummaries(ctx context.Context, runID string) ([]dbwriter.EpisodeSummary, error) {
	byEpisode := make(map[int]dbwriter.EpisodeSummary)
	for _, s := range r.w.SnapshotSummaries() {
		if s.RunID == runID {
			byEpisode[s.Episode] = s
		}
	}
	out := make([]dbwriter.EpisodeSummary, 0, len(byEpisode))
	for _, s := range byEpisode {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Episode < out[j].Episode })
	return out, nil
}
