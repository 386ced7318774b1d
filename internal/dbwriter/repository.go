package dbwriter

import (
	"context"
	"time"

	"github.com/your-org/dqn-trader/internal/report"
)

// TrainingRun is one invocation of the trainer.
type TrainingRun struct {
	RunID        string    `db:"run_id"`
	StartedAt    time.Time `db:"started_at"`
	ModelVersion string    `db:"model_version"`
	Episodes     int       `db:"episodes"`
	ConfigYAML   string    `db:"config"`
}

// EpisodeSummary is the per-episode row written after every episode.
type EpisodeSummary struct {
	Time         time.Time `db:"time"`
	RunID        string    `db:"run_id"`
	ModelVersion string    `db:"model_version"`
	Episode      int       `db:"episode"`
	Reward       float64   `db:"reward"`
	Length       int       `db:"length"`
	MeanLoss     float64   `db:"mean_loss"`
	Epsilon      float64   `db:"epsilon"`
	FinalValue   float64   `db:"final_value"`
	Trades       int       `db:"trades"`
	Metrics      report.EpisodeMetrics
}

// SummaryColumns is the column order shared by every SQL backend.
func SummaryColumns() []string {
	cols := []string{"time", "run_id", "model_version", "episode", "reward", "length",
		"mean_loss", "epsilon", "final_value", "trades"}
	return append(cols, report.MetricNames...)
}

func (s EpisodeSummary) row() []interface{} {
	row := []interface{}{s.Time, s.RunID, s.ModelVersion, s.Episode, s.Reward, s.Length,
		s.MeanLoss, s.Epsilon, s.FinalValue, s.Trades}
	for _, v := range s.Metrics.Values() {
		row = append(row, v)
	}
	return row
}

// Repository persists training progress.
type Repository interface {
	// SaveRun records the start of a training run.
	SaveRun(ctx context.Context, run TrainingRun) error

	// SaveEpisodeSummary adds an episode row. Buffered implementations
	// may defer the write until the next flush.
	SaveEpisodeSummary(ctx context.Context, s EpisodeSummary) error

	// LastEpisode returns the highest episode recorded for runID, or -1.
	LastEpisode(ctx context.Context, runID string) (int, error)

	// Close flushes any buffered data and closes the database connection.
	Close()
}
