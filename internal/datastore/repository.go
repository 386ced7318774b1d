// Package datastore loads training features and reads recorded training
// progress back out of the database.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/dqn-trader/internal/dbwriter"
	"github.com/your-org/dqn-trader/internal/report"
)

// ErrRunNotFound is returned when no training run matches.
var ErrRunNotFound = errors.New("training run not found")

// DBTX is the subset of pgxpool.Pool the repository queries through.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Repository reads recorded training runs.
type Repository interface {
	FetchRun(ctx context.Context, runID string) (*dbwriter.TrainingRun, error)
	FetchLatestRun(ctx context.Context) (*dbwriter.TrainingRun, error)
	FetchEpisodeSummaries(ctx context.Context, runID string) ([]dbwriter.EpisodeSummary, error)
}

// TimescaleRepository reads the tables written by dbwriter.TimescaleWriter.
type TimescaleRepository struct {
	db DBTX
}

// NewTimescaleRepository creates a new TimescaleRepository.
func NewTimescaleRepository(db DBTX) *TimescaleRepository {
	return &TimescaleRepository{db: db}
}

const runColumns = `run_id, started_at, COALESCE(model_version, ''), COALESCE(episodes, 0), COALESCE(config, '')`

func scanRun(row pgx.Row) (*dbwriter.TrainingRun, error) {
	var run dbwriter.TrainingRun
	err := row.Scan(&run.RunID, &run.StartedAt, &run.ModelVersion, &run.Episodes, &run.ConfigYAML)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FetchRun returns the run with the given id.
func (r *TimescaleRepository) FetchRun(ctx context.Context, runID string) (*dbwriter.TrainingRun, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs WHERE run_id = $1;`
	run, err := scanRun(r.db.QueryRow(ctx, query, runID))
	if err != nil {
		return nil, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	return run, nil
}

// FetchLatestRun returns the most recently started run.
func (r *TimescaleRepository) FetchLatestRun(ctx context.Context) (*dbwriter.TrainingRun, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs ORDER BY started_at DESC LIMIT 1;`
	run, err := scanRun(r.db.QueryRow(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("fetch latest run: %w", err)
	}
	return run, nil
}

// FetchEpisodeSummaries returns every recorded episode of runID in episode
// order. A resumed run may have recorded an episode twice; the latest row wins.
func (r *TimescaleRepository) FetchEpisodeSummaries(ctx context.Context, runID string) ([]dbwriter.EpisodeSummary, error) {
	query := fmt.Sprintf(`
        SELECT DISTINCT ON (episode) %s
        FROM episode_summaries
        WHERE run_id = $1
        ORDER BY episode ASC, time DESC;
    `, strings.Join(dbwriter.SummaryColumns(), ", "))

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch episode summaries: %w", err)
	}
	defer rows.Close()

	var out []dbwriter.EpisodeSummary
	for rows.Next() {
		var s dbwriter.EpisodeSummary
		metrics := make([]float64, len(report.MetricNames))
		dest := []interface{}{&s.Time, &s.RunID, &s.ModelVersion, &s.Episode, &s.Reward, &s.Length,
			&s.MeanLoss, &s.Epsilon, &s.FinalValue, &s.Trades}
		for i := range metrics {
			dest = append(dest, &metrics[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan episode summary: %w", err)
		}
		if s.Metrics, err = report.MetricsFromValues(metrics); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
