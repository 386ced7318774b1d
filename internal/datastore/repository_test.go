package datastore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/dqn-trader/internal/dbwriter"
	"github.com/your-org/dqn-trader/internal/report"
)

func summaryRow(rows *pgxmock.Rows, ts time.Time, episode int, reward, sharpe float64) *pgxmock.Rows {
	vals := []interface{}{ts, "run-1", "model-a", episode, reward, 10, 0.5, 0.9, 101000.0, 2}
	m := report.NaNMetrics()
	m.SharpeRatio = sharpe
	for _, v := range m.Values() {
		vals = append(vals, v)
	}
	return rows.AddRow(vals...)
}

func TestTimescaleRepository_FetchEpisodeSummaries(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTimescaleRepository(mock)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		rows := pgxmock.NewRows(dbwriter.SummaryColumns())
		summaryRow(rows, ts, 0, 1.5, 0.7)
		summaryRow(rows, ts.Add(time.Minute), 1, -2, 1.1)

		mock.ExpectQuery(`(?s)SELECT DISTINCT ON \(episode\) time, run_id, .*FROM episode_summaries`).
			WithArgs("run-1").
			WillReturnRows(rows)

		got, err := repo.FetchEpisodeSummaries(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 0, got[0].Episode)
		assert.Equal(t, 1.5, got[0].Reward)
		assert.Equal(t, "model-a", got[0].ModelVersion)
		assert.Equal(t, 0.7, got[0].Metrics.SharpeRatio)
		assert.True(t, math.IsNaN(got[0].Metrics.TotalReturn))
		assert.Equal(t, 1.1, got[1].Metrics.SharpeRatio)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		mock.ExpectQuery(".*").WillReturnError(assert.AnError)

		_, err := repo.FetchEpisodeSummaries(ctx, "run-1")
		assert.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTimescaleRepository_FetchRun(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTimescaleRepository(mock)
	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("by id", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"run_id", "started_at", "model_version", "episodes", "config"}).
			AddRow("run-1", started, "model-a", 50, "training:\n  episodes: 50\n")
		mock.ExpectQuery(`FROM training_runs WHERE run_id = \$1`).WithArgs("run-1").WillReturnRows(rows)

		run, err := repo.FetchRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, &dbwriter.TrainingRun{
			RunID:        "run-1",
			StartedAt:    started,
			ModelVersion: "model-a",
			Episodes:     50,
			ConfigYAML:   "training:\n  episodes: 50\n",
		}, run)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM training_runs WHERE run_id = \$1`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

		_, err := repo.FetchRun(ctx, "nope")
		assert.ErrorIs(t, err, ErrRunNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("latest", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"run_id", "started_at", "model_version", "episodes", "config"}).
			AddRow("run-2", started, "", 0, "")
		mock.ExpectQuery(`ORDER BY started_at DESC LIMIT 1`).WillReturnRows(rows)

		run, err := repo.FetchLatestRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, "run-2", run.RunID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInMemRepository(t *testing.T) {
	ctx := context.Background()
	w := dbwriter.NewInMemWriter()
	repo := NewInMemRepository(w)

	_, err := repo.FetchLatestRun(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.SaveRun(ctx, dbwriter.TrainingRun{RunID: "a", StartedAt: t0}))
	require.NoError(t, w.SaveRun(ctx, dbwriter.TrainingRun{RunID: "b", StartedAt: t0.Add(time.Hour)}))
	for _, ep := range []int{1, 0, 1} {
		require.NoError(t, w.SaveEpisodeSummary(ctx, dbwriter.EpisodeSummary{RunID: "b", Episode: ep, Reward: float64(len(w.Summaries))}))
	}
	require.NoError(t, w.SaveEpisodeSummary(ctx, dbwriter.EpisodeSummary{RunID: "a", Episode: 0}))

	latest, err := repo.FetchLatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.RunID)

	run, err := repo.FetchRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, t0, run.StartedAt)

	_, err = repo.FetchRun(ctx, "zzz")
	assert.ErrorIs(t, err, ErrRunNotFound)

	got, err := repo.FetchEpisodeSummaries(ctx, "b")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Episode)
	assert.Equal(t, 1, got[1].Episode)
	// The second write for episode 1 wins.
	assert.Equal(t, 2.0, got[1].Reward)
}
