//go:build integration

package datastore_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/your-org/dqn-trader/internal/config"
	"github.com/your-org/dqn-trader/internal/datastore"
	"github.com/your-org/dqn-trader/internal/dbwriter"
	"github.com/your-org/dqn-trader/internal/report"
)

// setupTestDatabase starts a TimescaleDB container and migrates it.
func setupTestDatabase(t *testing.T) (pool *pgxpool.Pool, cleanup func()) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"timescale/timescaledb:2.14-pg15",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("test-user"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, dbwriter.Migrate("../../db/schema", connStr, zap.NewNop()))

	pool, err = pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup = func() {
		pool.Close()
		require.NoError(t, container.Terminate(ctx))
	}
	return pool, cleanup
}

func TestDatastore_Integration_WriteAndReadSummaries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	writer, err := dbwriter.NewTimescaleWriter(pool, config.DBWriterConfig{BatchSize: 10, WriteIntervalSeconds: 60}, zap.NewNop())
	require.NoError(t, err)
	repo := datastore.NewTimescaleRepository(pool)

	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, writer.SaveRun(ctx, dbwriter.TrainingRun{RunID: "it-run", StartedAt: started, ModelVersion: "model-x", Episodes: 3}))

	for ep := 0; ep < 3; ep++ {
		m := report.NaNMetrics()
		m.SharpeRatio = float64(ep)
		require.NoError(t, writer.SaveEpisodeSummary(ctx, dbwriter.EpisodeSummary{
			Time:         started.Add(time.Duration(ep) * time.Second),
			RunID:        "it-run",
			ModelVersion: "model-x",
			Episode:      ep,
			Reward:       float64(ep) - 1,
			Length:       99,
			MeanLoss:     math.NaN(),
			Epsilon:      0.5,
			FinalValue:   100000,
			Metrics:      m,
		}))
	}

	last, err := writer.LastEpisode(ctx, "it-run")
	require.NoError(t, err)
	assert.Equal(t, 2, last)
	writer.Close()

	run, err := repo.FetchLatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "it-run", run.RunID)
	assert.True(t, started.Equal(run.StartedAt))

	got, err := repo.FetchEpisodeSummaries(ctx, "it-run")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for ep, s := range got {
		assert.Equal(t, ep, s.Episode)
		assert.Equal(t, float64(ep), s.Metrics.SharpeRatio)
		assert.True(t, math.IsNaN(s.MeanLoss))
		assert.True(t, math.IsNaN(s.Metrics.TotalReturn))
	}
}
