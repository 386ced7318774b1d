package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/dqn-trader/internal/checkpoint"
	"github.com/your-org/dqn-trader/internal/datastore"
	"github.com/your-org/dqn-trader/internal/dbwriter"
	"github.com/your-org/dqn-trader/internal/learning"
	"github.com/your-org/dqn-trader/internal/report"
	"github.com/your-org/dqn-trader/internal/trading"
	"github.com/your-org/dqn-trader/internal/trainer"
)

func TestNewReport_NaNBecomesNull(t *testing.T) {
	h := trainer.NewHistory()
	h.Append(trainer.EpisodeRecord{Reward: 2, Length: 5, Epsilon: 0.9, Metrics: report.NaNMetrics()})

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, newReport("test", "run-1", "", h)))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	summary := doc["summary"].(map[string]interface{})
	assert.Equal(t, 2.0, summary["mean_reward"])
	assert.Nil(t, summary["mean_sharpe"])
	assert.Equal(t, 0.0, summary["scored_episodes"])
	metrics := doc["last_episode_metrics"].(map[string]interface{})
	assert.Contains(t, metrics, "sharpe_ratio")
	assert.Nil(t, metrics["sharpe_ratio"])
	assert.NotContains(t, doc, "model_version")
}

func TestNewReport_EmptyHistory(t *testing.T) {
	out := newReport("test", "run-0", "", trainer.NewHistory())
	assert.Equal(t, 0, out.Summary.Episodes)
	assert.Nil(t, out.LastEpisode)

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, out))
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	summary := doc["summary"].(map[string]interface{})
	assert.Nil(t, summary["mean_reward"])
	assert.Nil(t, summary["best_reward"])
	assert.Equal(t, -1.0, summary["best_episode"])
}

func TestFromCheckpoint(t *testing.T) {
	arch := learning.Architecture{InputDim: 4, OutputDim: trading.NumActions, Activation: learning.ReLU}
	agent, err := learning.NewAgent(arch, learning.DefaultHyperparameters(), rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)
	cfg := trainer.DefaultConfig()
	cfg.Episodes = 2
	cfg.BatchSize = 2
	tr, err := trainer.New(trainer.Options{
		Config:      cfg,
		Environment: trading.DefaultConfig(),
		Agent:       agent,
		Metrics:     report.NewCalculator(report.DefaultConfig()),
		RunID:       "from-ckpt",
	})
	require.NoError(t, err)
	rows := [][]float64{{1, 2, 0.5, 10}, {1, 2, 0.5, 11}, {1, 2, 0.5, 12}, {1, 2, 0.5, 11}}
	_, err = tr.Run(context.Background(), rows)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, checkpoint.NewFileStore(nil).Save(dir, tr.Checkpoint()))

	out, err := fromCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-ckpt", out.RunID)
	assert.Equal(t, 2, out.Summary.Episodes)
	assert.Equal(t, 6, out.Summary.TotalSteps)
	assert.Equal(t, agent.Version(), out.ModelVersion)
}

func TestSummarizeRun(t *testing.T) {
	ctx := context.Background()
	w := dbwriter.NewInMemWriter()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.SaveRun(ctx, dbwriter.TrainingRun{RunID: "old", StartedAt: t0}))
	require.NoError(t, w.SaveRun(ctx, dbwriter.TrainingRun{RunID: "new", StartedAt: t0.Add(time.Hour), ModelVersion: "model-z"}))
	for ep, reward := range []float64{1, 5, -2} {
		m := report.NaNMetrics()
		m.SharpeRatio = float64(ep)
		m.TotalReturn = 0.01
		require.NoError(t, w.SaveEpisodeSummary(ctx, dbwriter.EpisodeSummary{
			RunID: "new", Episode: ep, Reward: reward, Length: 10, Epsilon: 0.5, MeanLoss: math.NaN(), Metrics: m,
		}))
	}
	repo := datastore.NewInMemRepository(w)

	out, err := summarizeRun(ctx, repo, "")
	require.NoError(t, err)
	assert.Equal(t, "new", out.RunID)
	assert.Equal(t, "model-z", out.ModelVersion)
	assert.Equal(t, 3, out.Summary.Episodes)
	assert.Equal(t, 30, out.Summary.TotalSteps)
	assert.Equal(t, 1, out.Summary.BestEpisode)
	assert.InDelta(t, 1.0, out.Summary.MeanSharpe, 1e-12)
	assert.True(t, math.IsNaN(out.Summary.SuccessRate))

	out, err = summarizeRun(ctx, repo, "old")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Summary.Episodes)

	_, err = summarizeRun(ctx, repo, "missing")
	assert.ErrorIs(t, err, datastore.ErrRunNotFound)
}
