package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/your-org/dqn-trader/internal/checkpoint"
	"github.com/your-org/dqn-trader/internal/config"
	"github.com/your-org/dqn-trader/internal/learning"
)

func writeFeatures(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("open,high,low,close,volume\n")
	for i := 0; i < n; i++ {
		c := 100 + float64(i%5)
		fmt.Fprintf(&b, "%g,%g,%g,%g,%d\n", c-0.5, c+1, c-1, c, 10+i)
	}
	path := filepath.Join(dir, "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func testConfig(t *testing.T, dir string) *config.Config {
	cfg := config.Default()
	cfg.Model.HiddenLayers = []int{8}
	cfg.Training.Episodes = 3
	cfg.Training.BatchSize = 4
	cfg.Training.CheckpointDir = filepath.Join(dir, "ckpt")
	cfg.Training.CheckpointEvery = 2
	cfg.Replay.MemorySize = 32
	cfg.Replay.UpdateFrequency = 1
	cfg.Data.TrainPath = writeFeatures(t, dir, 12)
	cfg.Data.ValPath = cfg.Data.TrainPath
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(dir, "training.db")
	cfg.Database.Password = "secret"
	return cfg
}

func countEpisodes(t *testing.T, path string) (runs, episodes int, cfgText string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.QueryRow("SELECT COUNT(*), MAX(config) FROM training_runs").Scan(&runs, &cfgText))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM episode_summaries").Scan(&episodes))
	return runs, episodes, cfgText
}

func TestRun_TrainAndResume(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	historyCSV := filepath.Join(dir, "history.csv")

	require.NoError(t, run(context.Background(), cfg, runOptions{historyCSV: historyCSV}))

	finalDir := filepath.Join(cfg.Training.CheckpointDir, "final")
	assert.FileExists(t, filepath.Join(finalDir, checkpoint.StateFile))
	assert.FileExists(t, filepath.Join(cfg.Training.CheckpointDir, "episode_00002", checkpoint.ConfigFile))
	assert.FileExists(t, historyCSV)

	runs, episodes, cfgText := countEpisodes(t, cfg.Database.SQLitePath)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 3, episodes)
	assert.NotContains(t, cfgText, "secret")

	cp, err := checkpoint.NewFileStore(nil).Load(finalDir)
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Episodes)
	assert.True(t, cp.Agent.Trained)

	// Resume into a longer run under the same run id.
	cfg.Training.Episodes = 5
	require.NoError(t, run(context.Background(), cfg, runOptions{resumeDir: finalDir}))

	runs, episodes, _ = countEpisodes(t, cfg.Database.SQLitePath)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 5, episodes)

	cp2, err := checkpoint.NewFileStore(nil).Load(finalDir)
	require.NoError(t, err)
	assert.Equal(t, 5, cp2.Episodes)
	assert.Equal(t, cp.RunID, cp2.RunID)
	assert.Equal(t, cp.History.Rewards, cp2.History.Rewards[:3])
}

func TestRun_StopRequested(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Training.Episodes = 50
	cfg.Database.Driver = ""

	stop := make(chan struct{})
	close(stop)
	require.NoError(t, run(context.Background(), cfg, runOptions{stop: stop}))

	cp, err := checkpoint.NewFileStore(nil).Load(filepath.Join(cfg.Training.CheckpointDir, "final"))
	require.NoError(t, err)
	assert.Less(t, cp.Episodes, 50)
	assert.False(t, cp.Agent.Trained)
}

func TestRun_IndicatorsAndServices(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Training.Episodes = 2
	cfg.Database.Driver = ""
	cfg.Data.Indicators = []string{"sma:3", "rsi:3"}
	cfg.Status.Addr = "127.0.0.1:0"
	cfg.Alert.Enabled = true
	cfg.Training.CheckpointSchedule = "@every 1h"

	require.NoError(t, run(context.Background(), cfg, runOptions{}))

	cp, err := checkpoint.NewFileStore(nil).Load(filepath.Join(cfg.Training.CheckpointDir, "final"))
	require.NoError(t, err)
	assert.Equal(t, 7, cp.Agent.Architecture.InputDim)
	// Three warm-up rows are dropped from the twelve.
	assert.Equal(t, 8, cp.History.Lengths[0])
}

func TestRun_BadData(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Data.TrainPath = filepath.Join(dir, "missing.csv")
	assert.Error(t, run(context.Background(), cfg, runOptions{}))

	cfg = testConfig(t, dir)
	cfg.Model.InputDim = 3
	assert.Error(t, run(context.Background(), cfg, runOptions{}))

	cfg = testConfig(t, dir)
	cfg.Data.Indicators = []string{"macd:12"}
	assert.Error(t, run(context.Background(), cfg, runOptions{}))
}

func TestArchitecture(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Activation = "tanh"
	arch, err := architecture(cfg, 7)
	require.NoError(t, err)
	assert.Equal(t, learning.Architecture{InputDim: 7, HiddenDims: []int{256, 128, 64}, OutputDim: 3, Activation: learning.Tanh}, arch)

	hp := hyperparameters(cfg)
	assert.True(t, hp.DoubleDQN)
	assert.Equal(t, 0.99, hp.Gamma)

	tc := trainerConfig(cfg)
	assert.Equal(t, cfg.Replay.TargetUpdateFrequency, tc.TargetUpdateFrequency)
	assert.Equal(t, cfg.Training.EpsilonDecay, tc.EpsilonDecay)
}
