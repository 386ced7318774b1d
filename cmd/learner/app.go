package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/your-org/dqn-trader/internal/alert"
	"github.com/your-org/dqn-trader/internal/benchmark"
	"github.com/your-org/dqn-trader/internal/checkpoint"
	"github.com/your-org/dqn-trader/internal/config"
	"github.com/your-org/dqn-trader/internal/csvwriter"
	"github.com/your-org/dqn-trader/internal/datastore"
	"github.com/your-org/dqn-trader/internal/dbwriter"
	"github.com/your-org/dqn-trader/internal/http/handler"
	"github.com/your-org/dqn-trader/internal/learning"
	"github.com/your-org/dqn-trader/internal/report"
	"github.com/your-org/dqn-trader/internal/scheduler"
	"github.com/your-org/dqn-trader/internal/trading"
	"github.com/your-org/dqn-trader/internal/trainer"
	"github.com/your-org/dqn-trader/pkg/logger"
)

type runOptions struct {
	resumeDir     string
	migrationsDir string
	historyCSV    string
	// stop is closed to request a stop at the next episode boundary.
	stop <-chan struct{}
}

func architecture(cfg *config.Config, inputDim int) (learning.Architecture, error) {
	if cfg.Model.InputDim > 0 && cfg.Model.InputDim != inputDim {
		return learning.Architecture{}, fmt.Errorf("model.input_dim is %d but the data has %d columns", cfg.Model.InputDim, inputDim)
	}
	act, err := learning.ParseActivation(cfg.Model.Activation)
	if err != nil {
		return learning.Architecture{}, err
	}
	return learning.Architecture{
		InputDim:   inputDim,
		HiddenDims: cfg.Model.HiddenLayers,
		OutputDim:  trading.NumActions,
		Activation: act,
	}, nil
}

func hyperparameters(cfg *config.Config) learning.Hyperparameters {
	return learning.Hyperparameters{
		LearningRate: cfg.Optimizer.LearningRate,
		Beta1:        cfg.Optimizer.Beta1,
		Beta2:        cfg.Optimizer.Beta2,
		AdamEpsilon:  cfg.Optimizer.Epsilon,
		Gamma:        cfg.Training.Gamma,
		DoubleDQN:    cfg.Model.DoubleDQN.Bool(),
	}
}

func trainerConfig(cfg *config.Config) trainer.Config {
	return trainer.Config{
		Episodes:              cfg.Training.Episodes,
		BatchSize:             cfg.Training.BatchSize,
		MemorySize:            cfg.Replay.MemorySize,
		UpdateFrequency:       cfg.Replay.UpdateFrequency,
		TargetUpdateFrequency: cfg.Replay.TargetUpdateFrequency,
		EpsilonStart:          cfg.Training.EpsilonStart,
		EpsilonEnd:            cfg.Training.EpsilonEnd,
		EpsilonDecay:          cfg.Training.EpsilonDecay,
		CheckpointDir:         cfg.Training.CheckpointDir,
		CheckpointEvery:       cfg.Training.CheckpointEvery,
		LogEvery:              cfg.Training.LogEvery,
	}
}

func environment(cfg *config.Config, closeIndex int) trading.Config {
	return trading.Config{
		InitialCash:              cfg.Environment.InitialCash,
		TransactionCostRate:      cfg.Environment.TransactionCostRate,
		InvalidActionPenalty:     cfg.Environment.InvalidActionPenalty,
		HoldCashPenalty:          cfg.Environment.HoldCashPenalty,
		UnrealizedPnLRewardScale: cfg.Environment.UnrealizedPnLRewardScale,
		CloseIndex:               closeIndex,
	}
}

// openRecorder connects the configured episode summary store. The returned
// Repository must be closed by the caller. The reader is nil unless the
// store can be queried back.
func openRecorder(ctx context.Context, cfg *config.Config, migrationsDir string, zl *zap.Logger) (dbwriter.Repository, datastore.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		dsn := cfg.Database.PostgresDSN()
		if migrationsDir != "" {
			if err := dbwriter.Migrate(migrationsDir, dsn, zl); err != nil {
				return nil, nil, err
			}
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("unable to reach database: %w", err)
		}
		w, err := dbwriter.NewTimescaleWriter(pool, cfg.DBWriter, zl)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return w, datastore.NewTimescaleRepository(pool), nil
	case "sqlite":
		path := cfg.Database.SQLitePath
		if path == "" {
			path = "training.db"
		}
		w, err := dbwriter.NewSQLiteWriter(path, zl)
		if err != nil {
			return nil, nil, err
		}
		return w, nil, nil
	default:
		return dbwriter.NewDummyWriter(logger.NewLogger(cfg.LogLevel)), nil, nil
	}
}

func newNotifier(cfg *config.Config, zl *zap.Logger) (alert.Notifier, error) {
	if !cfg.Alert.Enabled.Bool() {
		return alert.NewNoOpNotifier(), nil
	}
	return alert.NewBufferedNotifier(alert.NewLogSink(zl), time.Minute, zl)
}

// startStatusServer serves the status API until the returned function is called.
func startStatusServer(addr string, origins []string, src handler.ProgressSource, repo datastore.Repository, zl *zap.Logger) func() {
	srv := handler.NewServer(addr, handler.NewStatusHandler(src, repo, zl), origins)
	go func() {
		zl.Info("status server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			zl.Warn("status server shutdown", zap.Error(err))
		}
	}
}

func loadFeatures(path string, cfg *config.Config) (*datastore.FeatureSet, error) {
	fs, err := datastore.LoadFeatureCSV(path, cfg.Data.CloseColumn)
	if err != nil {
		return nil, err
	}
	return datastore.WithIndicators(fs, cfg.Data.Indicators)
}

// redactedYAML renders cfg for the run record without database credentials.
func redactedYAML(cfg *config.Config) ([]byte, error) {
	c := *cfg
	c.Database.Password = ""
	c.Database.URL = ""
	return yaml.Marshal(&c)
}

func run(ctx context.Context, cfg *config.Config, opts runOptions) error {
	zl := logger.Zap()

	train, err := loadFeatures(cfg.Data.TrainPath, cfg)
	if err != nil {
		return fmt.Errorf("load training data: %w", err)
	}
	if len(train.Rows) < 2 {
		return fmt.Errorf("training data needs at least two rows, got %d", len(train.Rows))
	}

	arch, err := architecture(cfg, train.Dim())
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(cfg.Model.Seed))
	agent, err := learning.NewAgent(arch, hyperparameters(cfg), rng, zl)
	if err != nil {
		return err
	}

	store := checkpoint.NewFileStore(zl)
	var resumed *trainer.Checkpoint
	if opts.resumeDir != "" {
		if resumed, err = store.Load(opts.resumeDir); err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
	}

	rec, reader, err := openRecorder(ctx, cfg, opts.migrationsDir, zl)
	if err != nil {
		return err
	}
	defer rec.Close()

	notifier, err := newNotifier(cfg, zl)
	if err != nil {
		return err
	}
	defer notifier.Close()

	cfgYAML, err := redactedYAML(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	runID := uuid.New().String()
	if resumed != nil && resumed.RunID != "" {
		runID = resumed.RunID
	}

	tr, err := trainer.New(trainer.Options{
		Config:      trainerConfig(cfg),
		Environment: environment(cfg, train.CloseIndex),
		Agent:       agent,
		Metrics:     metricsCalculator(cfg),
		Checkpoints: store,
		Recorder:    rec,
		Logger:      zl,
		RNG:         rand.New(rand.NewSource(cfg.Model.Seed + 1)),
		RunID:       runID,
		ConfigYAML:  string(cfgYAML),
	})
	if err != nil {
		return err
	}
	if resumed != nil {
		if err := tr.Restore(resumed); err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
	}

	if cfg.Status.Addr != "" {
		stopServer := startStatusServer(cfg.Status.Addr, cfg.Status.AllowedOrigins, tr, reader, zl)
		defer stopServer()
	}
	if cfg.Training.CheckpointSchedule != "" {
		sched := scheduler.New(zl)
		err := sched.AddJob(cfg.Training.CheckpointSchedule, scheduler.JobFunc{
			JobName: "checkpoint",
			Fn: func() error {
				tr.RequestCheckpoint()
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("checkpoint schedule: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	notify(notifier, "run %s started at episode %d of %d", tr.RunID(), tr.Episodes(), cfg.Training.Episodes)

	if opts.stop != nil {
		select {
		case <-opts.stop:
			tr.Stop()
		default:
		}
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-opts.stop:
				tr.Stop()
			case <-done:
			}
		}()
	}

	history, runErr := tr.Run(ctx, train.Rows)
	if history != nil && opts.historyCSV != "" {
		if err := csvwriter.WriteHistory(opts.historyCSV, history, zl); err != nil {
			zl.Error("failed to export history", zap.Error(err))
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		notify(notifier, "run %s failed after %d episodes: %v", tr.RunID(), tr.Episodes(), runErr)
		return runErr
	}

	if cfg.Data.ValPath != "" && tr.Status() == trainer.Completed {
		if err := evaluate(ctx, tr, cfg); err != nil {
			return err
		}
	}

	summary := history.Summarize()
	notify(notifier, "run %s %s after %d episodes, mean reward %.4f",
		tr.RunID(), tr.Status(), summary.Episodes, summary.MeanReward)
	zl.Info("training summary",
		zap.String("run_id", tr.RunID()),
		zap.Stringer("status", tr.Status()),
		zap.Int("episodes", summary.Episodes),
		zap.Float64("mean_reward", summary.MeanReward),
		zap.Float64("best_reward", summary.BestReward),
		zap.Float64("mean_sharpe", summary.MeanSharpe))
	return nil
}

func notify(n alert.Notifier, format string, args ...interface{}) {
	if err := n.Send(fmt.Sprintf(format, args...)); err != nil {
		logger.Warnf("Failed to queue alert: %v", err)
	}
}

func evaluate(ctx context.Context, tr *trainer.Trainer, cfg *config.Config) error {
	val, err := loadFeatures(cfg.Data.ValPath, cfg)
	if err != nil {
		return fmt.Errorf("load validation data: %w", err)
	}
	if len(val.Rows) < 2 {
		logger.Warnf("Skipping evaluation: validation data has %d rows", len(val.Rows))
		return nil
	}
	ev, err := tr.Evaluate(ctx, val.Rows)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	logger.Infof("Validation: reward %.4f over %d steps, total return %.4f, sharpe %.4f",
		ev.Reward, ev.Length, ev.Metrics.TotalReturn, ev.Metrics.SharpeRatio)

	bench := benchmark.NewService(environment(cfg, val.CloseIndex), metricsCalculator(cfg), logger.Zap())
	baselines, err := bench.Baselines(val.Rows)
	if err != nil {
		return fmt.Errorf("benchmark: %w", err)
	}
	for _, b := range baselines {
		logger.Infof("Validation vs %s: excess total return %.4f", b.Name, ev.Metrics.TotalReturn-b.Metrics.TotalReturn)
	}
	return nil
}

func metricsCalculator(cfg *config.Config) *report.Calculator {
	return report.NewCalculator(report.Config{
		RiskFreeRate:   cfg.Metrics.RiskFreeRate,
		PeriodsPerYear: cfg.Metrics.PeriodsPerYear,
		VaRConfidence:  cfg.Metrics.VaRConfidence,
	})
}
