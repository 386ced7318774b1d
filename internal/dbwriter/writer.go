package dbwriter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/your-org/dqn-trader/internal/config"
)

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

// TimescaleWriter buffers episode summaries and writes them to TimescaleDB
// with COPY, either when the batch fills or on the flush ticker.
type TimescaleWriter struct {
	pool         Pool
	logger       *zap.Logger
	config       config.DBWriterConfig
	buffer       []EpisodeSummary
	bufferMutex  sync.Mutex
	flushTicker  *time.Ticker
	shutdownChan chan struct{}
	closeOnce    sync.Once
}

// NewTimescaleWriter starts a batch writer on top of an existing pool.
func NewTimescaleWriter(pool Pool, writerConfig config.DBWriterConfig, logger *zap.Logger) (*TimescaleWriter, error) {
	if pool == nil {
		return nil, errors.New("nil connection pool")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if writerConfig.WriteIntervalSeconds <= 0 {
		logger.Warn("WriteIntervalSeconds is zero or negative, defaulting to 1s.", zap.Int("originalValue", writerConfig.WriteIntervalSeconds))
		writerConfig.WriteIntervalSeconds = 1
	}
	if writerConfig.BatchSize <= 0 {
		logger.Warn("BatchSize is zero or negative, defaulting to 100.", zap.Int("originalValue", writerConfig.BatchSize))
		writerConfig.BatchSize = 100
	}

	w := &TimescaleWriter{
		pool:         pool,
		logger:       logger,
		config:       writerConfig,
		buffer:       make([]EpisodeSummary, 0, writerConfig.BatchSize),
		flushTicker:  time.NewTicker(time.Duration(writerConfig.WriteIntervalSeconds) * time.Second),
		shutdownChan: make(chan struct{}),
	}
	go w.run()
	logger.Info("Started TimescaleDB episode summary writer", zap.Int("batchSize", writerConfig.BatchSize))
	return w, nil
}

func (w *TimescaleWriter) run() {
	for {
		select {
		case <-w.flushTicker.C:
			if err := w.flush(context.Background()); err != nil {
				w.logger.Error("Periodic flush failed", zap.Error(err))
			}
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveRun inserts the run row immediately.
func (w *TimescaleWriter) SaveRun(ctx context.Context, run TrainingRun) error {
	query := `INSERT INTO training_runs (run_id, started_at, model_version, episodes, config)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (run_id) DO UPDATE SET model_version = EXCLUDED.model_version, episodes = EXCLUDED.episodes`
	_, err := w.pool.Exec(ctx, query, run.RunID, run.StartedAt, run.ModelVersion, run.Episodes, run.ConfigYAML)
	if err != nil {
		w.logger.Error("Failed to insert training run", zap.Error(err), zap.String("runID", run.RunID))
		return fmt.Errorf("failed to insert training run: %w", err)
	}
	return nil
}

// SaveEpisodeSummary buffers s and flushes once the batch is full.
func (w *TimescaleWriter) SaveEpisodeSummary(ctx context.Context, s EpisodeSummary) error {
	w.bufferMutex.Lock()
	w.buffer = append(w.buffer, s)
	shouldFlush := len(w.buffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		return w.flush(ctx)
	}
	return nil
}

func (w *TimescaleWriter) flush(ctx context.Context) error {
	w.bufferMutex.Lock()
	defer w.bufferMutex.Unlock()
	if len(w.buffer) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(w.buffer))
	for i, s := range w.buffer {
		rows[i] = s.row()
	}
	w.logger.Debug("Flushing episode summaries", zap.Int("count", len(rows)))
	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"episode_summaries"}, SummaryColumns(), pgx.CopyFromRows(rows))
	// Rows are dropped on failure so a broken connection cannot grow the buffer forever.
	w.buffer = w.buffer[:0]
	if err != nil {
		return fmt.Errorf("failed to copy %d episode summaries: %w", len(rows), err)
	}
	return nil
}

// LastEpisode flushes pending rows and queries the highest recorded episode.
func (w *TimescaleWriter) LastEpisode(ctx context.Context, runID string) (int, error) {
	if err := w.flush(ctx); err != nil {
		return -1, err
	}
	var last int
	err := w.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(episode), -1) FROM episode_summaries WHERE run_id = $1", runID).Scan(&last)
	if err != nil {
		return -1, fmt.Errorf("failed to query last episode: %w", err)
	}
	return last, nil
}

// Close stops the ticker, flushes the buffer and closes the pool.
func (w *TimescaleWriter) Close() {
	w.closeOnce.Do(func() {
		w.logger.Info("Closing TimescaleDB writer...")
		close(w.shutdownChan)
		w.flushTicker.Stop()
		if err := w.flush(context.Background()); err != nil {
			w.logger.Error("Final flush failed", zap.Error(err))
		}
		w.pool.Close()
		w.logger.Info("TimescaleDB connection pool closed")
	})
}
