package dbwriter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/your-org/dqn-trader/internal/report"
)

// SQLiteWriter persists runs and episode summaries to a local SQLite file.
// Writes are synchronous; a training run produces one row per episode.
type SQLiteWriter struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database and creates the tables.
func NewSQLiteWriter(dbPath string, logger *zap.Logger) (*SQLiteWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	w := &SQLiteWriter{db: db, logger: logger}
	if err := w.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("sqlite episode writer opened", zap.String("path", dbPath))
	return w, nil
}

func (w *SQLiteWriter) migrate() error {
	metricCols := make([]string, len(report.MetricNames))
	for i, name := range report.MetricNames {
		metricCols[i] = name + " REAL"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS training_runs (
			run_id        TEXT PRIMARY KEY,
			started_at    TIMESTAMP NOT NULL,
			model_version TEXT,
			episodes      INTEGER,
			config        TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS episode_summaries (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			time          TIMESTAMP NOT NULL,
			run_id        TEXT NOT NULL,
			model_version TEXT,
			episode       INTEGER NOT NULL,
			reward        REAL,
			length        INTEGER,
			mean_loss     REAL,
			epsilon       REAL,
			final_value   REAL,
			trades        INTEGER,
			` + strings.Join(metricCols, ",\n\t\t\t") + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episode_run ON episode_summaries(run_id, episode)`,
	}
	for _, s := range stmts {
		if _, err := w.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// SaveRun upserts the run row.
func (w *SQLiteWriter) SaveRun(ctx context.Context, run TrainingRun) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.ExecContext(ctx, `INSERT INTO training_runs (run_id, started_at, model_version, episodes, config)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET model_version = excluded.model_version, episodes = excluded.episodes`,
		run.RunID, run.StartedAt, run.ModelVersion, run.Episodes, run.ConfigYAML)
	if err != nil {
		return fmt.Errorf("insert training run: %w", err)
	}
	return nil
}

// SaveEpisodeSummary inserts one row. NaN metrics are stored as NULL.
func (w *SQLiteWriter) SaveEpisodeSummary(ctx context.Context, s EpisodeSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cols := SummaryColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO episode_summaries (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders)
	if _, err := w.db.ExecContext(ctx, query, s.row()...); err != nil {
		return fmt.Errorf("insert episode summary: %w", err)
	}
	return nil
}

// LastEpisode returns the highest episode stored for runID, or -1.
func (w *SQLiteWriter) LastEpisode(ctx context.Context, runID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var last int
	err := w.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(episode), -1) FROM episode_summaries WHERE run_id = ?", runID).Scan(&last)
	if err != nil {
		return -1, fmt.Errorf("query last episode: %w", err)
	}
	return last, nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.db.Close(); err != nil {
		w.logger.Error("closing sqlite", zap.Error(err))
	}
}
