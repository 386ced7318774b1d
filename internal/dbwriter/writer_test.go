package dbwriter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/dqn-trader/internal/config"
	"github.com/your-org/dqn-trader/internal/report"
)

type copyCall struct {
	table   pgx.Identifier
	columns []string
	rows    [][]interface{}
}

type fakeRow struct {
	val int
	err error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = r.val
	return nil
}

// fakePool records calls made through the Pool interface.
type fakePool struct {
	mu      sync.Mutex
	copies  []copyCall
	execs   []string
	copyErr error
	last    int
	closed  bool
}

func (p *fakePool) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := copyCall{table: table, columns: cols}
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		call.rows = append(call.rows, vals)
	}
	p.copies = append(p.copies, call)
	return int64(len(call.rows)), p.copyErr
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execs = append(p.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return fakeRow{val: p.last}
}

func (p *fakePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePool) copyCalls() []copyCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]copyCall(nil), p.copies...)
}

func summary(ep int) EpisodeSummary {
	return EpisodeSummary{
		Time:    time.Date(2024, 1, 1, 0, 0, ep, 0, time.UTC),
		RunID:   "run-1",
		Episode: ep,
		Reward:  float64(ep),
		Metrics: report.NaNMetrics(),
	}
}

func TestTimescaleWriter_ImplementsRepository(t *testing.T) {
	assert.Implements(t, (*Repository)(nil), new(TimescaleWriter))
	assert.Implements(t, (*Repository)(nil), new(SQLiteWriter))
	assert.Implements(t, (*Repository)(nil), new(InMemWriter))
}

func TestNewTimescaleWriter_NilPool(t *testing.T) {
	_, err := NewTimescaleWriter(nil, config.DBWriterConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestTimescaleWriter_FlushesOnBatchSize(t *testing.T) {
	pool := &fakePool{}
	w, err := NewTimescaleWriter(pool, config.DBWriterConfig{BatchSize: 2, WriteIntervalSeconds: 3600}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.SaveEpisodeSummary(context.Background(), summary(0)))
	assert.Empty(t, pool.copyCalls())

	require.NoError(t, w.SaveEpisodeSummary(context.Background(), summary(1)))
	calls := pool.copyCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, pgx.Identifier{"episode_summaries"}, calls[0].table)
	assert.Equal(t, SummaryColumns(), calls[0].columns)
	require.Len(t, calls[0].rows, 2)
	assert.Len(t, calls[0].rows[0], 10+len(report.MetricNames))
	assert.Equal(t, "run-1", calls[0].rows[1][1])
	assert.Equal(t, 1, calls[0].rows[1][3])

	w.Close()
	assert.True(t, pool.closed)
}

func TestTimescaleWriter_CloseFlushesRemainder(t *testing.T) {
	pool := &fakePool{}
	w, err := NewTimescaleWriter(pool, config.DBWriterConfig{BatchSize: 10, WriteIntervalSeconds: 3600}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.SaveEpisodeSummary(context.Background(), summary(0)))
	w.Close()
	w.Close()

	calls := pool.copyCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].rows, 1)
}

func TestTimescaleWriter_CopyErrorIsReturned(t *testing.T) {
	pool := &fakePool{copyErr: errors.New("connection reset")}
	w, err := NewTimescaleWriter(pool, config.DBWriterConfig{BatchSize: 1, WriteIntervalSeconds: 3600}, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	err = w.SaveEpisodeSummary(context.Background(), summary(0))
	assert.ErrorContains(t, err, "connection reset")
}

func TestTimescaleWriter_SaveRunAndLastEpisode(t *testing.T) {
	pool := &fakePool{last: 41}
	w, err := NewTimescaleWriter(pool, config.DBWriterConfig{BatchSize: 10, WriteIntervalSeconds: 3600}, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.SaveRun(context.Background(), TrainingRun{RunID: "run-1", StartedAt: time.Now()}))
	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0], "INSERT INTO training_runs")

	require.NoError(t, w.SaveEpisodeSummary(context.Background(), summary(3)))
	last, err := w.LastEpisode(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 41, last)
	assert.Len(t, pool.copyCalls(), 1, "pending rows are flushed before querying")
}
