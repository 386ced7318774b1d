package dbwriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/dqn-trader/pkg/logger"
)

func TestInMemWriter(t *testing.T) {
	w := NewInMemWriter()
	ctx := context.Background()

	require.NoError(t, w.SaveRun(ctx, TrainingRun{RunID: "run-1"}))
	require.NoError(t, w.SaveEpisodeSummary(ctx, summary(4)))
	require.NoError(t, w.SaveEpisodeSummary(ctx, summary(2)))

	last, err := w.LastEpisode(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, last)

	last, err = w.LastEpisode(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, -1, last)

	w.Close()
	assert.True(t, w.IsClosed)
	w.Clear()
	assert.Empty(t, w.Summaries)
	assert.False(t, w.IsClosed)
}

func TestDummyWriter(t *testing.T) {
	w := NewDummyWriter(logger.NewLogger("error"))
	ctx := context.Background()
	assert.NoError(t, w.SaveRun(ctx, TrainingRun{RunID: "x"}))
	assert.NoError(t, w.SaveEpisodeSummary(ctx, summary(1)))
	last, err := w.LastEpisode(ctx, "x")
	assert.NoError(t, err)
	assert.Equal(t, -1, last)
	w.Close()
}
