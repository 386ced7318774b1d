package dbwriter

import (
	"context"

	"github.com/your-org/dqn-trader/pkg/logger"
)

// dummyWriter is a no-op implementation of the Repository interface.
// It is used when no database is configured.
type dummyWriter struct {
	logger logger.Logger
}

// NewDummyWriter creates a new dummy writer.
func NewDummyWriter(l logger.Logger) Repository {
	l.Info("Creating dummy DB writer because no database is configured.")
	return &dummyWriter{logger: l}
}

// SaveRun does nothing and returns nil.
func (d *dummyWriter) SaveRun(ctx context.Context, run TrainingRun) error {
	d.logger.Debugf("Dummy writer: SaveRun called for %s", run.RunID)
	return nil
}

// SaveEpisodeSummary does nothing and returns nil.
func (d *dummyWriter) SaveEpisodeSummary(ctx context.Context, s EpisodeSummary) error {
	return nil
}

// LastEpisode always reports that nothing was recorded.
func (d *dummyWriter) LastEpisode(ctx context.Context, runID string) (int, error) {
	return -1, nil
}

// Close does nothing.
func (d *dummyWriter) Close() {
	d.logger.Debug("Dummy writer: Close called")
}
