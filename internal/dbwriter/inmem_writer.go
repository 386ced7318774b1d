package dbwriter

import (
	"context"
	"sync"
)

// InMemWriter is an in-memory Repository for tests.
type InMemWriter struct {
	mu        sync.RWMutex
	Runs      []TrainingRun
	Summaries []EpisodeSummary
	IsClosed  bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{
		Runs:      make([]TrainingRun, 0),
		Summaries: make([]EpisodeSummary, 0),
	}
}

// SaveRun appends the run.
func (w *InMemWriter) SaveRun(ctx context.Context, run TrainingRun) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Runs = append(w.Runs, run)
	return nil
}

// SaveEpisodeSummary appends the summary.
func (w *InMemWriter) SaveEpisodeSummary(ctx context.Context, s EpisodeSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Summaries = append(w.Summaries, s)
	return nil
}

// LastEpisode scans the stored summaries.
func (w *InMemWriter) LastEpisode(ctx context.Context, runID string) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	last := -1
	for _, s := range w.Summaries {
		if s.RunID == runID && s.Episode > last {
			last = s.Episode
		}
	}
	return last, nil
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}

// Clear resets all the in-memory slices.
func (w *InMemWriter) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Runs = make([]TrainingRun, 0)
	w.Summaries = make([]EpisodeSummary, 0)
	w.IsClosed = false
}

// SnapshotRuns returns a copy of the recorded runs.
func (w *InMemWriter) SnapshotRuns() []TrainingRun {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]TrainingRun(nil), w.Runs...)
}

// SnapshotSummaries returns a copy of the recorded summaries.
func (w *InMemWriter) SnapshotSummaries() []EpisodeSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]EpisodeSummary(nil), w.Summaries...)
}
