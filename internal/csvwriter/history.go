package csvwriter

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/your-org/dqn-trader/internal/report"
	"github.com/your-org/dqn-trader/internal/trainer"
)

var diagnosticColumns = []string{
	"mean_loss", "entropy", "learning_rate", "value_estimate",
	"td_error", "kl_divergence", "explained_variance", "success_rate",
}

// HistoryHeader returns the column names written by WriteHistory.
func HistoryHeader() []string {
	h := []string{"episode", "reward", "length", "epsilon", "final_value", "trades"}
	h = append(h, diagnosticColumns...)
	return append(h, report.MetricNames...)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func historyRow(h *trainer.History, i int) []string {
	d := h.Diagnostics[i]
	row := []string{
		strconv.Itoa(i),
		formatFloat(h.Rewards[i]),
		strconv.Itoa(h.Lengths[i]),
		formatFloat(h.Epsilons[i]),
		formatFloat(h.FinalValues[i]),
		strconv.Itoa(h.TradeCounts[i]),
	}
	for _, v := range []float64{d.Loss, d.Entropy, d.LearningRate, d.ValueEstimate,
		d.TDError, d.KLDivergence, d.ExplainedVariance, d.SuccessRate} {
		row = append(row, formatFloat(v))
	}
	for _, v := range h.Metrics[i].Values() {
		row = append(row, formatFloat(v))
	}
	return row
}

// WriteHistory writes a header and one row per episode of h to filePath.
// NaN values are written as "NaN".
func WriteHistory(filePath string, h *trainer.History, logger *zap.Logger) error {
	if err := h.Check(); err != nil {
		return fmt.Errorf("refusing to export inconsistent history: %w", err)
	}
	w, err := NewWriter(filePath, logger)
	if err != nil {
		return err
	}
	if err := w.Write(HistoryHeader()); err != nil {
		w.Close()
		return err
	}
	for i := 0; i < h.Len(); i++ {
		if err := w.Write(historyRow(h, i)); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("exported training history", zap.String("path", filePath), zap.Int("episodes", h.Len()))
	}
	return nil
}
