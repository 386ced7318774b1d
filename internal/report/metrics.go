// Package report turns an episode's portfolio curve and trades into risk and
// return statistics.
package report

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/your-org/dqn-trader/internal/trading"
)

// ErrTooFewValues is returned when an episode has no complete step.
var ErrTooFewValues = errors.New("at least two portfolio values are required")

// EpisodeMetrics holds the trading statistics of one episode.
type EpisodeMetrics struct {
	SharpeRatio            float64 `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	SortinoRatio           float64 `json:"sortino_ratio" msgpack:"sortino_ratio"`
	MaxDrawdown            float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	CalmarRatio            float64 `json:"calmar_ratio" msgpack:"calmar_ratio"`
	WinRate                float64 `json:"win_rate" msgpack:"win_rate"`
	ProfitFactor           float64 `json:"profit_factor" msgpack:"profit_factor"`
	AverageWin             float64 `json:"average_win" msgpack:"average_win"`
	AverageLoss            float64 `json:"average_loss" msgpack:"average_loss"`
	Expectancy             float64 `json:"expectancy" msgpack:"expectancy"`
	Volatility             float64 `json:"volatility" msgpack:"volatility"`
	DownsideDeviation      float64 `json:"downside_deviation" msgpack:"downside_deviation"`
	ValueAtRisk            float64 `json:"value_at_risk" msgpack:"value_at_risk"`
	ConditionalValueAtRisk float64 `json:"conditional_value_at_risk" msgpack:"conditional_value_at_risk"`
	PnL                    float64 `json:"pnl" msgpack:"pnl"`
	PnLPercentage          float64 `json:"pnl_percentage" msgpack:"pnl_percentage"`
	TotalReturn            float64 `json:"total_return" msgpack:"total_return"`
}

// MetricNames lists the metrics in the order Values returns them.
var MetricNames = []string{
	"sharpe_ratio", "sortino_ratio", "max_drawdown", "calmar_ratio",
	"win_rate", "profit_factor", "average_win", "average_loss",
	"expectancy", "volatility", "downside_deviation", "value_at_risk",
	"conditional_value_at_risk", "pnl", "pnl_percentage", "total_return",
}

// Values returns the metrics in MetricNames order.
func (m EpisodeMetrics) Values() []float64 {
	return []float64{
		m.SharpeRatio, m.SortinoRatio, m.MaxDrawdown, m.CalmarRatio,
		m.WinRate, m.ProfitFactor, m.AverageWin, m.AverageLoss,
		m.Expectancy, m.Volatility, m.DownsideDeviation, m.ValueAtRisk,
		m.ConditionalValueAtRisk, m.PnL, m.PnLPercentage, m.TotalReturn,
	}
}

// NaNMetrics is the placeholder recorded when an episode cannot be scored.
func NaNMetrics() EpisodeMetrics {
	nan := math.NaN()
	return EpisodeMetrics{
		SharpeRatio: nan, SortinoRatio: nan, MaxDrawdown: nan, CalmarRatio: nan,
		WinRate: nan, ProfitFactor: nan, AverageWin: nan, AverageLoss: nan,
		Expectancy: nan, Volatility: nan, DownsideDeviation: nan, ValueAtRisk: nan,
		ConditionalValueAtRisk: nan, PnL: nan, PnLPercentage: nan, TotalReturn: nan,
	}
}

// MetricsFromValues is the inverse of Values.
func MetricsFromValues(v []float64) (EpisodeMetrics, error) {
	if len(v) != len(MetricNames) {
		return EpisodeMetrics{}, fmt.Errorf("expected %d metric values, got %d", len(MetricNames), len(v))
	}
	return EpisodeMetrics{
		SharpeRatio: v[0], SortinoRatio: v[1], MaxDrawdown: v[2], CalmarRatio: v[3],
		WinRate: v[4], ProfitFactor: v[5], AverageWin: v[6], AverageLoss: v[7],
		Expectancy: v[8], Volatility: v[9], DownsideDeviation: v[10], ValueAtRisk: v[11],
		ConditionalValueAtRisk: v[12], PnL: v[13], PnLPercentage: v[14], TotalReturn: v[15],
	}, nil
}

// Config controls annualization and tail risk.
type Config struct {
	RiskFreeRate   float64 // annual
	PeriodsPerYear int
	VaRConfidence  float64
}

// DefaultConfig annualizes daily steps at 95% confidence.
func DefaultConfig() Config {
	return Config{PeriodsPerYear: 252, VaRConfidence: 0.95}
}

// Calculator computes EpisodeMetrics. It holds no per-episode state.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator, filling unset fields with defaults.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = def.PeriodsPerYear
	}
	if cfg.VaRConfidence <= 0 || cfg.VaRConfidence >= 1 {
		cfg.VaRConfidence = def.VaRConfidence
	}
	return &Calculator{cfg: cfg}
}

// CalculateAllMetrics scores one episode. Return-based figures are
// annualized; trade figures use closing (sell) trades only.
func (c *Calculator) CalculateAllMetrics(portfolioValues, returns []float64, trades []trading.TradeRecord) (EpisodeMetrics, error) {
	if len(portfolioValues) < 2 {
		return EpisodeMetrics{}, fmt.Errorf("%w: got %d", ErrTooFewValues, len(portfolioValues))
	}
	start := portfolioValues[0]
	end := portfolioValues[len(portfolioValues)-1]
	if !(start > 0) {
		return EpisodeMetrics{}, fmt.Errorf("starting portfolio value must be positive, got %v", start)
	}
	for i, v := range portfolioValues {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return EpisodeMetrics{}, fmt.Errorf("portfolio value %d is %v", i, v)
		}
	}
	for i, t := range trades {
		if math.IsNaN(t.PnL) || math.IsInf(t.PnL, 0) {
			return EpisodeMetrics{}, fmt.Errorf("trade %d pnl is %v", i, t.PnL)
		}
	}

	var m EpisodeMetrics
	pnl := decimal.NewFromFloat(end).Sub(decimal.NewFromFloat(start))
	m.PnL = pnl.InexactFloat64()
	m.TotalReturn = pnl.Div(decimal.NewFromFloat(start)).InexactFloat64()
	m.PnLPercentage = m.TotalReturn * 100
	m.MaxDrawdown = maxDrawdown(portfolioValues)

	c.returnMetrics(&m, returns)
	tradeMetrics(&m, trades)
	return m, nil
}

func (c *Calculator) returnMetrics(m *EpisodeMetrics, returns []float64) {
	if len(returns) == 0 {
		return
	}
	periods := float64(c.cfg.PeriodsPerYear)
	rf := c.cfg.RiskFreeRate / periods
	mean := stat.Mean(returns, nil)

	if len(returns) > 1 {
		sd := stat.StdDev(returns, nil)
		m.Volatility = sd * math.Sqrt(periods)
		if sd > 0 {
			m.SharpeRatio = (mean - rf) / sd * math.Sqrt(periods)
		}
	}

	dd := downsideDeviation(returns, rf)
	m.DownsideDeviation = dd * math.Sqrt(periods)
	if dd > 0 {
		m.SortinoRatio = (mean - rf) / dd * math.Sqrt(periods)
	}

	if m.MaxDrawdown > 0 {
		growth := 1 + m.TotalReturn
		annual := -1.0
		if growth > 0 {
			annual = math.Pow(growth, periods/float64(len(returns))) - 1
		}
		m.CalmarRatio = annual / m.MaxDrawdown
	}

	m.ValueAtRisk, m.ConditionalValueAtRisk = tailRisk(returns, c.cfg.VaRConfidence)
}

// maxDrawdown is the largest peak-to-trough fall as a fraction of the peak.
func maxDrawdown(values []float64) float64 {
	peak := values[0]
	var worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// downsideDeviation is the root mean square of shortfalls below target,
// taken over every period.
func downsideDeviation(returns []float64, target float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < target {
			sum += (r - target) * (r - target)
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// tailRisk returns historical VaR and CVaR as positive loss fractions.
func tailRisk(returns []float64, confidence float64) (float64, float64) {
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)

	var tail []float64
	for _, r := range sorted {
		if r > q {
			break
		}
		tail = append(tail, r)
	}
	return -q, -stat.Mean(tail, nil)
}

func tradeMetrics(m *EpisodeMetrics, trades []trading.TradeRecord) {
	var wins, losses int
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	for _, t := range trades {
		if t.Side != trading.SideSell {
			continue
		}
		pnl := decimal.NewFromFloat(t.PnL)
		switch {
		case pnl.IsPositive():
			wins++
			grossProfit = grossProfit.Add(pnl)
		case pnl.IsNegative():
			losses++
			grossLoss = grossLoss.Add(pnl)
		}
	}

	closed := wins + losses
	if closed == 0 {
		return
	}
	m.WinRate = float64(wins) / float64(closed)
	if wins > 0 {
		m.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(wins))).InexactFloat64()
	}
	if losses > 0 {
		m.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(losses))).InexactFloat64()
	}
	if grossLoss.IsNegative() {
		m.ProfitFactor = grossProfit.Div(grossLoss.Abs()).InexactFloat64()
	}
	m.Expectancy = m.WinRate*m.AverageWin + (1-m.WinRate)*m.AverageLoss
}
