// Package benchmark scores fixed trading policies on the same simulator the
// agent trains on, so an evaluation can be read against a baseline.
package benchmark

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/dqn-trader/internal/report"
	"github.com/your-org/dqn-trader/internal/trading"
)

// Policy picks the action for step i of an episode.
type Policy func(i int, l *trading.Ledger) trading.Action

// BuyAndHold buys on the first step and holds until forced liquidation.
func BuyAndHold(i int, l *trading.Ledger) trading.Action {
	if i == 0 {
		return trading.Buy
	}
	return trading.Hold
}

// StayInCash never opens a position.
func StayInCash(int, *trading.Ledger) trading.Action { return trading.Hold }

// Aggregator scores one episode; *report.Calculator satisfies it.
type Aggregator interface {
	CalculateAllMetrics(portfolioValues, returns []float64, trades []trading.TradeRecord) (report.EpisodeMetrics, error)
}

// Result is one policy's episode outcome.
type Result struct {
	Name            string
	Reward          float64
	PortfolioValues []float64
	Trades          []trading.TradeRecord
	Metrics         report.EpisodeMetrics
}

// Service runs the baseline policies.
type Service struct {
	env    trading.Config
	agg    Aggregator
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(env trading.Config, agg Aggregator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{env: env, agg: agg, logger: logger}
}

// Run plays policy once over rows.
func (s *Service) Run(name string, policy Policy, rows [][]float64) (Result, error) {
	sim, err := trading.NewSimulator(s.env, rows)
	if err != nil {
		return Result{}, err
	}
	if sim.Done() {
		return Result{}, errors.New("benchmark needs at least two rows")
	}

	res := Result{Name: name}
	for i := 0; !sim.Done(); i++ {
		step, err := sim.Step(policy(i, sim.Ledger()))
		if err != nil {
			return Result{}, fmt.Errorf("%s step %d: %w", name, i, err)
		}
		res.Reward += step.Reward
	}
	l := sim.Ledger()
	res.PortfolioValues = append([]float64(nil), l.PortfolioValues...)
	res.Trades = append([]trading.TradeRecord(nil), l.Trades...)

	res.Metrics = report.NaNMetrics()
	if s.agg != nil {
		m, err := s.agg.CalculateAllMetrics(res.PortfolioValues, trading.StepReturns(res.PortfolioValues), res.Trades)
		if err != nil {
			s.logger.Warn("failed to score benchmark", zap.String("benchmark", name), zap.Error(err))
		} else {
			res.Metrics = m
		}
	}
	return res, nil
}

// Baselines runs buy-and-hold and stay-in-cash over rows.
func (s *Service) Baselines(rows [][]float64) ([]Result, error) {
	policies := []struct {
		name   string
		policy Policy
	}{
		{"buy_and_hold", BuyAndHold},
		{"cash", StayInCash},
	}
	out := make([]Result, 0, len(policies))
	for _, p := range policies {
		r, err := s.Run(p.name, p.policy, rows)
		if err != nil {
			return nil, err
		}
		s.logger.Info("benchmark complete",
			zap.String("benchmark", r.Name),
			zap.Float64("reward", r.Reward),
			zap.Float64("total_return", r.Metrics.TotalReturn),
			zap.Float64("sharpe", r.Metrics.SharpeRatio))
		out = append(out, r)
	}
	return out, nil
}
