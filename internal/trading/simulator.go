// Package trading simulates a single-asset, long-only account stepped over
// a fixed series of feature rows.
package trading

import (
	"errors"
	"fmt"
)

// Action is a discrete trading decision.
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

// NumActions is the size of the action space.
const NumActions = 3

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ErrEpisodeOver is returned by Step after the terminal step.
var ErrEpisodeOver = errors.New("episode is over")

// Config holds the account and reward parameters. Penalties are negative.
type Config struct {
	InitialCash              float64 `yaml:"initial_cash" msgpack:"initial_cash"`
	TransactionCostRate      float64 `yaml:"transaction_cost_rate" msgpack:"transaction_cost_rate"`
	InvalidActionPenalty     float64 `yaml:"invalid_action_penalty" msgpack:"invalid_action_penalty"`
	HoldCashPenalty          float64 `yaml:"hold_cash_penalty" msgpack:"hold_cash_penalty"`
	UnrealizedPnLRewardScale float64 `yaml:"unrealized_pnl_reward_scale" msgpack:"unrealized_pnl_reward_scale"`
	// CloseIndex is the column of each row holding the close price.
	CloseIndex int `yaml:"close_index" msgpack:"close_index"`
}

// DefaultConfig returns the standard account parameters with the close in column 3.
func DefaultConfig() Config {
	return Config{
		InitialCash:              100000,
		TransactionCostRate:      0.001,
		InvalidActionPenalty:     -1.0,
		HoldCashPenalty:          -0.005,
		UnrealizedPnLRewardScale: 0.1,
		CloseIndex:               3,
	}
}

// StepResult is the outcome of one Step.
type StepResult struct {
	State     []float64
	NextState []float64
	Reward    float64
	Done      bool
	// Invalid is set when the action was not allowed and only the penalty applied.
	Invalid        bool
	Trades         []TradeRecord
	PortfolioValue float64
}

// Simulator steps one episode over rows. Each row is used as the state; the
// close is read from cfg.CloseIndex.
type Simulator struct {
	cfg    Config
	rows   [][]float64
	idx    int
	done   bool
	ledger *Ledger
}

// NewSimulator validates rows and starts a fresh episode.
func NewSimulator(cfg Config, rows [][]float64) (*Simulator, error) {
	if cfg.CloseIndex < 0 {
		return nil, fmt.Errorf("close index must not be negative, got %d", cfg.CloseIndex)
	}
	for i, r := range rows {
		if len(r) <= cfg.CloseIndex {
			return nil, fmt.Errorf("row %d has %d columns, close index %d out of range", i, len(r), cfg.CloseIndex)
		}
	}
	s := &Simulator{cfg: cfg, rows: rows}
	s.Reset()
	return s, nil
}

// Reset starts a new episode with the initial cash and no position.
func (s *Simulator) Reset() []float64 {
	s.idx = 0
	s.ledger = newLedger(s.cfg.InitialCash)
	s.done = len(s.rows) < 2
	if len(s.rows) == 0 {
		return nil
	}
	return s.rows[0]
}

// Steps returns the number of steps an episode takes.
func (s *Simulator) Steps() int {
	if len(s.rows) < 2 {
		return 0
	}
	return len(s.rows) - 1
}

// Done reports whether the terminal step has been taken.
func (s *Simulator) Done() bool { return s.done }

// State returns the current row.
func (s *Simulator) State() []float64 {
	if s.idx >= len(s.rows) {
		return nil
	}
	return s.rows[s.idx]
}

// Ledger returns the live account state of the current episode.
func (s *Simulator) Ledger() *Ledger { return s.ledger }

func (s *Simulator) price(i int) float64 { return s.rows[i][s.cfg.CloseIndex] }

// Step applies action at the current row and advances one row.
func (s *Simulator) Step(action Action) (StepResult, error) {
	if s.done {
		return StepResult{}, ErrEpisodeOver
	}
	if action < Hold || action > Sell {
		return StepResult{}, fmt.Errorf("unknown action %d", int(action))
	}

	l := s.ledger
	price := s.price(s.idx)
	res := StepResult{State: s.rows[s.idx], NextState: s.rows[s.idx+1]}

	switch action {
	case Hold:
		if !l.Position.IsFlat() {
			u := l.Position.Unrealized(price)
			res.Reward = (u - l.PrevUnrealized) * s.cfg.UnrealizedPnLRewardScale
			l.PrevUnrealized = u
		} else {
			res.Reward = s.cfg.HoldCashPenalty
			l.PrevUnrealized = 0
		}
	case Buy:
		if l.Position.IsFlat() && price > 0 && l.Cash >= price*(1+s.cfg.TransactionCostRate) {
			tr := l.buy(price, s.cfg.TransactionCostRate)
			res.Reward = -tr.Cost
			res.Trades = append(res.Trades, tr)
		} else {
			res.Reward = s.cfg.InvalidActionPenalty
			res.Invalid = true
		}
	case Sell:
		if !l.Position.IsFlat() {
			tr := l.sell(price, s.cfg.TransactionCostRate, false)
			res.Reward = tr.PnL
			res.Trades = append(res.Trades, tr)
		} else {
			res.Reward = s.cfg.InvalidActionPenalty
			res.Invalid = true
		}
	}

	res.Done = s.idx == len(s.rows)-2
	if res.Done && !l.Position.IsFlat() {
		tr := l.sell(s.price(s.idx+1), s.cfg.TransactionCostRate, true)
		res.Reward += tr.PnL
		res.Trades = append(res.Trades, tr)
	}

	res.PortfolioValue = l.Value(price)
	l.PortfolioValues = append(l.PortfolioValues, res.PortfolioValue)

	s.idx++
	s.done = res.Done
	return res, nil
}
