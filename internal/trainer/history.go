package trainer

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/your-org/dqn-trader/internal/report"
)

// Diagnostics are the per-episode reinforcement learning health figures.
type Diagnostics struct {
	Loss              float64 `msgpack:"loss" json:"loss"`
	Entropy           float64 `msgpack:"entropy" json:"entropy"`
	LearningRate      float64 `msgpack:"learning_rate" json:"learning_rate"`
	ValueEstimate     float64 `msgpack:"value_estimate" json:"value_estimate"`
	TDError           float64 `msgpack:"td_error" json:"td_error"`
	KLDivergence      float64 `msgpack:"kl_divergence" json:"kl_divergence"`
	ExplainedVariance float64 `msgpack:"explained_variance" json:"explained_variance"`
	SuccessRate       float64 `msgpack:"success_rate" json:"success_rate"`
}

// History is the append-only training record. Every per-episode slice has
// one entry per completed episode; StepLosses has one per update.
type History struct {
	Rewards     []float64               `msgpack:"rewards"`
	Lengths     []int                   `msgpack:"lengths"`
	Epsilons    []float64               `msgpack:"epsilons"`
	FinalValues []float64               `msgpack:"final_values"`
	TradeCounts []int                   `msgpack:"trade_counts"`
	Diagnostics []Diagnostics           `msgpack:"diagnostics"`
	Metrics     []report.EpisodeMetrics `msgpack:"metrics"`
	StepLosses  []float64               `msgpack:"step_losses"`
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{
		Rewards:     []float64{},
		Lengths:     []int{},
		Epsilons:    []float64{},
		FinalValues: []float64{},
		TradeCounts: []int{},
		Diagnostics: []Diagnostics{},
		Metrics:     []report.EpisodeMetrics{},
		StepLosses:  []float64{},
	}
}

// EpisodeRecord is everything appended to History for one episode.
type EpisodeRecord struct {
	Reward      float64
	Length      int
	Epsilon     float64
	FinalValue  float64
	TradeCount  int
	Diagnostics Diagnostics
	Metrics     report.EpisodeMetrics
	Losses      []float64
}

// Len returns the number of recorded episodes.
func (h *History) Len() int { return len(h.Rewards) }

// Append records one episode across every per-episode slice.
func (h *History) Append(r EpisodeRecord) {
	h.Rewards = append(h.Rewards, r.Reward)
	h.Lengths = append(h.Lengths, r.Length)
	h.Epsilons = append(h.Epsilons, r.Epsilon)
	h.FinalValues = append(h.FinalValues, r.FinalValue)
	h.TradeCounts = append(h.TradeCounts, r.TradeCount)
	h.Diagnostics = append(h.Diagnostics, r.Diagnostics)
	h.Metrics = append(h.Metrics, r.Metrics)
	h.StepLosses = append(h.StepLosses, r.Losses...)
}

// Check verifies that every per-episode slice has the same length.
func (h *History) Check() error {
	n := len(h.Rewards)
	lens := map[string]int{
		"lengths":      len(h.Lengths),
		"epsilons":     len(h.Epsilons),
		"final_values": len(h.FinalValues),
		"trade_counts": len(h.TradeCounts),
		"diagnostics":  len(h.Diagnostics),
		"metrics":      len(h.Metrics),
	}
	for name, l := range lens {
		if l != n {
			return fmt.Errorf("history %s has %d entries, rewards has %d", name, l, n)
		}
	}
	return nil
}

// Summary condenses a history for reporting.
type Summary struct {
	Episodes        int     `json:"episodes"`
	TotalSteps      int     `json:"total_steps"`
	Updates         int     `json:"updates"`
	MeanReward      float64 `json:"mean_reward"`
	LastMeanReward  float64 `json:"last_mean_reward"` // over the last 10 episodes
	BestEpisode     int     `json:"best_episode"`
	BestReward      float64 `json:"best_reward"`
	FinalEpsilon    float64 `json:"final_epsilon"`
	MeanSharpe      float64 `json:"mean_sharpe"`
	MeanTotalReturn float64 `json:"mean_total_return"`
	SuccessRate     float64 `json:"success_rate"`
	ScoredEpisodes  int     `json:"scored_episodes"`
}

// MarshalJSON writes non-finite figures as null.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		plain
		MeanReward      *float64 `json:"mean_reward"`
		LastMeanReward  *float64 `json:"last_mean_reward"`
		BestReward      *float64 `json:"best_reward"`
		FinalEpsilon    *float64 `json:"final_epsilon"`
		MeanSharpe      *float64 `json:"mean_sharpe"`
		MeanTotalReturn *float64 `json:"mean_total_return"`
		SuccessRate     *float64 `json:"success_rate"`
	}{
		plain:           plain(s),
		MeanReward:      finite(s.MeanReward),
		LastMeanReward:  finite(s.LastMeanReward),
		BestReward:      finite(s.BestReward),
		FinalEpsilon:    finite(s.FinalEpsilon),
		MeanSharpe:      finite(s.MeanSharpe),
		MeanTotalReturn: finite(s.MeanTotalReturn),
		SuccessRate:     finite(s.SuccessRate),
	}
	return json.Marshal(out)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Summarize computes aggregate figures. Episodes whose metrics are NaN are
// left out of the metric means. Figures with no episodes to cover are NaN.
func (h *History) Summarize() Summary {
	nan := math.NaN()
	s := Summary{Episodes: h.Len(), Updates: len(h.StepLosses), BestEpisode: -1}
	if s.Episodes == 0 {
		s.MeanReward, s.LastMeanReward, s.BestReward = nan, nan, nan
		s.FinalEpsilon, s.SuccessRate = nan, nan
		s.MeanSharpe, s.MeanTotalReturn = nan, nan
		return s
	}
	for _, l := range h.Lengths {
		s.TotalSteps += l
	}
	s.MeanReward = stat.Mean(h.Rewards, nil)
	s.LastMeanReward = stat.Mean(h.Rewards[max(0, s.Episodes-10):], nil)
	s.BestReward = math.Inf(-1)
	for i, r := range h.Rewards {
		if r > s.BestReward {
			s.BestEpisode, s.BestReward = i, r
		}
	}
	s.FinalEpsilon = h.Epsilons[len(h.Epsilons)-1]
	s.SuccessRate = h.Diagnostics[len(h.Diagnostics)-1].SuccessRate

	var sharpe, ret []float64
	for _, m := range h.Metrics {
		if math.IsNaN(m.SharpeRatio) || math.IsNaN(m.TotalReturn) {
			continue
		}
		sharpe = append(sharpe, m.SharpeRatio)
		ret = append(ret, m.TotalReturn)
	}
	s.ScoredEpisodes = len(sharpe)
	if len(sharpe) > 0 {
		s.MeanSharpe = stat.Mean(sharpe, nil)
		s.MeanTotalReturn = stat.Mean(ret, nil)
	} else {
		s.MeanSharpe, s.MeanTotalReturn = nan, nan
	}
	return s
}
