package trainer

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/your-org/dqn-trader/internal/trading"
)

// successWindow is the number of recent episodes the success rate covers.
const successWindow = 100

// diagnose computes the RL health figures for ep. h holds the episodes
// before it; eps is the exploration rate recorded for ep.
func diagnose(h *History, ep episodeResult, eps, learningRate float64) Diagnostics {
	nan := math.NaN()
	d := Diagnostics{Loss: nan, LearningRate: learningRate, ValueEstimate: nan, TDError: nan, ExplainedVariance: nan}

	if len(ep.losses) > 0 {
		d.Loss = stat.Mean(ep.losses, nil)
		d.TDError = ep.losses[len(ep.losses)-1]
	}
	if eps > 0 && eps < 1 {
		d.Entropy = -(eps*math.Log(eps) + (1-eps)*math.Log(1-eps))
	}
	if len(ep.qValues) > 0 {
		d.ValueEstimate = stat.Mean(ep.qValues, nil)
	}
	if n := len(h.Epsilons); n > 0 {
		d.KLDivergence = math.Min(math.Abs(eps-h.Epsilons[n-1])*10, 1)
	}
	d.ExplainedVariance = explainedVariance(ep.portfolioValues, ep.reward)

	recent := h.Rewards[max(0, len(h.Rewards)-successWindow+1):]
	wins := 0
	if ep.reward > 0 {
		wins++
	}
	for _, r := range recent {
		if r > 0 {
			wins++
		}
	}
	d.SuccessRate = float64(wins) / float64(len(recent)+1)
	return d
}

// explainedVariance compares step returns against the episode reward spread
// evenly over the steps. NaN when there are no returns.
func explainedVariance(values []float64, reward float64) float64 {
	returns := trading.StepReturns(values)
	if len(returns) == 0 {
		return math.NaN()
	}
	predicted := reward / float64(len(returns))
	var actualVar float64
	if len(returns) > 1 {
		actualVar = stat.PopVariance(returns, nil)
	}
	if actualVar <= 0 {
		return 1
	}
	residuals := make([]float64, len(returns))
	for i, r := range returns {
		residuals[i] = r - predicted
	}
	return math.Max(0, 1-stat.PopVariance(residuals, nil)/actualVar)
}
