package datastore

import "math"

// ewmVolatility tracks the exponentially weighted standard deviation of
// simple returns. The mean return is taken as zero (RiskMetrics form):
//
//	Var_t = (1-alpha)*Var_{t-1} + alpha*R_t^2
type ewmVolatility struct {
	alpha     float64
	prevPrice float64
	variance  float64
	started   bool
}

// newEWMVolatility weights the newest return like a period-length EMA.
func newEWMVolatility(period int) *ewmVolatility {
	return &ewmVolatility{alpha: 2 / float64(period+1)}
}

// update feeds the next price and returns the current deviation. The first
// price and any price following a zero only seed the calculator.
func (v *ewmVolatility) update(price float64) float64 {
	if !v.started || v.prevPrice == 0 {
		v.prevPrice = price
		v.started = true
		return math.Sqrt(v.variance)
	}
	ret := (price - v.prevPrice) / v.prevPrice
	v.variance = (1-v.alpha)*v.variance + v.alpha*ret*ret
	v.prevPrice = price
	return math.Sqrt(v.variance)
}

func ewmVolatilitySeries(closes []float64, period int) []float64 {
	v := newEWMVolatility(period)
	out := make([]float64, len(closes))
	for i, c := range closes {
		out[i] = v.update(c)
	}
	return out
}
