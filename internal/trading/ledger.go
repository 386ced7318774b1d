package trading

import (
	"github.com/your-org/dqn-trader/internal/position"
)

// Side is the direction of a fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeRecord is one executed fill. PnL is net of the transaction cost;
// for a buy it is just the negative cost.
type TradeRecord struct {
	Side   Side    `json:"side" msgpack:"side"`
	Price  float64 `json:"price" msgpack:"price"`
	Units  float64 `json:"units" msgpack:"units"`
	Cost   float64 `json:"cost" msgpack:"cost"`
	PnL    float64 `json:"pnl" msgpack:"pnl"`
	Forced bool    `json:"forced,omitempty" msgpack:"forced,omitempty"`
}

// Ledger is the account state of one episode.
type Ledger struct {
	Cash           float64
	Position       *position.Position
	PrevUnrealized float64
	RealizedPnL    float64 // gross of costs
	TotalCost      float64

	// PortfolioValues starts with the initial cash and gains one entry per step.
	PortfolioValues []float64
	Trades          []TradeRecord
}

func newLedger(initialCash float64) *Ledger {
	return &Ledger{
		Cash:            initialCash,
		Position:        position.NewPosition(),
		PortfolioValues: []float64{initialCash},
	}
}

// Units returns the number of units held.
func (l *Ledger) Units() float64 { return l.Position.Size }

// EntryPrice returns the price the open position was bought at.
func (l *Ledger) EntryPrice() float64 { return l.Position.AvgEntryPrice }

// Value marks the account to price.
func (l *Ledger) Value(price float64) float64 {
	if l.Position.IsFlat() {
		return l.Cash
	}
	return l.Cash + l.Position.Size*price
}

// Returns computes simple step returns from the portfolio values, skipping
// steps whose previous value is not positive.
func (l *Ledger) Returns() []float64 {
	return StepReturns(l.PortfolioValues)
}

// StepReturns computes (v[i]-v[i-1])/v[i-1] for every i with v[i-1] > 0.
func StepReturns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			out = append(out, (values[i]-values[i-1])/values[i-1])
		}
	}
	return out
}

// buy opens a position with all available cash.
func (l *Ledger) buy(price, costRate float64) TradeRecord {
	units := l.Cash / (price * (1 + costRate))
	cost := units * price * costRate
	l.Cash -= units*price + cost
	l.Position.Update(units, price)
	l.PrevUnrealized = 0
	l.TotalCost += cost

	tr := TradeRecord{Side: SideBuy, Price: price, Units: units, Cost: cost, PnL: -cost}
	l.Trades = append(l.Trades, tr)
	return tr
}

// sell closes the whole position at price.
func (l *Ledger) sell(price, costRate float64, forced bool) TradeRecord {
	units := l.Position.Size
	value := units * price
	cost := value * costRate
	realized := l.Position.Update(-units, price)
	l.Cash += value - cost
	l.PrevUnrealized = 0
	l.RealizedPnL += realized
	l.TotalCost += cost

	tr := TradeRecord{Side: SideSell, Price: price, Units: units, Cost: cost, PnL: realized - cost, Forced: forced}
	l.Trades = append(l.Trades, tr)
	return tr
}
