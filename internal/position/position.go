// Package position tracks the open position of the simulated account.
package position

import (
	"fmt"
)

// Position holds the size and volume-weighted entry price of a position.
// The simulator only ever goes long, but Update handles both directions.
// Owned by one episode; not safe for concurrent use.
type Position struct {
	Size          float64
	AvgEntryPrice float64
}

// NewPosition creates a flat Position.
func NewPosition() *Position {
	return &Position{}
}

// Update applies a fill of tradeSize units (negative to sell) at tradePrice
// and returns the PnL realized by any reduction of the position.
func (p *Position) Update(tradeSize float64, tradePrice float64) (realizedPnL float64) {
	if p.Size == 0 {
		p.Size = tradeSize
		p.AvgEntryPrice = tradePrice
		return 0.0
	}

	// Same direction: average in.
	if (p.Size > 0) == (tradeSize > 0) {
		newSize := p.Size + tradeSize
		p.AvgEntryPrice = (p.Size*p.AvgEntryPrice + tradeSize*tradePrice) / newSize
		p.Size = newSize
		return 0.0
	}

	closedSize := min(abs(tradeSize), abs(p.Size))
	realizedPnL = (tradePrice - p.AvgEntryPrice) * closedSize
	if p.Size < 0 {
		realizedPnL = -realizedPnL
	}

	newSize := p.Size + tradeSize
	switch {
	case closedSize == abs(p.Size) && closedSize == abs(tradeSize):
		newSize = 0
		p.AvgEntryPrice = 0
	case (newSize > 0) != (p.Size > 0):
		// Flipped through zero: the remainder opens at the trade price.
		p.AvgEntryPrice = tradePrice
	}
	p.Size = newSize
	return realizedPnL
}

// Unrealized returns the mark-to-market PnL at price.
func (p *Position) Unrealized(price float64) float64 {
	if p.Size == 0 {
		return 0
	}
	return (price - p.AvgEntryPrice) * p.Size
}

// IsFlat reports whether no units are held.
func (p *Position) IsFlat() bool {
	return p.Size == 0
}

// Reset closes the position without realizing anything.
func (p *Position) Reset() {
	p.Size = 0
	p.AvgEntryPrice = 0
}

// Get returns the current size and average entry price of the position.
func (p *Position) Get() (float64, float64) {
	return p.Size, p.AvgEntryPrice
}

// String returns a string representation of the position.
func (p *Position) String() string {
	return fmt.Sprintf("Position{Size: %.4f, AvgEntryPrice: %.2f}", p.Size, p.AvgEntryPrice)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
