package trading

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceRows(prices ...float64) [][]float64 {
	rows := make([][]float64, len(prices))
	for i, p := range prices {
		rows[i] = []float64{p}
	}
	return rows
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CloseIndex = 0
	return cfg
}

func TestSimulator_EndToEndLedger(t *testing.T) {
	sim, err := NewSimulator(testConfig(), priceRows(100, 101, 99, 102, 100))
	require.NoError(t, err)
	require.Equal(t, 4, sim.Steps())

	const c = 0.001
	units := 100000 / (100 * (1 + c))
	buyCost := units * 100 * c
	cashAfterBuy := 100000 - units*100 - buyCost
	sellCost := units * 99 * c
	cashAfterSell := cashAfterBuy + units*99 - sellCost

	wantRewards := []float64{
		-buyCost,
		0.1 * (101 - 100) * units,
		(99-100)*units - sellCost,
		-0.005,
	}
	wantValues := []float64{
		100000,
		cashAfterBuy + units*100,
		cashAfterBuy + units*101,
		cashAfterSell,
		cashAfterSell,
	}

	var rewards []float64
	for i, a := range []Action{Buy, Hold, Sell, Hold} {
		res, err := sim.Step(a)
		require.NoError(t, err)
		assert.False(t, res.Invalid, "step %d", i)
		assert.Equal(t, i == 3, res.Done, "step %d", i)
		rewards = append(rewards, res.Reward)
	}
	assert.True(t, sim.Done())

	approx := cmpopts.EquateApprox(0, 1e-6)
	if diff := cmp.Diff(wantRewards, rewards, approx); diff != "" {
		t.Errorf("rewards mismatch (-want +got):\n%s", diff)
	}
	l := sim.Ledger()
	if diff := cmp.Diff(wantValues, l.PortfolioValues, approx); diff != "" {
		t.Errorf("portfolio values mismatch (-want +got):\n%s", diff)
	}

	wantTrades := []TradeRecord{
		{Side: SideBuy, Price: 100, Units: units, Cost: buyCost, PnL: -buyCost},
		{Side: SideSell, Price: 99, Units: units, Cost: sellCost, PnL: (99-100)*units - sellCost},
	}
	if diff := cmp.Diff(wantTrades, l.Trades, approx); diff != "" {
		t.Errorf("trades mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, l.Position.IsFlat())
	assert.InDelta(t, cashAfterSell, l.Cash, 1e-6)
	assert.InDelta(t, -units, l.RealizedPnL, 1e-6)

	_, err = sim.Step(Hold)
	assert.ErrorIs(t, err, ErrEpisodeOver)
}

func TestSimulator_DoubleBuyIsPenalized(t *testing.T) {
	sim, err := NewSimulator(testConfig(), priceRows(100, 100, 100, 100))
	require.NoError(t, err)

	_, err = sim.Step(Buy)
	require.NoError(t, err)
	l := sim.Ledger()
	cash, units := l.Cash, l.Units()

	res, err := sim.Step(Buy)
	require.NoError(t, err)
	assert.True(t, res.Invalid)
	assert.Equal(t, -1.0, res.Reward)
	assert.Empty(t, res.Trades)
	assert.Equal(t, cash, l.Cash)
	assert.Equal(t, units, l.Units())
	assert.Len(t, l.Trades, 1)
}

func TestSimulator_SellWhenFlatIsPenalized(t *testing.T) {
	sim, err := NewSimulator(testConfig(), priceRows(100, 100, 100))
	require.NoError(t, err)

	res, err := sim.Step(Sell)
	require.NoError(t, err)
	assert.True(t, res.Invalid)
	assert.Equal(t, -1.0, res.Reward)
	assert.Equal(t, 100000.0, sim.Ledger().Cash)
}

func TestSimulator_UnaffordableBuyIsPenalized(t *testing.T) {
	cfg := testConfig()
	cfg.InitialCash = 50
	sim, err := NewSimulator(cfg, priceRows(100, 100, 100))
	require.NoError(t, err)

	res, err := sim.Step(Buy)
	require.NoError(t, err)
	assert.True(t, res.Invalid)
	assert.True(t, sim.Ledger().Position.IsFlat())
}

func TestSimulator_HoldRewards(t *testing.T) {
	sim, err := NewSimulator(testConfig(), priceRows(100, 100, 110, 105, 105, 105))
	require.NoError(t, err)

	res, err := sim.Step(Hold)
	require.NoError(t, err)
	assert.Equal(t, -0.005, res.Reward)

	_, err = sim.Step(Buy)
	require.NoError(t, err)
	units := sim.Ledger().Units()

	// Rewards track the change in unrealized PnL, not its level.
	res, err = sim.Step(Hold)
	require.NoError(t, err)
	assert.InDelta(t, 0.1*10*units, res.Reward, 1e-9)

	res, err = sim.Step(Hold)
	require.NoError(t, err)
	assert.InDelta(t, 0.1*-5*units, res.Reward, 1e-9)
}

func TestSimulator_ForcedLiquidation(t *testing.T) {
	sim, err := NewSimulator(testConfig(), priceRows(100, 110, 120))
	require.NoError(t, err)

	_, err = sim.Step(Buy)
	require.NoError(t, err)
	units := sim.Ledger().Units()

	res, err := sim.Step(Hold)
	require.NoError(t, err)
	require.True(t, res.Done)

	liqCost := units * 120 * 0.001
	holdReward := 0.1 * (110 - 100) * units
	assert.InDelta(t, holdReward+(120-100)*units-liqCost, res.Reward, 1e-6)

	l := sim.Ledger()
	assert.True(t, l.Position.IsFlat())
	require.Len(t, l.Trades, 2)
	assert.True(t, l.Trades[1].Forced)
	assert.Equal(t, SideSell, l.Trades[1].Side)
	assert.Equal(t, 120.0, l.Trades[1].Price)

	// Flat after liquidation, so the last value is pure cash.
	assert.Equal(t, l.Cash, l.PortfolioValues[len(l.PortfolioValues)-1])
	assert.Len(t, l.PortfolioValues, 3)
}

func TestSimulator_ShortSeries(t *testing.T) {
	for _, rows := range [][][]float64{nil, priceRows(100)} {
		sim, err := NewSimulator(testConfig(), rows)
		require.NoError(t, err)
		assert.True(t, sim.Done())
		assert.Equal(t, 0, sim.Steps())
		_, err = sim.Step(Hold)
		assert.ErrorIs(t, err, ErrEpisodeOver)
		assert.Equal(t, []float64{100000}, sim.Ledger().PortfolioValues)
	}
}

func TestSimulator_Validation(t *testing.T) {
	_, err := NewSimulator(DefaultConfig(), priceRows(1, 2))
	assert.Error(t, err, "close index 3 on single-column rows")

	sim, err := NewSimulator(testConfig(), priceRows(1, 2))
	require.NoError(t, err)
	_, err = sim.Step(Action(7))
	assert.Error(t, err)
}

func TestSimulator_ResetStartsFresh(t *testing.T) {
	sim, err := NewSimulator(testConfig(), priceRows(100, 101, 102))
	require.NoError(t, err)
	_, _ = sim.Step(Buy)
	_, _ = sim.Step(Hold)
	require.True(t, sim.Done())

	state := sim.Reset()
	assert.Equal(t, []float64{100}, state)
	assert.False(t, sim.Done())
	assert.Equal(t, 100000.0, sim.Ledger().Cash)
	assert.Empty(t, sim.Ledger().Trades)
}

func TestStepReturns(t *testing.T) {
	got := StepReturns([]float64{100, 110, 0, 50, 55})
	want := []float64{0.1, -1, 0.1}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("returns mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, StepReturns([]float64{1}))
}
