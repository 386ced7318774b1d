package datastore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/markcheno/go-talib"
)

// Indicator is a technical indicator computed over the close column.
type Indicator struct {
	Kind   string
	Period int
}

var indicatorKinds = map[string]bool{"sma": true, "ema": true, "rsi": true, "bbwidth": true, "ewmvol": true}

// ParseIndicator parses "kind:period", e.g. "rsi:14".
func ParseIndicator(s string) (Indicator, error) {
	kind, period, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	if !ok {
		return Indicator{}, fmt.Errorf("indicator %q: want kind:period", s)
	}
	if !indicatorKinds[kind] {
		return Indicator{}, fmt.Errorf("indicator %q: unknown kind %q", s, kind)
	}
	n, err := strconv.Atoi(period)
	if err != nil || n < 2 {
		return Indicator{}, fmt.Errorf("indicator %q: period must be an integer of at least 2", s)
	}
	return Indicator{Kind: kind, Period: n}, nil
}

// Name is the column name the indicator is stored under.
func (i Indicator) Name() string { return fmt.Sprintf("%s_%d", i.Kind, i.Period) }

// lookback is the number of leading rows without a valid value.
func (i Indicator) lookback() int {
	switch i.Kind {
	case "rsi":
		return i.Period
	case "ewmvol":
		return 1
	}
	return i.Period - 1
}

func (i Indicator) compute(closes []float64) []float64 {
	switch i.Kind {
	case "sma":
		return talib.Sma(closes, i.Period)
	case "ema":
		return talib.Ema(closes, i.Period)
	case "rsi":
		return talib.Rsi(closes, i.Period)
	case "ewmvol":
		return ewmVolatilitySeries(closes, i.Period)
	}
	upper, middle, lower := talib.BBands(closes, i.Period, 2, 2, talib.SMA)
	width := make([]float64, len(closes))
	for k := range width {
		if middle[k] != 0 {
			width[k] = (upper[k] - lower[k]) / middle[k]
		}
	}
	return width
}

// WithIndicators returns a copy of fs with one column appended per indicator.
// Leading rows inside the longest warm-up window are dropped.
func WithIndicators(fs *FeatureSet, specs []string) (*FeatureSet, error) {
	if len(specs) == 0 {
		return fs, nil
	}
	inds := make([]Indicator, len(specs))
	warmup := 0
	for k, s := range specs {
		ind, err := ParseIndicator(s)
		if err != nil {
			return nil, err
		}
		inds[k] = ind
		warmup = max(warmup, ind.lookback())
	}
	if len(fs.Rows) <= warmup {
		return nil, fmt.Errorf("%d rows cannot cover an indicator warm-up of %d", len(fs.Rows), warmup)
	}

	closes := make([]float64, len(fs.Rows))
	for r, row := range fs.Rows {
		closes[r] = row[fs.CloseIndex]
	}
	series := make([][]float64, len(inds))
	for k, ind := range inds {
		series[k] = ind.compute(closes)
	}

	out := &FeatureSet{
		Columns:    append(append([]string(nil), fs.Columns...), make([]string, len(inds))...),
		Rows:       make([][]float64, 0, len(fs.Rows)-warmup),
		CloseIndex: fs.CloseIndex,
	}
	for k, ind := range inds {
		out.Columns[len(fs.Columns)+k] = ind.Name()
	}
	for r := warmup; r < len(fs.Rows); r++ {
		row := make([]float64, 0, out.Dim())
		row = append(row, fs.Rows[r]...)
		for k := range inds {
			row = append(row, series[k][r])
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
