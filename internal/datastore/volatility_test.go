package datastore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEWMVolatility(t *testing.T) {
	tests := []struct {
		name   string
		period int
		prices []float64
		want   []float64
	}{
		{
			name:   "stable price",
			period: 19,
			prices: []float64{100, 100, 100, 100},
			want:   []float64{0, 0, 0, 0},
		},
		{
			// period 3 gives alpha 0.5.
			name:   "one move then flat",
			period: 3,
			prices: []float64{100, 101, 101},
			want:   []float64{0, math.Sqrt(0.5 * 0.0001), math.Sqrt(0.25 * 0.0001)},
		},
		{
			name:   "zero price reseeds",
			period: 3,
			prices: []float64{0, 100, 110},
			want:   []float64{0, 0, math.Sqrt(0.5 * 0.01)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ewmVolatilitySeries(tt.prices, tt.period)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-12, "index %d", i)
			}
		})
	}
}

func TestWithIndicators_EWMVolatility(t *testing.T) {
	out, err := WithIndicators(closeSeries(100, 101, 101), []string{"ewmvol:3"})
	require.NoError(t, err)
	assert.Equal(t, "ewmvol_3", out.Columns[2])
	require.Len(t, out.Rows, 2)
	assert.InDelta(t, math.Sqrt(0.5*0.0001), out.Rows[0][2], 1e-12)
}
