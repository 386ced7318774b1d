package learning

import (
	"gonum.org/v1/gonum/mat"
)

// forwardCache keeps what backward needs. inputs[l] is the matrix fed
// into layer l, so inputs[0] is the state batch and inputs[len(Hidden)]
// feeds the output layer. pre[l] is the pre-activation of hidden layer l.
type forwardCache struct {
	inputs []*mat.Dense
	pre    []*mat.Dense
}

// toMatrix flattens a batch of state vectors into a (B, dim) matrix.
func toMatrix(rows [][]float64, dim int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, structuralf("empty state batch")
	}
	data := make([]float64, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, structuralf("state row %d has %d features, want %d", i, len(r), dim)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), dim, data), nil
}

// affine computes x·W + b with b broadcast across rows.
func affine(x *mat.Dense, l Layer) *mat.Dense {
	var z mat.Dense
	z.Mul(x, l.W)
	b := l.B.RawRowView(0)
	z.Apply(func(_, j int, v float64) float64 { return v + b[j] }, &z)
	return &z
}

// forward runs x through p. The hidden layers use act; the output layer
// is linear. The cache is only populated when keep is set.
func forward(x *mat.Dense, p *Params, act Activation, keep bool) (*mat.Dense, *forwardCache) {
	var cache *forwardCache
	if keep {
		cache = &forwardCache{
			inputs: make([]*mat.Dense, 0, len(p.Hidden)+1),
			pre:    make([]*mat.Dense, 0, len(p.Hidden)),
		}
	}

	a := x
	for _, l := range p.Hidden {
		z := affine(a, l)
		var h mat.Dense
		h.Apply(func(_, _ int, v float64) float64 { return act.apply(v) }, z)
		if keep {
			cache.inputs = append(cache.inputs, a)
			cache.pre = append(cache.pre, z)
		}
		a = &h
	}
	if keep {
		cache.inputs = append(cache.inputs, a)
	}
	return affine(a, p.Out), cache
}

// rows copies a matrix into a slice of rows.
func rows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		mat.Row(row, i, m)
		out[i] = row
	}
	return out
}
