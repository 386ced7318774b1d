package learning

import (
	"gonum.org/v1/gonum/mat"
)

// backward propagates dOut, the loss gradient w.r.t. the network output,
// through the cached forward pass. The result has the same layout as p.
func backward(cache *forwardCache, p *Params, act Activation, dOut *mat.Dense) *Params {
	k := len(p.Hidden)
	g := &Params{Hidden: make([]Layer, k)}

	g.Out = layerGrad(cache.inputs[k], dOut)

	dA := new(mat.Dense)
	dA.Mul(dOut, p.Out.W.T())
	for l := k - 1; l >= 0; l-- {
		z := cache.pre[l]
		h := cache.inputs[l+1]
		var dZ mat.Dense
		dZ.Apply(func(i, j int, v float64) float64 {
			return v * act.derivative(z.At(i, j), h.At(i, j))
		}, dA)

		g.Hidden[l] = layerGrad(cache.inputs[l], &dZ)
		if l > 0 {
			next := new(mat.Dense)
			next.Mul(&dZ, p.Hidden[l].W.T())
			dA = next
		}
	}
	return g
}

// layerGrad returns dW = inᵀ·dZ and db = column sums of dZ.
func layerGrad(in, dZ *mat.Dense) Layer {
	var dW mat.Dense
	dW.Mul(in.T(), dZ)

	r, c := dZ.Dims()
	db := mat.NewDense(1, c, nil)
	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += dZ.At(i, j)
		}
		db.Set(0, j, s)
	}
	return Layer{W: &dW, B: db}
}
