package learning

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam is the optimizer state for one parameter container.
// Moment buffers are aligned with Params.tensors().
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	t int
	m []*mat.Dense
	v []*mat.Dense
}

// NewAdam returns an optimizer with zeroed moments shaped like p.
func NewAdam(lr, beta1, beta2, eps float64, p *Params) *Adam {
	o := &Adam{LearningRate: lr, Beta1: beta1, Beta2: beta2, Epsilon: eps}
	o.reset(p)
	return o
}

func (o *Adam) reset(p *Params) {
	o.t = 0
	o.m = o.m[:0]
	o.v = o.v[:0]
	for _, nt := range p.zerosLike().tensors() {
		o.m = append(o.m, nt.m)
	}
	for _, nt := range p.zerosLike().tensors() {
		o.v = append(o.v, nt.m)
	}
}

// Steps returns the number of updates applied so far.
func (o *Adam) Steps() int { return o.t }

// Step applies one bias-corrected update of grads to params. A parameter
// whose update or updated value is not finite is left untouched, moments
// included; its name is returned so the caller can report it.
func (o *Adam) Step(params, grads *Params) []string {
	o.t++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.t))

	var skipped []string
	gs := grads.tensors()
	for i, pt := range params.tensors() {
		p := pt.m.RawMatrix().Data
		g := gs[i].m.RawMatrix().Data
		m := o.m[i].RawMatrix().Data
		v := o.v[i].RawMatrix().Data

		nextP := make([]float64, len(p))
		nextM := make([]float64, len(m))
		nextV := make([]float64, len(v))
		ok := true
		for j := range p {
			nextM[j] = o.Beta1*m[j] + (1-o.Beta1)*g[j]
			nextV[j] = o.Beta2*v[j] + (1-o.Beta2)*g[j]*g[j]
			upd := o.LearningRate * (nextM[j] / bc1) / (math.Sqrt(nextV[j]/bc2) + o.Epsilon)
			nextP[j] = p[j] - upd
			if !isFinite(upd) || !isFinite(nextP[j]) {
				ok = false
				break
			}
		}
		if !ok {
			skipped = append(skipped, pt.name)
			continue
		}
		copy(p, nextP)
		copy(m, nextM)
		copy(v, nextV)
	}
	return skipped
}
