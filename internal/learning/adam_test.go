package learning

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdam_FirstStepMovesByLearningRate(t *testing.T) {
	arch := Architecture{InputDim: 1, OutputDim: 1, Activation: ReLU}
	p := NewParams(arch, rand.New(rand.NewSource(1)))
	p.Out.W.Set(0, 0, 1)
	g := p.zerosLike()
	g.Out.W.Set(0, 0, 0.5)
	g.Out.B.Set(0, 0, -2)

	opt := NewAdam(0.1, 0.9, 0.999, 1e-8, p)
	skipped := opt.Step(p, g)
	assert.Empty(t, skipped)
	assert.Equal(t, 1, opt.Steps())

	// With bias correction the first step is lr·sign(g).
	assert.InDelta(t, 0.9, p.Out.W.At(0, 0), 1e-6)
	assert.InDelta(t, 0.1, p.Out.B.At(0, 0), 1e-6)
}

func TestAdam_SkipsNonFiniteParameter(t *testing.T) {
	arch := Architecture{InputDim: 2, HiddenDims: []int{2}, OutputDim: 2, Activation: ReLU}
	p := NewParams(arch, rand.New(rand.NewSource(1)))
	before := p.Clone()

	g := p.zerosLike()
	for _, nt := range g.tensors() {
		nt.m.Apply(func(_, _ int, _ float64) float64 { return 0.1 }, nt.m)
	}
	g.Hidden[0].B.Set(0, 1, math.Inf(1))

	opt := NewAdam(0.01, 0.9, 0.999, 1e-8, p)
	skipped := opt.Step(p, g)
	assert.Equal(t, []string{"b0"}, skipped)

	assert.Equal(t, before.Hidden[0].B.RawMatrix().Data, p.Hidden[0].B.RawMatrix().Data)
	assert.Equal(t, []float64{0, 0}, opt.m[1].RawMatrix().Data, "moments of skipped param stay put")
	assert.NotEqual(t, before.Hidden[0].W.RawMatrix().Data, p.Hidden[0].W.RawMatrix().Data)
	assert.NotEqual(t, before.Out.W.RawMatrix().Data, p.Out.W.RawMatrix().Data)
}
