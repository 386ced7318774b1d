package learning

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation is the hidden-layer nonlinearity.
type Activation string

const (
	ReLU Activation = "relu"
	Tanh Activation = "tanh"
)

// ParseActivation validates an activation name from configuration.
func ParseActivation(s string) (Activation, error) {
	switch Activation(s) {
	case ReLU, Tanh:
		return Activation(s), nil
	}
	return "", fmt.Errorf("unknown activation %q", s)
}

// apply keeps NaN as NaN so a bad input surfaces in the output.
func (a Activation) apply(z float64) float64 {
	if a == Tanh {
		return math.Tanh(z)
	}
	if z > 0 || math.IsNaN(z) {
		return z
	}
	return 0
}

// derivative takes both the pre-activation z and the activation out so
// tanh can reuse the forward result.
func (a Activation) derivative(z, out float64) float64 {
	if a == Tanh {
		return 1 - out*out
	}
	if math.IsNaN(z) {
		return z
	}
	if z > 0 {
		return 1
	}
	return 0
}

// Architecture fixes the shape of a feed-forward Q-network.
type Architecture struct {
	InputDim   int        `msgpack:"input_dim" yaml:"input_dim"`
	HiddenDims []int      `msgpack:"hidden_dims" yaml:"hidden_dims"`
	OutputDim  int        `msgpack:"output_dim" yaml:"output_dim"`
	Activation Activation `msgpack:"activation" yaml:"activation"`
}

// Validate reports an ErrStructural for dimensions no network can be built from.
func (a Architecture) Validate() error {
	if a.InputDim <= 0 {
		return structuralf("input dim must be positive, got %d", a.InputDim)
	}
	if a.OutputDim <= 0 {
		return structuralf("output dim must be positive, got %d", a.OutputDim)
	}
	for i, h := range a.HiddenDims {
		if h <= 0 {
			return structuralf("hidden layer %d width must be positive, got %d", i, h)
		}
	}
	if _, err := ParseActivation(string(a.Activation)); err != nil {
		return structuralf("%v", err)
	}
	return nil
}

// Equal reports whether two architectures describe the same parameter shapes.
func (a Architecture) Equal(b Architecture) bool {
	if a.InputDim != b.InputDim || a.OutputDim != b.OutputDim || a.Activation != b.Activation {
		return false
	}
	if len(a.HiddenDims) != len(b.HiddenDims) {
		return false
	}
	for i := range a.HiddenDims {
		if a.HiddenDims[i] != b.HiddenDims[i] {
			return false
		}
	}
	return true
}

// Layer is one affine transform. W is (in, out) and B is (1, out).
type Layer struct {
	W *mat.Dense
	B *mat.Dense
}

// Params is the ordered weight container of one network instance.
type Params struct {
	Hidden []Layer
	Out    Layer
}

// namedTensor pairs a serialized key with the matrix it names.
type namedTensor struct {
	name string
	m    *mat.Dense
}

func weightName(i int) string { return fmt.Sprintf("W%d", i) }
func biasName(i int) string   { return fmt.Sprintf("b%d", i) }

const (
	outWeightName = "W_out"
	outBiasName   = "b_out"
)

type tensorShape struct {
	name       string
	rows, cols int
}

// shapes returns the expected (rows, cols) of every tensor in serialization order.
func (a Architecture) shapes() []tensorShape {
	out := make([]tensorShape, 0, 2*len(a.HiddenDims)+2)
	prev := a.InputDim
	for i, h := range a.HiddenDims {
		out = append(out, tensorShape{weightName(i), prev, h}, tensorShape{biasName(i), 1, h})
		prev = h
	}
	return append(out, tensorShape{outWeightName, prev, a.OutputDim}, tensorShape{outBiasName, 1, a.OutputDim})
}

// NewParams allocates weights drawn from N(0, 0.01²) and zero biases.
func NewParams(arch Architecture, rng *rand.Rand) *Params {
	newLayer := func(in, out int) Layer {
		w := make([]float64, in*out)
		for i := range w {
			w[i] = rng.NormFloat64() * 0.01
		}
		return Layer{W: mat.NewDense(in, out, w), B: mat.NewDense(1, out, nil)}
	}

	p := &Params{Hidden: make([]Layer, len(arch.HiddenDims))}
	prev := arch.InputDim
	for i, h := range arch.HiddenDims {
		p.Hidden[i] = newLayer(prev, h)
		prev = h
	}
	p.Out = newLayer(prev, arch.OutputDim)
	return p
}

// tensors lists every parameter in serialization order: W0, b0, ..., W_out, b_out.
func (p *Params) tensors() []namedTensor {
	out := make([]namedTensor, 0, 2*len(p.Hidden)+2)
	for i, l := range p.Hidden {
		out = append(out, namedTensor{weightName(i), l.W}, namedTensor{biasName(i), l.B})
	}
	return append(out, namedTensor{outWeightName, p.Out.W}, namedTensor{outBiasName, p.Out.B})
}

// check verifies the container matches arch layer for layer.
func (p *Params) check(arch Architecture) error {
	if p == nil {
		return structuralf("network not built")
	}
	if len(p.Hidden) != len(arch.HiddenDims) {
		return structuralf("expected %d hidden layers, found %d", len(arch.HiddenDims), len(p.Hidden))
	}
	shapes := arch.shapes()
	tensors := p.tensors()
	for i, s := range shapes {
		m := tensors[i].m
		if m == nil {
			return structuralf("missing parameter %s", s.name)
		}
		r, c := m.Dims()
		if r != s.rows || c != s.cols {
			return structuralf("parameter %s has shape (%d,%d), want (%d,%d)", s.name, r, c, s.rows, s.cols)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	cp := func(m *mat.Dense) *mat.Dense {
		if m == nil {
			return nil
		}
		return mat.DenseCopyOf(m)
	}
	out := &Params{Hidden: make([]Layer, len(p.Hidden))}
	for i, l := range p.Hidden {
		out.Hidden[i] = Layer{W: cp(l.W), B: cp(l.B)}
	}
	out.Out = Layer{W: cp(p.Out.W), B: cp(p.Out.B)}
	return out
}

// zerosLike returns a container of the same shapes filled with zeros.
func (p *Params) zerosLike() *Params {
	z := func(m *mat.Dense) *mat.Dense {
		r, c := m.Dims()
		return mat.NewDense(r, c, nil)
	}
	out := &Params{Hidden: make([]Layer, len(p.Hidden))}
	for i, l := range p.Hidden {
		out.Hidden[i] = Layer{W: z(l.W), B: z(l.B)}
	}
	out.Out = Layer{W: z(p.Out.W), B: z(p.Out.B)}
	return out
}
