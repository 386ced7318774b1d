package learning

import (
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Tensor is the serialized form of one parameter matrix, row-major.
type Tensor struct {
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float64 `msgpack:"data"`
}

func tensorOf(m *mat.Dense) Tensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return Tensor{Rows: r, Cols: c, Data: data}
}

// OptimizerState is the serialized Adam state keyed like the weights.
type OptimizerState struct {
	Step int               `msgpack:"step"`
	M    map[string]Tensor `msgpack:"m"`
	V    map[string]Tensor `msgpack:"v"`
}

// State is everything needed to rebuild an agent: shape, settings and the
// online weights keyed W0, b0, ..., W_out, b_out.
type State struct {
	Architecture    Architecture      `msgpack:"architecture"`
	Hyperparameters Hyperparameters   `msgpack:"hyperparameters"`
	Weights         map[string]Tensor `msgpack:"weights"`
	Optimizer       *OptimizerState   `msgpack:"optimizer,omitempty"`
	Built           bool              `msgpack:"built"`
	Trained         bool              `msgpack:"trained"`
	Version         string            `msgpack:"version"`
}

// State snapshots the online network and optimizer.
func (a *Agent) State() State {
	s := State{
		Architecture:    a.arch,
		Hyperparameters: a.hp,
		Weights:         make(map[string]Tensor),
		Optimizer: &OptimizerState{
			Step: a.opt.t,
			M:    make(map[string]Tensor),
			V:    make(map[string]Tensor),
		},
		Built:   true,
		Trained: a.trained,
		Version: a.version,
	}
	for i, nt := range a.online.tensors() {
		s.Weights[nt.name] = tensorOf(nt.m)
		s.Optimizer.M[nt.name] = tensorOf(a.opt.m[i])
		s.Optimizer.V[nt.name] = tensorOf(a.opt.v[i])
	}
	return s
}

// restoreTensors builds a Params for arch from serialized tensors. A missing
// key is a structural error. A shape mismatch is accepted only when the
// element count matches, in which case the data is reshaped.
func restoreTensors(arch Architecture, src map[string]Tensor, logger *zap.Logger) (*Params, error) {
	p := &Params{Hidden: make([]Layer, len(arch.HiddenDims))}
	dst := make([]*mat.Dense, 0, 2*len(arch.HiddenDims)+2)
	for _, s := range arch.shapes() {
		t, ok := src[s.name]
		if !ok {
			return nil, structuralf("missing parameter %s", s.name)
		}
		want := s.rows * s.cols
		if len(t.Data) != want {
			return nil, structuralf("parameter %s has %d values, want %d", s.name, len(t.Data), want)
		}
		if t.Rows != s.rows || t.Cols != s.cols {
			logger.Warn("reshaping restored parameter",
				zap.String("param", s.name),
				zap.Ints("from", []int{t.Rows, t.Cols}),
				zap.Ints("to", []int{s.rows, s.cols}))
		}
		data := make([]float64, want)
		copy(data, t.Data)
		dst = append(dst, mat.NewDense(s.rows, s.cols, data))
	}
	for i := range p.Hidden {
		p.Hidden[i] = Layer{W: dst[2*i], B: dst[2*i+1]}
	}
	k := len(p.Hidden)
	p.Out = Layer{W: dst[2*k], B: dst[2*k+1]}
	return p, nil
}

// SetState replaces the online weights, then syncs the target network.
// Nothing is modified when an error is returned. Optimizer moments are
// restored when present and complete, otherwise reset.
func (a *Agent) SetState(s State) error {
	if !s.Built {
		return structuralf("snapshot holds no built network")
	}
	if !s.Architecture.Equal(a.arch) {
		return structuralf("architecture mismatch: have %+v, restoring %+v", a.arch, s.Architecture)
	}
	online, err := restoreTensors(a.arch, s.Weights, a.logger)
	if err != nil {
		return err
	}

	opt := NewAdam(a.hp.LearningRate, a.hp.Beta1, a.hp.Beta2, a.hp.AdamEpsilon, online)
	if s.Optimizer != nil {
		m, errM := restoreTensors(a.arch, s.Optimizer.M, a.logger)
		v, errV := restoreTensors(a.arch, s.Optimizer.V, a.logger)
		if errM == nil && errV == nil {
			opt.t = s.Optimizer.Step
			for i, nt := range m.tensors() {
				opt.m[i] = nt.m
			}
			for i, nt := range v.tensors() {
				opt.v[i] = nt.m
			}
		} else {
			a.logger.Warn("optimizer state incomplete, resetting moments")
		}
	}

	a.online = online
	a.opt = opt
	a.trained = s.Trained
	if s.Version != "" {
		a.version = s.Version
	}
	a.SyncTarget()
	return nil
}

// Validate checks that the snapshot describes a buildable network and
// carries every parameter it needs, without building anything.
func (s State) Validate() error {
	if !s.Built {
		return structuralf("snapshot holds no built network")
	}
	if err := s.Architecture.Validate(); err != nil {
		return err
	}
	for _, sh := range s.Architecture.shapes() {
		t, ok := s.Weights[sh.name]
		if !ok {
			return structuralf("missing parameter %s", sh.name)
		}
		if len(t.Data) != sh.rows*sh.cols {
			return structuralf("parameter %s has %d values, want %d", sh.name, len(t.Data), sh.rows*sh.cols)
		}
	}
	return nil
}

// NewAgentFromState rebuilds an agent from a snapshot.
func NewAgentFromState(s State, rng *rand.Rand, logger *zap.Logger) (*Agent, error) {
	a, err := NewAgent(s.Architecture, s.Hyperparameters, rng, logger)
	if err != nil {
		return nil, err
	}
	if err := a.SetState(s); err != nil {
		return nil, err
	}
	return a, nil
}
