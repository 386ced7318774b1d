// Package learning implements the Q-network, its optimizer and the
// Double DQN agent that trains it from replayed experience.
package learning

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/your-org/dqn-trader/pkg/replay"
)

// Hyperparameters controls the optimizer and the bootstrap target.
type Hyperparameters struct {
	LearningRate float64 `msgpack:"learning_rate" yaml:"learning_rate"`
	Beta1        float64 `msgpack:"adam_beta1" yaml:"adam_beta1"`
	Beta2        float64 `msgpack:"adam_beta2" yaml:"adam_beta2"`
	AdamEpsilon  float64 `msgpack:"adam_epsilon" yaml:"adam_epsilon"`
	Gamma        float64 `msgpack:"gamma" yaml:"gamma"`
	DoubleDQN    bool    `msgpack:"double_dqn" yaml:"double_dqn"`
}

// DefaultHyperparameters mirrors the configuration defaults.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		AdamEpsilon:  1e-8,
		Gamma:        0.99,
		DoubleDQN:    true,
	}
}

// Network selects one of the agent's two parameter sets.
type Network int

const (
	Online Network = iota
	Target
)

func (n Network) String() string {
	if n == Target {
		return "target"
	}
	return "online"
}

// Decision is the outcome of epsilon-greedy action selection.
// MaxQ is NaN for exploratory picks.
type Decision struct {
	Action int
	MaxQ   float64
	Greedy bool
}

// Agent owns the online and target networks and the optimizer.
// It is driven by a single training loop and is not safe for concurrent use.
type Agent struct {
	arch   Architecture
	hp     Hyperparameters
	online *Params
	target *Params
	opt    *Adam
	rng    *rand.Rand
	logger *zap.Logger

	version string
	trained bool
}

// NewAgent builds both networks and syncs the target from the online net.
func NewAgent(arch Architecture, hp Hyperparameters, rng *rand.Rand, logger *zap.Logger) (*Agent, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	online := NewParams(arch, rng)
	a := &Agent{
		arch:    arch,
		hp:      hp,
		online:  online,
		target:  online.Clone(),
		opt:     NewAdam(hp.LearningRate, hp.Beta1, hp.Beta2, hp.AdamEpsilon, online),
		rng:     rng,
		logger:  logger,
		version: newVersion(),
	}
	logger.Info("q-network built",
		zap.Int("input_dim", arch.InputDim),
		zap.Ints("hidden_dims", arch.HiddenDims),
		zap.Int("output_dim", arch.OutputDim),
		zap.String("activation", string(arch.Activation)),
		zap.Bool("double_dqn", hp.DoubleDQN))
	return a, nil
}

// Architecture returns the network shape.
func (a *Agent) Architecture() Architecture { return a.arch }

// Hyperparameters returns the optimizer and target settings.
func (a *Agent) Hyperparameters() Hyperparameters { return a.hp }

// LearningRate returns the current optimizer step size.
func (a *Agent) LearningRate() float64 { return a.opt.LearningRate }

// Version returns the identifier of the current weights.
func (a *Agent) Version() string { return a.version }

// Trained reports whether MarkTrained has been called.
func (a *Agent) Trained() bool { return a.trained }

// MarkTrained flags the weights as trained and rotates the version.
func (a *Agent) MarkTrained() {
	a.trained = true
	a.version = newVersion()
}

func (a *Agent) params(which Network) *Params {
	if which == Target {
		return a.target
	}
	return a.online
}

// Forward returns Q-values for a batch of states from the chosen network.
// Non-finite outputs are logged and returned as-is.
func (a *Agent) Forward(states [][]float64, which Network) ([][]float64, error) {
	out, err := a.forwardMatrix(states, which)
	if err != nil {
		return nil, err
	}
	return rows(out), nil
}

func (a *Agent) forwardMatrix(states [][]float64, which Network) (*mat.Dense, error) {
	p := a.params(which)
	if err := p.check(a.arch); err != nil {
		return nil, fmt.Errorf("%s network: %w", which, err)
	}
	x, err := toMatrix(states, a.arch.InputDim)
	if err != nil {
		return nil, err
	}
	out, _ := forward(x, p, a.arch.Activation, false)
	if !allFinite(out.RawMatrix().Data) {
		a.logger.Warn("non-finite q-values", zap.Stringer("network", which), zap.Int("batch", len(states)))
	}
	return out, nil
}

// Predict implements Model using the online network.
func (a *Agent) Predict(ctx context.Context, states [][]float64) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.Forward(states, Online)
}

// SyncTarget copies every online parameter into the target network.
func (a *Agent) SyncTarget() {
	a.target = a.online.Clone()
}

// SelectAction picks a uniformly random action with probability epsilon,
// otherwise the first action with the highest online Q-value.
func (a *Agent) SelectAction(state []float64, epsilon float64) (Decision, error) {
	if a.rng.Float64() < epsilon {
		return Decision{Action: a.rng.Intn(a.arch.OutputDim), MaxQ: math.NaN()}, nil
	}
	out, err := a.forwardMatrix([][]float64{state}, Online)
	if err != nil {
		return Decision{}, err
	}
	q := out.RawRowView(0)
	best := floats.MaxIdx(q)
	return Decision{Action: best, MaxQ: q[best], Greedy: true}, nil
}

// bootstrapTargets computes y = r + γ·V(s') for non-terminal rows and y = r
// for terminal ones. With DoubleDQN the online net picks the next action and
// the target net scores it; otherwise the target net does both.
func (a *Agent) bootstrapTargets(b replay.Batch) ([]float64, error) {
	tq, err := a.forwardMatrix(b.NextStates, Target)
	if err != nil {
		return nil, err
	}
	var oq *mat.Dense
	if a.hp.DoubleDQN {
		if oq, err = a.forwardMatrix(b.NextStates, Online); err != nil {
			return nil, err
		}
	}

	y := make([]float64, b.Len())
	for i := range y {
		if b.Dones[i] {
			y[i] = b.Rewards[i]
			continue
		}
		var next float64
		if a.hp.DoubleDQN {
			next = tq.At(i, floats.MaxIdx(oq.RawRowView(i)))
		} else {
			next = floats.Max(tq.RawRowView(i))
		}
		y[i] = b.Rewards[i] + a.hp.Gamma*next
	}
	return y, nil
}

// TrainStep performs one gradient update on the online network from a
// sampled batch and returns the mean squared TD loss.
//
// A non-finite loss aborts the step before any parameter moves and is
// reported as NaN with ErrDivergence. Parameters whose Adam update turns
// non-finite are skipped individually; the loss is still returned, joined
// with an ErrDivergence naming them.
func (a *Agent) TrainStep(b replay.Batch) (float64, error) {
	n := b.Len()
	if n == 0 {
		return math.NaN(), fmt.Errorf("empty batch")
	}
	if len(b.States) != n || len(b.Rewards) != n || len(b.NextStates) != n || len(b.Dones) != n {
		return math.NaN(), structuralf("batch sequences are not aligned")
	}
	for i, act := range b.Actions {
		if act < 0 || act >= a.arch.OutputDim {
			return math.NaN(), structuralf("action %d at row %d out of range", act, i)
		}
	}

	y, err := a.bootstrapTargets(b)
	if err != nil {
		return math.NaN(), err
	}
	x, err := toMatrix(b.States, a.arch.InputDim)
	if err != nil {
		return math.NaN(), err
	}
	if err := a.online.check(a.arch); err != nil {
		return math.NaN(), fmt.Errorf("online network: %w", err)
	}
	out, cache := forward(x, a.online, a.arch.Activation, true)

	var loss float64
	dOut := mat.NewDense(n, a.arch.OutputDim, nil)
	for i, act := range b.Actions {
		diff := out.At(i, act) - y[i]
		loss += diff * diff
		dOut.Set(i, act, 2*diff/float64(n))
	}
	loss /= float64(n)

	if !isFinite(loss) {
		a.logger.Warn("non-finite loss, skipping update", zap.Float64("loss", loss), zap.Int("batch", n))
		return math.NaN(), divergencef("loss is %v", loss)
	}

	grads := backward(cache, a.online, a.arch.Activation, dOut)
	if skipped := a.opt.Step(a.online, grads); len(skipped) > 0 {
		a.logger.Warn("skipped non-finite parameter updates",
			zap.Strings("params", skipped), zap.Int("adam_step", a.opt.Steps()))
		return loss, divergencef("non-finite update for %v", skipped)
	}
	return loss, nil
}
