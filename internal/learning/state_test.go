package learning

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/dqn-trader/pkg/replay"
)

func trainedAgent(t *testing.T) *Agent {
	t.Helper()
	arch := Architecture{InputDim: 2, HiddenDims: []int{4, 3}, OutputDim: 3, Activation: ReLU}
	a := newTestAgent(t, arch, DefaultHyperparameters())
	batch := replay.Batch{
		States:     [][]float64{{1, 0}, {0, 1}},
		Actions:    []int{0, 2},
		Rewards:    []float64{1, -1},
		NextStates: [][]float64{{0, 1}, {1, 0}},
		Dones:      []bool{false, true},
	}
	for i := 0; i < 5; i++ {
		_, err := a.TrainStep(batch)
		require.NoError(t, err)
	}
	return a
}

func TestState_Keys(t *testing.T) {
	s := trainedAgent(t).State()
	var keys []string
	for k := range s.Weights {
		keys = append(keys, k)
	}
	want := []string{"W0", "b0", "W1", "b1", "W_out", "b_out"}
	assert.ElementsMatch(t, want, keys)
	assert.Equal(t, Tensor{Rows: 1, Cols: 3, Data: s.Weights["b_out"].Data}, s.Weights["b_out"])
	require.NotNil(t, s.Optimizer)
	assert.Equal(t, 5, s.Optimizer.Step)
}

func TestState_RoundTrip(t *testing.T) {
	src := trainedAgent(t)
	src.MarkTrained()
	s := src.State()

	dst, err := NewAgentFromState(s, rand.New(rand.NewSource(9)), nil)
	require.NoError(t, err)

	if diff := cmp.Diff(s, dst.State()); diff != "" {
		t.Errorf("state mismatch after restore (-want +got):\n%s", diff)
	}
	assert.Equal(t, src.Version(), dst.Version())
	assert.True(t, dst.Trained())

	states := [][]float64{{0.3, -0.2}, {1, 1}}
	want, err := src.Forward(states, Online)
	require.NoError(t, err)
	got, err := dst.Forward(states, Online)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The target is synced from the restored online weights.
	gotTarget, err := dst.Forward(states, Target)
	require.NoError(t, err)
	assert.Equal(t, want, gotTarget)
}

func TestSetState_MissingKeyIsStructural(t *testing.T) {
	a := trainedAgent(t)
	s := a.State()
	delete(s.Weights, "W1")

	other := trainedAgent(t)
	other.online.Out.W.Set(0, 0, 42)
	before := other.State()

	err := other.SetState(s)
	assert.ErrorIs(t, err, ErrStructural)
	if diff := cmp.Diff(before, other.State()); diff != "" {
		t.Errorf("failed restore modified the agent:\n%s", diff)
	}
}

func TestSetState_Reshape(t *testing.T) {
	a := trainedAgent(t)
	s := a.State()

	// W0 is (2, 4); a (4, 2) tensor carries the same element count.
	w := s.Weights["W0"]
	w.Rows, w.Cols = w.Cols, w.Rows
	s.Weights["W0"] = w
	require.NoError(t, a.SetState(s))
	assert.Equal(t, w.Data, a.State().Weights["W0"].Data)

	w.Data = w.Data[1:]
	s.Weights["W0"] = w
	assert.ErrorIs(t, a.SetState(s), ErrStructural)
}

func TestSetState_ArchitectureMismatch(t *testing.T) {
	a := trainedAgent(t)
	s := a.State()
	s.Architecture.HiddenDims = []int{4}
	assert.ErrorIs(t, a.SetState(s), ErrStructural)
}

func TestSetState_WithoutOptimizerResetsMoments(t *testing.T) {
	a := trainedAgent(t)
	s := a.State()
	s.Optimizer = nil
	require.NoError(t, a.SetState(s))
	assert.Equal(t, 0, a.opt.Steps())
}

func TestState_Validate(t *testing.T) {
	s := trainedAgent(t).State()
	require.NoError(t, s.Validate())

	missing := trainedAgent(t).State()
	delete(missing.Weights, "b_out")
	assert.ErrorIs(t, missing.Validate(), ErrStructural)

	noDims := trainedAgent(t).State()
	noDims.Architecture.InputDim = 0
	assert.ErrorIs(t, noDims.Validate(), ErrStructural)

	unbuilt := trainedAgent(t).State()
	unbuilt.Built = false
	assert.ErrorIs(t, unbuilt.Validate(), ErrStructural)
	assert.ErrorIs(t, trainedAgent(t).SetState(unbuilt), ErrStructural)
}
