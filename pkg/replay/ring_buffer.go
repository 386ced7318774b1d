// Package replay provides the fixed-capacity experience store used for
// off-policy Q-learning.
package replay

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrInsufficientData is returned by Sample when fewer transitions are
// stored than requested. Callers skip the update for this step.
var ErrInsufficientData = errors.New("insufficient data in replay buffer")

// Transition is a single environment step. It must not be mutated once pushed.
type Transition struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Done      bool
}

// Batch is a sample decomposed into five aligned sequences.
type Batch struct {
	States     [][]float64
	Actions    []int
	Rewards    []float64
	NextStates [][]float64
	Dones      []bool
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return len(b.Actions)
}

// RingBuffer holds transitions in a circular buffer.
// It is not safe for concurrent use; the training loop owns it.
type RingBuffer struct {
	items []Transition
	size  int
	head  int // Points to the next available slot for writing
	count int // Number of elements currently in the buffer
	rng   *rand.Rand
}

// NewRingBuffer creates a new RingBuffer with the given capacity.
// rng drives sampling; a nil rng gets a fixed-seed source.
func NewRingBuffer(size int, rng *rand.Rand) *RingBuffer {
	if size <= 0 {
		panic("ring buffer size must be positive")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &RingBuffer{
		items: make([]Transition, size),
		size:  size,
		rng:   rng,
	}
}

// Push adds a transition to the buffer.
// If the buffer is full, the oldest transition is overwritten.
func (rb *RingBuffer) Push(t Transition) {
	rb.items[rb.head] = t
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Len returns the number of stored transitions.
func (rb *RingBuffer) Len() int {
	return rb.count
}

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// Sample draws n distinct transitions uniformly at random.
// The order of the returned rows carries no meaning.
func (rb *RingBuffer) Sample(n int) (Batch, error) {
	if n > rb.count {
		return Batch{}, fmt.Errorf("%w: requested %d, have %d", ErrInsufficientData, n, rb.count)
	}
	if n <= 0 {
		return Batch{}, fmt.Errorf("sample size must be positive, got %d", n)
	}

	// Partial Fisher-Yates over the occupied slots.
	idx := make([]int, rb.count)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < n; i++ {
		j := i + rb.rng.Intn(rb.count-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	b := Batch{
		States:     make([][]float64, n),
		Actions:    make([]int, n),
		Rewards:    make([]float64, n),
		NextStates: make([][]float64, n),
		Dones:      make([]bool, n),
	}
	for i := 0; i < n; i++ {
		t := rb.items[idx[i]]
		b.States[i] = t.State
		b.Actions[i] = t.Action
		b.Rewards[i] = t.Reward
		b.NextStates[i] = t.NextState
		b.Dones[i] = t.Done
	}
	return b, nil
}

// Chronological returns the stored transitions oldest first.
func (rb *RingBuffer) Chronological() []Transition {
	if rb.count == 0 {
		return []Transition{}
	}

	result := make([]Transition, rb.count)
	if rb.count < rb.size { // Buffer not yet full
		copy(result, rb.items[:rb.head])
	} else {
		// Oldest element is at rb.head.
		copied := copy(result, rb.items[rb.head:])
		copy(result[copied:], rb.items[:rb.head])
	}
	return result
}

// Reset drops every stored transition.
func (rb *RingBuffer) Reset() {
	for i := range rb.items {
		rb.items[i] = Transition{}
	}
	rb.head = 0
	rb.count = 0
}
