package learning

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Model is a versioned Q-value predictor.
type Model interface {
	// Predict returns one row of action values per state.
	Predict(ctx context.Context, states [][]float64) ([][]float64, error)
	// Version identifies the weights currently being served.
	Version() string
}

func newVersion() string {
	return fmt.Sprintf("model-%s", uuid.New().String())
}

var _ Model = (*Agent)(nil)
