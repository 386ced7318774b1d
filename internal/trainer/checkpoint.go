package trainer

import (
	"fmt"
	"time"

	"github.com/your-org/dqn-trader/internal/learning"
	"github.com/your-org/dqn-trader/internal/trading"
)

// CreationConfig is the human-readable part of a checkpoint: everything
// needed to rebuild the agent and the environment.
type CreationConfig struct {
	Architecture    learning.Architecture    `yaml:"architecture" msgpack:"architecture"`
	Hyperparameters learning.Hyperparameters `yaml:"hyperparameters" msgpack:"hyperparameters"`
	Training        Config                   `yaml:"training" msgpack:"training"`
	Environment     trading.Config           `yaml:"environment" msgpack:"environment"`
}

// Checkpoint is a resumable snapshot of a trainer.
type Checkpoint struct {
	Creation CreationConfig `msgpack:"creation"`
	Agent    learning.State `msgpack:"agent"`
	RunID    string         `msgpack:"run_id"`
	Episodes int            `msgpack:"episodes"`
	Steps    int            `msgpack:"steps"`
	Epsilon  float64        `msgpack:"epsilon"`
	History  *History       `msgpack:"history"`
	SavedAt  time.Time      `msgpack:"saved_at"`
}

// Validate reports an ErrStructural when the history is misaligned or does
// not hold exactly Episodes entries. A nil history counts as empty.
func (cp *Checkpoint) Validate() error {
	if cp == nil {
		return fmt.Errorf("%w: nil checkpoint", learning.ErrStructural)
	}
	n := 0
	if cp.History != nil {
		if err := cp.History.Check(); err != nil {
			return fmt.Errorf("%w: %v", learning.ErrStructural, err)
		}
		n = cp.History.Len()
	}
	if n != cp.Episodes {
		return fmt.Errorf("%w: history has %d episodes, counter says %d", learning.ErrStructural, n, cp.Episodes)
	}
	return nil
}

// CheckpointStore persists checkpoints.
type CheckpointStore interface {
	Save(path string, cp *Checkpoint) error
	// Load fails with learning.ErrStructural when dimensions or
	// parameter keys are missing.
	Load(path string) (*Checkpoint, error)
}
