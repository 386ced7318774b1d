// Package checkpoint stores trainer checkpoints as a directory holding a
// human-readable config.yaml and a binary state.msgpack.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/your-org/dqn-trader/internal/learning"
	"github.com/your-org/dqn-trader/internal/trainer"
)

const (
	ConfigFile = "config.yaml"
	StateFile  = "state.msgpack"
)

// FileStore implements trainer.CheckpointStore on the local filesystem.
type FileStore struct {
	logger *zap.Logger
}

var _ trainer.CheckpointStore = (*FileStore)(nil)

// NewFileStore creates a FileStore.
func NewFileStore(logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{logger: logger}
}

// Save writes cp into the directory dir, creating it if needed. Each file is
// written to a temporary name first and renamed into place.
func (s *FileStore) Save(dir string, cp *trainer.Checkpoint) error {
	if cp == nil {
		return errors.New("nil checkpoint")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	cfg, err := yaml.Marshal(cp.Creation)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint config: %w", err)
	}
	state, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint state: %w", err)
	}

	if err := writeFile(filepath.Join(dir, ConfigFile), cfg); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, StateFile), state); err != nil {
		return err
	}
	s.logger.Debug("checkpoint written",
		zap.String("dir", dir),
		zap.Int("episodes", cp.Episodes),
		zap.Int("state_bytes", len(state)))
	return nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

// Load reads the checkpoint in dir. Missing or inconsistent network
// parameters are reported as learning.ErrStructural.
func (s *FileStore) Load(dir string) (*trainer.Checkpoint, error) {
	raw, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint state: %w", err)
	}
	var cp trainer.Checkpoint
	if err := msgpack.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}

	if cfgRaw, err := os.ReadFile(filepath.Join(dir, ConfigFile)); err == nil {
		var creation trainer.CreationConfig
		if err := yaml.Unmarshal(cfgRaw, &creation); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint config: %w", err)
		}
		if !creation.Architecture.Equal(cp.Agent.Architecture) {
			return nil, fmt.Errorf("%w: %s describes a different network than %s", learning.ErrStructural, ConfigFile, StateFile)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("checkpoint has no config sidecar", zap.String("dir", dir))
	} else {
		return nil, fmt.Errorf("failed to read checkpoint config: %w", err)
	}

	if err := cp.Agent.Validate(); err != nil {
		return nil, err
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if cp.History == nil {
		cp.History = trainer.NewHistory()
	}

	s.logger.Info("checkpoint loaded",
		zap.String("dir", dir),
		zap.String("run_id", cp.RunID),
		zap.Int("episodes", cp.Episodes),
		zap.String("model_version", cp.Agent.Version))
	return &cp, nil
}
