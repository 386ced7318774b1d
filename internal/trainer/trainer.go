// Package trainer runs DQN training episodes against the trading simulator
// and owns the counters, exploration schedule and history of a run.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/dqn-trader/internal/dbwriter"
	"github.com/your-org/dqn-trader/internal/learning"
	"github.com/your-org/dqn-trader/internal/report"
	"github.com/your-org/dqn-trader/internal/trading"
	"github.com/your-org/dqn-trader/pkg/replay"
)

// ErrAlreadyRunning is returned when Run or Evaluate is called while a run
// is in progress.
var ErrAlreadyRunning = errors.New("trainer is already running")

// Status is the lifecycle state of a Trainer.
type Status int

const (
	Idle Status = iota
	Running
	Stopped
	Completed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Config holds the episode loop settings.
type Config struct {
	Episodes              int     `yaml:"episodes" msgpack:"episodes"`
	BatchSize             int     `yaml:"batch_size" msgpack:"batch_size"`
	MemorySize            int     `yaml:"memory_size" msgpack:"memory_size"`
	UpdateFrequency       int     `yaml:"update_frequency" msgpack:"update_frequency"`
	TargetUpdateFrequency int     `yaml:"target_update_frequency" msgpack:"target_update_frequency"`
	EpsilonStart          float64 `yaml:"epsilon_start" msgpack:"epsilon_start"`
	EpsilonEnd            float64 `yaml:"epsilon_end" msgpack:"epsilon_end"`
	EpsilonDecay          float64 `yaml:"epsilon_decay" msgpack:"epsilon_decay"`
	CheckpointDir         string  `yaml:"checkpoint_dir" msgpack:"checkpoint_dir"`
	CheckpointEvery       int     `yaml:"checkpoint_every" msgpack:"checkpoint_every"`
	LogEvery              int     `yaml:"log_every" msgpack:"log_every"`
}

// DefaultConfig returns the standard training schedule.
func DefaultConfig() Config {
	return Config{
		Episodes:              100,
		BatchSize:             32,
		MemorySize:            10000,
		UpdateFrequency:       4,
		TargetUpdateFrequency: 100,
		EpsilonStart:          1.0,
		EpsilonEnd:            0.01,
		EpsilonDecay:          0.995,
		LogEvery:              10,
	}
}

func (c Config) validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.MemorySize <= 0 {
		errs = append(errs, fmt.Errorf("memory size must be positive, got %d", c.MemorySize))
	}
	if c.UpdateFrequency <= 0 || c.TargetUpdateFrequency <= 0 {
		errs = append(errs, fmt.Errorf("update frequencies must be positive, got %d and %d", c.UpdateFrequency, c.TargetUpdateFrequency))
	}
	return errors.Join(errs...)
}

// MetricsAggregator scores one episode.
type MetricsAggregator interface {
	CalculateAllMetrics(portfolioValues, returns []float64, trades []trading.TradeRecord) (report.EpisodeMetrics, error)
}

// Options wires a Trainer. Agent and Metrics are required.
type Options struct {
	Config      Config
	Environment trading.Config
	Agent       *learning.Agent
	Metrics     MetricsAggregator
	Checkpoints CheckpointStore     // optional
	Recorder    dbwriter.Repository // optional
	Logger      *zap.Logger
	RNG         *rand.Rand // drives replay sampling
	RunID       string
	// ConfigYAML is stored with the run record.
	ConfigYAML string
}

// Trainer owns one agent, its replay buffer and the run's counters.
// Run and Evaluate must not be called concurrently; Stop and Status may be
// called from any goroutine.
type Trainer struct {
	cfg     Config
	env     trading.Config
	agent   *learning.Agent
	buffer  *replay.RingBuffer
	metrics MetricsAggregator
	store   CheckpointStore
	rec     dbwriter.Repository
	logger  *zap.Logger
	runID   string
	cfgYAML string

	epsilon  float64
	steps    int
	episodes int
	history  *History

	mu       sync.Mutex
	status   Status
	progress Progress
	stop     atomic.Bool
	ckptDue  atomic.Bool
}

// New builds an idle Trainer.
func New(opts Options) (*Trainer, error) {
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if opts.Metrics == nil {
		return nil, errors.New("metrics aggregator is required")
	}
	if err := opts.Config.validate(); err != nil {
		return nil, err
	}
	if n := opts.Agent.Architecture().OutputDim; n != trading.NumActions {
		return nil, fmt.Errorf("%w: agent has %d outputs, environment has %d actions", learning.ErrStructural, n, trading.NumActions)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RNG == nil {
		opts.RNG = rand.New(rand.NewSource(1))
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}

	t := &Trainer{
		cfg:     opts.Config,
		env:     opts.Environment,
		agent:   opts.Agent,
		buffer:  replay.NewRingBuffer(opts.Config.MemorySize, opts.RNG),
		metrics: opts.Metrics,
		store:   opts.Checkpoints,
		rec:     opts.Recorder,
		logger:  opts.Logger.With(zap.String("run_id", opts.RunID)),
		runID:   opts.RunID,
		cfgYAML: opts.ConfigYAML,
		epsilon: opts.Config.EpsilonStart,
		history: NewHistory(),
	}
	t.publish()
	return t, nil
}

// Status returns the lifecycle state.
func (t *Trainer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Trainer) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Stop asks a running trainer to halt at the next episode boundary. A stop
// requested before Run makes Run return without playing an episode.
func (t *Trainer) Stop() {
	t.stop.Store(true)
}

// RequestCheckpoint asks a running trainer to save a checkpoint at the next
// episode boundary. It may be called from any goroutine.
func (t *Trainer) RequestCheckpoint() {
	t.ckptDue.Store(true)
}

// RunID identifies the run in checkpoints and the database.
func (t *Trainer) RunID() string { return t.runID }

// Epsilon returns the current exploration rate.
func (t *Trainer) Epsilon() float64 { return t.epsilon }

// Steps returns the number of environment steps taken while learning.
func (t *Trainer) Steps() int { return t.steps }

// Episodes returns the number of completed training episodes.
func (t *Trainer) Episodes() int { return t.episodes }

// History returns the training history. It must not be modified.
func (t *Trainer) History() *History { return t.history }

// Agent returns the trained agent.
func (t *Trainer) Agent() *learning.Agent { return t.agent }

func (t *Trainer) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == Running {
		return ErrAlreadyRunning
	}
	t.status = Running
	return nil
}

// episodeResult is the raw outcome of one pass over the rows.
type episodeResult struct {
	reward          float64
	length          int
	losses          []float64
	qValues         []float64
	divergences     int
	portfolioValues []float64
	trades          []trading.TradeRecord
}

// Run trains until cfg.Episodes episodes have completed in total, Stop is
// called or ctx is done. Counters continue from a restored checkpoint.
// Stop and cancellation are honoured between episodes only.
func (t *Trainer) Run(ctx context.Context, rows [][]float64) (*History, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.stop.Store(false)

	sim, err := t.newSimulator(rows)
	if err != nil {
		t.setStatus(Stopped)
		return t.history, err
	}
	t.recordRun(ctx)

	t.logger.Info("training started",
		zap.Int("episodes", t.cfg.Episodes),
		zap.Int("start_episode", t.episodes),
		zap.Int("rows", len(rows)),
		zap.Float64("epsilon", t.epsilon))

	var runErr error
	for t.episodes < t.cfg.Episodes {
		if t.stop.Load() {
			t.logger.Info("stop requested", zap.Int("episode", t.episodes))
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		ep, err := t.playEpisode(sim, t.epsilon, true)
		if err != nil {
			runErr = fmt.Errorf("episode %d: %w", t.episodes, err)
			break
		}
		t.epsilon = math.Max(t.cfg.EpsilonEnd, t.epsilon*t.cfg.EpsilonDecay)
		rec := t.finishEpisode(ctx, ep)
		t.episodes++
		t.publish()

		if t.cfg.LogEvery > 0 && (t.episodes-1)%t.cfg.LogEvery == 0 {
			t.logProgress(rec)
		}
		periodic := t.cfg.CheckpointEvery > 0 && t.episodes%t.cfg.CheckpointEvery == 0
		requested := t.ckptDue.Swap(false)
		if (periodic || requested) && t.episodes < t.cfg.Episodes {
			t.saveCheckpoint(fmt.Sprintf("episode_%05d", t.episodes))
		}
	}

	final := Stopped
	if runErr == nil && t.episodes >= t.cfg.Episodes {
		final = Completed
		t.agent.MarkTrained()
	}
	t.saveCheckpoint("final")
	t.publish()
	t.setStatus(final)

	t.logger.Info("training finished",
		zap.Stringer("status", final),
		zap.Int("episodes", t.episodes),
		zap.Int("steps", t.steps),
		zap.String("model_version", t.agent.Version()),
		zap.Error(runErr))
	return t.history, runErr
}

func (t *Trainer) newSimulator(rows [][]float64) (*trading.Simulator, error) {
	if len(rows) > 0 && len(rows[0]) != t.agent.Architecture().InputDim {
		return nil, fmt.Errorf("%w: rows have %d features, network expects %d",
			learning.ErrStructural, len(rows[0]), t.agent.Architecture().InputDim)
	}
	return trading.NewSimulator(t.env, rows)
}

// playEpisode runs one episode. With learn set it feeds the replay buffer,
// trains on the update cadence and syncs the target network.
func (t *Trainer) playEpisode(sim *trading.Simulator, epsilon float64, learn bool) (episodeResult, error) {
	var ep episodeResult
	state := sim.Reset()

	for !sim.Done() {
		d, err := t.agent.SelectAction(state, epsilon)
		if err != nil {
			return ep, err
		}
		if d.Greedy && !math.IsNaN(d.MaxQ) && !math.IsInf(d.MaxQ, 0) {
			ep.qValues = append(ep.qValues, d.MaxQ)
		}

		res, err := sim.Step(trading.Action(d.Action))
		if err != nil {
			return ep, err
		}

		if learn {
			if err := t.learnStep(res, d.Action, &ep); err != nil {
				return ep, err
			}
		}
		ep.reward += res.Reward
		ep.length++
		state = res.NextState
	}

	l := sim.Ledger()
	ep.portfolioValues = append([]float64(nil), l.PortfolioValues...)
	ep.trades = append([]trading.TradeRecord(nil), l.Trades...)
	return ep, nil
}

func (t *Trainer) learnStep(res trading.StepResult, action int, ep *episodeResult) error {
	t.buffer.Push(replay.Transition{
		State:     res.State,
		Action:    action,
		Reward:    res.Reward,
		NextState: res.NextState,
		Done:      res.Done,
	})

	if t.buffer.Len() >= t.cfg.BatchSize && t.steps%t.cfg.UpdateFrequency == 0 {
		batch, err := t.buffer.Sample(t.cfg.BatchSize)
		if err != nil {
			return err
		}
		loss, err := t.agent.TrainStep(batch)
		switch {
		case err == nil:
			ep.losses = append(ep.losses, loss)
		case errors.Is(err, learning.ErrDivergence):
			ep.divergences++
			t.logger.Warn("update diverged", zap.Int("step", t.steps), zap.Error(err))
			if !math.IsNaN(loss) && !math.IsInf(loss, 0) {
				ep.losses = append(ep.losses, loss)
			}
		default:
			return err
		}
	}
	if t.steps%t.cfg.TargetUpdateFrequency == 0 {
		t.agent.SyncTarget()
	}
	t.steps++
	return nil
}

// score runs the aggregator, substituting NaN placeholders on failure.
func (t *Trainer) score(ep episodeResult) report.EpisodeMetrics {
	if len(ep.portfolioValues) < 2 {
		return report.NaNMetrics()
	}
	m, err := t.metrics.CalculateAllMetrics(ep.portfolioValues, trading.StepReturns(ep.portfolioValues), ep.trades)
	if err != nil {
		t.logger.Warn("failed to calculate trading metrics", zap.Int("episode", t.episodes), zap.Error(err))
		return report.NaNMetrics()
	}
	return m
}

func (t *Trainer) finishEpisode(ctx context.Context, ep episodeResult) EpisodeRecord {
	finalValue := math.NaN()
	if n := len(ep.portfolioValues); n > 0 {
		finalValue = ep.portfolioValues[n-1]
	}
	rec := EpisodeRecord{
		Reward:     ep.reward,
		Length:     ep.length,
		Epsilon:    t.epsilon,
		FinalValue: finalValue,
		TradeCount: len(ep.trades),
		Metrics:    t.score(ep),
		Losses:     ep.losses,
	}
	rec.Diagnostics = diagnose(t.history, ep, t.epsilon, t.agent.LearningRate())
	t.history.Append(rec)

	if ep.divergences > 0 {
		t.logger.Warn("episode had diverging updates", zap.Int("episode", t.episodes), zap.Int("count", ep.divergences))
	}

	if t.rec != nil {
		err := t.rec.SaveEpisodeSummary(ctx, dbwriter.EpisodeSummary{
			Time:         time.Now(),
			RunID:        t.runID,
			ModelVersion: t.agent.Version(),
			Episode:      t.episodes,
			Reward:       rec.Reward,
			Length:       rec.Length,
			MeanLoss:     rec.Diagnostics.Loss,
			Epsilon:      rec.Epsilon,
			FinalValue:   rec.FinalValue,
			Trades:       rec.TradeCount,
			Metrics:      rec.Metrics,
		})
		if err != nil {
			t.logger.Error("failed to record episode summary", zap.Int("episode", t.episodes), zap.Error(err))
		}
	}
	return rec
}

func (t *Trainer) recordRun(ctx context.Context) {
	if t.rec == nil {
		return
	}
	err := t.rec.SaveRun(ctx, dbwriter.TrainingRun{
		RunID:        t.runID,
		StartedAt:    time.Now(),
		ModelVersion: t.agent.Version(),
		Episodes:     t.cfg.Episodes,
		ConfigYAML:   t.cfgYAML,
	})
	if err != nil {
		t.logger.Error("failed to record training run", zap.Error(err))
		return
	}
	last, err := t.rec.LastEpisode(ctx, t.runID)
	if err != nil {
		t.logger.Error("failed to read recorded episodes", zap.Error(err))
		return
	}
	if last >= t.episodes {
		t.logger.Warn("database already holds episodes past the restored checkpoint; they will be recorded again",
			zap.Int("recorded_through", last), zap.Int("resume_from", t.episodes))
	}
}

func (t *Trainer) logProgress(rec EpisodeRecord) {
	recent := t.history.Rewards[max(0, t.history.Len()-10):]
	var sum float64
	for _, r := range recent {
		sum += r
	}
	t.logger.Info("episode complete",
		zap.Int("episode", t.episodes),
		zap.Float64("reward", rec.Reward),
		zap.Float64("avg_reward_10", sum/float64(len(recent))),
		zap.Float64("mean_loss", rec.Diagnostics.Loss),
		zap.Float64("epsilon", t.epsilon),
		zap.Int("steps", t.steps),
		zap.Int("buffer", t.buffer.Len()),
		zap.Float64("sharpe", rec.Metrics.SharpeRatio),
		zap.Float64("final_value", rec.FinalValue))
}

// Evaluation is the outcome of a greedy evaluation episode.
type Evaluation struct {
	Reward          float64
	Length          int
	PortfolioValues []float64
	Trades          []trading.TradeRecord
	Metrics         report.EpisodeMetrics
}

// Evaluate plays one greedy episode over rows without exploring or learning.
// Counters, epsilon, the replay buffer and history are left untouched.
func (t *Trainer) Evaluate(ctx context.Context, rows [][]float64) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, err
	}
	t.mu.Lock()
	if t.status == Running {
		t.mu.Unlock()
		return Evaluation{}, ErrAlreadyRunning
	}
	t.mu.Unlock()

	sim, err := t.newSimulator(rows)
	if err != nil {
		return Evaluation{}, err
	}
	ep, err := t.playEpisode(sim, 0, false)
	if err != nil {
		return Evaluation{}, err
	}
	ev := Evaluation{
		Reward:          ep.reward,
		Length:          ep.length,
		PortfolioValues: ep.portfolioValues,
		Trades:          ep.trades,
		Metrics:         t.score(ep),
	}
	t.logger.Info("evaluation complete",
		zap.Float64("reward", ev.Reward),
		zap.Int("length", ev.Length),
		zap.Float64("total_return", ev.Metrics.TotalReturn))
	return ev, nil
}

// Checkpoint snapshots the trainer.
func (t *Trainer) Checkpoint() *Checkpoint {
	st := t.agent.State()
	return &Checkpoint{
		Creation: CreationConfig{
			Architecture:    st.Architecture,
			Hyperparameters: st.Hyperparameters,
			Training:        t.cfg,
			Environment:     t.env,
		},
		Agent:    st,
		RunID:    t.runID,
		Episodes: t.episodes,
		Steps:    t.steps,
		Epsilon:  t.epsilon,
		History:  t.history,
		SavedAt:  time.Now().UTC(),
	}
}

// Restore continues from cp: agent weights, counters, epsilon and history.
// The replay buffer starts empty.
func (t *Trainer) Restore(cp *Checkpoint) error {
	if t.Status() == Running {
		return ErrAlreadyRunning
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	history := cp.History
	if history == nil {
		history = NewHistory()
	}
	if err := t.agent.SetState(cp.Agent); err != nil {
		return err
	}
	t.episodes = cp.Episodes
	t.steps = cp.Steps
	t.epsilon = cp.Epsilon
	t.history = history
	if cp.RunID != "" {
		t.runID = cp.RunID
		t.logger = t.logger.With(zap.String("resumed_run_id", cp.RunID))
	}
	t.buffer.Reset()
	t.publish()
	t.setStatus(Idle)
	t.logger.Info("restored checkpoint",
		zap.Int("episodes", t.episodes),
		zap.Int("steps", t.steps),
		zap.Float64("epsilon", t.epsilon))
	return nil
}

// SaveCheckpoint writes a checkpoint under the configured directory.
func (t *Trainer) SaveCheckpoint(name string) (string, error) {
	if t.store == nil || t.cfg.CheckpointDir == "" {
		return "", errors.New("no checkpoint store configured")
	}
	path := filepath.Join(t.cfg.CheckpointDir, name)
	if err := t.store.Save(path, t.Checkpoint()); err != nil {
		return "", err
	}
	return path, nil
}

func (t *Trainer) saveCheckpoint(name string) {
	if t.store == nil || t.cfg.CheckpointDir == "" {
		return
	}
	path, err := t.SaveCheckpoint(name)
	if err != nil {
		t.logger.Error("failed to save checkpoint", zap.String("name", name), zap.Error(err))
		return
	}
	t.logger.Info("checkpoint saved", zap.String("path", path), zap.Int("episodes", t.episodes))
}
