// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config defines the structure for all application configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Model       ModelConfig       `yaml:"model"`
	Optimizer   OptimizerConfig   `yaml:"optimizer"`
	Replay      ReplayConfig      `yaml:"replay"`
	Training    TrainingConfig    `yaml:"training"`
	Environment EnvironmentConfig `yaml:"environment"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Data        DataConfig        `yaml:"data"`
	Database    DatabaseConfig    `yaml:"database"`
	DBWriter    DBWriterConfig    `yaml:"db_writer"`
	Status      StatusConfig      `yaml:"status"`
	Alert       AlertConfig       `yaml:"alert"`
}

// ModelConfig describes the Q-network topology.
type ModelConfig struct {
	// InputDim of zero means "infer from the feature rows".
	InputDim     int      `yaml:"input_dim"`
	HiddenLayers []int    `yaml:"hidden_layers"`
	Activation   string   `yaml:"activation"` // "relu" or "tanh"
	DoubleDQN    FlexBool `yaml:"double_dqn"`
	Seed         int64    `yaml:"seed"`
}

// OptimizerConfig holds the Adam hyperparameters.
type OptimizerConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	Beta1        float64 `yaml:"adam_beta1"`
	Beta2        float64 `yaml:"adam_beta2"`
	Epsilon      float64 `yaml:"adam_epsilon"`
}

// ReplayConfig holds the experience replay and update cadences.
type ReplayConfig struct {
	MemorySize            int `yaml:"memory_size"`
	UpdateFrequency       int `yaml:"update_frequency"`
	TargetUpdateFrequency int `yaml:"target_update_frequency"`
}

// TrainingConfig holds the episode loop settings.
type TrainingConfig struct {
	Episodes        int     `yaml:"episodes"`
	BatchSize       int     `yaml:"batch_size"`
	Gamma           float64 `yaml:"gamma"`
	EpsilonStart    float64 `yaml:"epsilon_start"`
	EpsilonEnd      float64 `yaml:"epsilon_end"`
	EpsilonDecay    float64 `yaml:"epsilon_decay"`
	CheckpointDir   string  `yaml:"checkpoint_dir"`
	CheckpointEvery int     `yaml:"checkpoint_every"` // episodes; 0 disables periodic checkpoints
	// CheckpointSchedule is a cron expression ("@every 30m") requesting a
	// checkpoint at the next episode boundary.
	CheckpointSchedule string `yaml:"checkpoint_schedule"`
	LogEvery           int    `yaml:"log_every"`
}

// EnvironmentConfig holds the trading simulator parameters.
// Penalties are negative rewards.
type EnvironmentConfig struct {
	InitialCash              float64 `yaml:"initial_cash"`
	TransactionCostRate      float64 `yaml:"transaction_cost_rate"`
	InvalidActionPenalty     float64 `yaml:"invalid_action_penalty"`
	HoldCashPenalty          float64 `yaml:"hold_cash_penalty"`
	UnrealizedPnLRewardScale float64 `yaml:"unrealized_pnl_reward_scale"`
}

// MetricsConfig holds the risk/return statistics settings.
type MetricsConfig struct {
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	PeriodsPerYear int     `yaml:"periods_per_year"`
	VaRConfidence  float64 `yaml:"var_confidence"`
}

// DataConfig points at the feature rows used for training and validation.
type DataConfig struct {
	TrainPath   string `yaml:"train_path"`
	ValPath     string `yaml:"val_path"`
	CloseColumn string `yaml:"close_column"`
	// Indicators appends derived columns, e.g. "rsi:14" or "ema:20".
	Indicators []string `yaml:"indicators"`
}

// DatabaseConfig selects where episode summaries are persisted.
// Driver is "postgres", "sqlite" or empty for none.
type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SSLMode    string `yaml:"sslmode"`
	SQLitePath string `yaml:"sqlite_path"`
}

// DBWriterConfig holds settings for the batched TimescaleDB writer.
type DBWriterConfig struct {
	BatchSize            int `yaml:"batch_size"`
	WriteIntervalSeconds int `yaml:"write_interval_seconds"`
}

// StatusConfig controls the read-only HTTP status API. An empty Addr
// disables it.
type StatusConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AlertConfig controls run lifecycle notifications.
type AlertConfig struct {
	Enabled FlexBool `yaml:"enabled"`
}

// Default returns a configuration populated with the trainer's defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Model: ModelConfig{
			HiddenLayers: []int{256, 128, 64},
			Activation:   "relu",
			DoubleDQN:    true,
			Seed:         42,
		},
		Optimizer: OptimizerConfig{
			LearningRate: 0.001,
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-8,
		},
		Replay: ReplayConfig{
			MemorySize:            10000,
			UpdateFrequency:       4,
			TargetUpdateFrequency: 100,
		},
		Training: TrainingConfig{
			Episodes:      100,
			BatchSize:     32,
			Gamma:         0.99,
			EpsilonStart:  1.0,
			EpsilonEnd:    0.01,
			EpsilonDecay:  0.995,
			CheckpointDir: "checkpoints",
			LogEvery:      10,
		},
		Environment: EnvironmentConfig{
			InitialCash:              100000.0,
			TransactionCostRate:      0.001,
			InvalidActionPenalty:     -1.0,
			HoldCashPenalty:          -0.005,
			UnrealizedPnLRewardScale: 0.1,
		},
		Metrics: MetricsConfig{
			PeriodsPerYear: 252,
			VaRConfidence:  0.95,
		},
		Data: DataConfig{
			CloseColumn: "close",
		},
		DBWriter: DBWriterConfig{
			BatchSize:            50,
			WriteIntervalSeconds: 5,
		},
		Status: StatusConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables. Values missing from the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		cfg.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Name = dbName
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.Database.SQLitePath = path
	}
	if dir := os.Getenv("CHECKPOINT_DIR"); dir != "" {
		cfg.Training.CheckpointDir = dir
	}
	if addr := os.Getenv("STATUS_ADDR"); addr != "" {
		cfg.Status.Addr = addr
	}
	if episodes := os.Getenv("TRAINING_EPISODES"); episodes != "" {
		if n, err := strconv.Atoi(episodes); err == nil {
			cfg.Training.Episodes = n
		}
	}
}

// Validate checks the values the trainer cannot run without.
func (c *Config) Validate() error {
	var errs []error
	for i, h := range c.Model.HiddenLayers {
		if h <= 0 {
			errs = append(errs, fmt.Errorf("model.hidden_layers[%d] must be positive, got %d", i, h))
		}
	}
	if c.Model.InputDim < 0 {
		errs = append(errs, fmt.Errorf("model.input_dim must not be negative"))
	}
	if c.Model.Activation != "relu" && c.Model.Activation != "tanh" {
		errs = append(errs, fmt.Errorf("model.activation must be relu or tanh, got %q", c.Model.Activation))
	}
	if c.Optimizer.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.learning_rate must be positive"))
	}
	if c.Optimizer.Beta1 < 0 || c.Optimizer.Beta1 >= 1 || c.Optimizer.Beta2 < 0 || c.Optimizer.Beta2 >= 1 {
		errs = append(errs, fmt.Errorf("optimizer betas must be in [0,1)"))
	}
	if c.Replay.MemorySize <= 0 {
		errs = append(errs, fmt.Errorf("replay.memory_size must be positive"))
	}
	if c.Replay.UpdateFrequency <= 0 || c.Replay.TargetUpdateFrequency <= 0 {
		errs = append(errs, fmt.Errorf("replay update frequencies must be positive"))
	}
	if c.Training.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("training.batch_size must be positive"))
	}
	if c.Training.Episodes < 0 {
		errs = append(errs, fmt.Errorf("training.episodes must not be negative"))
	}
	if c.Training.Gamma < 0 || c.Training.Gamma > 1 {
		errs = append(errs, fmt.Errorf("training.gamma must be in [0,1]"))
	}
	if c.Training.EpsilonDecay <= 0 || c.Training.EpsilonDecay > 1 {
		errs = append(errs, fmt.Errorf("training.epsilon_decay must be in (0,1]"))
	}
	if c.Training.EpsilonEnd < 0 || c.Training.EpsilonEnd > c.Training.EpsilonStart {
		errs = append(errs, fmt.Errorf("training.epsilon_end must be in [0, epsilon_start]"))
	}
	if c.Training.CheckpointSchedule != "" {
		if _, err := cron.ParseStandard(c.Training.CheckpointSchedule); err != nil {
			errs = append(errs, fmt.Errorf("training.checkpoint_schedule: %w", err))
		}
	}
	if c.Environment.InitialCash <= 0 {
		errs = append(errs, fmt.Errorf("environment.initial_cash must be positive"))
	}
	if c.Environment.TransactionCostRate < 0 {
		errs = append(errs, fmt.Errorf("environment.transaction_cost_rate must not be negative"))
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres, sqlite or empty, got %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// PostgresDSN builds a connection string from the database settings.
// An explicit URL wins over the individual fields.
func (d DatabaseConfig) PostgresDSN() string {
	if d.URL != "" {
		return d.URL
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}
