package federate

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/storage"
	"github.com/pelletier/go-toml"
)

const filePermission = 0o644

// Config is an experiment file: the round parameters plus the settings used
// when the experiment is simulated in process.
type Config struct {
	Coordinator coordinator.Config         `toml:"coordinator"`
	Schedule    coordinator.ScheduleConfig `toml:"schedule"`
	Storage     storage.Config             `toml:"storage"`
	Simulation  SimulationConfig           `toml:"simulation"`
}

type SimulationConfig struct {
	Clients      int     `toml:"clients"`
	Samples      int     `toml:"samples"`
	Features     int     `toml:"features"`
	Noise        float64 `toml:"noise"`
	LearningRate float64 `toml:"learning_rate"`
	Seed         uint64  `toml:"seed"`
	OutputDir    string  `toml:"output_dir"`
}

func (s SimulationConfig) Validate() error {
	if s.Clients <= 0 || s.Samples <= 0 || s.Features <= 0 {
		return errors.New("simulation needs positive clients, samples and features")
	}
	if s.LearningRate <= 0 {
		return errors.New("simulation learning rate must be positive")
	}

	return nil
}

// DefaultConfig mirrors the reference experiment: five clients, half of them
// sampled each round, ten rounds.
func DefaultConfig() Config {
	return Config{
		Coordinator: coordinator.Config{
			NumRounds:           10,
			ClientFraction:      0.5,
			MinClients:          2,
			LocalEpochs:         1,
			RoundDeadline:       30 * time.Second,
			MaxRoundRetries:     2,
			RetryInterval:       5 * time.Second,
			ConvergenceEpsilon:  0.001,
			ConvergencePatience: 2,
			EvaluationDeadline:  10 * time.Second,
		},
		Schedule: coordinator.ScheduleConfig{
			Timezone:      "UTC",
			CheckInterval: time.Minute,
		},
		Storage: storage.Config{Type: "memory"},
		Simulation: SimulationConfig{
			Clients:      5,
			Samples:      200,
			Features:     3,
			Noise:        0.1,
			LearningRate: 0.05,
			Seed:         42,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Coordinator.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func SaveConfig(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, filePermission); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
