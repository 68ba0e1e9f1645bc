package coordinator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/absmach/federate/pkg/fl"
)

// Config is the training configuration of one run. Every field is supplied
// by the caller; Validate rejects values the round protocol cannot honour.
// RetryInterval is the pause before retrying a round that fell short of
// MinClients.
type Config struct {
	NumRounds           uint64        `env:"FL_NUM_ROUNDS"            envDefault:"10"   toml:"num_rounds"`
	ClientFraction      float64       `env:"FL_CLIENT_FRACTION"       envDefault:"1"    toml:"client_fraction"`
	MinClients          int           `env:"FL_MIN_CLIENTS"           envDefault:"2"    toml:"min_clients"`
	LocalEpochs         uint64        `env:"FL_LOCAL_EPOCHS"          envDefault:"1"    toml:"local_epochs"`
	RoundDeadline       time.Duration `env:"FL_ROUND_DEADLINE"        envDefault:"60s"  toml:"round_deadline"`
	MaxRoundRetries     uint64        `env:"FL_MAX_ROUND_RETRIES"     envDefault:"3"    toml:"max_round_retries"`
	RetryInterval       time.Duration `env:"FL_ROUND_RETRY_INTERVAL"  envDefault:"5s"   toml:"retry_interval"`
	ConvergenceEpsilon  float64       `env:"FL_CONVERGENCE_EPSILON"   envDefault:"0"    toml:"convergence_epsilon"`
	ConvergencePatience uint64        `env:"FL_CONVERGENCE_PATIENCE"  envDefault:"1"    toml:"convergence_patience"`
	// EvaluationDeadline bounds federated evaluation of each new model.
	// Zero skips evaluation.
	EvaluationDeadline time.Duration `env:"FL_EVALUATION_DEADLINE" envDefault:"0s" toml:"evaluation_deadline"`
}

func (c Config) Validate() error {
	var errs []error
	if c.NumRounds == 0 {
		errs = append(errs, errors.New("num_rounds must be positive"))
	}
	if math.IsNaN(c.ClientFraction) || c.ClientFraction <= 0 || c.ClientFraction > 1 {
		errs = append(errs, fmt.Errorf("client_fraction must be in (0, 1], got %v", c.ClientFraction))
	}
	if c.MinClients < 1 {
		errs = append(errs, fmt.Errorf("min_clients must be at least 1, got %d", c.MinClients))
	}
	if c.LocalEpochs == 0 {
		errs = append(errs, errors.New("local_epochs must be positive"))
	}
	if c.RoundDeadline <= 0 {
		errs = append(errs, errors.New("round_deadline must be positive"))
	}
	if c.RetryInterval < 0 {
		errs = append(errs, errors.New("retry_interval must not be negative"))
	}
	if math.IsNaN(c.ConvergenceEpsilon) || c.ConvergenceEpsilon < 0 {
		errs = append(errs, fmt.Errorf("convergence_epsilon must be non-negative, got %v", c.ConvergenceEpsilon))
	}
	if c.EvaluationDeadline < 0 {
		errs = append(errs, errors.New("evaluation_deadline must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", fl.ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

func (c Config) Policy() fl.ConvergencePolicy {
	return fl.ConvergencePolicy{
		MaxRounds: c.NumRounds,
		Epsilon:   c.ConvergenceEpsilon,
		Patience:  c.ConvergencePatience,
	}
}
