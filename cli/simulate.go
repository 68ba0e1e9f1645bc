package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/federate"
	"github.com/absmach/federate/client"
	"github.com/absmach/federate/coordinator"
	"github.com/absmach/federate/pkg/fl"
	"github.com/absmach/federate/pkg/storage"
	"github.com/absmach/federate/pkg/tracking"
	"github.com/absmach/federate/registry"
	"github.com/spf13/cobra"
)

var namegen = namegenerator.NewGenerator()

// SimulationResult summarises an in-process run.
type SimulationResult struct {
	StopReason fl.StopReason      `json:"stop_reason"`
	Version    uint64             `json:"version"`
	Rounds     int                `json:"rounds"`
	Clients    []client.Descriptor `json:"clients"`
	Losses     []float64          `json:"losses"`
	Final      fl.ParameterSet    `json:"final"`
	TrueModel  fl.ParameterSet    `json:"true_model"`
}

// Simulate trains a linear model with in-process clients, each holding a
// private sample of the same noisy linear relation.
func Simulate(ctx context.Context, cfg federate.Config, logger *slog.Logger) (SimulationResult, error) {
	sim := cfg.Simulation
	if err := sim.Validate(); err != nil {
		return SimulationResult{}, err
	}

	repos, err := storage.NewRepositories(cfg.Storage)
	if err != nil {
		return SimulationResult{}, err
	}
	if repos.Closer != nil {
		defer repos.Closer.Close()
	}

	r := rand.New(rand.NewPCG(sim.Seed, sim.Seed+1))
	weights := make([]float64, sim.Features)
	for i := range weights {
		weights[i] = r.Float64()*4 - 2
	}
	bias := r.Float64()*2 - 1

	reg := registry.New(repos.Clients, registry.WithRand(r))
	agents := coordinator.NewAgentPool(nil)
	res := SimulationResult{}
	for i := range sim.Clients {
		tr, err := client.NewSyntheticLinearTrainer(sim.Seed+uint64(i)+1, sim.Samples, weights, bias, sim.Noise, sim.LearningRate)
		if err != nil {
			return SimulationResult{}, err
		}
		d, err := reg.Register(ctx, client.Descriptor{
			ID:          fmt.Sprintf("client-%d", i+1),
			Name:        namegen.Generate(),
			DatasetSize: tr.DatasetSize(),
			Transport:   "local",
		})
		if err != nil {
			return SimulationResult{}, err
		}
		agents.Add(client.NewLocalAgent(d.ID, tr, logger))
		res.Clients = append(res.Clients, d)
	}

	// The simulated federation is fixed, so waiting for late clients is moot.
	cfg.Coordinator.RetryInterval = 0
	rc, err := coordinator.NewRoundCoordinator(cfg.Coordinator, reg, agents, fl.NewFedAvgAggregator(), logger)
	if err != nil {
		return SimulationResult{}, err
	}

	registries := []tracking.ModelRegistry{tracking.NewStorageRegistry(repos.Models, repos.Rounds)}
	if sim.OutputDir != "" {
		store, err := fl.NewFileStore(filepath.Join(sim.OutputDir, "rounds"), filepath.Join(sim.OutputDir, "models"))
		if err != nil {
			return SimulationResult{}, err
		}
		registries = append(registries, tracking.NewFileRegistry(store))
	}
	loop := coordinator.NewLoop(rc, logger,
		coordinator.WithRoundRepository(repos.Rounds),
		coordinator.WithModelRepository(repos.Models),
		coordinator.WithSink(tracking.NewLogSink(logger)),
		coordinator.WithModelRegistry(tracking.MultiRegistry(registries...)),
	)

	initial, err := client.InitialLinearModel(sim.Features)
	if err != nil {
		return SimulationResult{}, err
	}
	out, err := loop.Run(ctx, initial)
	if err != nil {
		return SimulationResult{}, err
	}

	res.StopReason = out.StopReason
	res.Version = out.Final.Version
	res.Rounds = len(out.History)
	res.Final = out.Final
	for _, rec := range out.History {
		if rec.Outcome == fl.Completed {
			res.Losses = append(res.Losses, rec.AggregateLoss)
		}
	}
	res.TrueModel, err = fl.NewParameterSet(0,
		fl.Tensor{Name: client.LinearWeight, Shape: []int{sim.Features}, Values: weights},
		fl.Tensor{Name: client.LinearBias, Shape: []int{1}, Values: []float64{bias}},
	)
	if err != nil {
		return SimulationResult{}, err
	}

	return res, nil
}

func NewSimulateCmd() *cobra.Command {
	var (
		configPath string
		clients    int
		rounds     uint64
		outputDir  string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-process simulation",
		Long: `Run a complete federated training experiment in process, with
synthetic linear regression clients.

Examples:
  # Simulate the default experiment
  federate-cli simulate

  # Simulate an experiment file with eight clients
  federate-cli simulate --config experiment.toml --clients 8`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := federate.DefaultConfig()
			if configPath != "" {
				loaded, err := federate.LoadConfig(configPath)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				cfg = *loaded
			}
			if clients > 0 {
				cfg.Simulation.Clients = clients
			}
			if rounds > 0 {
				cfg.Coordinator.NumRounds = rounds
			}
			if outputDir != "" {
				cfg.Simulation.OutputDir = outputDir
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			res, err := Simulate(cmd.Context(), cfg, logger)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, res)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Experiment file")
	cmd.Flags().IntVar(&clients, "clients", 0, "Number of simulated clients")
	cmd.Flags().Uint64Var(&rounds, "rounds", 0, "Number of rounds")
	cmd.Flags().StringVar(&outputDir, "output", "", "Directory for round history and model versions")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every round")

	return cmd
}
