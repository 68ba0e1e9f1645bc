package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/absmach/federate"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

const defConfigFile = "experiment.toml"

var storageTypes = []string{"memory", "badger", "sqlite", "postgres"}

// experimentForm holds the prompted values as text until the form is
// submitted.
type experimentForm struct {
	rounds     string
	fraction   string
	minClients string
	epochs     string
	deadline   string
	retries    string
	retryWait  string
	epsilon    string
	patience   string
	schedule   string
	storage    string
	clients    string
	features   string
}

func newExperimentForm(cfg federate.Config) *experimentForm {
	return &experimentForm{
		rounds:     strconv.FormatUint(cfg.Coordinator.NumRounds, 10),
		fraction:   strconv.FormatFloat(cfg.Coordinator.ClientFraction, 'g', -1, 64),
		minClients: strconv.Itoa(cfg.Coordinator.MinClients),
		epochs:     strconv.FormatUint(cfg.Coordinator.LocalEpochs, 10),
		deadline:   cfg.Coordinator.RoundDeadline.String(),
		retries:    strconv.FormatUint(cfg.Coordinator.MaxRoundRetries, 10),
		retryWait:  cfg.Coordinator.RetryInterval.String(),
		epsilon:    strconv.FormatFloat(cfg.Coordinator.ConvergenceEpsilon, 'g', -1, 64),
		patience:   strconv.FormatUint(cfg.Coordinator.ConvergencePatience, 10),
		schedule:   cfg.Schedule.Expression,
		storage:    cfg.Storage.Type,
		clients:    strconv.Itoa(cfg.Simulation.Clients),
		features:   strconv.Itoa(cfg.Simulation.Features),
	}
}

func (f *experimentForm) form() *huh.Form {
	opts := make([]huh.Option[string], 0, len(storageTypes))
	for _, t := range storageTypes {
		opts = append(opts, huh.NewOption(t, t))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Rounds").Value(&f.rounds).Validate(isUint),
			huh.NewInput().Title("Client fraction").Description("Share of active clients selected per round").
				Value(&f.fraction).Validate(isFloat),
			huh.NewInput().Title("Minimum clients").Value(&f.minClients).Validate(isUint),
			huh.NewInput().Title("Local epochs").Value(&f.epochs).Validate(isUint),
			huh.NewInput().Title("Round deadline").Value(&f.deadline).Validate(isDuration),
			huh.NewInput().Title("Round retries").Value(&f.retries).Validate(isUint),
			huh.NewInput().Title("Retry interval").Description("Wait before retrying a round short of clients").
				Value(&f.retryWait).Validate(isDuration),
		),
		huh.NewGroup(
			huh.NewInput().Title("Convergence epsilon").Description("Zero disables the convergence check").
				Value(&f.epsilon).Validate(isFloat),
			huh.NewInput().Title("Convergence patience").Value(&f.patience).Validate(isUint),
			huh.NewInput().Title("Schedule").Description("Cron expression, empty for manual runs").Value(&f.schedule),
			huh.NewSelect[string]().Title("Storage").Options(opts...).Value(&f.storage),
		),
		huh.NewGroup(
			huh.NewInput().Title("Simulated clients").Value(&f.clients).Validate(isUint),
			huh.NewInput().Title("Features").Value(&f.features).Validate(isUint),
		),
	)
}

// apply copies the prompted values into cfg. Values were validated by the
// form, so parse errors are only reported for programmatic use.
func (f *experimentForm) apply(cfg *federate.Config) error {
	var errs []error
	parseUint := func(s string, dst *uint64) {
		v, err := strconv.ParseUint(s, 10, 64)
		errs = append(errs, err)
		*dst = v
	}
	parseInt := func(s string, dst *int) {
		v, err := strconv.Atoi(s)
		errs = append(errs, err)
		*dst = v
	}
	parseFloat := func(s string, dst *float64) {
		v, err := strconv.ParseFloat(s, 64)
		errs = append(errs, err)
		*dst = v
	}

	parseUint(f.rounds, &cfg.Coordinator.NumRounds)
	parseFloat(f.fraction, &cfg.Coordinator.ClientFraction)
	parseInt(f.minClients, &cfg.Coordinator.MinClients)
	parseUint(f.epochs, &cfg.Coordinator.LocalEpochs)
	parseUint(f.retries, &cfg.Coordinator.MaxRoundRetries)
	parseFloat(f.epsilon, &cfg.Coordinator.ConvergenceEpsilon)
	parseUint(f.patience, &cfg.Coordinator.ConvergencePatience)
	parseInt(f.clients, &cfg.Simulation.Clients)
	parseInt(f.features, &cfg.Simulation.Features)
	d, err := time.ParseDuration(f.deadline)
	errs = append(errs, err)
	cfg.Coordinator.RoundDeadline = d
	d, err = time.ParseDuration(f.retryWait)
	errs = append(errs, err)
	cfg.Coordinator.RetryInterval = d
	cfg.Schedule.Expression = f.schedule
	cfg.Storage.Type = f.storage

	if err := errors.Join(errs...); err != nil {
		return err
	}

	return cfg.Coordinator.Validate()
}

func isUint(s string) error {
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return fmt.Errorf("%q is not a non-negative integer", s)
	}

	return nil
}

func isFloat(s string) error {
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("%q is not a number", s)
	}

	return nil
}

func isDuration(s string) error {
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("%q is not a duration", s)
	}

	return nil
}

var configCmd = []cobra.Command{
	{
		Use:   "init [file]",
		Short: "Write an experiment file",
		Long: `Prompt for the experiment parameters and write them as TOML.

Examples:
  # Answer the prompts and write experiment.toml
  federate-cli config init

  # Write the defaults without prompting
  federate-cli config init lab.toml --defaults`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}
			path := defConfigFile
			if len(args) == 1 {
				path = args[0]
			}

			cfg := federate.DefaultConfig()
			if skip, _ := cmd.Flags().GetBool("defaults"); !skip {
				f := newExperimentForm(cfg)
				if err := f.form().Run(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return
					}
					logErrorCmd(*cmd, err)

					return
				}
				if err := f.apply(&cfg); err != nil {
					logErrorCmd(*cmd, err)

					return
				}
			}

			if err := federate.SaveConfig(path, cfg); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, path)
		},
	},
	{
		Use:   "view <file>",
		Short: "View an experiment file",
		Long: `Load an experiment file, apply defaults and print the result.

Examples:
  federate-cli config view experiment.toml`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg, err := federate.LoadConfig(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, cfg)
		},
	},
}

func NewConfigCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "config [init|view]",
		Short: "Experiment files",
		Long:  `Create and inspect experiment files.`,
	}

	for i := range configCmd {
		cmd.AddCommand(&configCmd[i])
	}
	configCmd[0].Flags().Bool("defaults", false, "Write the defaults without prompting")

	return &cmd
}
