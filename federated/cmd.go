package federated

import (
	"context"
	"log/slog"

	"github.com/absmach/supermq/pkg/server"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// LoadCoordinatorConfig reads the coordinator configuration from the
// environment.
func LoadCoordinatorConfig() (CoordinatorConfig, error) {
	cfg := CoordinatorConfig{Server: server.Config{Port: DefHTTPPort}}
	if err := env.Parse(&cfg); err != nil {
		return CoordinatorConfig{}, err
	}

	return cfg, nil
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := ClientConfig{}
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

var (
	logLevel       string
	httpPort       string
	experimentFile string
	outputDir      string
	enableMQTT     bool
	autoStart      bool

	clientID       string
	transport      string
	coordinatorURL string
	wasmFile       string
)

var coordinatorCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start coordinator",
		Long:  `Start the coordinator. Flags override the FL_* environment.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := LoadCoordinatorConfig()
			if err != nil {
				slog.Error("failed to load configuration", slog.Any("error", err))

				return
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("port") {
				cfg.Server.Port = httpPort
			}
			if flags.Changed("experiment") {
				cfg.ExperimentFile = experimentFile
			}
			if flags.Changed("output") {
				cfg.OutputDir = outputDir
			}
			if flags.Changed("mqtt") {
				cfg.EnableMQTT = enableMQTT
			}
			if flags.Changed("auto-start") {
				cfg.AutoStart = autoStart
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := StartCoordinator(ctx, cancel, cfg); err != nil {
				cmd.PrintErrf("failed to start coordinator: %s\n", err.Error())
			}
		},
	},
}

var clientCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start client",
		Long:  `Start a training client. Flags override the FL_CLIENT_* environment.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := LoadClientConfig()
			if err != nil {
				slog.Error("failed to load configuration", slog.Any("error", err))

				return
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("id") {
				cfg.Participant.ClientID = clientID
			}
			if flags.Changed("transport") {
				cfg.Participant.Transport = transport
			}
			if flags.Changed("coordinator-url") {
				cfg.Participant.CoordinatorURL = coordinatorURL
			}
			if flags.Changed("wasm") {
				cfg.WasmFile = wasmFile
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := StartClient(ctx, cancel, cfg); err != nil {
				slog.Error("failed to start client", slog.String("error", err.Error()))
			}
		},
	},
}

func NewCoordinatorCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "coordinator [start]",
		Short: "Coordinator management",
		Long:  `Run the federated learning coordinator.`,
	}

	for i := range coordinatorCmd {
		cmd.AddCommand(&coordinatorCmd[i])
	}

	cmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level")
	cmd.PersistentFlags().StringVarP(&httpPort, "port", "p", DefHTTPPort, "HTTP port")
	cmd.PersistentFlags().StringVarP(&experimentFile, "experiment", "e", "", "Experiment file")
	cmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Directory for round history and model versions")
	cmd.PersistentFlags().BoolVarP(&enableMQTT, "mqtt", "m", false, "Accept clients over MQTT")
	cmd.PersistentFlags().BoolVarP(&autoStart, "auto-start", "a", false, "Start training immediately")

	return &cmd
}

func NewClientCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "client [start]",
		Short: "Client management",
		Long:  `Run a federated learning client.`,
	}

	for i := range clientCmd {
		cmd.AddCommand(&clientCmd[i])
	}

	cmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level")
	cmd.PersistentFlags().StringVarP(&clientID, "id", "i", "", "Client ID")
	cmd.PersistentFlags().StringVarP(&transport, "transport", "t", "http", "Transport, http or mqtt")
	cmd.PersistentFlags().StringVarP(&coordinatorURL, "coordinator-url", "u", "http://localhost:7070", "Coordinator URL")
	cmd.PersistentFlags().StringVarP(&wasmFile, "wasm", "w", "", "Wasm training module")

	return &cmd
}
