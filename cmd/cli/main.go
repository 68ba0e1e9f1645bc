package main

import (
	"log"

	"github.com/absmach/federate/cli"
	"github.com/absmach/federate/pkg/sdk"
	"github.com/spf13/cobra"
)

func main() {
	coordinatorURL := cli.DefCoordinatorURL
	tlsVerification := cli.DefTLSVerification

	rootCmd := &cobra.Command{
		Use:   "federate-cli",
		Short: "Federate CLI",
		Long:  `Federate CLI is a command line interface for interacting with a federated learning coordinator.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				CoordinatorURL:  coordinatorURL,
				TLSVerification: tlsVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&coordinatorURL, "coordinator-url", "u", coordinatorURL, "Coordinator URL")
	rootCmd.PersistentFlags().BoolVarP(&tlsVerification, "tls-verification", "k", tlsVerification, "Verify TLS certificates")

	rootCmd.AddCommand(cli.NewClientsCmd())
	rootCmd.AddCommand(cli.NewRoundsCmd())
	rootCmd.AddCommand(cli.NewModelCmd())
	rootCmd.AddCommand(cli.NewTrainingCmd())
	rootCmd.AddCommand(cli.NewSimulateCmd())
	rootCmd.AddCommand(cli.NewConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
