package main

import (
	"log"

	"github.com/absmach/federate/federated"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "federated",
		Short: "Federate Daemon",
		Long:  `Federate Daemon runs the coordinator and training clients of a federation.`,
	}

	rootCmd.AddCommand(federated.NewCoordinatorCmd())
	rootCmd.AddCommand(federated.NewClientCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
