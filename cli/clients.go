package cli

import "github.com/spf13/cobra"

var clientsCmd = []cobra.Command{
	{
		Use:   "view <id>",
		Short: "View client",
		Long:  `View a registered client.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			c, err := fsdk.GetClient(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, c)
		},
	},
	{
		Use:   "list",
		Short: "List clients",
		Long:  `List registered clients.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListClients(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	},
	{
		Use:   "delete <id>",
		Short: "Deregister client",
		Long:  `Remove a client from the coordinator.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.DeregisterClient(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	},
}

func NewClientsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "clients [view|list|delete]",
		Short: "Participating clients",
		Long:  `View, list and deregister federated learning clients.`,
	}

	for i := range clientsCmd {
		cmd.AddCommand(&clientsCmd[i])
	}

	cmd.PersistentFlags().Uint64VarP(&defOffset, "offset", "o", defOffset, "Offset")
	cmd.PersistentFlags().Uint64VarP(&defLimit, "limit", "l", defLimit, "Limit")

	return &cmd
}
