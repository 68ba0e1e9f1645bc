package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

const filePermission = 0o644

var errMissingOutput = errors.New("missing output file")

var trainingCmd = []cobra.Command{
	{
		Use:   "start",
		Short: "Start training",
		Long:  `Start a training run on the coordinator.`,
		Run: func(cmd *cobra.Command, args []string) {
			st, err := fsdk.StartTraining()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, st)
		},
	},
	{
		Use:   "stop",
		Short: "Stop training",
		Long:  `Cancel the running training run.`,
		Run: func(cmd *cobra.Command, args []string) {
			st, err := fsdk.StopTraining()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, st)
		},
	},
	{
		Use:   "status",
		Short: "Training status",
		Long:  `Show the latest training run and the current round.`,
		Run: func(cmd *cobra.Command, args []string) {
			st, err := fsdk.TrainingStatus()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, st)
		},
	},
}

var modelCmd = []cobra.Command{
	{
		Use:   "view",
		Short: "View global model",
		Long:  `Print the latest global model.`,
		Run: func(cmd *cobra.Command, args []string) {
			ps, err := fsdk.GlobalModel()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, ps)
		},
	},
	{
		Use:   "export <file>",
		Short: "Export global model",
		Long:  `Write the latest global model to a file as CBOR.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logErrorCmd(*cmd, errMissingOutput)
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			ps, err := fsdk.GlobalModel()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			blob, err := ps.Blob()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := os.WriteFile(args[0], blob, filePermission); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "model exported to "+args[0])
		},
	},
}

func NewTrainingCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "training [start|stop|status]",
		Short: "Training runs",
		Long:  `Start, stop and monitor training runs.`,
	}

	for i := range trainingCmd {
		cmd.AddCommand(&trainingCmd[i])
	}

	return &cmd
}

func NewModelCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "model [view|export]",
		Short: "Global model",
		Long:  `View or export the latest global model.`,
	}

	for i := range modelCmd {
		cmd.AddCommand(&modelCmd[i])
	}

	return &cmd
}
