package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when SCHEDULER_ENABLED is set, the ingestion loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		fx.New(append(serveOptions(), fx.WithLogger(fxLogger))...).Run()
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the rate ingestion scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		fx.New(append(workerOptions(), fx.WithLogger(fxLogger))...).Run()
		return nil
	},
}
