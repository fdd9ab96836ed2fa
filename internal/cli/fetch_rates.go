package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/fxquote/internal/ingestion"
	"github.com/smallbiznis/fxquote/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var fetchTimeout time.Duration

var fetchRatesCmd = &cobra.Command{
	Use:   "fetch-rates",
	Short: "Fetch the latest rates from the provider once and store them",
	RunE: func(cmd *cobra.Command, args []string) error {
		var job *ingestion.Job
		app := fx.New(
			infrastructure(),
			migration.Module,
			domains(),
			fx.Populate(&job),
			fx.WithLogger(fxLogger),
		)
		return withApp(cmd.Context(), app, func(ctx context.Context) error {
			if fetchTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, fetchTimeout)
				defer cancel()
			}

			summary, err := job.Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if summary.Skipped() {
				fmt.Fprintf(out, "run %s skipped: %s\n", summary.RunID, summary.SkipReason)
				return nil
			}
			fmt.Fprintf(out, "run %s base=%s observed_at=%s upserted=%d\n",
				summary.RunID, summary.BaseCurrency, summary.ObservedAt.Format(time.RFC3339), summary.Upserted)
			if len(summary.Ignored) > 0 {
				fmt.Fprintf(out, "ignored: %s\n", strings.Join(summary.Ignored, ","))
			}
			return nil
		})
	},
}

func init() {
	fetchRatesCmd.Flags().DurationVar(&fetchTimeout, "timeout", 2*time.Minute, "Overall deadline for the provider fetch")
}

// withApp starts app, runs fn and always stops app afterwards.
func withApp(ctx context.Context, app *fx.App, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
