package cli

import (
	"context"
	"fmt"

	"github.com/smallbiznis/fxquote/internal/config"
	"github.com/smallbiznis/fxquote/internal/migration"
	"github.com/smallbiznis/fxquote/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		var conn *gorm.DB
		app := fx.New(infrastructure(), fx.Populate(&conn), fx.WithLogger(fxLogger))
		return withApp(cmd.Context(), app, func(ctx context.Context) error {
			if err := migration.Run(ctx, conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert configured currencies that do not exist yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			conn     *gorm.DB
			exchange *config.ExchangeConfigHolder
		)
		app := fx.New(infrastructure(), fx.Populate(&conn, &exchange), fx.WithLogger(fxLogger))
		return withApp(cmd.Context(), app, func(ctx context.Context) error {
			inserted, err := seed.EnsureCurrencies(ctx, conn, exchange.Get().Currencies)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d currencies\n", inserted)
			return nil
		})
	},
}
