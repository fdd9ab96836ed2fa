package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	idempotencydomain "github.com/smallbiznis/fxquote/internal/idempotency/domain"
	quotedomain "github.com/smallbiznis/fxquote/internal/quote/domain"
	ratedomain "github.com/smallbiznis/fxquote/internal/rate/domain"
	transactiondomain "github.com/smallbiznis/fxquote/internal/transaction/domain"
	"github.com/smallbiznis/fxquote/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&currencydomain.Currency{},
		&ratedomain.Rate{},
		&quotedomain.Quote{},
		&transactiondomain.Transaction{},
		&idempotencydomain.Record{},
	}
}

// Run brings the schema up to date. Postgres uses the versioned SQL files;
// other dialects are auto-migrated from the models.
func Run(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if db.IsDialect(conn, "postgres") {
		return runPostgres(conn)
	}
	if err := conn.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func runPostgres(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// closing the migrator would close the shared *sql.DB
	return nil
}
