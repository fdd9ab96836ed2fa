package migration

import (
	"context"
	"io/fs"
	"testing"

	"github.com/smallbiznis/fxquote/internal/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, Run(context.Background(), conn))
	require.NoError(t, Run(context.Background(), conn), "migrations are re-runnable")

	for _, table := range []string{"currencies", "rates", "quotes", "transactions", "idempotency_records"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex("idempotency_records", "ux_idempotency_scope_key"))
	assert.True(t, conn.Migrator().HasIndex("transactions", "ux_transactions_quote_id"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestRunRequiresConnection(t *testing.T) {
	assert.Error(t, Run(context.Background(), nil))
}
