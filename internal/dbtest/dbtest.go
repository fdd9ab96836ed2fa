// Package dbtest opens isolated in-memory databases for package tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a gorm handle on a named shared-cache memory database and
// migrates the given models. Each test gets its own database.
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		if err := conn.AutoMigrate(models...); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return conn
}

// Node returns a snowflake node for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// TimeAccelerator moves stored timestamps so tests can reach expiry and
// staleness boundaries without sleeping.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// ExpireQuote moves a quote's expiry into the past.
func (ta *TimeAccelerator) ExpireQuote(ctx context.Context, quoteID snowflake.ID, now time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE quotes SET expiry_at = ? WHERE id = ?`,
		now.Add(-1*time.Second),
		quoteID,
	).Error
}

// SetRateObservedAt overwrites the observation time of a stored rate.
func (ta *TimeAccelerator) SetRateObservedAt(ctx context.Context, base, target string, at time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE rates SET observed_at = ? WHERE base_currency = ? AND target_currency = ?`,
		at.UTC(),
		base,
		target,
	).Error
}
