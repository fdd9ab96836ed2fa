package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, quote *Quote) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Quote, error)
	// MarkConsumed flips consumed only when it is still false and returns
	// the number of rows changed.
	MarkConsumed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
}
