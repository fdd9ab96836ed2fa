package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Ledger makes create operations safe to retry.
type Ledger interface {
	// Lookup returns the stored result for (scope, key). A stored record with a
	// different fingerprint yields ErrConflict.
	Lookup(ctx context.Context, scope, key, fingerprint string) (snowflake.ID, bool, error)
	// Record inserts the ledger row on tx. ErrAlreadyRecorded means a
	// concurrent request claimed the key first.
	Record(ctx context.Context, tx *gorm.DB, scope, key, fingerprint string, result snowflake.ID) error
}

type Repository interface {
	FindByKey(ctx context.Context, db *gorm.DB, scope, key string) (*Record, error)
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
}

var (
	ErrConflict        = errors.New("idempotency_conflict")
	ErrInvalidKey      = errors.New("invalid_idempotency_key")
	ErrAlreadyRecorded = errors.New("idempotency_key_recorded")
)
