package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	ScopeCreateQuote       = "create-quote"
	ScopeCreateTransaction = "create-transaction"

	MaxKeyLength = 255
)

// Record maps a client key within a scope to the resource it produced.
type Record struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Scope              string       `gorm:"size:64;not null;uniqueIndex:ux_idempotency_scope_key,priority:1" json:"scope"`
	Key                string       `gorm:"column:idempotency_key;size:255;not null;uniqueIndex:ux_idempotency_scope_key,priority:2" json:"key"`
	RequestFingerprint string       `gorm:"size:64;not null" json:"request_fingerprint"`
	ResultReference    snowflake.ID `gorm:"not null" json:"result_reference"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
}

func (Record) TableName() string { return "idempotency_records" }

// Fingerprint hashes normalized request fields into a stable hex digest.
func Fingerprint(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeKey trims the key and checks its length.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLength {
		return "", ErrInvalidKey
	}
	return key, nil
}
