package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceIdentity = "identity"
	SourceCache    = "cache"
	SourceStore    = "store"
	SourceInverse  = "inverse"
	SourcePivot    = "pivot"
)

// Resolution is a usable rate for base→target. Derived resolutions were
// computed from other pairs and exist only in the cache.
type Resolution struct {
	BaseCurrency   string          `json:"base_currency"`
	TargetCurrency string          `json:"target_currency"`
	Value          decimal.Decimal `json:"rate"`
	ObservedAt     time.Time       `json:"observed_at"`
	Derived        bool            `json:"derived"`
	Source         string          `json:"source"`
	Pivot          string          `json:"pivot,omitempty"`
}

type Service interface {
	Resolve(ctx context.Context, base, target string) (Resolution, error)
}

var (
	ErrRateUnavailable = errors.New("rate_unavailable")
	ErrInvalidCurrency = errors.New("invalid_currency")
)
