package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/internal/cache"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	"github.com/smallbiznis/fxquote/internal/observability/metrics"
	ratedomain "github.com/smallbiznis/fxquote/internal/rate/domain"
	"github.com/smallbiznis/fxquote/internal/resolver/domain"
	"github.com/smallbiznis/fxquote/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Cache       cache.RateCache
	Rates       ratedomain.Service
	ExchangeCfg *config.ExchangeConfigHolder
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	cache       cache.RateCache
	rates       ratedomain.Service
	exchangeCfg *config.ExchangeConfigHolder
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		log:         p.Log.Named("resolver.service"),
		clock:       p.Clock,
		cache:       p.Cache,
		rates:       p.Rates,
		exchangeCfg: p.ExchangeCfg,
		metrics:     p.Metrics,
	}
}

// leg is one hop of a resolution before final rounding.
type leg struct {
	value      decimal.Decimal
	observedAt time.Time
	derived    bool
	source     string
}

func (s *Service) Resolve(ctx context.Context, base, target string) (domain.Resolution, error) {
	base = currencydomain.NormalizeCode(base)
	target = currencydomain.NormalizeCode(target)
	if !currencydomain.ValidCode(base) || !currencydomain.ValidCode(target) {
		return domain.Resolution{}, domain.ErrInvalidCurrency
	}

	cfg := s.exchangeCfg.Get()
	res := domain.Resolution{BaseCurrency: base, TargetCurrency: target}

	if base == target {
		res.Value = decimal.NewFromInt(1)
		res.ObservedAt = s.clock.Now()
		res.Source = domain.SourceIdentity
		s.metrics.RecordRateResolution(ctx, res.Source)
		return res, nil
	}

	found, ok, err := s.direct(ctx, cfg, base, target)
	if err != nil {
		return domain.Resolution{}, err
	}
	if !ok {
		found, ok, err = s.inverse(ctx, cfg, base, target)
		if err != nil {
			return domain.Resolution{}, err
		}
	}
	if !ok {
		found, res.Pivot, ok, err = s.viaPivot(ctx, cfg, base, target)
		if err != nil {
			return domain.Resolution{}, err
		}
	}
	if !ok {
		s.log.Info("rate unavailable",
			zap.String("base", base),
			zap.String("target", target),
			zap.Strings("pivots", cfg.Pivots),
		)
		s.metrics.RecordRateResolution(ctx, "unavailable")
		return domain.Resolution{}, domain.ErrRateUnavailable
	}

	res.Value = money.RoundHalfUp(found.value, rateScale(cfg))
	res.ObservedAt = found.observedAt
	res.Derived = found.derived
	res.Source = found.source
	s.metrics.RecordRateResolution(ctx, res.Source)
	return res, nil
}

// direct reads the exact pair through the cache, filling it on a store hit.
func (s *Service) direct(ctx context.Context, cfg config.ExchangeConfig, base, target string) (leg, bool, error) {
	entry, ok, err := s.cache.Get(ctx, base, target)
	if err != nil {
		s.log.Warn("rate cache read failed", zap.String("base", base), zap.String("target", target), zap.Error(err))
	}
	if err == nil && ok && s.fresh(cfg, entry.ObservedAt) {
		return leg{value: entry.Value, observedAt: entry.ObservedAt, derived: entry.Derived, source: domain.SourceCache}, true, nil
	}

	stored, err := s.rates.Latest(ctx, base, target)
	if errors.Is(err, ratedomain.ErrNotFound) {
		return leg{}, false, nil
	}
	if err != nil {
		return leg{}, false, fmt.Errorf("load rate %s/%s: %w", base, target, err)
	}
	if !s.fresh(cfg, stored.ObservedAt) {
		s.log.Debug("stored rate is stale",
			zap.String("base", base),
			zap.String("target", target),
			zap.Time("observed_at", stored.ObservedAt),
		)
		return leg{}, false, nil
	}

	s.fill(ctx, base, target, cache.RateEntry{Value: stored.Value, ObservedAt: stored.ObservedAt})
	return leg{value: stored.Value, observedAt: stored.ObservedAt, source: domain.SourceStore}, true, nil
}

// inverse derives base→target as 1 / (target→base).
func (s *Service) inverse(ctx context.Context, cfg config.ExchangeConfig, base, target string) (leg, bool, error) {
	reverse, ok, err := s.direct(ctx, cfg, target, base)
	if err != nil || !ok {
		return leg{}, false, err
	}

	out := leg{
		value:      money.Inverse(reverse.value),
		observedAt: reverse.observedAt,
		derived:    true,
		source:     domain.SourceInverse,
	}
	s.fill(ctx, base, target, cache.RateEntry{Value: out.value, ObservedAt: out.observedAt, Derived: true})
	return out, true, nil
}

// hop resolves one pivot leg directly or through its reciprocal.
func (s *Service) hop(ctx context.Context, cfg config.ExchangeConfig, base, target string) (leg, bool, error) {
	found, ok, err := s.direct(ctx, cfg, base, target)
	if err != nil || ok {
		return found, ok, err
	}
	return s.inverse(ctx, cfg, base, target)
}

func (s *Service) viaPivot(ctx context.Context, cfg config.ExchangeConfig, base, target string) (leg, string, bool, error) {
	for _, pivot := range cfg.Pivots {
		if pivot == base || pivot == target {
			continue
		}

		first, ok, err := s.hop(ctx, cfg, base, pivot)
		if err != nil {
			return leg{}, "", false, err
		}
		if !ok {
			continue
		}
		second, ok, err := s.hop(ctx, cfg, pivot, target)
		if err != nil {
			return leg{}, "", false, err
		}
		if !ok {
			continue
		}

		observedAt := first.observedAt
		if second.observedAt.Before(observedAt) {
			observedAt = second.observedAt
		}
		out := leg{
			value:      money.Cross(first.value, second.value),
			observedAt: observedAt,
			derived:    true,
			source:     domain.SourcePivot,
		}
		s.fill(ctx, base, target, cache.RateEntry{Value: out.value, ObservedAt: out.observedAt, Derived: true})
		return out, pivot, true, nil
	}
	return leg{}, "", false, nil
}

func (s *Service) fill(ctx context.Context, base, target string, entry cache.RateEntry) {
	if err := s.cache.Set(ctx, base, target, entry); err != nil {
		s.log.Warn("rate cache write failed", zap.String("base", base), zap.String("target", target), zap.Error(err))
	}
}

func (s *Service) fresh(cfg config.ExchangeConfig, observedAt time.Time) bool {
	if cfg.MaxRateAge <= 0 {
		return true
	}
	return s.clock.Now().Sub(observedAt) <= cfg.MaxRateAge
}

func rateScale(cfg config.ExchangeConfig) int32 {
	if cfg.RateScale <= 0 {
		return money.RateScale
	}
	return cfg.RateScale
}
