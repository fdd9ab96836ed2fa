package ingestion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/fxquote/internal/cache"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	"github.com/smallbiznis/fxquote/internal/events"
	"github.com/smallbiznis/fxquote/internal/observability/metrics"
	ratedomain "github.com/smallbiznis/fxquote/internal/rate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobName = "rates_ingestion"

const (
	skipBaseDisabled = "base_currency_disabled"
	skipNoTargets    = "no_target_currencies"
)

// Summary describes one ingestion cycle.
type Summary struct {
	RunID        string
	BaseCurrency string
	ObservedAt   time.Time
	Upserted     int
	// Ignored lists codes returned by the provider that were unparseable,
	// unknown or disabled.
	Ignored    []string
	SkipReason string
}

func (s Summary) Skipped() bool { return s.SkipReason != "" }

type JobParams struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	ExchangeCfg *config.ExchangeConfigHolder
	Currencies  currencydomain.Service
	Rates       ratedomain.Service
	Cache       cache.RateCache
	Provider    Provider
	Publisher   events.Publisher `optional:"true"`
	Metrics     *metrics.Metrics `optional:"true"`
}

type Job struct {
	log         *zap.Logger
	clock       clock.Clock
	exchangeCfg *config.ExchangeConfigHolder
	currencies  currencydomain.Service
	rates       ratedomain.Service
	cache       cache.RateCache
	provider    Provider
	publisher   events.Publisher
	metrics     *metrics.Metrics
}

func NewJob(p JobParams) *Job {
	return &Job{
		log:         p.Log.Named("ingestion.job"),
		clock:       p.Clock,
		exchangeCfg: p.ExchangeCfg,
		currencies:  p.Currencies,
		rates:       p.Rates,
		cache:       p.Cache,
		provider:    p.Provider,
		publisher:   p.Publisher,
		metrics:     p.Metrics,
	}
}

// Run fetches the latest rates for the configured base currency and stores
// them. Store and cache are untouched when an error is returned.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	cfg := j.exchangeCfg.Get()
	summary := Summary{RunID: ulid.Make().String(), BaseCurrency: cfg.BaseCurrency}
	log := j.log.With(zap.String("run_id", summary.RunID), zap.String("base_currency", cfg.BaseCurrency))

	enabled, err := j.currencies.List(ctx, currencydomain.ListRequest{EnabledOnly: true})
	if err != nil {
		return summary, fmt.Errorf("list currencies: %w", err)
	}

	known := make(map[string]struct{}, len(enabled))
	targets := make([]string, 0, len(enabled))
	for _, c := range enabled {
		known[c.Code] = struct{}{}
		if c.Code != cfg.BaseCurrency {
			targets = append(targets, c.Code)
		}
	}
	sort.Strings(targets)

	if _, ok := known[cfg.BaseCurrency]; !ok {
		log.Warn("base currency is not enabled, skipping ingestion")
		summary.SkipReason = skipBaseDisabled
		return summary, nil
	}
	if len(targets) == 0 {
		log.Warn("no target currencies enabled, skipping ingestion")
		summary.SkipReason = skipNoTargets
		return summary, nil
	}

	fetched, err := j.provider.Latest(ctx, cfg.BaseCurrency, targets)
	if err != nil {
		return summary, err
	}
	if fetched.Base != "" && fetched.Base != cfg.BaseCurrency {
		return summary, fmt.Errorf("%w: requested base %s, got %s", ErrProviderRejected, cfg.BaseCurrency, fetched.Base)
	}
	summary.ObservedAt = fetched.ObservedAt
	summary.Ignored = append(summary.Ignored, fetched.Skipped...)

	observations := make([]ratedomain.Observation, 0, len(fetched.Rates))
	for code, value := range fetched.Rates {
		if _, ok := known[code]; !ok || code == cfg.BaseCurrency {
			summary.Ignored = append(summary.Ignored, code)
			continue
		}
		observations = append(observations, ratedomain.Observation{
			BaseCurrency:   cfg.BaseCurrency,
			TargetCurrency: code,
			Value:          value,
			ObservedAt:     fetched.ObservedAt,
		})
	}
	sort.Strings(summary.Ignored)
	if len(summary.Ignored) > 0 {
		log.Warn("ignored provider rates", zap.Strings("codes", summary.Ignored))
	}
	if len(observations) == 0 {
		return summary, fmt.Errorf("%w: no usable rates in payload", ErrProviderRejected)
	}

	stored, err := j.rates.Store(ctx, nil, observations)
	if err != nil {
		return summary, fmt.Errorf("store rates: %w", err)
	}
	summary.Upserted = len(stored)

	j.refreshCache(ctx, log, stored)
	j.metrics.RecordRatesIngested(ctx, cfg.BaseCurrency, len(stored))
	metrics.Scheduler().AddRatesUpserted(cfg.BaseCurrency, len(stored))
	j.publishRefreshed(ctx, log, summary, stored)

	log.Info("rates ingested",
		zap.Int("upserted", summary.Upserted),
		zap.Time("observed_at", summary.ObservedAt),
	)
	return summary, nil
}

func (j *Job) refreshCache(ctx context.Context, log *zap.Logger, stored []ratedomain.Rate) {
	for _, r := range stored {
		entry := cache.RateEntry{Value: r.Value, ObservedAt: r.ObservedAt}
		if err := j.cache.Set(ctx, r.BaseCurrency, r.TargetCurrency, entry); err != nil {
			log.Warn("failed to refresh cached rate",
				zap.String("target_currency", r.TargetCurrency),
				zap.Error(err),
			)
		}
	}
	purged, err := j.cache.PurgeDerived(ctx)
	if err != nil {
		log.Warn("failed to purge derived rates", zap.Error(err))
		return
	}
	log.Debug("purged derived rates", zap.Int("count", purged))
}

func (j *Job) publishRefreshed(ctx context.Context, log *zap.Logger, summary Summary, stored []ratedomain.Rate) {
	if j.publisher == nil {
		return
	}
	targets := make([]string, 0, len(stored))
	for _, r := range stored {
		targets = append(targets, r.TargetCurrency)
	}
	sort.Strings(targets)

	payload := events.RatesRefreshed{
		RunID:        summary.RunID,
		BaseCurrency: summary.BaseCurrency,
		Targets:      targets,
		ObservedAt:   summary.ObservedAt,
	}
	if err := j.publisher.Publish(ctx, events.RatesRefreshedTopic, summary.BaseCurrency, payload); err != nil {
		log.Warn("failed to publish rates refreshed event", zap.Error(err))
	}
}
