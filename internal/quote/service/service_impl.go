package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	idempotencydomain "github.com/smallbiznis/fxquote/internal/idempotency/domain"
	"github.com/smallbiznis/fxquote/internal/observability/metrics"
	"github.com/smallbiznis/fxquote/internal/quote/domain"
	resolverdomain "github.com/smallbiznis/fxquote/internal/resolver/domain"
	"github.com/smallbiznis/fxquote/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Ledger      idempotencydomain.Ledger
	Currencies  currencydomain.Service
	Resolver    resolverdomain.Service
	ExchangeCfg *config.ExchangeConfigHolder
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	ledger      idempotencydomain.Ledger
	currencies  currencydomain.Service
	resolver    resolverdomain.Service
	exchangeCfg *config.ExchangeConfigHolder
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("quote.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		ledger:      p.Ledger,
		currencies:  p.Currencies,
		resolver:    p.Resolver,
		exchangeCfg: p.ExchangeCfg,
		metrics:     p.Metrics,
	}
}

type normalizedRequest struct {
	key         string
	from        string
	to          string
	rawAmount   string
	fingerprint string
}

func normalize(req domain.CreateRequest) (normalizedRequest, error) {
	key, err := idempotencydomain.NormalizeKey(req.IdempotencyKey)
	if err != nil {
		return normalizedRequest{}, err
	}

	n := normalizedRequest{
		key:       key,
		from:      currencydomain.NormalizeCode(req.FromCurrency),
		to:        currencydomain.NormalizeCode(req.ToCurrency),
		rawAmount: strings.TrimSpace(req.Amount),
	}
	canonical := n.rawAmount
	if d, err := decimal.NewFromString(n.rawAmount); err == nil {
		canonical = d.String()
	}
	n.fingerprint = idempotencydomain.Fingerprint(n.from, n.to, canonical)
	return n, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.CreateResult, error) {
	n, err := normalize(req)
	if err != nil {
		return domain.CreateResult{}, err
	}

	if res, found, err := s.replay(ctx, n); found || err != nil {
		return res, err
	}

	cfg := s.exchangeCfg.Get()
	amount, err := s.validate(ctx, cfg, n)
	if err != nil {
		return domain.CreateResult{}, err
	}

	resolution, err := s.resolver.Resolve(ctx, n.from, n.to)
	if err != nil {
		return domain.CreateResult{}, err
	}

	lockedRate := money.RoundHalfUp(resolution.Value, cfg.RateScale)
	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	quote := domain.Quote{
		ID:              s.genID.Generate(),
		FromCurrency:    n.from,
		ToCurrency:      n.to,
		RequestedAmount: amount,
		LockedRate:      lockedRate,
		ConvertedAmount: money.Convert(amount, lockedRate, cfg.AmountScale),
		RateDerived:     resolution.Derived,
		CreatedAt:       now,
		ExpiryAt:        now.Add(cfg.QuoteTTL),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &quote); err != nil {
			return err
		}
		return s.ledger.Record(ctx, tx, idempotencydomain.ScopeCreateQuote, n.key, n.fingerprint, quote.ID)
	})
	if errors.Is(err, idempotencydomain.ErrAlreadyRecorded) {
		// a concurrent request with the same key committed first
		res, found, lookupErr := s.replay(ctx, n)
		if lookupErr != nil {
			return domain.CreateResult{}, lookupErr
		}
		if found {
			return res, nil
		}
		return domain.CreateResult{}, fmt.Errorf("%w: %w", domain.ErrCommitFailed, err)
	}
	if err != nil {
		s.log.Error("failed to persist quote", zap.String("idempotency_key", n.key), zap.Error(err))
		return domain.CreateResult{}, fmt.Errorf("%w: %w", domain.ErrCommitFailed, err)
	}

	s.metrics.RecordQuoteCreated(ctx, quote.FromCurrency, quote.ToCurrency, quote.RateDerived)
	s.log.Info("quote created",
		zap.String("quote_id", quote.ID.String()),
		zap.String("from", quote.FromCurrency),
		zap.String("to", quote.ToCurrency),
		zap.String("rate_source", resolution.Source),
		zap.Time("expiry_at", quote.ExpiryAt),
	)
	return domain.CreateResult{Quote: quote}, nil
}

// replay returns the stored quote when the key was already used with the
// same payload.
func (s *Service) replay(ctx context.Context, n normalizedRequest) (domain.CreateResult, bool, error) {
	ref, found, err := s.ledger.Lookup(ctx, idempotencydomain.ScopeCreateQuote, n.key, n.fingerprint)
	if err != nil {
		return domain.CreateResult{}, found, err
	}
	if !found {
		return domain.CreateResult{}, false, nil
	}

	quote, err := s.repo.FindByID(ctx, s.db, ref)
	if err != nil {
		return domain.CreateResult{}, true, err
	}
	if quote == nil {
		return domain.CreateResult{}, true, fmt.Errorf("idempotency record %s references missing quote %s: %w", n.key, ref, domain.ErrNotFound)
	}
	s.metrics.RecordIdempotentReplay(ctx, idempotencydomain.ScopeCreateQuote)
	return domain.CreateResult{Quote: *quote, Replayed: true}, true, nil
}

func (s *Service) validate(ctx context.Context, cfg config.ExchangeConfig, n normalizedRequest) (decimal.Decimal, error) {
	if !currencydomain.ValidCode(n.from) || !currencydomain.ValidCode(n.to) {
		return decimal.Zero, domain.ErrInvalidCurrency
	}
	if n.from == n.to {
		return decimal.Zero, domain.ErrSameCurrency
	}

	amount, err := money.ParsePositive(n.rawAmount, cfg.AmountScale)
	if err != nil {
		return decimal.Zero, domain.ErrInvalidAmount
	}

	if err := s.currencies.EnsureSupported(ctx, n.from, n.to); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Quote, error) {
	quoteID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || quoteID == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	quote, err := s.repo.FindByID(ctx, s.db, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}
	if quote == nil {
		return domain.Quote{}, domain.ErrNotFound
	}
	return *quote, nil
}

func (s *Service) Consume(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error {
	if tx == nil {
		tx = s.db
	}
	rows, err := s.repo.MarkConsumed(ctx, tx, id, at)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrAlreadyConsumed
	}
	return nil
}
