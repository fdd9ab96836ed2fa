package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxquote/internal/clock"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	"github.com/smallbiznis/fxquote/internal/rate/domain"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"github.com/smallbiznis/fxquote/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("rate.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Latest(ctx context.Context, base, target string) (domain.Rate, error) {
	base = currencydomain.NormalizeCode(base)
	target = currencydomain.NormalizeCode(target)
	if !currencydomain.ValidCode(base) || !currencydomain.ValidCode(target) {
		return domain.Rate{}, domain.ErrInvalidCurrency
	}

	item, err := s.repo.FindLatest(ctx, s.db, base, target)
	if err != nil {
		return domain.Rate{}, err
	}
	if item == nil {
		return domain.Rate{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		BaseCurrency:   currencydomain.NormalizeCode(req.BaseCurrency),
		TargetCurrency: currencydomain.NormalizeCode(req.TargetCurrency),
	}
	if filter.BaseCurrency != "" && !currencydomain.ValidCode(filter.BaseCurrency) {
		return domain.ListResponse{}, domain.ErrInvalidCurrency
	}
	if filter.TargetCurrency != "" && !currencydomain.ValidCode(filter.TargetCurrency) {
		return domain.ListResponse{}, domain.ErrInvalidCurrency
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Size(), func(rate *domain.Rate) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        rate.ID.String(),
			CreatedAt: rate.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	rates := make([]domain.Rate, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		rates = append(rates, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, Rates: rates}, nil
}

func (s *Service) Store(ctx context.Context, tx *gorm.DB, observations []domain.Observation) ([]domain.Rate, error) {
	if tx == nil {
		var stored []domain.Rate
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			stored, err = s.store(ctx, tx, observations)
			return err
		})
		return stored, err
	}
	return s.store(ctx, tx, observations)
}

func (s *Service) store(ctx context.Context, tx *gorm.DB, observations []domain.Observation) ([]domain.Rate, error) {
	now := s.clock.Now()
	stored := make([]domain.Rate, 0, len(observations))
	for _, obs := range observations {
		base := currencydomain.NormalizeCode(obs.BaseCurrency)
		target := currencydomain.NormalizeCode(obs.TargetCurrency)
		if !currencydomain.ValidCode(base) || !currencydomain.ValidCode(target) || base == target {
			return nil, domain.ErrInvalidCurrency
		}
		if !obs.Value.IsPositive() {
			return nil, domain.ErrInvalidRate
		}

		observedAt := obs.ObservedAt.UTC()
		if observedAt.IsZero() {
			observedAt = now
		}
		rate := domain.Rate{
			ID:             s.genID.Generate(),
			BaseCurrency:   base,
			TargetCurrency: target,
			Value:          money.RoundHalfUp(obs.Value, money.RateScale),
			ObservedAt:     observedAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Upsert(ctx, tx, &rate); err != nil {
			return nil, err
		}
		stored = append(stored, rate)
	}

	s.log.Debug("rates stored", zap.Int("count", len(stored)))
	return stored, nil
}
