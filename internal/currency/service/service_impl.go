package service

import (
	"context"

	"github.com/smallbiznis/fxquote/internal/currency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("currency.service"),
		repo: p.Repo,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Currency, error) {
	items, err := s.repo.List(ctx, s.db, req.EnabledOnly)
	if err != nil {
		return nil, err
	}

	currencies := make([]domain.Currency, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		currencies = append(currencies, *item)
	}
	return currencies, nil
}

func (s *Service) Get(ctx context.Context, code string) (domain.Currency, error) {
	code = domain.NormalizeCode(code)
	if !domain.ValidCode(code) {
		return domain.Currency{}, domain.ErrInvalidCode
	}

	item, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return domain.Currency{}, err
	}
	if item == nil {
		return domain.Currency{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) EnsureSupported(ctx context.Context, codes ...string) error {
	wanted := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = domain.NormalizeCode(code)
		if !domain.ValidCode(code) {
			return domain.ErrInvalidCode
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		wanted = append(wanted, code)
	}
	if len(wanted) == 0 {
		return nil
	}

	items, err := s.repo.FindByCodes(ctx, s.db, wanted)
	if err != nil {
		return err
	}

	enabled := make(map[string]bool, len(items))
	for _, item := range items {
		if item != nil {
			enabled[item.Code] = item.Enabled
		}
	}
	for _, code := range wanted {
		if !enabled[code] {
			s.log.Debug("currency not supported", zap.String("currency", code))
			return domain.ErrUnsupportedCurrency
		}
	}
	return nil
}
