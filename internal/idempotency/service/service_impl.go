package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/idempotency/domain"
	"github.com/smallbiznis/fxquote/pkg/db"
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

func New(p Params) domain.Ledger {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("idempotency.ledger"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Lookup(ctx context.Context, scope, key, fingerprint string) (snowflake.ID, bool, error) {
	record, err := s.repo.FindByKey(ctx, s.db, scope, key)
	if err != nil {
		return 0, false, err
	}
	if record == nil {
		return 0, false, nil
	}
	if record.RequestFingerprint != fingerprint {
		s.log.Warn("idempotency key reused with different payload",
			zap.String("scope", scope),
			zap.String("idempotency_key", key),
		)
		return 0, true, domain.ErrConflict
	}
	return record.ResultReference, true, nil
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, scope, key, fingerprint string, result snowflake.ID) error {
	if tx == nil {
		tx = s.db
	}
	record := domain.Record{
		ID:                 s.genID.Generate(),
		Scope:              scope,
		Key:                key,
		RequestFingerprint: fingerprint,
		ResultReference:    result,
		CreatedAt:          s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, tx, &record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyRecorded
		}
		return err
	}
	return nil
}
