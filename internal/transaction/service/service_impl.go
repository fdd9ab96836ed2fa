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
	"github.com/smallbiznis/fxquote/internal/events"
	idempotencydomain "github.com/smallbiznis/fxquote/internal/idempotency/domain"
	"github.com/smallbiznis/fxquote/internal/observability/metrics"
	quotedomain "github.com/smallbiznis/fxquote/internal/quote/domain"
	"github.com/smallbiznis/fxquote/internal/transaction/domain"
	"github.com/smallbiznis/fxquote/pkg/db"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"github.com/smallbiznis/fxquote/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outcomeSettled         = "settled"
	outcomeReplayed        = "replayed"
	outcomeQuoteNotFound   = "quote_not_found"
	outcomeAmountMismatch  = "amount_mismatch"
	outcomeQuoteExpired    = "quote_expired"
	outcomeAlreadyConsumed = "already_consumed"
	outcomeCommitFailed    = "commit_failed"

	publishTimeout = 15 * time.Second
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Ledger    idempotencydomain.Ledger
	Quotes    quotedomain.Service
	Publisher events.Publisher `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	ledger    idempotencydomain.Ledger
	quotes    quotedomain.Service
	publisher events.Publisher
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("transaction.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		ledger:    p.Ledger,
		quotes:    p.Quotes,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

type normalizedRequest struct {
	key         string
	quoteID     string
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
		quoteID:   strings.TrimSpace(req.QuoteID),
		rawAmount: strings.TrimSpace(req.Amount),
	}
	canonical := n.rawAmount
	if d, err := decimal.NewFromString(n.rawAmount); err == nil {
		canonical = d.String()
	}
	n.fingerprint = idempotencydomain.Fingerprint(n.quoteID, canonical)
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

	quoteID, err := snowflake.ParseString(n.quoteID)
	if err != nil || quoteID == 0 {
		return domain.CreateResult{}, domain.ErrInvalidQuote
	}
	amount, err := money.ParsePositive(n.rawAmount, money.RateScale)
	if err != nil {
		return domain.CreateResult{}, domain.ErrInvalidAmount
	}

	quote, err := s.quotes.Get(ctx, n.quoteID)
	if errors.Is(err, quotedomain.ErrNotFound) {
		s.metrics.RecordTransaction(ctx, outcomeQuoteNotFound)
		return domain.CreateResult{}, domain.ErrQuoteNotFound
	}
	if err != nil {
		return domain.CreateResult{}, err
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	switch {
	case !amount.Equal(quote.RequestedAmount):
		s.metrics.RecordTransaction(ctx, outcomeAmountMismatch)
		return domain.CreateResult{}, domain.ErrAmountMismatch
	case quote.Expired(now):
		s.metrics.RecordTransaction(ctx, outcomeQuoteExpired)
		return domain.CreateResult{}, domain.ErrQuoteExpired
	case quote.Consumed:
		return s.rejectConsumed(ctx, n)
	}

	txn := domain.Transaction{
		ID:        s.genID.Generate(),
		QuoteID:   quote.ID,
		Amount:    quote.RequestedAmount,
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.quotes.Consume(ctx, tx, quote.ID, now); err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, &txn); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return quotedomain.ErrAlreadyConsumed
			}
			return err
		}
		return s.ledger.Record(ctx, tx, idempotencydomain.ScopeCreateTransaction, n.key, n.fingerprint, txn.ID)
	})
	switch {
	case err == nil:
	case errors.Is(err, quotedomain.ErrAlreadyConsumed), errors.Is(err, idempotencydomain.ErrAlreadyRecorded):
		// lost the race; the winner may have been this same key
		return s.rejectConsumed(ctx, n)
	default:
		s.metrics.RecordTransaction(ctx, outcomeCommitFailed)
		s.log.Error("failed to commit transaction",
			zap.String("quote_id", quote.ID.String()),
			zap.String("idempotency_key", n.key),
			zap.Error(err),
		)
		return domain.CreateResult{}, fmt.Errorf("%w: %w", domain.ErrCommitFailed, err)
	}

	s.metrics.RecordTransaction(ctx, outcomeSettled)
	s.log.Info("transaction settled",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("quote_id", quote.ID.String()),
	)
	s.publishSettled(ctx, txn, quote)
	return domain.CreateResult{Transaction: txn}, nil
}

// rejectConsumed turns a lost consumption race into a replay when the
// winning request carried the same key and payload.
func (s *Service) rejectConsumed(ctx context.Context, n normalizedRequest) (domain.CreateResult, error) {
	res, found, err := s.replay(ctx, n)
	if err != nil {
		return domain.CreateResult{}, err
	}
	if found {
		return res, nil
	}
	s.metrics.RecordTransaction(ctx, outcomeAlreadyConsumed)
	return domain.CreateResult{}, domain.ErrQuoteAlreadyConsumed
}

func (s *Service) replay(ctx context.Context, n normalizedRequest) (domain.CreateResult, bool, error) {
	ref, found, err := s.ledger.Lookup(ctx, idempotencydomain.ScopeCreateTransaction, n.key, n.fingerprint)
	if err != nil {
		return domain.CreateResult{}, found, err
	}
	if !found {
		return domain.CreateResult{}, false, nil
	}

	txn, err := s.repo.FindByID(ctx, s.db, ref)
	if err != nil {
		return domain.CreateResult{}, true, err
	}
	if txn == nil {
		return domain.CreateResult{}, true, fmt.Errorf("idempotency record %s references missing transaction %s: %w", n.key, ref, domain.ErrNotFound)
	}
	s.metrics.RecordIdempotentReplay(ctx, idempotencydomain.ScopeCreateTransaction)
	s.metrics.RecordTransaction(ctx, outcomeReplayed)
	return domain.CreateResult{Transaction: *txn, Replayed: true}, true, nil
}

func (s *Service) publishSettled(ctx context.Context, txn domain.Transaction, quote quotedomain.Quote) {
	if s.publisher == nil {
		return
	}
	payload := events.TransactionSettled{
		TransactionID: txn.ID.String(),
		QuoteID:       quote.ID.String(),
		FromCurrency:  quote.FromCurrency,
		ToCurrency:    quote.ToCurrency,
		Amount:        money.Format(quote.RequestedAmount, money.AmountScale),
		Converted:     money.Format(quote.ConvertedAmount, money.AmountScale),
		Rate:          money.Format(quote.LockedRate, money.RateScale),
		SettledAt:     txn.CreatedAt,
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, events.TransactionSettledTopic, payload.QuoteID, payload); err != nil {
			s.log.Warn("failed to publish settlement event",
				zap.String("transaction_id", payload.TransactionID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) Get(ctx context.Context, id string) (domain.Transaction, error) {
	txnID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || txnID == 0 {
		return domain.Transaction{}, domain.ErrNotFound
	}

	txn, err := s.repo.FindByID(ctx, s.db, txnID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn == nil {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return *txn, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	var filter domain.ListFilter
	if raw := strings.TrimSpace(req.QuoteID); raw != "" {
		quoteID, err := snowflake.ParseString(raw)
		if err != nil || quoteID == 0 {
			return domain.ListResponse{}, domain.ErrInvalidQuote
		}
		filter.QuoteID = quoteID
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Size(), func(txn *domain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        txn.ID.String(),
			CreatedAt: txn.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	txns := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		txns = append(txns, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, Transactions: txns}, nil
}
