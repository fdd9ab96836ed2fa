package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	currencyrepository "github.com/smallbiznis/fxquote/internal/currency/repository"
	currencyservice "github.com/smallbiznis/fxquote/internal/currency/service"
	"github.com/smallbiznis/fxquote/internal/dbtest"
	idempotencydomain "github.com/smallbiznis/fxquote/internal/idempotency/domain"
	idempotencyrepository "github.com/smallbiznis/fxquote/internal/idempotency/repository"
	idempotencyservice "github.com/smallbiznis/fxquote/internal/idempotency/service"
	"github.com/smallbiznis/fxquote/internal/quote/domain"
	"github.com/smallbiznis/fxquote/internal/quote/repository"
	resolverdomain "github.com/smallbiznis/fxquote/internal/resolver/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type resolverMock struct {
	mock.Mock
}

func (m *resolverMock) Resolve(ctx context.Context, base, target string) (resolverdomain.Resolution, error) {
	args := m.Called(ctx, base, target)
	return args.Get(0).(resolverdomain.Resolution), args.Error(1)
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	resolver *resolverMock
	clock    *clock.FakeClock
}

var start = time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t, &currencydomain.Currency{}, &idempotencydomain.Record{}, &domain.Quote{})
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(start)
	log := zap.NewNop()

	now := time.Now().UTC()
	currencies := []currencydomain.Currency{
		{Code: "EUR", Name: "Euro", DecimalPlaces: 4, Enabled: true, CreatedAt: now, UpdatedAt: now},
		{Code: "USD", Name: "US Dollar", DecimalPlaces: 4, Enabled: true, CreatedAt: now, UpdatedAt: now},
		{Code: "KES", Name: "Kenyan Shilling", DecimalPlaces: 4, Enabled: true, CreatedAt: now, UpdatedAt: now},
		{Code: "NGN", Name: "Naira", DecimalPlaces: 4, Enabled: false, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, db.Create(&currencies).Error)

	resolver := &resolverMock{}
	ledger := idempotencyservice.New(idempotencyservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: idempotencyrepository.Provide(),
	})
	currencySvc := currencyservice.New(currencyservice.Params{
		DB: db, Log: log, Repo: currencyrepository.Provide(),
	})

	svc := New(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        repository.Provide(),
		Ledger:      ledger,
		Currencies:  currencySvc,
		Resolver:    resolver,
		ExchangeCfg: config.NewStaticExchangeConfigHolder(config.DefaultExchangeConfig()),
	})
	return fixture{svc: svc, db: db, resolver: resolver, clock: clk}
}

func eurUSD() resolverdomain.Resolution {
	return resolverdomain.Resolution{
		BaseCurrency:   "EUR",
		TargetCurrency: "USD",
		Value:          decimal.RequireFromString("1.1627"),
		ObservedAt:     start.Add(-time.Minute),
		Source:         resolverdomain.SourceStore,
	}
}

func countQuotes(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&domain.Quote{}).Count(&n).Error)
	return n
}

func TestCreateQuoteConvertsWithHalfUp(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("Resolve", mock.Anything, "EUR", "USD").Return(eurUSD(), nil).Once()

	res, err := f.svc.Create(context.Background(), domain.CreateRequest{
		IdempotencyKey: "q-1",
		FromCurrency:   "eur",
		ToCurrency:     "usd",
		Amount:         "100.0000",
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	resp := domain.NewResponse(res.Quote)
	assert.Equal(t, "100.0000", resp.Amount)
	assert.Equal(t, "116.2700", resp.ConvertedAmount)
	assert.Equal(t, "1.16270000", resp.Rate)
	assert.Equal(t, start, resp.Timestamp)
	assert.Equal(t, start.Add(60*time.Second), resp.ExpiryTimestamp)
	assert.False(t, res.Quote.Consumed)
}

func TestConvertRoundsHalfUp(t *testing.T) {
	f := newFixture(t)
	res := eurUSD()
	res.Value = decimal.RequireFromString("1.00005")
	f.resolver.On("Resolve", mock.Anything, "EUR", "USD").Return(res, nil).Once()

	out, err := f.svc.Create(context.Background(), domain.CreateRequest{
		IdempotencyKey: "q-round", FromCurrency: "EUR", ToCurrency: "USD", Amount: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0001", domain.NewResponse(out.Quote).ConvertedAmount)
}

func TestCreateQuoteReplayIsIdentical(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("Resolve", mock.Anything, "EUR", "USD").Return(eurUSD(), nil).Once()
	ctx := context.Background()
	req := domain.CreateRequest{IdempotencyKey: "q-replay", FromCurrency: "EUR", ToCurrency: "USD", Amount: "100.0000"}

	first, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	req.Amount = "100"
	second, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)

	a, err := json.Marshal(domain.NewResponse(first.Quote))
	require.NoError(t, err)
	b, err := json.Marshal(domain.NewResponse(second.Quote))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, string(a), string(b))

	assert.Equal(t, int64(1), countQuotes(t, f.db))
	f.resolver.AssertNumberOfCalls(t, "Resolve", 1)
}

func TestCreateQuoteKeyConflict(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("Resolve", mock.Anything, "EUR", "USD").Return(eurUSD(), nil).Once()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateRequest{IdempotencyKey: "q-c", FromCurrency: "EUR", ToCurrency: "USD", Amount: "100"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, domain.CreateRequest{IdempotencyKey: "q-c", FromCurrency: "EUR", ToCurrency: "USD", Amount: "250"})
	assert.ErrorIs(t, err, idempotencydomain.ErrConflict)
	assert.Equal(t, int64(1), countQuotes(t, f.db))
}

func TestCreateQuoteValidation(t *testing.T) {
	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{"missing key", domain.CreateRequest{FromCurrency: "EUR", ToCurrency: "USD", Amount: "1"}, idempotencydomain.ErrInvalidKey},
		{"bad code", domain.CreateRequest{IdempotencyKey: "v1", FromCurrency: "EURO", ToCurrency: "USD", Amount: "1"}, domain.ErrInvalidCurrency},
		{"same currency", domain.CreateRequest{IdempotencyKey: "v2", FromCurrency: "USD", ToCurrency: "usd", Amount: "1"}, domain.ErrSameCurrency},
		{"zero amount", domain.CreateRequest{IdempotencyKey: "v3", FromCurrency: "EUR", ToCurrency: "USD", Amount: "0"}, domain.ErrInvalidAmount},
		{"negative amount", domain.CreateRequest{IdempotencyKey: "v4", FromCurrency: "EUR", ToCurrency: "USD", Amount: "-5"}, domain.ErrInvalidAmount},
		{"too precise", domain.CreateRequest{IdempotencyKey: "v5", FromCurrency: "EUR", ToCurrency: "USD", Amount: "1.00001"}, domain.ErrInvalidAmount},
		{"not a number", domain.CreateRequest{IdempotencyKey: "v6", FromCurrency: "EUR", ToCurrency: "USD", Amount: "ten"}, domain.ErrInvalidAmount},
		{"disabled currency", domain.CreateRequest{IdempotencyKey: "v7", FromCurrency: "EUR", ToCurrency: "NGN", Amount: "1"}, currencydomain.ErrUnsupportedCurrency},
		{"unknown currency", domain.CreateRequest{IdempotencyKey: "v8", FromCurrency: "EUR", ToCurrency: "GBP", Amount: "1"}, currencydomain.ErrUnsupportedCurrency},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, int64(0), countQuotes(t, f.db))
			f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreateQuoteRateUnavailable(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("Resolve", mock.Anything, "USD", "KES").Return(resolverdomain.Resolution{}, resolverdomain.ErrRateUnavailable)

	_, err := f.svc.Create(context.Background(), domain.CreateRequest{
		IdempotencyKey: "q-na", FromCurrency: "USD", ToCurrency: "KES", Amount: "10",
	})
	assert.ErrorIs(t, err, resolverdomain.ErrRateUnavailable)
	assert.Equal(t, int64(0), countQuotes(t, f.db))

	var records int64
	require.NoError(t, f.db.Model(&idempotencydomain.Record{}).Count(&records).Error)
	assert.Equal(t, int64(0), records)
}

func TestCreateQuoteConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("Resolve", mock.Anything, "EUR", "USD").Return(eurUSD(), nil)
	ctx := context.Background()
	req := domain.CreateRequest{IdempotencyKey: "q-race", FromCurrency: "EUR", ToCurrency: "USD", Amount: "42"}

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Create(ctx, req)
			errs[i] = err
			ids[i] = res.Quote.ID.String()
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int64(1), countQuotes(t, f.db))
}

func TestGetQuote(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("Resolve", mock.Anything, "EUR", "USD").Return(eurUSD(), nil).Once()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, domain.CreateRequest{IdempotencyKey: "q-get", FromCurrency: "EUR", ToCurrency: "USD", Amount: "5"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.Quote.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.Quote.ID, got.ID)
	assert.True(t, got.ConvertedAmount.Equal(decimal.RequireFromString("5.8135")))

	_, err = f.svc.Get(ctx, "not-an-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Get(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsumeFlipsOnce(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("Resolve", mock.Anything, "EUR", "USD").Return(eurUSD(), nil).Once()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, domain.CreateRequest{IdempotencyKey: "q-consume", FromCurrency: "EUR", ToCurrency: "USD", Amount: "5"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Consume(ctx, nil, created.Quote.ID, start))
	assert.ErrorIs(t, f.svc.Consume(ctx, nil, created.Quote.ID, start), domain.ErrAlreadyConsumed)

	got, err := f.svc.Get(ctx, created.Quote.ID.String())
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	require.NotNil(t, got.ConsumedAt)
}
