package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/fxquote/internal/config"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	idempotencydomain "github.com/smallbiznis/fxquote/internal/idempotency/domain"
	"github.com/smallbiznis/fxquote/internal/observability"
	quotedomain "github.com/smallbiznis/fxquote/internal/quote/domain"
	ratedomain "github.com/smallbiznis/fxquote/internal/rate/domain"
	"github.com/smallbiznis/fxquote/internal/ratelimit"
	resolverdomain "github.com/smallbiznis/fxquote/internal/resolver/domain"
	"github.com/smallbiznis/fxquote/internal/scheduler"
	transactiondomain "github.com/smallbiznis/fxquote/internal/transaction/domain"
	"github.com/smallbiznis/fxquote/pkg/db/pagination"
)

var testNow = time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)

type fakeQuoteService struct {
	mu     sync.Mutex
	byKey  map[string]quotedomain.Quote
	err    error
	getErr error
}

func (f *fakeQuoteService) Create(_ context.Context, req quotedomain.CreateRequest) (quotedomain.CreateResult, error) {
	if f.err != nil {
		return quotedomain.CreateResult{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.byKey[req.IdempotencyKey]; ok {
		return quotedomain.CreateResult{Quote: q, Replayed: true}, nil
	}
	amount := decimal.RequireFromString(req.Amount)
	rate := decimal.RequireFromString("1.1627")
	q := quotedomain.Quote{
		ID:              snowflake.ID(1001),
		FromCurrency:    req.FromCurrency,
		ToCurrency:      req.ToCurrency,
		RequestedAmount: amount,
		LockedRate:      rate,
		ConvertedAmount: amount.Mul(rate).Round(4),
		CreatedAt:       testNow,
		ExpiryAt:        testNow.Add(time.Minute),
	}
	f.byKey[req.IdempotencyKey] = q
	return quotedomain.CreateResult{Quote: q}, nil
}

func (f *fakeQuoteService) Get(_ context.Context, id string) (quotedomain.Quote, error) {
	if f.getErr != nil {
		return quotedomain.Quote{}, f.getErr
	}
	return quotedomain.Quote{}, quotedomain.ErrNotFound
}

func (f *fakeQuoteService) Consume(context.Context, *gorm.DB, snowflake.ID, time.Time) error {
	return nil
}

type fakeTransactionService struct {
	err error
}

func (f *fakeTransactionService) Create(_ context.Context, req transactiondomain.CreateRequest) (transactiondomain.CreateResult, error) {
	if f.err != nil {
		return transactiondomain.CreateResult{}, f.err
	}
	return transactiondomain.CreateResult{Transaction: transactiondomain.Transaction{
		ID:        snowflake.ID(2001),
		QuoteID:   snowflake.ID(1001),
		Amount:    decimal.RequireFromString(req.Amount),
		CreatedAt: testNow,
	}}, nil
}

func (f *fakeTransactionService) Get(context.Context, string) (transactiondomain.Transaction, error) {
	return transactiondomain.Transaction{}, transactiondomain.ErrNotFound
}

func (f *fakeTransactionService) List(_ context.Context, req transactiondomain.ListRequest) (transactiondomain.ListResponse, error) {
	if req.PageToken == "bogus" {
		return transactiondomain.ListResponse{}, pagination.ErrInvalidPageToken
	}
	return transactiondomain.ListResponse{}, nil
}

type fakeRateService struct{}

func (fakeRateService) Latest(context.Context, string, string) (ratedomain.Rate, error) {
	return ratedomain.Rate{}, ratedomain.ErrNotFound
}

func (fakeRateService) List(context.Context, ratedomain.ListRequest) (ratedomain.ListResponse, error) {
	return ratedomain.ListResponse{Rates: []ratedomain.Rate{{
		ID:             snowflake.ID(7),
		BaseCurrency:   "EUR",
		TargetCurrency: "USD",
		Value:          decimal.RequireFromString("1.1627"),
		ObservedAt:     testNow,
	}}}, nil
}

func (fakeRateService) Store(context.Context, *gorm.DB, []ratedomain.Observation) ([]ratedomain.Rate, error) {
	return nil, nil
}

type fakeResolver struct {
	err error
}

func (f fakeResolver) Resolve(_ context.Context, base, target string) (resolverdomain.Resolution, error) {
	if f.err != nil {
		return resolverdomain.Resolution{}, f.err
	}
	return resolverdomain.Resolution{
		BaseCurrency:   base,
		TargetCurrency: target,
		Value:          decimal.RequireFromString("129.28528425"),
		ObservedAt:     testNow,
		Derived:        true,
		Source:         resolverdomain.SourcePivot,
		Pivot:          "EUR",
	}, nil
}

type fakeCurrencyService struct{}

func (fakeCurrencyService) List(context.Context, currencydomain.ListRequest) ([]currencydomain.Currency, error) {
	return []currencydomain.Currency{{Code: "EUR", Name: "Euro", DecimalPlaces: 2, Enabled: true}}, nil
}

func (fakeCurrencyService) Get(_ context.Context, code string) (currencydomain.Currency, error) {
	if code == "EUR" {
		return currencydomain.Currency{Code: "EUR", Name: "Euro", DecimalPlaces: 2, Enabled: true}, nil
	}
	return currencydomain.Currency{}, currencydomain.ErrNotFound
}

func (fakeCurrencyService) EnsureSupported(context.Context, ...string) error { return nil }

type fakeTrigger struct {
	err   error
	calls []string
}

func (f *fakeTrigger) TriggerNow(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: false, Limit: 5, Remaining: 0, RetryAfter: 200 * time.Millisecond}, nil
}

type testDeps struct {
	quotes       *fakeQuoteService
	transactions *fakeTransactionService
	resolver     fakeResolver
	refresher    jobTrigger
	limiter      ratelimit.Allower
}

func newTestServer(t *testing.T, deps testDeps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if deps.quotes == nil {
		deps.quotes = &fakeQuoteService{byKey: map[string]quotedomain.Quote{}}
	}
	if deps.transactions == nil {
		deps.transactions = &fakeTransactionService{}
	}

	s := &Server{
		engine:         NewEngine(observability.Config{Environment: "test"}, nil),
		cfg:            config.Config{Environment: "test"},
		log:            zap.NewNop(),
		currencySvc:    fakeCurrencyService{},
		rateSvc:        fakeRateService{},
		resolverSvc:    deps.resolver,
		quoteSvc:       deps.quotes,
		transactionSvc: deps.transactions,
		refresher:      deps.refresher,
		quoteLimiter:   deps.limiter,
	}
	s.registerAPIRoutes()
	s.registerAdminRoutes()
	s.registerFallback()
	return s.Engine()
}

func doJSON(t *testing.T, r http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestCreateQuoteThenReplay(t *testing.T) {
	r := newTestServer(t, testDeps{})
	body := `{"from_currency":"EUR","to_currency":"USD","amount":"100.00"}`

	first := doJSON(t, r, http.MethodPost, "/v1/quotes", "key-1", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(HeaderIdempotentReplayed))

	var resp struct {
		Data quotedomain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.Equal(t, "1001", resp.Data.ID)
	assert.Equal(t, "100.0000", resp.Data.Amount)
	assert.Equal(t, "116.2700", resp.Data.ConvertedAmount)
	assert.Equal(t, "1.16270000", resp.Data.Rate)

	second := doJSON(t, r, http.MethodPost, "/v1/quotes", "key-1", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplayed))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestCreateQuoteAcceptsNumericAmount(t *testing.T) {
	r := newTestServer(t, testDeps{})

	w := doJSON(t, r, http.MethodPost, "/v1/quotes", "key-num", `{"from_currency":"eur","to_currency":"usd","amount":100.00}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreateQuoteBindingErrors(t *testing.T) {
	r := newTestServer(t, testDeps{})

	cases := []struct {
		name  string
		body  string
		field string
		code  string
	}{
		{"unknown currency", `{"from_currency":"ZZZ","to_currency":"USD","amount":"1"}`, "from_currency", "invalid_currency"},
		{"missing amount", `{"from_currency":"EUR","to_currency":"USD"}`, "amount", "missing_amount"},
		{"malformed", `{"from_currency":`, "request", "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/v1/quotes", "key", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			payload := decodeError(t, w)
			assert.Equal(t, "validation_error", payload.Type)
			require.NotEmpty(t, payload.Errors)
			assert.Equal(t, tc.field, payload.Errors[0].Field)
			assert.Equal(t, tc.code, payload.Errors[0].Code)
		})
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{quotedomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{idempotencydomain.ErrInvalidKey, http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: NGN", currencydomain.ErrUnsupportedCurrency), http.StatusBadRequest, "validation_error"},
		{quotedomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{transactiondomain.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
		{transactiondomain.ErrQuoteExpired, http.StatusUnprocessableEntity, "quote_expired"},
		{transactiondomain.ErrQuoteAlreadyConsumed, http.StatusConflict, "quote_already_consumed"},
		{idempotencydomain.ErrConflict, http.StatusConflict, "idempotency_conflict"},
		{resolverdomain.ErrRateUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{fmt.Errorf("%w: %w", quotedomain.ErrCommitFailed, errors.New("disk full")), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := newTestServer(t, testDeps{quotes: &fakeQuoteService{getErr: tc.err}})

			w := doJSON(t, r, http.MethodGet, "/v1/quotes/1001", "", nil)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.typ, decodeError(t, w).Type)
		})
	}
}

func TestUnsupportedCurrencyFieldDetails(t *testing.T) {
	r := newTestServer(t, testDeps{quotes: &fakeQuoteService{getErr: fmt.Errorf("%w: NGN", currencydomain.ErrUnsupportedCurrency)}})

	w := doJSON(t, r, http.MethodGet, "/v1/quotes/1", "", nil)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "currency", payload.Errors[0].Field)
	assert.Equal(t, "unsupported_currency", payload.Errors[0].Code)
}

func TestCreateTransaction(t *testing.T) {
	r := newTestServer(t, testDeps{})

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", "txn-1", `{"quote":"1001","amount":"116.27"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data transactiondomain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2001", resp.Data.ID)
	assert.Equal(t, "1001", resp.Data.Quote)
	assert.Equal(t, "116.2700", resp.Data.Amount)
}

func TestCreateTransactionAmountMismatch(t *testing.T) {
	r := newTestServer(t, testDeps{transactions: &fakeTransactionService{err: transactiondomain.ErrAmountMismatch}})

	w := doJSON(t, r, http.MethodPost, "/v1/transactions", "txn-1", `{"quote":"1001","amount":"99.9999"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestListTransactionsInvalidPageToken(t *testing.T) {
	r := newTestServer(t, testDeps{})

	w := doJSON(t, r, http.MethodGet, "/v1/transactions?page_token=bogus", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "page_token", payload.Errors[0].Field)
}

func TestListRatesFormatsValues(t *testing.T) {
	r := newTestServer(t, testDeps{})

	w := doJSON(t, r, http.MethodGet, "/v1/rates?base=eur", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data listRatesResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Rates, 1)
	assert.Equal(t, "1.16270000", resp.Data.Rates[0].Rate)
	assert.Equal(t, "7", resp.Data.Rates[0].ID)
}

func TestResolveRate(t *testing.T) {
	r := newTestServer(t, testDeps{})

	w := doJSON(t, r, http.MethodGet, "/v1/rates/resolve?base=USD&target=JPY", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data resolutionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Derived)
	assert.Equal(t, "EUR", resp.Data.Pivot)
	assert.Equal(t, "129.28528425", resp.Data.Rate)

	missing := doJSON(t, r, http.MethodGet, "/v1/rates/resolve?base=USD", "", nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestResolveRateUnavailable(t *testing.T) {
	r := newTestServer(t, testDeps{resolver: fakeResolver{err: resolverdomain.ErrRateUnavailable}})

	w := doJSON(t, r, http.MethodGet, "/v1/rates/resolve?base=USD&target=KES", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCurrencies(t *testing.T) {
	r := newTestServer(t, testDeps{})

	list := doJSON(t, r, http.MethodGet, "/v1/currencies?enabled=true", "", nil)
	assert.Equal(t, http.StatusOK, list.Code)

	found := doJSON(t, r, http.MethodGet, "/v1/currencies/EUR", "", nil)
	assert.Equal(t, http.StatusOK, found.Code)

	missing := doJSON(t, r, http.MethodGet, "/v1/currencies/XYZ", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestRefreshRates(t *testing.T) {
	trigger := &fakeTrigger{}
	r := newTestServer(t, testDeps{refresher: trigger})

	w := doJSON(t, r, http.MethodPost, "/v1/admin/rates/refresh", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"rates_ingestion"}, trigger.calls)

	trigger.err = scheduler.ErrAlreadyRunning
	w = doJSON(t, r, http.MethodPost, "/v1/admin/rates/refresh", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRefreshRatesWithoutScheduler(t *testing.T) {
	r := newTestServer(t, testDeps{})

	w := doJSON(t, r, http.MethodPost, "/v1/admin/rates/refresh", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestQuoteCreationRateLimited(t *testing.T) {
	quotes := &fakeQuoteService{byKey: map[string]quotedomain.Quote{}}
	r := newTestServer(t, testDeps{quotes: quotes, limiter: denyAll{}})

	w := doJSON(t, r, http.MethodPost, "/v1/quotes", "key-1", `{"from_currency":"EUR","to_currency":"USD","amount":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, w).Type)
	assert.Empty(t, quotes.byKey)
}

func TestUnknownRoute(t *testing.T) {
	r := newTestServer(t, testDeps{})

	w := doJSON(t, r, http.MethodGet, "/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
