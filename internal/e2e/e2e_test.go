package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/internal/cache"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	"github.com/smallbiznis/fxquote/internal/currency"
	"github.com/smallbiznis/fxquote/internal/dbtest"
	"github.com/smallbiznis/fxquote/internal/events"
	"github.com/smallbiznis/fxquote/internal/idempotency"
	"github.com/smallbiznis/fxquote/internal/ingestion"
	"github.com/smallbiznis/fxquote/internal/migration"
	"github.com/smallbiznis/fxquote/internal/observability"
	"github.com/smallbiznis/fxquote/internal/quote"
	"github.com/smallbiznis/fxquote/internal/rate"
	"github.com/smallbiznis/fxquote/internal/ratelimit"
	"github.com/smallbiznis/fxquote/internal/resolver"
	"github.com/smallbiznis/fxquote/internal/scheduler"
	"github.com/smallbiznis/fxquote/internal/server"
	"github.com/smallbiznis/fxquote/internal/transaction"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	baseURL   string
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Type string `json:"type"`
	} `json:"error"`
}

type quoteBody struct {
	ID              string `json:"id"`
	Amount          string `json:"amount"`
	ConvertedAmount string `json:"converted_amount"`
	Rate            string `json:"rate"`
}

type transactionBody struct {
	ID     string `json:"id"`
	Quote  string `json:"quote"`
	Amount string `json:"amount"`
}

// providerStub serves a fixed EUR snapshot the way the upstream API does.
func providerStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("base") != "EUR" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"timestamp":%d,"base":"EUR","rates":{"USD":1.1627,"KES":150.3223,"GBP":"0.8412","JPY":"n/a"}}`,
			time.Now().Unix())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := providerStub(t)
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("RATES_PROVIDER_URL", provider.URL)
	t.Setenv("RATES_PROVIDER_MAX_RETRIES", "1")

	conn := dbtest.Open(t)

	var (
		srv   *server.Server
		sched *scheduler.Scheduler
	)
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Supply(conn),
		fx.Provide(func() (*snowflake.Node, error) { return snowflake.NewNode(1) }),
		clock.Module,
		migration.Module,
		ratelimit.Module,
		cache.Module,
		events.Module,
		currency.Module,
		rate.Module,
		resolver.Module,
		idempotency.Module,
		quote.Module,
		transaction.Module,
		ingestion.Module,
		scheduler.Module,
		server.Module,
		scheduler.Lifecycle,
		fx.NopLogger,
		fx.Populate(&srv, &sched),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start app: %v", err)
	}

	httpSrv := httptest.NewServer(srv.Engine())
	env := &testEnv{
		app:       app,
		db:        conn,
		baseURL:   httpSrv.URL,
		scheduler: sched,
		httpSrv:   httpSrv,
	}
	t.Cleanup(env.shutdown)
	return env
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func (e *testEnv) ingest(t *testing.T) {
	t.Helper()
	if err := e.scheduler.Run(context.Background(), ingestion.JobName); err != nil {
		t.Fatalf("ingest rates: %v", err)
	}
}

func TestE2E_HealthCheck(t *testing.T) {
	env := startEnv(t)

	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_IngestionStoresProviderRates(t *testing.T) {
	env := startEnv(t)
	env.ingest(t)

	if n := countRows(t, env.db, "rates", "base_currency = ?", "EUR"); n != 3 {
		t.Fatalf("expected 3 EUR rates, got %d", n)
	}

	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/v1/rates?base=EUR&target=USD", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for rates, got %d: %s", resp.StatusCode, string(body))
	}
	var list struct {
		Rates []struct {
			Rate string `json:"rate"`
		} `json:"rates"`
	}
	decodeData(t, body, &list)
	if len(list.Rates) != 1 || list.Rates[0].Rate != "1.16270000" {
		t.Fatalf("unexpected rates payload: %s", string(body))
	}
}

func TestE2E_QuoteAndSettle(t *testing.T) {
	env := startEnv(t)
	env.ingest(t)

	quoteReq := map[string]any{"from_currency": "EUR", "to_currency": "USD", "amount": "100.00"}
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/quotes", quoteReq, idempotencyKey("quote-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for quote, got %d: %s", resp.StatusCode, string(body))
	}
	var q quoteBody
	decodeData(t, body, &q)
	if q.ConvertedAmount != "116.2700" {
		t.Fatalf("expected converted amount 116.2700, got %s", q.ConvertedAmount)
	}

	replay, replayBody := doJSON(t, http.MethodPost, env.baseURL+"/v1/quotes", quoteReq, idempotencyKey("quote-1"))
	if replay.StatusCode != http.StatusOK || replay.Header.Get(server.HeaderIdempotentReplayed) != "true" {
		t.Fatalf("expected replay, got %d: %s", replay.StatusCode, string(replayBody))
	}
	if !bytes.Equal(body, replayBody) {
		t.Fatalf("replayed body differs:\n%s\n%s", string(body), string(replayBody))
	}
	if n := countRows(t, env.db, "quotes", "1 = 1"); n != 1 {
		t.Fatalf("expected one quote row, got %d", n)
	}

	conflictReq := map[string]any{"from_currency": "EUR", "to_currency": "USD", "amount": "200.00"}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/v1/quotes", conflictReq, idempotencyKey("quote-1"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for key reuse, got %d: %s", resp.StatusCode, string(body))
	}

	mismatch := map[string]any{"quote": q.ID, "amount": "99.9999"}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/v1/transactions", mismatch, idempotencyKey("txn-0"))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for amount mismatch, got %d: %s", resp.StatusCode, string(body))
	}

	settle := map[string]any{"quote": q.ID, "amount": "100.0000"}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/v1/transactions", settle, idempotencyKey("txn-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for transaction, got %d: %s", resp.StatusCode, string(body))
	}
	var txn transactionBody
	decodeData(t, body, &txn)
	if txn.Quote != q.ID || txn.Amount != "100.0000" {
		t.Fatalf("unexpected transaction payload: %s", string(body))
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/v1/transactions", settle, idempotencyKey("txn-2"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for second settlement, got %d: %s", resp.StatusCode, string(body))
	}
	if n := countRows(t, env.db, "transactions", "1 = 1"); n != 1 {
		t.Fatalf("expected one transaction row, got %d", n)
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/v1/transactions?quote="+q.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for transaction list, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_DerivedQuoteThroughPivot(t *testing.T) {
	env := startEnv(t)
	env.ingest(t)

	quoteReq := map[string]any{"from_currency": "USD", "to_currency": "KES", "amount": "10"}
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/quotes", quoteReq, idempotencyKey("derived-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for derived quote, got %d: %s", resp.StatusCode, string(body))
	}
	var q quoteBody
	decodeData(t, body, &q)

	want := decimal.RequireFromString("150.3223").Div(decimal.RequireFromString("1.1627"))
	got := decimal.RequireFromString(q.Rate)
	if got.Sub(want).Abs().GreaterThan(decimal.New(1, -6)) {
		t.Fatalf("expected rate near %s, got %s", want.StringFixed(8), q.Rate)
	}
	if n := countRows(t, env.db, "rates", "base_currency = ? AND target_currency = ?", "USD", "KES"); n != 0 {
		t.Fatalf("derived rate must not be stored, found %d rows", n)
	}
}

func TestE2E_QuoteWithoutRates(t *testing.T) {
	env := startEnv(t)

	quoteReq := map[string]any{"from_currency": "EUR", "to_currency": "USD", "amount": "1"}
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/quotes", quoteReq, idempotencyKey("empty-1"))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without rates, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_ManualRefresh(t *testing.T) {
	env := startEnv(t)

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/admin/rates/refresh", nil, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202 for refresh, got %d: %s", resp.StatusCode, string(body))
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if countRows(t, env.db, "rates", "1 = 1") > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("refresh did not store rates")
}

func idempotencyKey(key string) map[string]string {
	return map[string]string{server.HeaderIdempotencyKey: key}
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func decodeData(t *testing.T, body []byte, out any) {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func doJSON(t *testing.T, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
