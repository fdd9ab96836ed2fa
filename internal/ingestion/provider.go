package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fxquote/internal/clock"
	"github.com/smallbiznis/fxquote/internal/config"
	"go.uber.org/zap"
)

const (
	defaultAttemptTimeout = 10 * time.Second
	defaultMaxRetries     = 5
	backoffBase           = 500 * time.Millisecond
	backoffCap            = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

var (
	ErrProviderUnavailable = &providerError{msg: "rate_provider_unavailable", upstream: true}
	ErrProviderRejected    = &providerError{msg: "rate_provider_rejected", upstream: true}
)

type providerError struct {
	msg      string
	upstream bool
}

func (e *providerError) Error() string  { return e.msg }
func (e *providerError) Upstream() bool { return e.upstream }

// ProviderRates is a decoded provider response. Entries that could not be
// parsed are listed in Skipped and absent from Rates.
type ProviderRates struct {
	Base       string
	ObservedAt time.Time
	Rates      map[string]decimal.Decimal
	Skipped    []string
}

//go:generate mockgen -destination=mock/provider.go -package=mock github.com/smallbiznis/fxquote/internal/ingestion Provider

type Provider interface {
	Latest(ctx context.Context, base string, symbols []string) (*ProviderRates, error)
}

type ClientOption func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(cl *Client) { cl.sleep = fn }
}

type Client struct {
	endpoint       string
	apiKey         string
	attemptTimeout time.Duration
	maxRetries     int
	http           *http.Client
	log            *zap.Logger
	clock          clock.Clock
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.ProviderConfig, log *zap.Logger, clk clock.Clock, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:       strings.TrimSpace(cfg.URL),
		apiKey:         cfg.APIKey,
		attemptTimeout: cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		http:           &http.Client{},
		log:            log.Named("ingestion.provider"),
		clock:          clk,
		sleep:          sleepContext,
	}
	if c.attemptTimeout <= 0 {
		c.attemptTimeout = defaultAttemptTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = defaultMaxRetries
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Latest(ctx context.Context, base string, symbols []string) (*ProviderRates, error) {
	reqURL, err := c.buildURL(base, symbols)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			c.log.Warn("retrying rate provider",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		rates, retry, err := c.fetch(ctx, reqURL)
		if err == nil {
			return rates, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %d attempts: %w", ErrProviderUnavailable, c.maxRetries+1, lastErr)
}

func (c *Client) buildURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid provider url %q", ErrProviderRejected, c.endpoint)
	}
	q := u.Query()
	q.Set("base", base)
	if len(symbols) > 0 {
		q.Set("symbols", strings.Join(symbols, ","))
	}
	if c.apiKey != "" {
		q.Set("access_key", c.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fetch performs a single attempt. The bool reports whether the failure is
// worth retrying.
func (c *Client) fetch(ctx context.Context, reqURL string) (*ProviderRates, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, isTransientNetErr(err), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("provider status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	}

	rates, err := parsePayload(body, c.clock.Now())
	if err != nil {
		return nil, false, err
	}
	return rates, false, nil
}

type payload struct {
	Success   *bool                      `json:"success"`
	Error     json.RawMessage            `json:"error"`
	Base      string                     `json:"base"`
	Timestamp *int64                     `json:"timestamp"`
	Date      string                     `json:"date"`
	Rates     map[string]json.RawMessage `json:"rates"`
}

func parsePayload(body []byte, now time.Time) (*ProviderRates, error) {
	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", ErrProviderRejected, err)
	}
	if hasError(p.Error) || (p.Success != nil && !*p.Success) {
		return nil, fmt.Errorf("%w: %s", ErrProviderRejected, strings.TrimSpace(string(p.Error)))
	}

	out := &ProviderRates{
		Base:       strings.ToUpper(strings.TrimSpace(p.Base)),
		ObservedAt: observedAt(p, now),
		Rates:      make(map[string]decimal.Decimal, len(p.Rates)),
	}
	for code, raw := range p.Rates {
		code = strings.ToUpper(strings.TrimSpace(code))
		value, ok := parseRateValue(raw)
		if !ok {
			out.Skipped = append(out.Skipped, code)
			continue
		}
		out.Rates[code] = value
	}
	sort.Strings(out.Skipped)
	return out, nil
}

func hasError(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null" && trimmed != "false"
}

func observedAt(p payload, now time.Time) time.Time {
	if p.Timestamp != nil && *p.Timestamp > 0 {
		return time.Unix(*p.Timestamp, 0).UTC()
	}
	if p.Date != "" {
		if d, err := time.ParseInLocation("2006-01-02", p.Date, time.UTC); err == nil {
			return d
		}
	}
	return now.UTC()
}

// parseRateValue accepts JSON numbers and numeric strings.
func parseRateValue(raw json.RawMessage) (decimal.Decimal, bool) {
	text := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	if text == "" {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(text)
	if err != nil || !value.IsPositive() {
		return decimal.Zero, false
	}
	return value, true
}

func isTransientNetErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// backoff is exponential from backoffBase, capped, with full jitter on the
// upper half.
func backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d <= 0 || d > backoffCap {
		d = backoffCap
	}
	half := d / 2
	return half + rand.N(half+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
