package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes domain-level instruments.
type Metrics struct {
	quotesCreated     metric.Int64Counter
	transactions      metric.Int64Counter
	idempotentReplays metric.Int64Counter
	rateResolutions   metric.Int64Counter
	ratesIngested     metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fxquote"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.quotesCreated, "fxquote_quotes_created_total"},
		{&m.transactions, "fxquote_transactions_total"},
		{&m.idempotentReplays, "fxquote_idempotent_replays_total"},
		{&m.rateResolutions, "fxquote_rate_resolutions_total"},
		{&m.ratesIngested, "fxquote_rates_ingested_total"},
		{&m.rateLimitDenied, "fxquote_rate_limit_denied_total"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (m *Metrics) RecordQuoteCreated(ctx context.Context, from, to string, derived bool) {
	if m == nil {
		return
	}
	m.quotesCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("pair", strings.ToUpper(from)+"_"+strings.ToUpper(to)),
		attribute.Bool("derived", derived),
	)...))
}

// RecordTransaction counts settlement attempts by outcome (settled, rejected
// reason, commit_failed).
func (m *Metrics) RecordTransaction(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.transactions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordIdempotentReplay(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.idempotentReplays.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("scope", strings.TrimSpace(scope)),
	)...))
}

func (m *Metrics) RecordRateResolution(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.rateResolutions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
	)...))
}

func (m *Metrics) RecordRatesIngested(ctx context.Context, base string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ratesIngested.Add(ctx, int64(count), metric.WithAttributes(FilterAttributes(
		attribute.String("base", strings.ToUpper(base)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"pair":        {},
	"derived":     {},
	"outcome":     {},
	"scope":       {},
	"source":      {},
	"base":        {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
