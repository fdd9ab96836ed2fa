package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/fxquote/internal/config"
)

// Config is the observability slice of the process configuration. Service
// identity comes from config.Config; LOG_* and OTEL_* variables refine it.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel            string
	LogFormat           string
	LogSampleInitial    int
	LogSampleThereafter int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	c := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             "info",
		LogFormat:            "json",
		LogSampleInitial:     100,
		LogSampleThereafter:  100,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: "grpc",
		OtelSamplingRatio:    0.1,
	}
	if c.ServiceName == "" {
		c.ServiceName = "fxquote"
	}

	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.LogFormat = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_SAMPLE_INITIAL"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LogSampleInitial = n
		}
	}
	if v, ok := lookup("LOG_SAMPLE_THEREAFTER"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LogSampleThereafter = n
		}
	}
	if v, ok := lookup("OTEL_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.OtelEnabled = b
		}
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		c.OtelExporterEndpoint = v
	}
	// the traces-specific protocol wins over the generic one
	for _, key := range []string{"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL"} {
		if v, ok := lookup(key); ok {
			c.OtelExporterProtocol = strings.ToLower(v)
			break
		}
	}
	if v, ok := lookup("OTEL_SAMPLING_RATIO"); ok {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio >= 0 && ratio <= 1 {
			c.OtelSamplingRatio = ratio
		}
	}
	return c
}

// Debug reports whether verbose output is wanted: debug level or a
// non-production environment.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}
