package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ExchangeConfig is the hot-reloadable quoting policy read from exchange.yml.
type ExchangeConfig struct {
	BaseCurrency string         `mapstructure:"base_currency"`
	Pivots       []string       `mapstructure:"pivots"`
	QuoteTTL     time.Duration  `mapstructure:"quote_ttl"`
	AmountScale  int32          `mapstructure:"amount_scale"`
	RateScale    int32          `mapstructure:"rate_scale"`
	MaxRateAge   time.Duration  `mapstructure:"max_rate_age"`
	Currencies   []CurrencySeed `mapstructure:"currencies"`
}

type CurrencySeed struct {
	Code          string `mapstructure:"code"`
	Name          string `mapstructure:"name"`
	DecimalPlaces int    `mapstructure:"decimal_places"`
	Enabled       *bool  `mapstructure:"enabled"`
}

func (s CurrencySeed) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func DefaultExchangeConfig() ExchangeConfig {
	return ExchangeConfig{
		BaseCurrency: "EUR",
		Pivots:       []string{"EUR"},
		QuoteTTL:     60 * time.Second,
		AmountScale:  4,
		RateScale:    8,
		Currencies: []CurrencySeed{
			{Code: "EUR", Name: "Euro", DecimalPlaces: 4},
			{Code: "USD", Name: "US Dollar", DecimalPlaces: 4},
			{Code: "GBP", Name: "Pound Sterling", DecimalPlaces: 4},
			{Code: "KES", Name: "Kenyan Shilling", DecimalPlaces: 4},
			{Code: "NGN", Name: "Naira", DecimalPlaces: 4},
			{Code: "JPY", Name: "Yen", DecimalPlaces: 4},
		},
	}
}

type ExchangeConfigHolder struct {
	current atomic.Value // holds ExchangeConfig
}

// NewStaticExchangeConfigHolder returns a holder that never reloads.
func NewStaticExchangeConfigHolder(cfg ExchangeConfig) *ExchangeConfigHolder {
	holder := &ExchangeConfigHolder{}
	holder.current.Store(normalizeExchangeConfig(cfg))
	return holder
}

func NewExchangeConfigHolder(log *zap.Logger) (*ExchangeConfigHolder, error) {
	log = log.Named("config.exchange")
	v := viper.New()

	v.SetConfigName("exchange")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fxquote")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FXQUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultExchangeConfig()
	v.SetDefault("exchange.base_currency", defaults.BaseCurrency)
	v.SetDefault("exchange.pivots", defaults.Pivots)
	v.SetDefault("exchange.quote_ttl", defaults.QuoteTTL)
	v.SetDefault("exchange.amount_scale", defaults.AmountScale)
	v.SetDefault("exchange.rate_scale", defaults.RateScale)
	v.SetDefault("exchange.max_rate_age", defaults.MaxRateAge)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeExchangeConfig(v)
	if err != nil {
		return nil, err
	}
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = defaults.Currencies
	}

	holder := &ExchangeConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeExchangeConfig(v)
			if err != nil {
				log.Warn("exchange config reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			if len(updated.Currencies) == 0 {
				updated.Currencies = holder.Get().Currencies
			}
			holder.current.Store(updated)
			log.Info("exchange config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *ExchangeConfigHolder) Get() ExchangeConfig {
	return h.current.Load().(ExchangeConfig)
}

func decodeExchangeConfig(v *viper.Viper) (ExchangeConfig, error) {
	var cfg ExchangeConfig
	if err := v.UnmarshalKey("exchange", &cfg); err != nil {
		return ExchangeConfig{}, err
	}
	cfg = normalizeExchangeConfig(cfg)
	if err := validateExchangeConfig(cfg); err != nil {
		return ExchangeConfig{}, err
	}
	return cfg, nil
}

func normalizeExchangeConfig(cfg ExchangeConfig) ExchangeConfig {
	defaults := DefaultExchangeConfig()
	cfg.BaseCurrency = strings.ToUpper(strings.TrimSpace(cfg.BaseCurrency))
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = defaults.BaseCurrency
	}
	if cfg.QuoteTTL == 0 {
		cfg.QuoteTTL = defaults.QuoteTTL
	}
	if cfg.AmountScale == 0 {
		cfg.AmountScale = defaults.AmountScale
	}
	if cfg.RateScale == 0 {
		cfg.RateScale = defaults.RateScale
	}
	if cfg.Pivots == nil {
		cfg.Pivots = defaults.Pivots
	}
	pivots := make([]string, 0, len(cfg.Pivots))
	seen := make(map[string]struct{}, len(cfg.Pivots))
	for _, p := range cfg.Pivots {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pivots = append(pivots, p)
	}
	cfg.Pivots = pivots
	for i := range cfg.Currencies {
		cfg.Currencies[i].Code = strings.ToUpper(strings.TrimSpace(cfg.Currencies[i].Code))
		if cfg.Currencies[i].DecimalPlaces <= 0 {
			cfg.Currencies[i].DecimalPlaces = 4
		}
	}
	return cfg
}

func validateExchangeConfig(cfg ExchangeConfig) error {
	if len(cfg.BaseCurrency) != 3 {
		return fmt.Errorf("exchange.base_currency %q is not an ISO 4217 code", cfg.BaseCurrency)
	}
	if cfg.QuoteTTL <= 0 {
		return errors.New("exchange.quote_ttl must be positive")
	}
	// stored columns are numeric(20,8) and responses render 4 and 8 places
	if cfg.AmountScale < 0 || cfg.AmountScale > 4 {
		return errors.New("exchange.amount_scale must be within [0, 4]")
	}
	if cfg.RateScale < cfg.AmountScale || cfg.RateScale > 8 {
		return errors.New("exchange.rate_scale must be within [amount_scale, 8]")
	}
	if cfg.MaxRateAge < 0 {
		return errors.New("exchange.max_rate_age cannot be negative")
	}
	for _, c := range cfg.Currencies {
		if len(c.Code) != 3 {
			return fmt.Errorf("exchange.currencies: invalid code %q", c.Code)
		}
	}
	return nil
}
