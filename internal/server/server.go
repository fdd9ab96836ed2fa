package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/fxquote/internal/config"
	currencydomain "github.com/smallbiznis/fxquote/internal/currency/domain"
	"github.com/smallbiznis/fxquote/internal/observability"
	obsmiddleware "github.com/smallbiznis/fxquote/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fxquote/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fxquote/internal/observability/tracing"
	quotedomain "github.com/smallbiznis/fxquote/internal/quote/domain"
	ratedomain "github.com/smallbiznis/fxquote/internal/rate/domain"
	"github.com/smallbiznis/fxquote/internal/ratelimit"
	resolverdomain "github.com/smallbiznis/fxquote/internal/resolver/domain"
	"github.com/smallbiznis/fxquote/internal/scheduler"
	transactiondomain "github.com/smallbiznis/fxquote/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(obsmetrics.GinMiddleware(httpMetrics))
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	currencySvc    currencydomain.Service
	rateSvc        ratedomain.Service
	resolverSvc    resolverdomain.Service
	quoteSvc       quotedomain.Service
	transactionSvc transactiondomain.Service
	refresher      jobTrigger
	quoteLimiter   ratelimit.Allower
	obsMetrics     *obsmetrics.Metrics
}

// jobTrigger starts a registered scheduler job out of band.
type jobTrigger interface {
	TriggerNow(name string) error
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	CurrencySvc    currencydomain.Service
	RateSvc        ratedomain.Service
	ResolverSvc    resolverdomain.Service
	QuoteSvc       quotedomain.Service
	TransactionSvc transactiondomain.Service
	Scheduler      *scheduler.Scheduler    `optional:"true"`
	QuoteLimiter   *ratelimit.QuoteLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		currencySvc:    p.CurrencySvc,
		rateSvc:        p.RateSvc,
		resolverSvc:    p.ResolverSvc,
		quoteSvc:       p.QuoteSvc,
		transactionSvc: p.TransactionSvc,
		obsMetrics:     p.ObsMetrics,
	}
	if p.Scheduler != nil {
		svc.refresher = p.Scheduler
	}
	if p.QuoteLimiter != nil {
		svc.quoteLimiter = p.QuoteLimiter
	}
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Currencies --------
	api.GET("/currencies", s.ListCurrencies)
	api.GET("/currencies/:code", s.GetCurrency)

	// -------- Rates --------
	api.GET("/rates", s.ListRates)
	api.GET("/rates/resolve", s.ResolveRate)

	// -------- Quotes --------
	api.POST("/quotes", s.quoteRateLimit(), s.CreateQuote)
	api.GET("/quotes/:id", s.GetQuote)

	// -------- Transactions --------
	api.GET("/transactions", s.ListTransactions)
	api.POST("/transactions", s.CreateTransaction)
	api.GET("/transactions/:id", s.GetTransaction)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin")
	admin.POST("/rates/refresh", s.RefreshRates)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) quoteRateLimit() gin.HandlerFunc {
	return ratelimit.Middleware(s.quoteLimiter, "create_quote", s.obsMetrics, s.log, func(c *gin.Context) {
		AbortWithError(c, ErrRateLimited)
	})
}

// writeCreated answers 201 for a new resource and 200 for an idempotent
// replay of an earlier one.
func writeCreated(c *gin.Context, replayed bool, body any) {
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
		c.Header(HeaderIdempotentReplayed, "true")
	}
	c.JSON(status, gin.H{"data": body})
}
