package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/auth"
	"github.com/crosslist/backend/internal/infrastructure/config"
	"github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/interfaces/http/handler"
	"github.com/crosslist/backend/internal/interfaces/http/middleware"
)

// DefaultMetricsPath is where the Prometheus scrape handler is mounted
const DefaultMetricsPath = "/metrics"

// Handlers bundles the API handlers. A nil handler leaves its routes out.
type Handlers struct {
	Webhook    *handler.WebhookHandler
	Sale       *handler.SaleHandler
	SyncJob    *handler.SyncJobHandler
	DeadLetter *handler.DeadLetterHandler
	Health     *handler.HealthHandler
	System     *handler.SystemHandler
}

// Options configures the engine
type Options struct {
	HTTP    config.HTTPConfig
	Tracing middleware.TracingConfig
	Swagger middleware.SwaggerConfig
	// Tokens validates operator tokens; without it the admin API is not mounted
	Tokens middleware.TokenValidator
	Meter  metric.Meter
	// Metrics is the scrape handler; nil leaves /metrics out
	Metrics     http.Handler
	MetricsPath string
	Clock       shared.Clock
	Logger      *zap.Logger
}

// New builds the gin engine with the middleware chain and all routes
func New(opts Options, h Handlers) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(opts.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(opts.HTTP.TrustedProxies); err != nil {
			log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
			_ = engine.SetTrustedProxies(nil)
		}
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.Tracing(opts.Tracing),
		middleware.SpanAttributes(),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(opts.Meter, log),
		middleware.Secure(),
		middleware.BodyLimit(opts.HTTP.MaxBodySize),
		middleware.Timeout(opts.HTTP.RequestTimeout),
	)

	if h.Health != nil {
		engine.GET("/health", h.Health.Live)
	}
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = DefaultMetricsPath
		}
		engine.GET(path, gin.WrapH(opts.Metrics))
	}

	var operator gin.HandlerFunc
	if opts.Tokens != nil {
		operator = middleware.OperatorAuth(opts.Tokens, log)
	}

	// 404 while disabled
	engine.GET("/swagger/*any",
		middleware.SwaggerProtection(opts.Swagger, operator),
		ginSwagger.WrapHandler(swaggerFiles.Handler),
	)

	r := NewRouter(engine, "v1")

	if h.Webhook != nil {
		var ingress []gin.HandlerFunc
		if opts.HTTP.RateLimitEnabled {
			limiter := middleware.NewIngressLimiter(opts.HTTP.RateLimitRPS, opts.HTTP.RateLimitBurst, opts.Clock)
			ingress = append(ingress, middleware.RateLimit(limiter, middleware.MarketplaceIPKey))
		}
		r.Root(NewGroup("/webhooks", ingress...).POST("/:marketplace", h.Webhook.Receive))
	}

	if h.System != nil {
		r.API(NewGroup("/system").
			GET("/info", h.System.GetSystemInfo).
			GET("/ping", h.System.Ping))
	}

	if operator == nil {
		log.Warn("No operator token validator configured, admin API disabled")
		r.Setup()
		return engine
	}

	if h.Sale != nil {
		r.API(NewGroup("/sales").Operator(operator, auth.ScopeSales).
			POST("", h.Sale.RecordSale))
	}

	if h.SyncJob != nil {
		r.API(NewGroup("/sync-jobs").Operator(operator, auth.ScopeRead).
			GET("/:id", h.SyncJob.Get).
			GET("/:id/audit", h.SyncJob.Audit))
	}

	if h.Health != nil {
		r.API(NewGroup("/marketplaces").Operator(operator, auth.ScopeRead).
			GET("/health", h.Health.Get))
	}

	if h.DeadLetter != nil {
		deadLetters := NewGroup("/dead-letters").Operator(operator, auth.ScopeRead).
			GET("", h.DeadLetter.List).
			GET("/stats", h.DeadLetter.Stats).
			GET("/:id", h.DeadLetter.Get)
		deadLetters.Scoped(auth.ScopeResolve).
			POST("/:id/resolve", h.DeadLetter.Resolve).
			POST("/bulk-resolve", h.DeadLetter.BulkResolve).
			POST("/cleanup", h.DeadLetter.Cleanup)
		r.API(deadLetters)
	}

	r.Setup()
	return engine
}
