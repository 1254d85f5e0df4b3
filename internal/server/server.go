package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/openledger/payline/internal/apikey/domain"
	auditdomain "github.com/openledger/payline/internal/audit/domain"
	"github.com/openledger/payline/internal/authorization"
	"github.com/openledger/payline/internal/config"
	"github.com/openledger/payline/internal/observability/logger"
	"github.com/openledger/payline/internal/observability/metrics"
	paymentdomain "github.com/openledger/payline/internal/payment/domain"
	settingsdomain "github.com/openledger/payline/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HeaderOrg is rejected on API-key requests: org identity comes from the key.
const HeaderOrg = "X-Org-Id"

type Params struct {
	fx.In

	Cfg         config.Config
	Log         *zap.Logger
	DB          *gorm.DB
	PaymentSvc  paymentdomain.Service
	PaymentRepo paymentdomain.Repository
	SettingsSvc settingsdomain.Service
	AuditSvc    auditdomain.Service
	AuthzSvc    authorization.Service
	APIKeyRepo  apikeydomain.Repository
}

type Server struct {
	cfg         config.Config
	log         *zap.Logger
	db          *gorm.DB
	paymentSvc  paymentdomain.Service
	paymentRepo paymentdomain.Repository
	settingsSvc settingsdomain.Service
	auditSvc    auditdomain.Service
	authzSvc    authorization.Service
	apiKeyRepo  apikeydomain.Repository
	limiter     *rateLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		db:          p.DB,
		paymentSvc:  p.PaymentSvc,
		paymentRepo: p.PaymentRepo,
		settingsSvc: p.SettingsSvc,
		auditSvc:    p.AuditSvc,
		authzSvc:    p.AuthzSvc,
		apiKeyRepo:  p.APIKeyRepo,
		limiter:     newRateLimiter(100, time.Minute),
	}
}

// Router assembles the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	if s.cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz"},
	}))
	if httpMetrics, err := metrics.NewHTTPMetrics(s.cfg.App.Name); err == nil {
		r.Use(metrics.GinMiddleware(httpMetrics))
	} else {
		s.log.Warn("http metrics disabled", zap.Error(err))
	}
	r.Use(s.RateLimit())

	r.GET("/healthz", s.Healthz)

	v1 := r.Group("/v1", s.APIKeyRequired())
	{
		v1.POST("/allocations/preview", s.PreviewAllocation)
		v1.POST("/autopay/preview", s.PreviewAutopay)
		v1.POST("/autopay/preview-retry", s.PreviewAutopayRetry)
		v1.GET("/settings/autopay", s.GetAutopaySettings)
		v1.PUT("/settings/autopay", s.UpdateAutopaySettings)
		v1.POST("/payments", s.ApplyPayment)
		v1.GET("/payments/:id/applications", s.ListPaymentApplications)
		v1.GET("/audit-logs", s.ListAuditLogs)
	}
	return r
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(runServer),
)

func runServer(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.App.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
