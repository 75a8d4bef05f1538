// Package server exposes the engine's HTTP surface: webhook ingestion,
// manual billing runs, health and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	"github.com/faturo/faturo/internal/clock"
	"github.com/faturo/faturo/internal/config"
	webhookdomain "github.com/faturo/faturo/internal/webhook/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewServer),
	fx.Invoke(run),
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Registry   *prometheus.Registry
	BillingSvc billingdomain.Service
	ChargeSvc  chargedomain.Service
	WebhookSvc webhookdomain.Service
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	clock      clock.Clock
	billingSvc billingdomain.Service
	chargeSvc  chargedomain.Service
	webhookSvc webhookdomain.Service
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:     NewEngine(p.Registry),
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
		chargeSvc:  p.ChargeSvc,
		webhookSvc: p.WebhookSvc,
	}
	s.registerRoutes()
	return s
}

func NewEngine(registry *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return r
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleWebhook)

	api := s.engine.Group("/api/v1")
	api.POST("/billing/runs", s.HandleBillingRun)
	api.POST("/billings/:id/charge", s.HandleCreateCharge)
	api.POST("/billings/:id/cancellation", s.HandleRequestCancellation)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func run(lc fx.Lifecycle, cfg config.Config, s *Server) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
