// Package server exposes the engine's JSON API: persisted reconciliation
// state, graph exports, and manual top-ups. Dashboard rendering lives in the
// hosting platform; this is the boundary it consumes.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/majidisaloo/easydcim-traffic/internal/billing/domain"
	"github.com/majidisaloo/easydcim-traffic/internal/clock"
	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"github.com/majidisaloo/easydcim-traffic/internal/graph"
	"github.com/majidisaloo/easydcim-traffic/internal/logger"
	purchasedomain "github.com/majidisaloo/easydcim-traffic/internal/purchase/domain"
	servicedomain "github.com/majidisaloo/easydcim-traffic/internal/service/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	GenID     *snowflake.Node
	Clock     clock.Clock
	Services  *servicedomain.Repository
	Purchases *purchasedomain.Repository
	Graphs    *graph.Cache
	Billing   billingdomain.Gateway
}

type Server struct {
	cfg       config.Config
	log       *zap.Logger
	db        *gorm.DB
	genID     *snowflake.Node
	clock     clock.Clock
	services  *servicedomain.Repository
	purchases *purchasedomain.Repository
	graphs    *graph.Cache
	billing   billingdomain.Gateway
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:       p.Cfg,
		log:       p.Log.Named("server"),
		db:        p.DB,
		genID:     p.GenID,
		clock:     p.Clock,
		services:  p.Services,
		purchases: p.Purchases,
		graphs:    p.Graphs,
		billing:   p.Billing,
	}
}

func NewEngine(cfg config.Config) *gin.Engine {
	if !strings.EqualFold(cfg.Environment, "development") {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	return engine
}

// RegisterRoutes attaches the API surface to the engine.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.Use(s.requestLogger())

	engine.GET("/healthz", s.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	api.GET("/services", s.ListServiceStates)
	api.GET("/services/:id/state", s.GetServiceState)
	api.GET("/services/:id/purchases", s.ListServicePurchases)
	api.GET("/services/:id/graph", s.GetServiceGraph)
	api.POST("/services/:id/topup", s.CreateTopUp)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("authorization", logger.MaskAuthorization(c.GetHeader("Authorization"))),
		)
	}
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, engine *gin.Engine, s *Server) {
	s.RegisterRoutes(engine)
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: engine,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)
