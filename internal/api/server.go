// Package api exposes the order book engine over HTTP. The surface mirrors
// the service operations one to one; the caller's account comes from the
// X-Account-ID header on mutating routes.
package api

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/halcyonex/dexbook/internal/config"
	"github.com/halcyonex/dexbook/internal/service"
)

// Server is the HTTP front for the engine.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	svc    *service.Service
	http   *http.Server
	cfg    config.HTTPConfig
}

// NewServer builds the router and wires every route.
func NewServer(cfg config.HTTPConfig, logger *zap.Logger, svc *service.Service, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s := &Server{
		router: router,
		logger: logger,
		svc:    svc,
		cfg:    cfg,
	}
	s.registerRoutes(gatherer)
	return s
}

// Router returns the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		books := v1.Group("/books")
		{
			books.GET("", s.listOrderBooks)
			books.POST("", s.createOrderBook)

			book := books.Group("/:dex/:base/:quote")
			{
				book.GET("", s.getOrderBook)
				book.DELETE("", s.deleteOrderBook)
				book.PUT("/sizing", s.updateOrderBook)
				book.PUT("/status", s.changeStatus)
				book.GET("/depth", s.getDepth)
				book.GET("/best", s.getBestPrices)
				book.GET("/quote", s.quoteExchange)

				orders := book.Group("/orders")
				{
					orders.POST("", s.placeLimitOrder)
					orders.GET("", s.listUserOrders)
					orders.GET("/:order_id", s.getLimitOrder)
					orders.DELETE("/:order_id", s.cancelLimitOrder)
				}
				book.POST("/market", s.exchangeMarketOrder)
			}
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
