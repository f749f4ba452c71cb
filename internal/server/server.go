// Package server exposes the order registry's read-only query surface over
// HTTP for status reporting and dashboards. It never mutates orders.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tradekit/krakensync/internal/orders"
	"github.com/tradekit/krakensync/internal/ordersync"
)

// Server serves order status queries, aggregate statistics and prometheus
// metrics.
type Server struct {
	manager *orders.Manager
	fills   *orders.FillProcessor
	syncer  *ordersync.Synchronizer
	logger  *zap.Logger
	httpSrv *http.Server
}

// New builds the server and its routes.
func New(addr string, manager *orders.Manager, fills *orders.FillProcessor, syncer *ordersync.Synchronizer, logger *zap.Logger) *Server {
	s := &Server{
		manager: manager,
		fills:   fills,
		syncer:  syncer,
		logger:  logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/orders", s.handleListOrders)
		api.GET("/orders/:id", s.handleGetOrder)
		api.GET("/orders/:id/fills", s.handleOrderFills)
		api.GET("/orders/:id/stats", s.handleOrderStats)
		api.GET("/fills/:trade_id", s.handleGetFill)
		api.GET("/orphans", s.handleOrphanFills)
		api.GET("/stats", s.handleStatistics)
		api.GET("/summary", s.handleSummary)
	}

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("status server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"anomalies": s.syncer.Anomalies(),
	})
}

func (s *Server) handleListOrders(c *gin.Context) {
	if state := c.Query("state"); state != "" {
		c.JSON(http.StatusOK, s.manager.OrdersByState(orders.OrderState(state)))
		return
	}
	c.JSON(http.StatusOK, s.manager.GetAllOrders())
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.manager.GetOrder(c.Param("id"))
	if err != nil {
		order, err = s.manager.GetByExchangeID(c.Param("id"))
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleOrderFills(c *gin.Context) {
	if !s.manager.HasOrder(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, s.fills.GetOrderFills(c.Param("id")))
}

func (s *Server) handleOrderStats(c *gin.Context) {
	stats, err := s.fills.GetOrderFillStats(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetFill(c *gin.Context) {
	fill, err := s.fills.GetFill(c.Param("trade_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "fill not found"})
		return
	}
	c.JSON(http.StatusOK, fill)
}

func (s *Server) handleOrphanFills(c *gin.Context) {
	c.JSON(http.StatusOK, s.fills.OrphanFills())
}

func (s *Server) handleStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetStatistics())
}

func (s *Server) handleSummary(c *gin.Context) {
	summary := s.manager.GetSummary()
	c.JSON(http.StatusOK, gin.H{
		"orders":       summary,
		"anomalies":    s.syncer.Anomalies(),
		"synthesized":  s.syncer.Synthesized(),
		"orphan_fills": len(s.fills.OrphanFills()),
	})
}
