package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"
	"chatpilot/cmd/billing-service/internal/service"
	pkgerrors "chatpilot/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr string
}

// HTTPServer 计费服务 HTTP 入口
type HTTPServer struct {
	router  *gin.Engine
	service *service.BillingService
	server  *http.Server
	logger  log.Logger
}

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(conf *HTTPConfig, svc *service.BillingService, logger log.Logger) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware())

	s := &HTTPServer{
		router:  router,
		service: svc,
		logger:  logger,
	}
	s.registerRoutes()

	addr := conf.Addr
	if addr == "" {
		addr = ":8086"
	}
	s.server = &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// registerRoutes 注册路由
func (s *HTTPServer) registerRoutes() {
	// Prometheus metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ready", s.readinessCheck)

	v1 := s.router.Group("/api/v1")
	{
		// 账本
		v1.GET("/balance/:owner", s.balance)
		v1.GET("/balance/:owner/sufficient", s.hasSufficient)
		v1.POST("/credits/allocate", s.allocate)
		v1.POST("/credits/deduct", s.deduct)
		v1.PUT("/credits/:owner", s.setAbsolute)
		v1.POST("/credits/adjust", s.adjust)

		// 预留
		v1.POST("/reservations", s.reserve)
		v1.POST("/reservations/:session/finalize", s.finalize)
		v1.POST("/reservations/:session/abort", s.abort)
		v1.GET("/reservations/active", s.listActive)
		v1.GET("/reservations/recent", s.listRecent)

		// 定价
		v1.GET("/pricing/models", s.modelRates)
	}
}

// healthCheck 健康检查
func (s *HTTPServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "billing-service",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// readinessCheck 就绪检查
func (s *HTTPServer) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *HTTPServer) balance(c *gin.Context) {
	reply, err := s.service.Balance(c.Request.Context(), c.Param("owner"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *HTTPServer) hasSufficient(c *gin.Context) {
	required, err := strconv.Atoi(c.DefaultQuery("required", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid required"})
		return
	}
	reply, err := s.service.HasSufficient(c.Request.Context(), c.Param("owner"), required)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *HTTPServer) allocate(c *gin.Context) {
	var req service.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lot, err := s.service.Allocate(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (s *HTTPServer) deduct(c *gin.Context) {
	var req service.DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := s.service.Deduct(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *HTTPServer) setAbsolute(c *gin.Context) {
	var req service.SetAbsoluteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lot, err := s.service.SetAbsolute(c.Request.Context(), c.Param("owner"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func (s *HTTPServer) adjust(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := s.service.Adjust(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *HTTPServer) reserve(c *gin.Context) {
	var req service.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := s.service.Reserve(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *HTTPServer) finalize(c *gin.Context) {
	var req service.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := s.service.Finalize(c.Request.Context(), c.Param("session"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *HTTPServer) abort(c *gin.Context) {
	var req service.AbortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := s.service.Abort(c.Request.Context(), c.Param("session"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *HTTPServer) listActive(c *gin.Context) {
	out, err := s.service.ListActive(c.Request.Context(), c.Query("owner"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out, "count": len(out)})
}

func (s *HTTPServer) listRecent(c *gin.Context) {
	window, err := strconv.Atoi(c.DefaultQuery("window_minutes", "60"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window_minutes"})
		return
	}
	out, err := s.service.ListRecent(c.Request.Context(), window, c.Query("owner"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out, "count": len(out)})
}

func (s *HTTPServer) modelRates(c *gin.Context) {
	rates := s.service.ModelRates(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"models": rates, "count": len(rates)})
}

// writeError 把领域错误映射到统一的 kratos 错误响应
func writeError(c *gin.Context, err error) {
	e := pkgerrors.ErrInternal
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		e = pkgerrors.ErrInvalidArgument
	case errors.Is(err, domain.ErrInsufficientCredits):
		e = pkgerrors.ErrInsufficientCredits
	case errors.Is(err, domain.ErrAllocationFailed):
		e = pkgerrors.ErrAllocationFailed
	case errors.Is(err, domain.ErrReservationNotFound):
		e = pkgerrors.ErrReservationNotFound
	case errors.Is(err, domain.ErrReservationExists):
		e = pkgerrors.ErrReservationExists
	case errors.Is(err, domain.ErrOwnerUnavailable):
		e = pkgerrors.ErrOwnerUnavailable
	case errors.Is(err, domain.ErrStorageUnavailable):
		e = pkgerrors.ErrStorageUnavailable
	}
	c.JSON(int(e.Code), pkgerrors.WithMessage(e, err.Error()))
}

// Start 启动服务器，实现 kratos transport.Server
func (s *HTTPServer) Start(ctx context.Context) error {
	helper := log.NewHelper(s.logger)
	helper.Infof("HTTP server listening on %s", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop 优雅关闭服务器
func (s *HTTPServer) Stop(ctx context.Context) error {
	helper := log.NewHelper(s.logger)
	helper.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// loggingMiddleware 日志中间件
func loggingMiddleware(logger log.Logger) gin.HandlerFunc {
	helper := log.NewHelper(logger)

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		helper.Infow(
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// metricsMiddleware Prometheus 指标中间件
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath() // 使用路由模板而不是实际路径
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := fmt.Sprintf("%d", c.Writer.Status())

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
