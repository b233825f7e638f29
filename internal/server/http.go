package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aipool/internal/biz"
	"aipool/internal/domain"
	"aipool/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_engine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_engine_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// HTTPServer HTTP服务器
type HTTPServer struct {
	engine  *gin.Engine
	service *service.PoolEngineService
	log     *log.Helper
}

// NewHTTPServer 创建HTTP服务器
func NewHTTPServer(svc *service.PoolEngineService, logger log.Logger) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger))
	engine.Use(metricsMiddleware())

	s := &HTTPServer{
		engine:  engine,
		service: svc,
		log:     log.NewHelper(logger),
	}
	s.registerRoutes()
	return s
}

// Engine 暴露底层引擎供http.Server挂载
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes 注册路由
func (s *HTTPServer) registerRoutes() {
	s.engine.GET("/health", s.healthCheck)
	s.engine.GET("/ready", s.readinessCheck)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/allocate", s.allocate)

		v1.GET("/accounts/:id/health", s.getAccountHealth)
		v1.POST("/accounts/:id/health/check", s.checkAccountHealth)
		v1.GET("/health/summary", s.getHealthSummary)

		v1.POST("/usage", s.recordUsage)
		v1.GET("/cost/summary", s.getCostSummary)
		v1.GET("/cost/daily", s.getDailySpend)
		v1.GET("/budget/usage", s.getBudgetUsage)

		v1.POST("/allocation/run", s.runAllocation)
		v1.GET("/allocation/history", s.getAllocationHistory)

		v1.POST("/alerts/check", s.checkAlerts)
		v1.GET("/alerts/summary", s.getAlertSummary)
	}
}

// loggingMiddleware 请求日志
func loggingMiddleware(logger log.Logger) gin.HandlerFunc {
	helper := log.NewHelper(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		helper.Infof("%s %s %d %s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}

// metricsMiddleware 请求指标
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (s *HTTPServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pool-engine"})
}

func (s *HTTPServer) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// allocate 账号分配
//
// 池耗尽返回200与allocated=false，由调用方决定排队或失败。
func (s *HTTPServer) allocate(c *gin.Context) {
	var req biz.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.GroupID == "" || req.ServiceType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_id and service_type are required"})
		return
	}

	handle, err := s.service.Allocate(c.Request.Context(), &req)
	if err != nil {
		s.log.Errorf("allocation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if handle == nil {
		c.JSON(http.StatusOK, gin.H{"allocated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocated": true, "handle": handle})
}

func (s *HTTPServer) getAccountHealth(c *gin.Context) {
	accountID := c.Param("id")
	score := s.service.GetHealthScore(c.Request.Context(), accountID)
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "health_score": score})
}

func (s *HTTPServer) checkAccountHealth(c *gin.Context) {
	result, err := s.service.CheckAccountHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == domain.ErrAccountNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) getHealthSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.GetHealthSummary(c.Request.Context()))
}

// recordUsageRequest 用量上报请求
type recordUsageRequest struct {
	GroupID        string  `json:"group_id"`
	DepartmentID   string  `json:"department_id"`
	EnterpriseID   string  `json:"enterprise_id" binding:"required"`
	PoolID         string  `json:"pool_id"`
	AccountID      string  `json:"account_id"`
	ModelID        string  `json:"model_id" binding:"required"`
	UserID         string  `json:"user_id"`
	RequestTokens  int64   `json:"request_tokens"`
	ResponseTokens int64   `json:"response_tokens"`
	LatencyMs      float64 `json:"latency_ms"`
	Status         string  `json:"status"`
}

func (s *HTTPServer) recordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := &domain.UsageRecord{
		GroupID:        req.GroupID,
		DepartmentID:   req.DepartmentID,
		EnterpriseID:   req.EnterpriseID,
		PoolID:         req.PoolID,
		AccountID:      req.AccountID,
		ModelID:        req.ModelID,
		UserID:         req.UserID,
		RequestTokens:  req.RequestTokens,
		ResponseTokens: req.ResponseTokens,
		LatencyMs:      req.LatencyMs,
		Status:         req.Status,
	}
	if err := s.service.RecordUsage(c.Request.Context(), record); err != nil {
		s.log.Errorf("failed to record usage: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":           record.ID,
		"cost":         record.Cost,
		"currency":     record.Currency,
		"total_tokens": record.TotalTokens(),
	})
}

func (s *HTTPServer) getCostSummary(c *gin.Context) {
	scopeType := domain.ScopeType(c.Query("scope_type"))
	scopeID := c.Query("scope_id")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id is required"})
		return
	}

	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := s.service.GetCostSummary(c.Request.Context(), scopeType, scopeID, timeRange)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *HTTPServer) getDailySpend(c *gin.Context) {
	scopeType := domain.ScopeType(c.Query("scope_type"))
	scopeID := c.Query("scope_id")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id is required"})
		return
	}

	spend := s.service.GetDailySpend(c.Request.Context(), scopeType, scopeID)
	c.JSON(http.StatusOK, gin.H{
		"scope_type": scopeType,
		"scope_id":   scopeID,
		"spend":      spend,
	})
}

func (s *HTTPServer) getBudgetUsage(c *gin.Context) {
	scopeType := domain.ScopeType(c.Query("scope_type"))
	scopeID := c.Query("scope_id")
	period := domain.BudgetPeriod(c.DefaultQuery("period", string(domain.PeriodMonthly)))
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id is required"})
		return
	}

	usage, err := s.service.GetBudgetUsage(c.Request.Context(), scopeType, scopeID, period)
	if err != nil {
		if err == domain.ErrInvalidPeriod {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

// runAllocationRequest 分摊触发请求
type runAllocationRequest struct {
	EnterpriseID string                 `json:"enterprise_id" binding:"required"`
	Period       string                 `json:"period" binding:"required"` // 2006-01
	Rule         *domain.AllocationRule `json:"rule,omitempty"`
}

func (s *HTTPServer) runAllocation(c *gin.Context) {
	var req runAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.service.AllocateCosts(c.Request.Context(), req.EnterpriseID, req.Period, req.Rule)
	if err != nil {
		switch err {
		case domain.ErrInvalidPeriod, domain.ErrInvalidAllocationRule:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case domain.ErrNoDepartments:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *HTTPServer) getAllocationHistory(c *gin.Context) {
	enterpriseID := c.Query("enterprise_id")
	if enterpriseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enterprise_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	reports, err := s.service.GetAllocationHistory(c.Request.Context(), enterpriseID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *HTTPServer) checkAlerts(c *gin.Context) {
	enterpriseID := c.Query("enterprise_id")
	if enterpriseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enterprise_id is required"})
		return
	}

	summary, err := s.service.CheckAlerts(c.Request.Context(), enterpriseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *HTTPServer) getAlertSummary(c *gin.Context) {
	enterpriseID := c.Query("enterprise_id")
	if enterpriseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enterprise_id is required"})
		return
	}

	summary, err := s.service.GetAlertSummary(c.Request.Context(), enterpriseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// parseTimeRange start/end 查询参数，RFC3339；缺省近30天
func parseTimeRange(c *gin.Context) (domain.TimeRange, error) {
	now := time.Now()
	tr := domain.TimeRange{Start: now.AddDate(0, 0, -30), End: now}

	if raw := c.Query("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return tr, err
		}
		tr.Start = start
	}
	if raw := c.Query("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return tr, err
		}
		tr.End = end
	}
	return tr, nil
}
