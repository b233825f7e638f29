package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"

	"aipool/internal/biz"
	"aipool/internal/domain"
)

// PoolEngineService 池引擎对外门面
//
// 薄聚合层：编排在biz，这里只做参数接线。
type PoolEngineService struct {
	allocator     *biz.Allocator
	healthChecker *biz.HealthChecker
	costTracker   *biz.CostTracker
	costAllocator *biz.CostAllocator
	alertManager  *biz.AlertManager
	accountRepo   domain.AccountRepository
	log           *log.Helper
}

// NewPoolEngineService 创建服务
func NewPoolEngineService(
	allocator *biz.Allocator,
	healthChecker *biz.HealthChecker,
	costTracker *biz.CostTracker,
	costAllocator *biz.CostAllocator,
	alertManager *biz.AlertManager,
	accountRepo domain.AccountRepository,
	logger log.Logger,
) *PoolEngineService {
	return &PoolEngineService{
		allocator:     allocator,
		healthChecker: healthChecker,
		costTracker:   costTracker,
		costAllocator: costAllocator,
		alertManager:  alertManager,
		accountRepo:   accountRepo,
		log:           log.NewHelper(logger),
	}
}

// Allocate 分配账号；池全部耗尽时返回nil句柄
func (s *PoolEngineService) Allocate(ctx context.Context, req *biz.AllocateRequest) (*domain.AccountHandle, error) {
	return s.allocator.Allocate(ctx, req)
}

// CheckAccountHealth 对单账号执行一次即时健康检查
func (s *PoolEngineService) CheckAccountHealth(ctx context.Context, accountID string) (*domain.HealthResult, error) {
	account, err := s.accountRepo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.healthChecker.CheckHealth(ctx, account), nil
}

// GetHealthScore 账号当前健康评分
func (s *PoolEngineService) GetHealthScore(ctx context.Context, accountID string) float64 {
	return s.healthChecker.GetHealthScore(ctx, accountID)
}

// GetHealthSummary 健康检查摘要
func (s *PoolEngineService) GetHealthSummary(ctx context.Context) map[string]interface{} {
	return s.healthChecker.GetHealthSummary()
}

// RecordUsage 记录一次已完成请求的用量
func (s *PoolEngineService) RecordUsage(ctx context.Context, record *domain.UsageRecord) error {
	return s.costTracker.RecordUsage(ctx, record)
}

// GetBudgetUsage 预算使用情况
func (s *PoolEngineService) GetBudgetUsage(ctx context.Context, scopeType domain.ScopeType, scopeID string, period domain.BudgetPeriod) (*domain.BudgetUsage, error) {
	return s.costTracker.GetBudgetUsage(ctx, scopeType, scopeID, period)
}

// GetDailySpend 当日缓存成本计数（非权威，看板快读）
func (s *PoolEngineService) GetDailySpend(ctx context.Context, scopeType domain.ScopeType, scopeID string) float64 {
	return s.costTracker.GetDailySpend(ctx, scopeType, scopeID)
}

// GetCostSummary 成本汇总
func (s *PoolEngineService) GetCostSummary(ctx context.Context, scopeType domain.ScopeType, scopeID string, timeRange domain.TimeRange) (*domain.CostSummary, error) {
	return s.costTracker.GetCostSummary(ctx, scopeType, scopeID, timeRange)
}

// AllocateCosts 手动触发一期成本分摊
func (s *PoolEngineService) AllocateCosts(ctx context.Context, enterpriseID, period string, rule *domain.AllocationRule) (*domain.AllocationReport, error) {
	return s.costAllocator.AllocateCosts(ctx, enterpriseID, period, rule)
}

// GetAllocationHistory 历史分摊报告
func (s *PoolEngineService) GetAllocationHistory(ctx context.Context, enterpriseID string, limit int) ([]*domain.AllocationReport, error) {
	return s.costAllocator.GetAllocationHistory(ctx, enterpriseID, limit)
}

// CheckAlerts 立即执行一轮告警检查
func (s *PoolEngineService) CheckAlerts(ctx context.Context, enterpriseID string) (*domain.AlertSummary, error) {
	return s.alertManager.CheckAlerts(ctx, enterpriseID)
}

// GetAlertSummary 缓存的告警摘要
func (s *PoolEngineService) GetAlertSummary(ctx context.Context, enterpriseID string) (*domain.AlertSummary, error) {
	return s.alertManager.GetAlertSummary(ctx, enterpriseID)
}
