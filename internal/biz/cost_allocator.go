package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"aipool/internal/conf"
	"aipool/internal/domain"
)

// CostAllocator 成本分摊器
//
// 报告由定时任务和手动触发两路生成，持久化失败不影响当次返回。
type CostAllocator struct {
	usageRepo      domain.UsageRepository
	departmentRepo domain.DepartmentRepository
	allocationRepo domain.AllocationRepository
	poolRepo       domain.PoolRepository
	cfg            conf.AllocationConfig
	log            *log.Helper

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewCostAllocator 创建成本分摊器
func NewCostAllocator(
	usageRepo domain.UsageRepository,
	departmentRepo domain.DepartmentRepository,
	allocationRepo domain.AllocationRepository,
	poolRepo domain.PoolRepository,
	cfg *conf.Config,
	logger log.Logger,
) *CostAllocator {
	return &CostAllocator{
		usageRepo:      usageRepo,
		departmentRepo: departmentRepo,
		allocationRepo: allocationRepo,
		poolRepo:       poolRepo,
		cfg:            cfg.Allocation,
		log:            log.NewHelper(logger),
		stopChan:       make(chan struct{}),
	}
}

// AllocateCosts 生成一期分摊报告
//
// period 格式 2006-01。usage_based 下各部门成本独立查询、直接采用，
// 与企业总额的偏差如实记入 UnallocatedCost 与 AllocationAccuracy。
func (c *CostAllocator) AllocateCosts(ctx context.Context, enterpriseID, period string, rule *domain.AllocationRule) (*domain.AllocationReport, error) {
	start, err := time.Parse("2006-01", period)
	if err != nil {
		return nil, domain.ErrInvalidPeriod
	}
	end := start.AddDate(0, 1, 0)

	if rule == nil {
		rule = &domain.AllocationRule{Type: domain.AllocationBasis(c.cfg.DefaultBasis)}
	}
	switch rule.Type {
	case domain.BasisEqual, domain.BasisUserCount, domain.BasisUsageBased:
	case domain.BasisCustomWeight:
		if len(rule.Weights) == 0 {
			return nil, domain.ErrInvalidAllocationRule
		}
	default:
		return nil, domain.ErrInvalidAllocationRule
	}

	departments, err := c.departmentRepo.ListByEnterprise(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}
	if len(departments) == 0 {
		return nil, domain.ErrNoDepartments
	}

	totalCost, err := c.usageRepo.SumCost(ctx, domain.ScopeEnterprise, enterpriseID, start, end)
	if err != nil {
		return nil, err
	}

	allocations, err := c.allocate(ctx, rule, departments, totalCost, start, end)
	if err != nil {
		return nil, err
	}

	var allocated float64
	for _, a := range allocations {
		allocated += a.AllocatedCost
	}

	accuracy := 100.0
	if totalCost > 0 {
		accuracy = allocated / totalCost * 100
	}

	report := &domain.AllocationReport{
		ID:                 uuid.NewString(),
		EnterpriseID:       enterpriseID,
		Period:             period,
		Basis:              rule.Type,
		TotalCost:          totalCost,
		UnallocatedCost:    totalCost - allocated,
		AllocationAccuracy: accuracy,
		Allocations:        allocations,
		GeneratedAt:        time.Now(),
	}

	if err := c.allocationRepo.SaveReport(ctx, report); err != nil {
		// 报告本身已算出，落库失败下一轮重跑即可
		c.log.Warnf("failed to persist allocation report for %s %s: %v", enterpriseID, period, err)
	}
	return report, nil
}

// allocate 按依据拆分总成本
func (c *CostAllocator) allocate(ctx context.Context, rule *domain.AllocationRule, departments []*domain.Department, totalCost float64, start, end time.Time) ([]*domain.CostAllocation, error) {
	switch rule.Type {
	case domain.BasisUserCount:
		var totalUsers float64
		for _, d := range departments {
			totalUsers += float64(d.UserCount)
		}
		if totalUsers == 0 {
			// 人数全零退化为均摊
			return splitProportional(domain.BasisEqual, departments, totalCost, func(*domain.Department) float64 { return 1 }), nil
		}
		return splitProportional(rule.Type, departments, totalCost, func(d *domain.Department) float64 {
			return float64(d.UserCount)
		}), nil

	case domain.BasisCustomWeight:
		return splitProportional(rule.Type, departments, totalCost, func(d *domain.Department) float64 {
			if w, ok := rule.Weights[d.ID]; ok {
				return w
			}
			return 1
		}), nil

	case domain.BasisUsageBased:
		allocations := make([]*domain.CostAllocation, 0, len(departments))
		for _, d := range departments {
			cost, err := c.usageRepo.SumCost(ctx, domain.ScopeDepartment, d.ID, start, end)
			if err != nil {
				return nil, err
			}
			percentage := 0.0
			if totalCost > 0 {
				percentage = cost / totalCost * 100
			}
			allocations = append(allocations, &domain.CostAllocation{
				DepartmentID:  d.ID,
				AllocatedCost: cost,
				Percentage:    percentage,
				Basis:         rule.Type,
				BasisValue:    cost,
			})
		}
		return allocations, nil

	default: // equal
		return splitProportional(domain.BasisEqual, departments, totalCost, func(*domain.Department) float64 { return 1 }), nil
	}
}

// splitProportional 按基准值比例拆分
func splitProportional(basis domain.AllocationBasis, departments []*domain.Department, totalCost float64, basisValue func(*domain.Department) float64) []*domain.CostAllocation {
	var totalBasis float64
	for _, d := range departments {
		totalBasis += basisValue(d)
	}

	allocations := make([]*domain.CostAllocation, 0, len(departments))
	for _, d := range departments {
		value := basisValue(d)
		share := 0.0
		if totalBasis > 0 {
			share = value / totalBasis
		}
		allocations = append(allocations, &domain.CostAllocation{
			DepartmentID:  d.ID,
			AllocatedCost: totalCost * share,
			Percentage:    share * 100,
			Basis:         basis,
			BasisValue:    value,
		})
	}
	return allocations
}

// GetAllocationHistory 历史报告，新在前
func (c *CostAllocator) GetAllocationHistory(ctx context.Context, enterpriseID string, limit int) ([]*domain.AllocationReport, error) {
	return c.allocationRepo.ListReports(ctx, enterpriseID, limit)
}

// Start 周期性对全部企业跑上月/当月分摊（阻塞，直到Stop）
func (c *CostAllocator) Start(ctx context.Context) {
	interval := c.cfg.RunInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runAll(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop 停止定时任务
func (c *CostAllocator) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// runAll 对每个有活跃池的企业生成当月报告
func (c *CostAllocator) runAll(ctx context.Context) {
	enterpriseIDs, err := c.poolRepo.ListEnterpriseIDs(ctx)
	if err != nil {
		c.log.Errorf("failed to list enterprises for allocation run: %v", err)
		return
	}

	period := time.Now().Format("2006-01")
	for _, id := range enterpriseIDs {
		if _, err := c.AllocateCosts(ctx, id, period, nil); err != nil {
			c.log.Warnf("scheduled allocation failed for %s: %v", id, err)
		}
	}
}
