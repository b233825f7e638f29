package domain

import (
	"context"
	"time"
)

// PoolRepository 账号池仓储
type PoolRepository interface {
	GetPool(ctx context.Context, poolID string) (*AccountPool, error)
	ListActiveBindings(ctx context.Context, groupID string) ([]*GroupPoolBinding, error)
	ListAccountBindings(ctx context.Context, poolID string) ([]*AccountBinding, error)
	ListEnterpriseIDs(ctx context.Context) ([]string, error)
}

// AccountRepository 账号仓储
type AccountRepository interface {
	GetAccount(ctx context.Context, accountID string) (*AiServiceAccount, error)
	ListMonitored(ctx context.Context) ([]*AiServiceAccount, error)
	ListByEnterprise(ctx context.Context, enterpriseID string) ([]*AiServiceAccount, error)
	SetEnabled(ctx context.Context, accountID string, enabled bool) error
}

// UsageRepository 用量仓储（追加写）
type UsageRepository interface {
	Create(ctx context.Context, record *UsageRecord) error
	Summarize(ctx context.Context, scopeType ScopeType, scopeID string, start, end time.Time) (*CostSummary, error)
	SumCost(ctx context.Context, scopeType ScopeType, scopeID string, start, end time.Time) (float64, error)
}

// MetricRepository 性能指标仓储（追加写）
type MetricRepository interface {
	Append(ctx context.Context, metrics []*PerformanceMetric) error
	Latest(ctx context.Context, targetID string, metricType MetricType) (*PerformanceMetric, error)
	Range(ctx context.Context, targetID string, metricType MetricType, start, end time.Time) ([]*PerformanceMetric, error)
}

// BudgetRepository 预算仓储（引擎只读）
type BudgetRepository interface {
	Get(ctx context.Context, scopeType ScopeType, scopeID string, period BudgetPeriod) (*Budget, error)
}

// AllocationRepository 分摊结果仓储
type AllocationRepository interface {
	SaveReport(ctx context.Context, report *AllocationReport) error
	ListReports(ctx context.Context, enterpriseID string, limit int) ([]*AllocationReport, error)
}

// AlertRuleRepository 告警规则仓储
type AlertRuleRepository interface {
	ListByEnterprise(ctx context.Context, enterpriseID string) ([]*AlertRule, error)
	CreateBatch(ctx context.Context, rules []*AlertRule) error
}

// DepartmentRepository 部门仓储（引擎只读）
type DepartmentRepository interface {
	ListByEnterprise(ctx context.Context, enterpriseID string) ([]*Department, error)
}
