package domain

import "time"

// ScopeType 统计范围类型
type ScopeType string

const (
	ScopeGroup      ScopeType = "group"
	ScopeDepartment ScopeType = "department"
	ScopeEnterprise ScopeType = "enterprise"
)

// BudgetPeriod 预算周期
type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodMonthly BudgetPeriod = "monthly"
)

// UsageRecord 用量记录
//
// 每个已完成请求写入且仅写入一次，追加不改。
type UsageRecord struct {
	ID             string
	GroupID        string
	DepartmentID   string
	EnterpriseID   string
	PoolID         string
	AccountID      string
	ModelID        string
	UserID         string
	RequestTokens  int64
	ResponseTokens int64
	Cost           float64
	Currency       string
	LatencyMs      float64
	Status         string // success / failed
	RequestTime    time.Time
}

// TotalTokens 请求+响应token总量
func (r *UsageRecord) TotalTokens() int64 {
	return r.RequestTokens + r.ResponseTokens
}

// TimeRange 统计时间范围
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ModelCostBreakdown 按模型的成本分解
type ModelCostBreakdown struct {
	ModelID       string  `json:"model_id"`
	RequestCount  int64   `json:"request_count"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCost     float64 `json:"total_cost"`
	AvgCostPerReq float64 `json:"avg_cost_per_request"`
}

// CostSummary 成本汇总
type CostSummary struct {
	ScopeType      ScopeType             `json:"scope_type"`
	ScopeID        string                `json:"scope_id"`
	Range          TimeRange             `json:"range"`
	TotalCost      float64               `json:"total_cost"`
	TotalRequests  int64                 `json:"total_requests"`
	TotalTokens    int64                 `json:"total_tokens"`
	Currency       string                `json:"currency"`
	ModelBreakdown []*ModelCostBreakdown `json:"model_breakdown"`
}

// Budget 预算配置
//
// 由外部管理层维护，引擎只读。
type Budget struct {
	ID        string
	ScopeType ScopeType
	ScopeID   string
	Period    BudgetPeriod
	Limit     float64
	Currency  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BudgetUsage 预算使用情况
type BudgetUsage struct {
	ScopeType      ScopeType    `json:"scope_type"`
	ScopeID        string       `json:"scope_id"`
	Period         BudgetPeriod `json:"period"`
	BudgetLimit    float64      `json:"budget_limit"`
	CurrentSpend   float64      `json:"current_spend"`
	Percentage     float64      `json:"percentage"`
	ProjectedSpend float64      `json:"projected_spend"`
	RemainingDays  int          `json:"remaining_days"`
	IsOverBudget   bool         `json:"is_over_budget"`
	PeriodStart    time.Time    `json:"period_start"`
	PeriodEnd      time.Time    `json:"period_end"`
}
