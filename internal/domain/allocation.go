package domain

import "time"

// AllocationBasis 成本分摊依据
type AllocationBasis string

const (
	BasisEqual        AllocationBasis = "equal"
	BasisUserCount    AllocationBasis = "user_count"
	BasisUsageBased   AllocationBasis = "usage_based"
	BasisCustomWeight AllocationBasis = "custom_weight"
)

// AllocationRule 分摊规则
type AllocationRule struct {
	Type    AllocationBasis    `json:"type"`
	Weights map[string]float64 `json:"weights,omitempty"` // custom_weight用，缺省权重1
}

// CostAllocation 单部门分摊结果
type CostAllocation struct {
	DepartmentID  string          `json:"department_id"`
	AllocatedCost float64         `json:"allocated_cost"`
	Percentage    float64         `json:"percentage"`
	Basis         AllocationBasis `json:"basis"`
	BasisValue    float64         `json:"basis_value"` // 依据的原始值（人数/用量成本/权重）
}

// AllocationReport 分摊报告
//
// usage_based 下部门独立查询的成本之和可能偏离企业总额，
// 偏差通过 AllocationAccuracy 如实上报，不做归一化修正。
type AllocationReport struct {
	ID                 string            `json:"id"`
	EnterpriseID       string            `json:"enterprise_id"`
	Period             string            `json:"period"` // 如 2026-08
	Basis              AllocationBasis   `json:"basis"`
	TotalCost          float64           `json:"total_cost"`
	UnallocatedCost    float64           `json:"unallocated_cost"`
	AllocationAccuracy float64           `json:"allocation_accuracy"` // 0-100
	Allocations        []*CostAllocation `json:"allocations"`
	GeneratedAt        time.Time         `json:"generated_at"`
}

// Department 部门（组织结构，外部管理层维护，引擎只读）
type Department struct {
	ID           string
	EnterpriseID string
	Name         string
	UserCount    int
}
