package domain

import "time"

// AccountStatus 账号状态
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusExpired   AccountStatus = "expired"
)

// AiServiceAccount AI服务账号
//
// 单个后端凭据，归属于唯一企业；可通过 AccountBinding 被多个池引用。
type AiServiceAccount struct {
	ID           string
	EnterpriseID string
	Name         string
	ServiceType  string
	Endpoint     string
	APIKey       string
	Status       AccountStatus
	IsEnabled    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Usable 账号是否可参与分配
func (a *AiServiceAccount) Usable() bool {
	return a.IsEnabled && a.Status == AccountStatusActive
}

// AccountHandle 分配结果句柄
//
// 调用方拿到句柄后自行执行AI调用，并在完成后回报用量（RecordUsage）。
// 选择是建议性的，不预占容量。
type AccountHandle struct {
	AccountID   string              `json:"account_id"`
	PoolID      string              `json:"pool_id"`
	GroupID     string              `json:"group_id"`
	ServiceType string              `json:"service_type"`
	Endpoint    string              `json:"endpoint"`
	Strategy    LoadBalanceStrategy `json:"strategy"`
	HealthScore float64             `json:"health_score"`
	CurrentLoad float64             `json:"current_load"`
	AllocatedAt time.Time           `json:"allocated_at"`
}
