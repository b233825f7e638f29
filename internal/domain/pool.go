package domain

import "time"

// LoadBalanceStrategy 负载均衡策略
type LoadBalanceStrategy string

const (
	StrategyRoundRobin       LoadBalanceStrategy = "round_robin"       // 轮询
	StrategyLeastConnections LoadBalanceStrategy = "least_connections" // 最小负载
	StrategyWeighted         LoadBalanceStrategy = "weighted"          // 加权随机
	StrategyHealthBased      LoadBalanceStrategy = "health_based"      // 健康度优先
)

// Valid 校验策略是否合法
func (s LoadBalanceStrategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyWeighted, StrategyHealthBased:
		return true
	}
	return false
}

// AccountPool 账号池
//
// 企业所有的一组后端凭据账号，服务一个或多个服务类型。
// 池被绑定引用时只做软下线（IsActive=false），不做物理删除。
type AccountPool struct {
	ID                  string
	EnterpriseID        string
	Name                string
	Description         string
	ServiceTypes        []string
	LoadBalanceStrategy LoadBalanceStrategy
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SupportsServiceType 判断池是否覆盖指定服务类型
func (p *AccountPool) SupportsServiceType(serviceType string) bool {
	if len(p.ServiceTypes) == 0 {
		return true
	}
	for _, st := range p.ServiceTypes {
		if st == serviceType {
			return true
		}
	}
	return false
}

// AccountBinding 池-账号绑定
type AccountBinding struct {
	ID                string
	PoolID            string
	AccountID         string
	Weight            int     // 加权随机用权重，默认1
	MaxLoadPercentage float64 // 负载上限（0-100），0表示不限
	CreatedAt         time.Time
}

// GroupPoolBinding 组-池绑定
//
// 同一 (group, pool) 对至多存在一条生效绑定。
// 用量限额为0表示不限。
type GroupPoolBinding struct {
	ID                string
	GroupID           string
	PoolID            string
	Priority          int // 越小越优先
	BindingType       string
	UsageLimitHourly  int64
	UsageLimitDaily   int64
	UsageLimitMonthly int64
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
