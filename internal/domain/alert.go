package domain

import "time"

// AlertRuleType 告警规则类型
type AlertRuleType string

const (
	RuleModelHealth AlertRuleType = "model_health"
	RulePerformance AlertRuleType = "performance"
	RuleBudgetLimit AlertRuleType = "budget_limit"
)

// AlertSeverity 告警级别
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus 告警状态
type AlertStatus string

const (
	AlertActive     AlertStatus = "active"
	AlertResolved   AlertStatus = "resolved"
	AlertSuppressed AlertStatus = "suppressed"
)

// AlertCondition 告警条件（单比较式）
type AlertCondition struct {
	Metric    string  `json:"metric"`
	Operator  string  `json:"operator"` // > < >= <= = !=
	Threshold float64 `json:"threshold"`
	Duration  int     `json:"duration,omitempty"` // 秒，可选
}

// AlertActions 告警动作
//
// 动作执行是发后即忘；disable 仅在 critical 级别真正生效。
type AlertActions struct {
	Notify  bool   `json:"notify"`
	Email   string `json:"email,omitempty"`
	Webhook string `json:"webhook,omitempty"`
	Disable bool   `json:"disable,omitempty"`
}

// AlertRule 告警规则
type AlertRule struct {
	ID           string
	EnterpriseID string
	Name         string
	Type         AlertRuleType
	Condition    AlertCondition
	Actions      AlertActions
	IsEnabled    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Alert 告警
//
// 派生短生命周期实体，缓存约24h；每轮检查重新推导，不做增量修补。
type Alert struct {
	ID            string        `json:"id"`
	RuleID        string        `json:"rule_id"`
	EnterpriseID  string        `json:"enterprise_id"`
	Type          AlertRuleType `json:"type"`
	TargetID      string        `json:"target_id"`
	Severity      AlertSeverity `json:"severity"`
	Status        AlertStatus   `json:"status"`
	Metric        string        `json:"metric"`
	ObservedValue float64       `json:"observed_value"`
	Threshold     float64       `json:"threshold"`
	Message       string        `json:"message"`
	TriggeredAt   time.Time     `json:"triggered_at"`
}

// AlertSummary 告警摘要
type AlertSummary struct {
	EnterpriseID  string           `json:"enterprise_id"`
	TotalAlerts   int              `json:"total_alerts"`
	CountBySev    map[string]int   `json:"count_by_severity"`
	Alerts        []*Alert         `json:"alerts"`
	LastCheckTime time.Time        `json:"last_check_time"`
}

// DefaultAlertRules 默认规则集
//
// 企业没有任何规则时按此种子初始化。
func DefaultAlertRules(enterpriseID string) []*AlertRule {
	now := time.Now()
	return []*AlertRule{
		{
			EnterpriseID: enterpriseID,
			Name:         "low health score",
			Type:         RuleModelHealth,
			Condition:    AlertCondition{Metric: "health_score", Operator: "<", Threshold: 50},
			Actions:      AlertActions{Notify: true},
			IsEnabled:    true,
			CreatedAt:    now,
		},
		{
			EnterpriseID: enterpriseID,
			Name:         "slow response",
			Type:         RulePerformance,
			Condition:    AlertCondition{Metric: "response_time", Operator: ">", Threshold: 10000},
			Actions:      AlertActions{Notify: true},
			IsEnabled:    true,
			CreatedAt:    now,
		},
		{
			EnterpriseID: enterpriseID,
			Name:         "budget warning",
			Type:         RuleBudgetLimit,
			Condition:    AlertCondition{Metric: "budget_percentage", Operator: ">=", Threshold: 90},
			Actions:      AlertActions{Notify: true},
			IsEnabled:    true,
			CreatedAt:    now,
		},
		{
			EnterpriseID: enterpriseID,
			Name:         "budget exceeded",
			Type:         RuleBudgetLimit,
			Condition:    AlertCondition{Metric: "budget_percentage", Operator: ">", Threshold: 100},
			Actions:      AlertActions{Notify: true, Disable: true},
			IsEnabled:    true,
			CreatedAt:    now,
		},
	}
}
