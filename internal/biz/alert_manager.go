package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"aipool/internal/conf"
	"aipool/internal/domain"
	"aipool/pkg/cache"
	"aipool/pkg/events"
	"aipool/pkg/monitoring"
	"aipool/pkg/resilience"
)

// BudgetSource 预算使用情况来源
type BudgetSource interface {
	GetBudgetUsage(ctx context.Context, scopeType domain.ScopeType, scopeID string, period domain.BudgetPeriod) (*domain.BudgetUsage, error)
}

// AlertManager 告警管理器
//
// 每轮检查全量重新推导告警并整体覆盖缓存，条件恢复后告警自然消失，
// 不维护增量状态机。
type AlertManager struct {
	ruleRepo    domain.AlertRuleRepository
	accountRepo domain.AccountRepository
	poolRepo    domain.PoolRepository
	metricRepo  domain.MetricRepository
	store       cache.Store
	publisher   events.Publisher
	health      HealthSource
	budget      BudgetSource
	cfg         conf.AlertConfig
	log         *log.Helper

	webhookBreaker *gobreaker.CircuitBreaker
	httpClient     *http.Client

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAlertManager 创建告警管理器
func NewAlertManager(
	ruleRepo domain.AlertRuleRepository,
	accountRepo domain.AccountRepository,
	poolRepo domain.PoolRepository,
	metricRepo domain.MetricRepository,
	store cache.Store,
	publisher events.Publisher,
	health HealthSource,
	budget BudgetSource,
	cfg *conf.Config,
	logger log.Logger,
) *AlertManager {
	return &AlertManager{
		ruleRepo:       ruleRepo,
		accountRepo:    accountRepo,
		poolRepo:       poolRepo,
		metricRepo:     metricRepo,
		store:          store,
		publisher:      publisher,
		health:         health,
		budget:         budget,
		cfg:            cfg.Alert,
		log:            log.NewHelper(logger),
		webhookBreaker: resilience.NewOutboundBreaker("alert-webhook"),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		stopChan:       make(chan struct{}),
	}
}

// Start 周期性对全部企业跑告警检查（阻塞，直到Stop）
func (m *AlertManager) Start(ctx context.Context) {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAll(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop 停止检查循环
func (m *AlertManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *AlertManager) checkAll(ctx context.Context) {
	enterpriseIDs, err := m.poolRepo.ListEnterpriseIDs(ctx)
	if err != nil {
		m.log.Errorf("failed to list enterprises for alert check: %v", err)
		return
	}
	for _, id := range enterpriseIDs {
		if _, err := m.CheckAlerts(ctx, id); err != nil {
			m.log.Warnf("alert check failed for %s: %v", id, err)
		}
	}
}

// CheckAlerts 评估企业的全部启用规则，刷新告警摘要缓存
func (m *AlertManager) CheckAlerts(ctx context.Context, enterpriseID string) (*domain.AlertSummary, error) {
	rules := m.enterpriseRules(ctx, enterpriseID)

	alerts := make([]*domain.Alert, 0)
	for _, rule := range rules {
		triggered, err := m.evaluateRule(ctx, rule)
		if err != nil {
			m.log.Warnf("failed to evaluate rule %s (%s): %v", rule.Name, rule.ID, err)
			continue
		}
		for _, alert := range triggered {
			monitoring.AlertsTriggered.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
			m.executeActions(ctx, rule, alert)
		}
		alerts = append(alerts, triggered...)
	}

	summary := &domain.AlertSummary{
		EnterpriseID:  enterpriseID,
		TotalAlerts:   len(alerts),
		CountBySev:    make(map[string]int),
		Alerts:        alerts,
		LastCheckTime: time.Now(),
	}
	for _, alert := range alerts {
		summary.CountBySev[string(alert.Severity)]++
	}

	ttl := m.cfg.AlertTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := m.store.SetObject(ctx, "alerts:"+enterpriseID, summary, ttl); err != nil {
		m.log.Warnf("failed to cache alert summary for %s: %v", enterpriseID, err)
	}
	return summary, nil
}

// GetAlertSummary 读取缓存的告警摘要
//
// 只读缓存、不触发评估，可重复调用；未命中返回空摘要。
func (m *AlertManager) GetAlertSummary(ctx context.Context, enterpriseID string) (*domain.AlertSummary, error) {
	var summary domain.AlertSummary
	if err := m.store.GetObject(ctx, "alerts:"+enterpriseID, &summary); err != nil {
		return &domain.AlertSummary{
			EnterpriseID: enterpriseID,
			CountBySev:   make(map[string]int),
			Alerts:       []*domain.Alert{},
		}, nil
	}
	return &summary, nil
}

// enterpriseRules 企业规则，没有任何规则时落默认种子
func (m *AlertManager) enterpriseRules(ctx context.Context, enterpriseID string) []*domain.AlertRule {
	rules, err := m.ruleRepo.ListByEnterprise(ctx, enterpriseID)
	if err != nil {
		m.log.Warnf("failed to list rules for %s, using defaults: %v", enterpriseID, err)
		return domain.DefaultAlertRules(enterpriseID)
	}
	if len(rules) > 0 {
		return rules
	}

	defaults := domain.DefaultAlertRules(enterpriseID)
	if err := m.ruleRepo.CreateBatch(ctx, defaults); err != nil {
		// 种子落库失败本轮仍按内存默认规则评估
		m.log.Warnf("failed to seed default rules for %s: %v", enterpriseID, err)
	}
	return defaults
}

// evaluateRule 单条规则评估，逐目标产出告警
func (m *AlertManager) evaluateRule(ctx context.Context, rule *domain.AlertRule) ([]*domain.Alert, error) {
	switch rule.Type {
	case domain.RuleModelHealth, domain.RulePerformance:
		return m.evaluateAccountRule(ctx, rule)
	case domain.RuleBudgetLimit:
		return m.evaluateBudgetRule(ctx, rule)
	default:
		return nil, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

// evaluateAccountRule 对企业全部受监控账号评估健康/性能条件
func (m *AlertManager) evaluateAccountRule(ctx context.Context, rule *domain.AlertRule) ([]*domain.Alert, error) {
	accounts, err := m.accountRepo.ListByEnterprise(ctx, rule.EnterpriseID)
	if err != nil {
		return nil, err
	}

	alerts := make([]*domain.Alert, 0)
	for _, account := range accounts {
		observed, ok := m.observeAccountMetric(ctx, account.ID, rule.Condition.Metric)
		if !ok {
			continue
		}
		if !compareOp(observed, rule.Condition.Operator, rule.Condition.Threshold) {
			continue
		}
		alerts = append(alerts, m.buildAlert(rule, account.ID, observed))
	}
	return alerts, nil
}

// observeAccountMetric 账号维度的指标取值
//
// 进程刚启动时内存窗口为空，回落到最近一次落库的聚合窗口。
func (m *AlertManager) observeAccountMetric(ctx context.Context, accountID, metric string) (float64, bool) {
	switch metric {
	case "health_score":
		return m.health.GetHealthScore(ctx, accountID), true
	case "response_time":
		if window := m.health.PerformanceWindow(ctx, accountID); window != nil && window.SampleCount > 0 {
			return window.AvgResponseTime, true
		}
		return m.latestMetric(ctx, accountID, domain.MetricResponseTime)
	case "error_rate":
		if window := m.health.PerformanceWindow(ctx, accountID); window != nil && window.SampleCount > 0 {
			return 100 - window.SuccessRate, true
		}
		return m.latestMetric(ctx, accountID, domain.MetricErrorRate)
	default:
		return 0, false
	}
}

// latestMetric 最近落库的窗口值
func (m *AlertManager) latestMetric(ctx context.Context, targetID string, metricType domain.MetricType) (float64, bool) {
	metric, err := m.metricRepo.Latest(ctx, targetID, metricType)
	if err != nil {
		m.log.Warnf("failed to load latest %s for %s: %v", metricType, targetID, err)
		return 0, false
	}
	if metric == nil {
		return 0, false
	}
	return metric.Value, true
}

// evaluateBudgetRule 企业月度预算条件
func (m *AlertManager) evaluateBudgetRule(ctx context.Context, rule *domain.AlertRule) ([]*domain.Alert, error) {
	usage, err := m.budget.GetBudgetUsage(ctx, domain.ScopeEnterprise, rule.EnterpriseID, domain.PeriodMonthly)
	if err != nil {
		return nil, err
	}
	if usage.BudgetLimit <= 0 {
		return nil, nil
	}
	if !compareOp(usage.Percentage, rule.Condition.Operator, rule.Condition.Threshold) {
		return nil, nil
	}
	return []*domain.Alert{m.buildAlert(rule, rule.EnterpriseID, usage.Percentage)}, nil
}

func (m *AlertManager) buildAlert(rule *domain.AlertRule, targetID string, observed float64) *domain.Alert {
	severity := severityFor(observed, rule.Condition.Threshold)
	return &domain.Alert{
		ID:            uuid.NewString(),
		RuleID:        rule.ID,
		EnterpriseID:  rule.EnterpriseID,
		Type:          rule.Type,
		TargetID:      targetID,
		Severity:      severity,
		Status:        domain.AlertActive,
		Metric:        rule.Condition.Metric,
		ObservedValue: observed,
		Threshold:     rule.Condition.Threshold,
		Message: fmt.Sprintf("%s: %s %s %.2f (observed %.2f) on %s",
			rule.Name, rule.Condition.Metric, rule.Condition.Operator, rule.Condition.Threshold, observed, targetID),
		TriggeredAt: time.Now(),
	}
}

// compareOp 条件比较
func compareOp(observed float64, operator string, threshold float64) bool {
	switch operator {
	case ">":
		return observed > threshold
	case "<":
		return observed < threshold
	case ">=":
		return observed >= threshold
	case "<=":
		return observed <= threshold
	case "=", "==":
		return observed == threshold
	case "!=":
		return observed != threshold
	default:
		return false
	}
}

// severityFor 级别由相对偏差决定
//
// 偏差=|观测-阈值|/|阈值|：≥50% critical，≥30% high，≥10% medium，其余 low。
// 阈值为0时无法归一化，按 medium 处理。
func severityFor(observed, threshold float64) domain.AlertSeverity {
	if threshold == 0 {
		return domain.SeverityMedium
	}
	deviation := math.Abs(observed-threshold) / math.Abs(threshold)
	switch {
	case deviation >= 0.5:
		return domain.SeverityCritical
	case deviation >= 0.3:
		return domain.SeverityHigh
	case deviation >= 0.1:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// executeActions 执行规则动作，全部发后即忘
func (m *AlertManager) executeActions(ctx context.Context, rule *domain.AlertRule, alert *domain.Alert) {
	actions := rule.Actions

	if actions.Notify {
		m.log.Warnf("alert triggered: %s", alert.Message)
		event, err := events.NewEvent("alert.triggered", "pool-engine", alert.EnterpriseID, alert)
		if err != nil {
			m.log.Warnf("failed to build alert event: %v", err)
		} else if err := m.publisher.Publish(ctx, event); err != nil {
			m.log.Warnf("failed to publish alert event: %v", err)
		}
	}

	if actions.Email != "" {
		// 邮件通道尚未接入，先留痕
		m.log.Infof("alert email queued to %s: %s", actions.Email, alert.Message)
	}

	if actions.Webhook != "" {
		go m.fireWebhook(actions.Webhook, alert)
	}

	// 自动禁用只在 critical 生效，避免普通告警误伤可用账号
	if actions.Disable && alert.Severity == domain.SeverityCritical {
		m.disableTargets(ctx, rule, alert)
	}
}

// disableTargets 账号类告警禁用单账号，预算类告警禁用企业全部账号
func (m *AlertManager) disableTargets(ctx context.Context, rule *domain.AlertRule, alert *domain.Alert) {
	targets := []string{alert.TargetID}
	if alert.Type == domain.RuleBudgetLimit {
		accounts, err := m.accountRepo.ListByEnterprise(ctx, alert.EnterpriseID)
		if err != nil {
			m.log.Errorf("failed to list accounts to disable for %s: %v", alert.EnterpriseID, err)
			return
		}
		targets = targets[:0]
		for _, account := range accounts {
			targets = append(targets, account.ID)
		}
	}

	for _, id := range targets {
		if err := m.accountRepo.SetEnabled(ctx, id, false); err != nil {
			m.log.Errorf("failed to disable account %s: %v", id, err)
			continue
		}
		m.log.Warnf("account %s disabled by alert rule %s", id, rule.Name)
	}
}

// fireWebhook 熔断保护下的告警外呼
func (m *AlertManager) fireWebhook(url string, alert *domain.Alert) {
	_, err := m.webhookBreaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(alert)
		if err != nil {
			return nil, err
		}
		resp, err := m.httpClient.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		if resilience.IsBreakerOpen(err) {
			m.log.Warnf("alert webhook skipped, breaker open: %s", url)
			return
		}
		m.log.Warnf("alert webhook failed: %v", err)
	}
}
