package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aipool/internal/domain"
	"aipool/pkg/cache"
	"aipool/pkg/events"
)

type alertFixture struct {
	manager     *AlertManager
	ruleRepo    *fakeRuleRepo
	accountRepo *fakeAccountRepo
	metricRepo  *fakeMetricRepo
	health      *fakeHealthSource
	budget      *fakeBudgetSource
	store       cache.Store
}

func newAlertFixture(accounts ...*domain.AiServiceAccount) *alertFixture {
	ruleRepo := &fakeRuleRepo{}
	accountRepo := newFakeAccountRepo(accounts...)
	poolRepo := newFakePoolRepo()
	poolRepo.enterprises = []string{"ent-1"}
	metricRepo := &fakeMetricRepo{latest: make(map[string]*domain.PerformanceMetric)}
	health := &fakeHealthSource{scores: make(map[string]float64), windows: make(map[string]*domain.PerformanceWindow)}
	budget := &fakeBudgetSource{usages: make(map[string]*domain.BudgetUsage)}
	store := cache.NewMemoryStore()

	manager := NewAlertManager(ruleRepo, accountRepo, poolRepo, metricRepo, store, events.NopPublisher{},
		health, budget, testConfig(), testLogger())

	return &alertFixture{
		manager:     manager,
		ruleRepo:    ruleRepo,
		accountRepo: accountRepo,
		metricRepo:  metricRepo,
		health:      health,
		budget:      budget,
		store:       store,
	}
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		name      string
		observed  float64
		threshold float64
		want      domain.AlertSeverity
	}{
		{"small deviation is low", 52, 50, domain.SeverityLow},
		{"ten percent is medium", 45, 50, domain.SeverityMedium},
		{"thirty percent is high", 35, 50, domain.SeverityHigh},
		{"fifty percent is critical", 25, 50, domain.SeverityCritical},
		{"deviation above threshold counts too", 80, 50, domain.SeverityCritical},
		{"zero threshold cannot normalize", 10, 0, domain.SeverityMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, severityFor(tc.observed, tc.threshold))
		})
	}
}

func TestCompareOp(t *testing.T) {
	assert.True(t, compareOp(10, ">", 5))
	assert.False(t, compareOp(5, ">", 5))
	assert.True(t, compareOp(5, ">=", 5))
	assert.True(t, compareOp(3, "<", 5))
	assert.True(t, compareOp(5, "<=", 5))
	assert.True(t, compareOp(5, "=", 5))
	assert.True(t, compareOp(5, "==", 5))
	assert.True(t, compareOp(4, "!=", 5))
	assert.False(t, compareOp(4, "~", 5))
}

func TestCheckAlertsHealthRule(t *testing.T) {
	account := &domain.AiServiceAccount{
		ID: "acc-1", EnterpriseID: "ent-1",
		Status: domain.AccountStatusActive, IsEnabled: true,
	}
	f := newAlertFixture(account)
	f.ruleRepo.rules = []*domain.AlertRule{{
		ID: "rule-1", EnterpriseID: "ent-1", Name: "low health",
		Type:      domain.RuleModelHealth,
		Condition: domain.AlertCondition{Metric: "health_score", Operator: "<", Threshold: 50},
		Actions:   domain.AlertActions{Notify: true},
		IsEnabled: true,
	}}
	f.health.scores["acc-1"] = 30

	summary, err := f.manager.CheckAlerts(context.Background(), "ent-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalAlerts)

	alert := summary.Alerts[0]
	assert.Equal(t, "acc-1", alert.TargetID)
	assert.Equal(t, 30.0, alert.ObservedValue)
	// 偏差 (50-30)/50 = 40% → high
	assert.Equal(t, domain.SeverityHigh, alert.Severity)
	assert.Equal(t, domain.AlertActive, alert.Status)
}

func TestCheckAlertsBudgetRule(t *testing.T) {
	t.Run("threshold crossed", func(t *testing.T) {
		f := newAlertFixture()
		f.ruleRepo.rules = []*domain.AlertRule{{
			ID: "rule-b", EnterpriseID: "ent-1", Name: "budget warning",
			Type:      domain.RuleBudgetLimit,
			Condition: domain.AlertCondition{Metric: "budget_percentage", Operator: ">=", Threshold: 90},
			Actions:   domain.AlertActions{Notify: true},
			IsEnabled: true,
		}}
		f.budget.usages[scopeKey(domain.ScopeEnterprise, "ent-1")] = &domain.BudgetUsage{
			ScopeType: domain.ScopeEnterprise, ScopeID: "ent-1",
			BudgetLimit: 1000, CurrentSpend: 950, Percentage: 95,
		}

		summary, err := f.manager.CheckAlerts(context.Background(), "ent-1")
		require.NoError(t, err)
		require.Equal(t, 1, summary.TotalAlerts)
		assert.Equal(t, domain.RuleBudgetLimit, summary.Alerts[0].Type)
	})

	t.Run("no budget configured means no alert", func(t *testing.T) {
		f := newAlertFixture()
		f.ruleRepo.rules = []*domain.AlertRule{{
			ID: "rule-b", EnterpriseID: "ent-1",
			Type:      domain.RuleBudgetLimit,
			Condition: domain.AlertCondition{Metric: "budget_percentage", Operator: ">=", Threshold: 90},
			IsEnabled: true,
		}}

		summary, err := f.manager.CheckAlerts(context.Background(), "ent-1")
		require.NoError(t, err)
		assert.Equal(t, 0, summary.TotalAlerts)
	})
}

func TestCheckAlertsSeedsDefaults(t *testing.T) {
	account := &domain.AiServiceAccount{
		ID: "acc-1", EnterpriseID: "ent-1",
		Status: domain.AccountStatusActive, IsEnabled: true,
	}
	f := newAlertFixture(account)

	_, err := f.manager.CheckAlerts(context.Background(), "ent-1")
	require.NoError(t, err)

	// 无任何规则时写入默认种子
	assert.Len(t, f.ruleRepo.created, 4)
}

func TestCheckAlertsDisableAction(t *testing.T) {
	account := &domain.AiServiceAccount{
		ID: "acc-1", EnterpriseID: "ent-1",
		Status: domain.AccountStatusActive, IsEnabled: true,
	}

	t.Run("critical alert disables the account", func(t *testing.T) {
		f := newAlertFixture(account)
		f.ruleRepo.rules = []*domain.AlertRule{{
			ID: "rule-d", EnterpriseID: "ent-1", Name: "dead account",
			Type:      domain.RuleModelHealth,
			Condition: domain.AlertCondition{Metric: "health_score", Operator: "<", Threshold: 50},
			Actions:   domain.AlertActions{Disable: true},
			IsEnabled: true,
		}}
		f.health.scores["acc-1"] = 10 // 偏差80% → critical

		_, err := f.manager.CheckAlerts(context.Background(), "ent-1")
		require.NoError(t, err)
		assert.Contains(t, f.accountRepo.disabled, "acc-1")
	})

	t.Run("non critical alert leaves the account alone", func(t *testing.T) {
		account.IsEnabled = true
		f := newAlertFixture(account)
		f.ruleRepo.rules = []*domain.AlertRule{{
			ID: "rule-d", EnterpriseID: "ent-1",
			Type:      domain.RuleModelHealth,
			Condition: domain.AlertCondition{Metric: "health_score", Operator: "<", Threshold: 50},
			Actions:   domain.AlertActions{Disable: true},
			IsEnabled: true,
		}}
		f.health.scores["acc-1"] = 45 // 偏差10% → medium

		_, err := f.manager.CheckAlerts(context.Background(), "ent-1")
		require.NoError(t, err)
		assert.Empty(t, f.accountRepo.disabled)
	})
}

func TestGetAlertSummary(t *testing.T) {
	t.Run("returns the cached summary and is repeatable", func(t *testing.T) {
		account := &domain.AiServiceAccount{
			ID: "acc-1", EnterpriseID: "ent-1",
			Status: domain.AccountStatusActive, IsEnabled: true,
		}
		f := newAlertFixture(account)
		f.ruleRepo.rules = []*domain.AlertRule{{
			ID: "rule-1", EnterpriseID: "ent-1",
			Type:      domain.RuleModelHealth,
			Condition: domain.AlertCondition{Metric: "health_score", Operator: "<", Threshold: 50},
			IsEnabled: true,
		}}
		f.health.scores["acc-1"] = 20

		ctx := context.Background()
		_, err := f.manager.CheckAlerts(ctx, "ent-1")
		require.NoError(t, err)

		first, err := f.manager.GetAlertSummary(ctx, "ent-1")
		require.NoError(t, err)
		second, err := f.manager.GetAlertSummary(ctx, "ent-1")
		require.NoError(t, err)

		assert.Equal(t, 1, first.TotalAlerts)
		assert.Equal(t, first.TotalAlerts, second.TotalAlerts)
		assert.Equal(t, 1, first.CountBySev[string(domain.SeverityCritical)])
	})

	t.Run("cache miss yields empty summary", func(t *testing.T) {
		f := newAlertFixture()

		summary, err := f.manager.GetAlertSummary(context.Background(), "ent-unknown")
		require.NoError(t, err)
		assert.Equal(t, 0, summary.TotalAlerts)
		assert.NotNil(t, summary.CountBySev)
		assert.Empty(t, summary.Alerts)
	})
}

func TestPerformanceRuleUsesWindow(t *testing.T) {
	account := &domain.AiServiceAccount{
		ID: "acc-1", EnterpriseID: "ent-1",
		Status: domain.AccountStatusActive, IsEnabled: true,
	}
	f := newAlertFixture(account)
	f.ruleRepo.rules = []*domain.AlertRule{{
		ID: "rule-p", EnterpriseID: "ent-1", Name: "slow responses",
		Type:      domain.RulePerformance,
		Condition: domain.AlertCondition{Metric: "response_time", Operator: ">", Threshold: 10000},
		IsEnabled: true,
	}}

	t.Run("no samples means no alert", func(t *testing.T) {
		summary, err := f.manager.CheckAlerts(context.Background(), "ent-1")
		require.NoError(t, err)
		assert.Equal(t, 0, summary.TotalAlerts)
	})

	t.Run("degraded window triggers", func(t *testing.T) {
		f.health.windows["acc-1"] = &domain.PerformanceWindow{
			TargetID: "acc-1", SuccessRate: 90, AvgResponseTime: 15000, SampleCount: 10,
		}

		summary, err := f.manager.CheckAlerts(context.Background(), "ent-1")
		require.NoError(t, err)
		require.Equal(t, 1, summary.TotalAlerts)
		assert.Equal(t, 15000.0, summary.Alerts[0].ObservedValue)
	})
}

func TestPerformanceRuleFallsBackToPersistedWindow(t *testing.T) {
	account := &domain.AiServiceAccount{
		ID: "acc-1", EnterpriseID: "ent-1",
		Status: domain.AccountStatusActive, IsEnabled: true,
	}
	f := newAlertFixture(account)
	f.ruleRepo.rules = []*domain.AlertRule{{
		ID: "rule-p", EnterpriseID: "ent-1", Name: "slow responses",
		Type:      domain.RulePerformance,
		Condition: domain.AlertCondition{Metric: "response_time", Operator: ">", Threshold: 10000},
		IsEnabled: true,
	}}

	// 内存窗口为空（如进程刚重启），只有落库的聚合窗口可用
	f.metricRepo.latest["acc-1:"+string(domain.MetricResponseTime)] = &domain.PerformanceMetric{
		TargetID:   "acc-1",
		MetricType: domain.MetricResponseTime,
		Value:      16000,
	}

	summary, err := f.manager.CheckAlerts(context.Background(), "ent-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalAlerts)
	assert.Equal(t, 16000.0, summary.Alerts[0].ObservedValue)
}
