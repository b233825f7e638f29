package biz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aipool/internal/domain"
	"aipool/pkg/cache"
	"aipool/pkg/events"
)

func trackerFixture(budgets ...*domain.Budget) (*CostTracker, *fakeUsageRepo, cache.Store) {
	usageRepo := newFakeUsageRepo()
	store := cache.NewMemoryStore()
	tracker := NewCostTracker(usageRepo, newFakeBudgetRepo(budgets...), store, events.NopPublisher{}, testConfig(), testLogger())
	return tracker, usageRepo, store
}

func TestComputeCost(t *testing.T) {
	tracker, _, _ := trackerFixture()

	t.Run("known model uses its rate", func(t *testing.T) {
		// gpt-4: 1000 in × 0.03/k + 500 out × 0.06/k
		cost := tracker.ComputeCost("gpt-4", 1000, 500)
		assert.InDelta(t, 0.06, cost, 1e-9)
	})

	t.Run("unknown model falls back to default rate", func(t *testing.T) {
		cost := tracker.ComputeCost("brand-new-model", 1000, 1000)
		assert.InDelta(t, 0.008, cost, 1e-9)
	})

	t.Run("zero tokens cost nothing", func(t *testing.T) {
		assert.Equal(t, 0.0, tracker.ComputeCost("gpt-4", 0, 0))
	})
}

func TestRecordUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("fills defaults and persists", func(t *testing.T) {
		tracker, usageRepo, _ := trackerFixture()

		record := &domain.UsageRecord{
			GroupID:        "grp-1",
			DepartmentID:   "dept-1",
			EnterpriseID:   "ent-1",
			PoolID:         "pool-1",
			AccountID:      "acc-1",
			ModelID:        "gpt-4",
			RequestTokens:  1000,
			ResponseTokens: 500,
			Status:         "success",
		}
		require.NoError(t, tracker.RecordUsage(ctx, record))

		require.Len(t, usageRepo.records, 1)
		saved := usageRepo.records[0]
		assert.NotEmpty(t, saved.ID)
		assert.Equal(t, "USD", saved.Currency)
		assert.False(t, saved.RequestTime.IsZero())
		assert.InDelta(t, 0.06, saved.Cost, 1e-9)
	})

	t.Run("explicit cost is not recomputed", func(t *testing.T) {
		tracker, usageRepo, _ := trackerFixture()

		record := &domain.UsageRecord{
			EnterpriseID:  "ent-1",
			ModelID:       "gpt-4",
			RequestTokens: 1000,
			Cost:          1.23,
		}
		require.NoError(t, tracker.RecordUsage(ctx, record))
		assert.Equal(t, 1.23, usageRepo.records[0].Cost)
	})

	t.Run("bumps usage and load counters", func(t *testing.T) {
		tracker, _, store := trackerFixture()

		record := &domain.UsageRecord{
			GroupID:      "grp-1",
			EnterpriseID: "ent-1",
			PoolID:       "pool-1",
			AccountID:    "acc-1",
			ModelID:      "gpt-4",
		}
		require.NoError(t, tracker.RecordUsage(ctx, record))
		require.NoError(t, tracker.RecordUsage(ctx, record))

		now := time.Now()
		hourly, err := store.GetInt64(ctx, fmt.Sprintf("usage:pool-1:grp-1:h:%s", now.Format("2006010215")))
		require.NoError(t, err)
		assert.Equal(t, int64(2), hourly)

		daily, err := store.GetInt64(ctx, fmt.Sprintf("usage:pool-1:grp-1:d:%s", now.Format("20060102")))
		require.NoError(t, err)
		assert.Equal(t, int64(2), daily)

		load, err := store.GetInt64(ctx, "load:acc-1:"+now.Format("200601021504"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), load)
	})

	t.Run("bumps per-scope daily cost counters", func(t *testing.T) {
		tracker, _, store := trackerFixture()

		record := &domain.UsageRecord{
			GroupID:      "grp-1",
			DepartmentID: "dept-1",
			EnterpriseID: "ent-1",
			ModelID:      "gpt-4",
			Cost:         0.5,
		}
		require.NoError(t, tracker.RecordUsage(ctx, record))
		require.NoError(t, tracker.RecordUsage(ctx, &domain.UsageRecord{
			GroupID:      "grp-1",
			DepartmentID: "dept-1",
			EnterpriseID: "ent-1",
			ModelID:      "gpt-4",
			Cost:         0.25,
		}))

		day := time.Now().Format("20060102")
		for _, sc := range []struct {
			scope domain.ScopeType
			id    string
		}{
			{domain.ScopeGroup, "grp-1"},
			{domain.ScopeDepartment, "dept-1"},
			{domain.ScopeEnterprise, "ent-1"},
		} {
			spend, err := store.GetFloat(ctx, fmt.Sprintf("cost:%s:%s:%s", sc.scope, sc.id, day))
			require.NoError(t, err)
			assert.InDelta(t, 0.75, spend, 1e-9)
		}

		assert.InDelta(t, 0.75, tracker.GetDailySpend(ctx, domain.ScopeGroup, "grp-1"), 1e-9)
		// 当天无记录的范围读到0
		assert.Equal(t, 0.0, tracker.GetDailySpend(ctx, domain.ScopeGroup, "grp-other"))
	})

	t.Run("repository failure propagates", func(t *testing.T) {
		tracker, usageRepo, store := trackerFixture()
		usageRepo.failCreate = true

		err := tracker.RecordUsage(ctx, &domain.UsageRecord{EnterpriseID: "ent-1", ModelID: "m"})
		require.Error(t, err)

		// 落库失败时计数器不应被污染
		hourly, gerr := store.GetInt64(ctx, fmt.Sprintf("usage:pool-1:grp-1:h:%s", time.Now().Format("2006010215")))
		require.NoError(t, gerr)
		assert.Equal(t, int64(0), hourly)
	})
}

func TestGetBudgetUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("90 percent is not over budget", func(t *testing.T) {
		tracker, usageRepo, _ := trackerFixture(&domain.Budget{
			ScopeType: domain.ScopeDepartment, ScopeID: "dept-1",
			Period: domain.PeriodMonthly, Limit: 1000, IsActive: true,
		})
		usageRepo.costs[scopeKey(domain.ScopeDepartment, "dept-1")] = 900

		usage, err := tracker.GetBudgetUsage(ctx, domain.ScopeDepartment, "dept-1", domain.PeriodMonthly)
		require.NoError(t, err)
		assert.Equal(t, 1000.0, usage.BudgetLimit)
		assert.Equal(t, 900.0, usage.CurrentSpend)
		assert.InDelta(t, 90.0, usage.Percentage, 1e-9)
		assert.False(t, usage.IsOverBudget)
	})

	t.Run("spend above limit is over budget", func(t *testing.T) {
		tracker, usageRepo, _ := trackerFixture(&domain.Budget{
			ScopeType: domain.ScopeEnterprise, ScopeID: "ent-1",
			Period: domain.PeriodMonthly, Limit: 1000, IsActive: true,
		})
		usageRepo.costs[scopeKey(domain.ScopeEnterprise, "ent-1")] = 1100

		usage, err := tracker.GetBudgetUsage(ctx, domain.ScopeEnterprise, "ent-1", domain.PeriodMonthly)
		require.NoError(t, err)
		assert.True(t, usage.IsOverBudget)
		assert.InDelta(t, 110.0, usage.Percentage, 1e-9)
	})

	t.Run("missing budget means no constraint", func(t *testing.T) {
		tracker, usageRepo, _ := trackerFixture()
		usageRepo.costs[scopeKey(domain.ScopeGroup, "grp-1")] = 500

		usage, err := tracker.GetBudgetUsage(ctx, domain.ScopeGroup, "grp-1", domain.PeriodMonthly)
		require.NoError(t, err)
		assert.Equal(t, 0.0, usage.BudgetLimit)
		assert.Equal(t, 500.0, usage.CurrentSpend)
		assert.False(t, usage.IsOverBudget)
		assert.Equal(t, 0.0, usage.Percentage)
	})

	t.Run("projection grows with remaining days", func(t *testing.T) {
		tracker, usageRepo, _ := trackerFixture(&domain.Budget{
			ScopeType: domain.ScopeEnterprise, ScopeID: "ent-1",
			Period: domain.PeriodMonthly, Limit: 3000, IsActive: true,
		})
		usageRepo.costs[scopeKey(domain.ScopeEnterprise, "ent-1")] = 600

		usage, err := tracker.GetBudgetUsage(ctx, domain.ScopeEnterprise, "ent-1", domain.PeriodMonthly)
		require.NoError(t, err)
		// 线性投影：已花费 + 日均 × 剩余天数，不会低于当前花费
		assert.GreaterOrEqual(t, usage.ProjectedSpend, usage.CurrentSpend)
	})

	t.Run("invalid period is rejected", func(t *testing.T) {
		tracker, _, _ := trackerFixture()
		_, err := tracker.GetBudgetUsage(ctx, domain.ScopeEnterprise, "ent-1", domain.BudgetPeriod("quarterly"))
		assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
	})
}

func TestPeriodWindow(t *testing.T) {
	now := time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC) // 周三

	t.Run("daily", func(t *testing.T) {
		start, end, err := periodWindow(domain.PeriodDaily, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("weekly starts on monday", func(t *testing.T) {
		start, end, err := periodWindow(domain.PeriodWeekly, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("monthly", func(t *testing.T) {
		start, end, err := periodWindow(domain.PeriodMonthly, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), end)
	})
}

func TestBudgetTier(t *testing.T) {
	cases := []struct {
		percentage float64
		tier       int
		label      string
	}{
		{79.9, 0, ""},
		{80, 1, "warning"},
		{89.9, 1, "warning"},
		{90, 2, "critical"},
		{100, 3, "exceeded"},
		{150, 3, "exceeded"},
	}
	for _, tc := range cases {
		tier, label := budgetTier(tc.percentage)
		assert.Equalf(t, tc.tier, tier, "pct=%.1f", tc.percentage)
		assert.Equalf(t, tc.label, label, "pct=%.1f", tc.percentage)
	}
}

func TestBudgetThresholdEventCarriesTierLabel(t *testing.T) {
	ctx := context.Background()
	usageRepo := newFakeUsageRepo()
	budgetRepo := newFakeBudgetRepo(&domain.Budget{
		ScopeType: domain.ScopeDepartment, ScopeID: "dept-1",
		Period: domain.PeriodMonthly, Limit: 1000, IsActive: true,
	})
	publisher := &fakePublisher{}
	tracker := NewCostTracker(usageRepo, budgetRepo, cache.NewMemoryStore(), publisher, testConfig(), testLogger())

	usageRepo.costs[scopeKey(domain.ScopeDepartment, "dept-1")] = 950

	require.NoError(t, tracker.RecordUsage(ctx, &domain.UsageRecord{
		DepartmentID: "dept-1",
		ModelID:      "gpt-4",
		Cost:         1,
	}))

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, "budget.threshold", event.Type)
	assert.Contains(t, string(event.Payload), `"tier":"critical"`)
}

func TestGetCostSummary(t *testing.T) {
	tracker, usageRepo, _ := trackerFixture()
	usageRepo.costs[scopeKey(domain.ScopeEnterprise, "ent-1")] = 42.5

	summary, err := tracker.GetCostSummary(context.Background(), domain.ScopeEnterprise, "ent-1", domain.TimeRange{
		Start: time.Now().AddDate(0, -1, 0),
		End:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 42.5, summary.TotalCost)
	assert.Equal(t, "USD", summary.Currency)
}
