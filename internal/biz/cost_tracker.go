package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"aipool/internal/conf"
	"aipool/internal/domain"
	"aipool/pkg/cache"
	"aipool/pkg/events"
	"aipool/pkg/monitoring"
)

// 计数器保留期：比各自统计窗口略长，过期自然回收
const (
	hourlyCounterTTL  = 2 * time.Hour
	dailyCounterTTL   = 48 * time.Hour
	monthlyCounterTTL = 32 * 24 * time.Hour
	loadCounterTTL    = 10 * time.Minute
)

// CostTracker 成本跟踪器
//
// 用量记录是唯一事实来源：落库失败整个调用失败，计数器与告警
// 是派生的尽力而为步骤，失败只记日志。
type CostTracker struct {
	usageRepo  domain.UsageRepository
	budgetRepo domain.BudgetRepository
	store      cache.Store
	publisher  events.Publisher
	cfg        conf.CostConfig
	log        *log.Helper
}

// NewCostTracker 创建成本跟踪器
func NewCostTracker(
	usageRepo domain.UsageRepository,
	budgetRepo domain.BudgetRepository,
	store cache.Store,
	publisher events.Publisher,
	cfg *conf.Config,
	logger log.Logger,
) *CostTracker {
	return &CostTracker{
		usageRepo:  usageRepo,
		budgetRepo: budgetRepo,
		store:      store,
		publisher:  publisher,
		cfg:        cfg.Cost,
		log:        log.NewHelper(logger),
	}
}

// ComputeCost 按费率表计算单次请求成本
//
// 未知模型落到默认费率而不是0，避免新模型上线前的用量漏计。
func (t *CostTracker) ComputeCost(modelID string, requestTokens, responseTokens int64) float64 {
	rate, ok := t.cfg.Rates[modelID]
	if !ok {
		rate = t.cfg.DefaultRate
	}
	return float64(requestTokens)/1000*rate.InputPerK + float64(responseTokens)/1000*rate.OutputPerK
}

// RecordUsage 记录一次已完成的请求用量
func (t *CostTracker) RecordUsage(ctx context.Context, record *domain.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RequestTime.IsZero() {
		record.RequestTime = time.Now()
	}
	if record.Currency == "" {
		record.Currency = t.cfg.Currency
	}
	if record.Cost == 0 {
		record.Cost = t.ComputeCost(record.ModelID, record.RequestTokens, record.ResponseTokens)
	}

	if err := t.usageRepo.Create(ctx, record); err != nil {
		return err
	}

	t.bumpCounters(ctx, record)
	monitoring.UsageCostTotal.WithLabelValues(record.ModelID, record.EnterpriseID).Add(record.Cost)

	t.checkBudgetTier(ctx, domain.ScopeDepartment, record.DepartmentID)
	t.checkBudgetTier(ctx, domain.ScopeEnterprise, record.EnterpriseID)
	return nil
}

// bumpCounters 回写用量限额与负载计数器
func (t *CostTracker) bumpCounters(ctx context.Context, record *domain.UsageRecord) {
	now := record.RequestTime

	if record.PoolID != "" && record.GroupID != "" {
		buckets := []struct {
			bucket string
			ttl    time.Duration
		}{
			{"h:" + now.Format("2006010215"), hourlyCounterTTL},
			{"d:" + now.Format("20060102"), dailyCounterTTL},
			{"m:" + now.Format("200601"), monthlyCounterTTL},
		}
		for _, b := range buckets {
			key := fmt.Sprintf("usage:%s:%s:%s", record.PoolID, record.GroupID, b.bucket)
			if _, err := t.store.Incr(ctx, key, b.ttl); err != nil {
				t.log.Warnf("failed to bump usage counter %s: %v", key, err)
			}
		}
	}

	if record.AccountID != "" {
		key := "load:" + record.AccountID + ":" + now.Format("200601021504")
		if _, err := t.store.Incr(ctx, key, loadCounterTTL); err != nil {
			t.log.Warnf("failed to bump load counter %s: %v", key, err)
		}
	}

	// 按日成本计数器，报表读路径走缓存而不用每次扫表
	day := now.Format("20060102")
	scopes := []struct {
		scope domain.ScopeType
		id    string
	}{
		{domain.ScopeGroup, record.GroupID},
		{domain.ScopeDepartment, record.DepartmentID},
		{domain.ScopeEnterprise, record.EnterpriseID},
	}
	for _, sc := range scopes {
		if sc.id == "" {
			continue
		}
		key := fmt.Sprintf("cost:%s:%s:%s", sc.scope, sc.id, day)
		if _, err := t.store.IncrByFloat(ctx, key, record.Cost, dailyCounterTTL); err != nil {
			t.log.Warnf("failed to bump cost counter %s: %v", key, err)
		}
	}
}

// GetBudgetUsage 预算使用情况，含线性投影
func (t *CostTracker) GetBudgetUsage(ctx context.Context, scopeType domain.ScopeType, scopeID string, period domain.BudgetPeriod) (*domain.BudgetUsage, error) {
	now := time.Now()
	start, end, err := periodWindow(period, now)
	if err != nil {
		return nil, err
	}

	var limit float64
	budget, err := t.budgetRepo.Get(ctx, scopeType, scopeID, period)
	switch {
	case err == nil:
		limit = budget.Limit
	case errors.Is(err, domain.ErrBudgetNotFound):
		// 无预算即无约束，limit=0 表示不设限
	default:
		return nil, err
	}

	spend, err := t.usageRepo.SumCost(ctx, scopeType, scopeID, start, end)
	if err != nil {
		return nil, err
	}

	usage := &domain.BudgetUsage{
		ScopeType:    scopeType,
		ScopeID:      scopeID,
		Period:       period,
		BudgetLimit:  limit,
		CurrentSpend: spend,
		PeriodStart:  start,
		PeriodEnd:    end,
	}

	if limit > 0 {
		usage.Percentage = spend / limit * 100
		usage.IsOverBudget = spend > limit
	}

	daysElapsed := int(now.Sub(start).Hours() / 24)
	if daysElapsed < 1 {
		daysElapsed = 1
	}
	remainingDays := int(end.Sub(now).Hours() / 24)
	if remainingDays < 0 {
		remainingDays = 0
	}
	usage.RemainingDays = remainingDays
	usage.ProjectedSpend = spend + spend/float64(daysElapsed)*float64(remainingDays)

	return usage, nil
}

// GetDailySpend 当日已计成本，走缓存计数器
//
// 权威数据在 usage_records；计数器仅覆盖保留期内的写入，用于看板快读。
func (t *CostTracker) GetDailySpend(ctx context.Context, scopeType domain.ScopeType, scopeID string) float64 {
	key := fmt.Sprintf("cost:%s:%s:%s", scopeType, scopeID, time.Now().Format("20060102"))
	spend, err := t.store.GetFloat(ctx, key)
	if err != nil {
		t.log.Warnf("failed to read cost counter %s: %v", key, err)
		return 0
	}
	return spend
}

// GetCostSummary 范围内的成本汇总（含按模型分解）
func (t *CostTracker) GetCostSummary(ctx context.Context, scopeType domain.ScopeType, scopeID string, timeRange domain.TimeRange) (*domain.CostSummary, error) {
	summary, err := t.usageRepo.Summarize(ctx, scopeType, scopeID, timeRange.Start, timeRange.End)
	if err != nil {
		return nil, err
	}
	summary.Currency = t.cfg.Currency
	return summary, nil
}

// budgetTier 预算阶梯，数值越大越严重
func budgetTier(percentage float64) (int, string) {
	switch {
	case percentage >= 100:
		return 3, "exceeded"
	case percentage >= 90:
		return 2, "critical"
	case percentage >= 80:
		return 1, "warning"
	default:
		return 0, ""
	}
}

// checkBudgetTier 写入后重评预算阶梯
//
// 阶梯状态缓存24h，仅在升档时发事件；落回阈值下直接清状态，
// 无需人工确认，下轮写入重新推导。
func (t *CostTracker) checkBudgetTier(ctx context.Context, scopeType domain.ScopeType, scopeID string) {
	if scopeID == "" {
		return
	}

	usage, err := t.GetBudgetUsage(ctx, scopeType, scopeID, domain.PeriodMonthly)
	if err != nil {
		t.log.Warnf("failed to evaluate budget for %s %s: %v", scopeType, scopeID, err)
		return
	}
	if usage.BudgetLimit <= 0 {
		return
	}

	key := fmt.Sprintf("budget_tier:%s:%s", scopeType, scopeID)
	tier, label := budgetTier(usage.Percentage)
	if tier == 0 {
		if err := t.store.Delete(ctx, key); err != nil {
			t.log.Warnf("failed to clear budget tier %s: %v", key, err)
		}
		return
	}

	prev, err := t.store.GetInt64(ctx, key)
	if err == nil && int(prev) >= tier {
		return
	}

	if err := t.store.Set(ctx, key, fmt.Sprintf("%d", tier), dailyCounterTTL/2); err != nil {
		t.log.Warnf("failed to cache budget tier %s: %v", key, err)
	}

	t.log.Warnf("budget threshold crossed: scope=%s id=%s spend=%.2f limit=%.2f pct=%.1f tier=%s",
		scopeType, scopeID, usage.CurrentSpend, usage.BudgetLimit, usage.Percentage, label)

	payload := struct {
		Tier string `json:"tier"`
		*domain.BudgetUsage
	}{Tier: label, BudgetUsage: usage}

	event, err := events.NewEvent("budget.threshold", "pool-engine", enterpriseOf(scopeType, scopeID), payload)
	if err != nil {
		t.log.Warnf("failed to build budget event: %v", err)
		return
	}
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.log.Warnf("failed to publish budget event: %v", err)
	}
}

// enterpriseOf 企业范围时事件按企业分区，其余留空
func enterpriseOf(scopeType domain.ScopeType, scopeID string) string {
	if scopeType == domain.ScopeEnterprise {
		return scopeID
	}
	return ""
}

// periodWindow 预算周期对应的自然时间窗口
//
// weekly 以周一为起点。
func periodWindow(period domain.BudgetPeriod, now time.Time) (time.Time, time.Time, error) {
	switch period {
	case domain.PeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 0, 1), nil
	case domain.PeriodWeekly:
		offset := int(now.Weekday()) - int(time.Monday)
		if offset < 0 {
			offset += 7
		}
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case domain.PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, domain.ErrInvalidPeriod
	}
}
