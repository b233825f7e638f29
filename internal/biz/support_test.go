package biz

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"aipool/internal/conf"
	"aipool/internal/domain"
	"aipool/pkg/events"
)

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

func testConfig() *conf.Config {
	return &conf.Config{
		Health: conf.HealthConfig{
			CheckInterval:   time.Minute,
			CollectInterval: 5 * time.Minute,
			ProbeTimeout:    10 * time.Second,
			RecheckDelay:    30 * time.Second,
			ScoreCacheTTL:   time.Minute,
		},
		Allocator: conf.AllocatorConfig{
			BindingCacheTTL: 5 * time.Minute,
			LoadWindow:      5 * time.Minute,
			AssumedCapacity: 500,
			MinHealthScore:  50,
		},
		Cost: conf.CostConfig{
			Currency:    "USD",
			DefaultRate: conf.ModelRate{InputPerK: 0.002, OutputPerK: 0.006},
			Rates: map[string]conf.ModelRate{
				"gpt-4": {InputPerK: 0.03, OutputPerK: 0.06},
			},
		},
		Alert: conf.AlertConfig{
			CheckInterval: time.Minute,
			AlertTTL:      24 * time.Hour,
		},
		Allocation: conf.AllocationConfig{
			RunInterval:  time.Hour,
			DefaultBasis: "equal",
		},
	}
}

type fakePoolRepo struct {
	pools         map[string]*domain.AccountPool
	groupBindings map[string][]*domain.GroupPoolBinding
	poolAccounts  map[string][]*domain.AccountBinding
	enterprises   []string
}

func newFakePoolRepo() *fakePoolRepo {
	return &fakePoolRepo{
		pools:         make(map[string]*domain.AccountPool),
		groupBindings: make(map[string][]*domain.GroupPoolBinding),
		poolAccounts:  make(map[string][]*domain.AccountBinding),
	}
}

func (r *fakePoolRepo) GetPool(ctx context.Context, poolID string) (*domain.AccountPool, error) {
	pool, ok := r.pools[poolID]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	return pool, nil
}

func (r *fakePoolRepo) ListActiveBindings(ctx context.Context, groupID string) ([]*domain.GroupPoolBinding, error) {
	return r.groupBindings[groupID], nil
}

func (r *fakePoolRepo) ListAccountBindings(ctx context.Context, poolID string) ([]*domain.AccountBinding, error) {
	return r.poolAccounts[poolID], nil
}

func (r *fakePoolRepo) ListEnterpriseIDs(ctx context.Context) ([]string, error) {
	return r.enterprises, nil
}

type fakeAccountRepo struct {
	accounts map[string]*domain.AiServiceAccount
	disabled []string
}

func newFakeAccountRepo(accounts ...*domain.AiServiceAccount) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: make(map[string]*domain.AiServiceAccount)}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) GetAccount(ctx context.Context, accountID string) (*domain.AiServiceAccount, error) {
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (r *fakeAccountRepo) ListMonitored(ctx context.Context) ([]*domain.AiServiceAccount, error) {
	accounts := make([]*domain.AiServiceAccount, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.Usable() {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

func (r *fakeAccountRepo) ListByEnterprise(ctx context.Context, enterpriseID string) ([]*domain.AiServiceAccount, error) {
	accounts := make([]*domain.AiServiceAccount, 0)
	for _, a := range r.accounts {
		if a.EnterpriseID == enterpriseID {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

func (r *fakeAccountRepo) SetEnabled(ctx context.Context, accountID string, enabled bool) error {
	account, ok := r.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	account.IsEnabled = enabled
	if !enabled {
		r.disabled = append(r.disabled, accountID)
	}
	return nil
}

type fakeUsageRepo struct {
	records    []*domain.UsageRecord
	costs      map[string]float64
	failCreate bool
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{costs: make(map[string]float64)}
}

func scopeKey(scopeType domain.ScopeType, scopeID string) string {
	return fmt.Sprintf("%s:%s", scopeType, scopeID)
}

func (r *fakeUsageRepo) Create(ctx context.Context, record *domain.UsageRecord) error {
	if r.failCreate {
		return fmt.Errorf("insert failed")
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeUsageRepo) Summarize(ctx context.Context, scopeType domain.ScopeType, scopeID string, start, end time.Time) (*domain.CostSummary, error) {
	return &domain.CostSummary{
		ScopeType: scopeType,
		ScopeID:   scopeID,
		Range:     domain.TimeRange{Start: start, End: end},
		TotalCost: r.costs[scopeKey(scopeType, scopeID)],
	}, nil
}

func (r *fakeUsageRepo) SumCost(ctx context.Context, scopeType domain.ScopeType, scopeID string, start, end time.Time) (float64, error) {
	return r.costs[scopeKey(scopeType, scopeID)], nil
}

type fakeBudgetRepo struct {
	budgets map[string]*domain.Budget
}

func newFakeBudgetRepo(budgets ...*domain.Budget) *fakeBudgetRepo {
	r := &fakeBudgetRepo{budgets: make(map[string]*domain.Budget)}
	for _, b := range budgets {
		r.budgets[fmt.Sprintf("%s:%s:%s", b.ScopeType, b.ScopeID, b.Period)] = b
	}
	return r
}

func (r *fakeBudgetRepo) Get(ctx context.Context, scopeType domain.ScopeType, scopeID string, period domain.BudgetPeriod) (*domain.Budget, error) {
	budget, ok := r.budgets[fmt.Sprintf("%s:%s:%s", scopeType, scopeID, period)]
	if !ok {
		return nil, domain.ErrBudgetNotFound
	}
	return budget, nil
}

type fakeDepartmentRepo struct {
	departments []*domain.Department
}

func (r *fakeDepartmentRepo) ListByEnterprise(ctx context.Context, enterpriseID string) ([]*domain.Department, error) {
	return r.departments, nil
}

type fakeAllocationRepo struct {
	reports  []*domain.AllocationReport
	failSave bool
}

func (r *fakeAllocationRepo) SaveReport(ctx context.Context, report *domain.AllocationReport) error {
	if r.failSave {
		return fmt.Errorf("insert failed")
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeAllocationRepo) ListReports(ctx context.Context, enterpriseID string, limit int) ([]*domain.AllocationReport, error) {
	if limit > 0 && len(r.reports) > limit {
		return r.reports[:limit], nil
	}
	return r.reports, nil
}

type fakeRuleRepo struct {
	rules    []*domain.AlertRule
	created  []*domain.AlertRule
	failList bool
}

func (r *fakeRuleRepo) ListByEnterprise(ctx context.Context, enterpriseID string) ([]*domain.AlertRule, error) {
	if r.failList {
		return nil, fmt.Errorf("query failed")
	}
	return r.rules, nil
}

func (r *fakeRuleRepo) CreateBatch(ctx context.Context, rules []*domain.AlertRule) error {
	r.created = append(r.created, rules...)
	return nil
}

type fakeMetricRepo struct {
	appended []*domain.PerformanceMetric
	latest   map[string]*domain.PerformanceMetric // targetID:metricType
}

func (r *fakeMetricRepo) Append(ctx context.Context, metrics []*domain.PerformanceMetric) error {
	r.appended = append(r.appended, metrics...)
	return nil
}

func (r *fakeMetricRepo) Latest(ctx context.Context, targetID string, metricType domain.MetricType) (*domain.PerformanceMetric, error) {
	return r.latest[targetID+":"+string(metricType)], nil
}

func (r *fakeMetricRepo) Range(ctx context.Context, targetID string, metricType domain.MetricType, start, end time.Time) ([]*domain.PerformanceMetric, error) {
	return nil, nil
}

type fakePublisher struct {
	events []*events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, event *events.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeHealthSource struct {
	scores  map[string]float64
	windows map[string]*domain.PerformanceWindow
}

func (s *fakeHealthSource) GetHealthScore(ctx context.Context, targetID string) float64 {
	if score, ok := s.scores[targetID]; ok {
		return score
	}
	return 100
}

func (s *fakeHealthSource) PerformanceWindow(ctx context.Context, targetID string) *domain.PerformanceWindow {
	if w, ok := s.windows[targetID]; ok {
		return w
	}
	return &domain.PerformanceWindow{TargetID: targetID, SuccessRate: 100}
}

type fakeBudgetSource struct {
	usages map[string]*domain.BudgetUsage
}

func (s *fakeBudgetSource) GetBudgetUsage(ctx context.Context, scopeType domain.ScopeType, scopeID string, period domain.BudgetPeriod) (*domain.BudgetUsage, error) {
	if usage, ok := s.usages[scopeKey(scopeType, scopeID)]; ok {
		return usage, nil
	}
	return &domain.BudgetUsage{ScopeType: scopeType, ScopeID: scopeID, Period: period}, nil
}

type fakeProber struct {
	latency float64
	err     error
}

func (p *fakeProber) Probe(ctx context.Context, account *domain.AiServiceAccount) (float64, error) {
	return p.latency, p.err
}
