package biz

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"aipool/internal/conf"
	"aipool/internal/domain"
	"aipool/pkg/cache"
	"aipool/pkg/monitoring"
)

// HealthSource 健康评分来源
type HealthSource interface {
	GetHealthScore(ctx context.Context, targetID string) float64
	PerformanceWindow(ctx context.Context, targetID string) *domain.PerformanceWindow
}

// AllocateRequest 分配请求
type AllocateRequest struct {
	GroupID          string `json:"group_id"`
	ServiceType      string `json:"service_type"`
	EstimatedTokens  int64  `json:"estimated_tokens,omitempty"`
	Priority         int    `json:"priority,omitempty"`
	PreferredAccount string `json:"preferred_account,omitempty"`
}

// candidate 过滤后的候选账号
type candidate struct {
	account     *domain.AiServiceAccount
	binding     *domain.AccountBinding
	healthScore float64
	currentLoad float64
}

// Allocator 账号分配器
//
// 选择是建议性的，不预占容量：用量/负载计数器由调用方完成请求后经
// RecordUsage 回写，并发在途请求可能短暂冲破限额，这是刻意的低持锁设计。
type Allocator struct {
	poolRepo    domain.PoolRepository
	accountRepo domain.AccountRepository
	store       cache.Store
	health      HealthSource
	cfg         conf.AllocatorConfig
	log         *log.Helper
}

// NewAllocator 创建分配器
func NewAllocator(
	poolRepo domain.PoolRepository,
	accountRepo domain.AccountRepository,
	store cache.Store,
	health HealthSource,
	cfg *conf.Config,
	logger log.Logger,
) *Allocator {
	return &Allocator{
		poolRepo:    poolRepo,
		accountRepo: accountRepo,
		store:       store,
		health:      health,
		cfg:         cfg.Allocator,
		log:         log.NewHelper(logger),
	}
}

// Allocate 为 (group, serviceType) 选择一个账号
//
// 所有池耗尽时返回 (nil, nil)：无可用账号是常规结果而非错误，
// 排队或失败由调用方决定。
func (a *Allocator) Allocate(ctx context.Context, req *AllocateRequest) (*domain.AccountHandle, error) {
	bindings, err := a.groupBindings(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	for _, binding := range bindings {
		if a.poolExhausted(ctx, binding) {
			continue
		}

		pool, err := a.poolRepo.GetPool(ctx, binding.PoolID)
		if err != nil {
			a.log.Warnf("failed to load pool %s: %v", binding.PoolID, err)
			continue
		}
		if !pool.IsActive || !pool.SupportsServiceType(req.ServiceType) {
			continue
		}

		candidates := a.poolCandidates(ctx, pool, req.ServiceType)
		if len(candidates) == 0 {
			continue
		}

		// 调用方可固定账号；通过了同样的过滤就直接短路返回
		if req.PreferredAccount != "" {
			for _, c := range candidates {
				if c.account.ID == req.PreferredAccount {
					return a.buildHandle(req, pool, c), nil
				}
			}
		}

		selected := a.selectCandidate(ctx, pool, candidates)
		if selected == nil {
			continue
		}

		monitoring.AllocationsTotal.WithLabelValues(req.ServiceType, string(pool.LoadBalanceStrategy), "selected").Inc()
		return a.buildHandle(req, pool, selected), nil
	}

	monitoring.AllocationsTotal.WithLabelValues(req.ServiceType, "", "exhausted").Inc()
	a.log.Infof("all pools exhausted for group %s service_type %s", req.GroupID, req.ServiceType)
	return nil, nil
}

// groupBindings 组的生效绑定，缓存约5分钟
func (a *Allocator) groupBindings(ctx context.Context, groupID string) ([]*domain.GroupPoolBinding, error) {
	key := "bindings:" + groupID

	var cached []*domain.GroupPoolBinding
	if err := a.store.GetObject(ctx, key, &cached); err == nil {
		return cached, nil
	}

	bindings, err := a.poolRepo.ListActiveBindings(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if err := a.store.SetObject(ctx, key, bindings, a.cfg.BindingCacheTTL); err != nil {
		a.log.Warnf("failed to cache group bindings: %v", err)
	}
	return bindings, nil
}

// poolExhausted 三个时间粒度的用量限额检查；限额0视为不限
func (a *Allocator) poolExhausted(ctx context.Context, binding *domain.GroupPoolBinding) bool {
	now := time.Now()
	checks := []struct {
		limit  int64
		bucket string
	}{
		{binding.UsageLimitHourly, "h:" + now.Format("2006010215")},
		{binding.UsageLimitDaily, "d:" + now.Format("20060102")},
		{binding.UsageLimitMonthly, "m:" + now.Format("200601")},
	}

	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}
		key := fmt.Sprintf("usage:%s:%s:%s", binding.PoolID, binding.GroupID, check.bucket)
		count, err := a.store.GetInt64(ctx, key)
		if err != nil {
			// 计数器读不到按未超限处理，可用性优先
			a.log.Warnf("failed to read usage counter %s: %v", key, err)
			continue
		}
		if count >= check.limit {
			return true
		}
	}
	return false
}

// poolCandidates 过滤池内候选：服务类型匹配、负载未达上限、健康评分>阈值
func (a *Allocator) poolCandidates(ctx context.Context, pool *domain.AccountPool, serviceType string) []*candidate {
	accountBindings, err := a.poolRepo.ListAccountBindings(ctx, pool.ID)
	if err != nil {
		a.log.Warnf("failed to list account bindings for pool %s: %v", pool.ID, err)
		return nil
	}

	candidates := make([]*candidate, 0, len(accountBindings))
	for _, binding := range accountBindings {
		account, err := a.accountRepo.GetAccount(ctx, binding.AccountID)
		if err != nil {
			a.log.Warnf("failed to load account %s: %v", binding.AccountID, err)
			continue
		}
		if !account.Usable() || account.ServiceType != serviceType {
			continue
		}

		load := a.CurrentLoad(ctx, account.ID)
		if binding.MaxLoadPercentage > 0 && load >= binding.MaxLoadPercentage {
			continue
		}

		score := a.health.GetHealthScore(ctx, account.ID)
		if score <= a.cfg.MinHealthScore {
			continue
		}

		candidates = append(candidates, &candidate{
			account:     account,
			binding:     binding,
			healthScore: score,
			currentLoad: load,
		})
	}
	return candidates
}

// CurrentLoad 账号负载（0-100）
//
// 无缓存值时按滚动窗口请求数推导：min(100, count/容量×100)。
func (a *Allocator) CurrentLoad(ctx context.Context, accountID string) float64 {
	now := time.Now()
	minutes := int(a.cfg.LoadWindow / time.Minute)
	if minutes <= 0 {
		minutes = 5
	}

	var count int64
	for i := 0; i < minutes; i++ {
		bucket := now.Add(-time.Duration(i) * time.Minute).Format("200601021504")
		n, err := a.store.GetInt64(ctx, "load:"+accountID+":"+bucket)
		if err != nil {
			continue
		}
		count += n
	}

	capacity := a.cfg.AssumedCapacity
	if capacity <= 0 {
		capacity = 500
	}

	load := float64(count) / float64(capacity) * 100
	if load > 100 {
		load = 100
	}
	return load
}

// selectCandidate 按池配置的策略选择
func (a *Allocator) selectCandidate(ctx context.Context, pool *domain.AccountPool, candidates []*candidate) *candidate {
	switch pool.LoadBalanceStrategy {
	case domain.StrategyLeastConnections:
		return selectLeastConnections(candidates)
	case domain.StrategyWeighted:
		return selectWeighted(candidates)
	case domain.StrategyHealthBased:
		return selectHealthBased(candidates)
	case domain.StrategyRoundRobin:
		fallthrough
	default:
		return a.selectRoundRobin(ctx, pool.ID, candidates)
	}
}

// selectRoundRobin 池级单调递增游标取模
//
// 游标在计数器存储中持续递增，进程生命周期内不会重置。
func (a *Allocator) selectRoundRobin(ctx context.Context, poolID string, candidates []*candidate) *candidate {
	cursor, err := a.store.Incr(ctx, "rr:"+poolID, 0)
	if err != nil {
		a.log.Warnf("round robin cursor failed for pool %s: %v", poolID, err)
		return candidates[0]
	}
	return candidates[int((cursor-1)%int64(len(candidates)))]
}

// selectLeastConnections 取最小负载
func selectLeastConnections(candidates []*candidate) *candidate {
	selected := candidates[0]
	for _, c := range candidates[1:] {
		if c.currentLoad < selected.currentLoad {
			selected = c
		}
	}
	return selected
}

// selectWeighted 按权重随机抽取
func selectWeighted(candidates []*candidate) *candidate {
	total := 0
	for _, c := range candidates {
		w := c.binding.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}

	draw := rand.Intn(total)
	for _, c := range candidates {
		w := c.binding.Weight
		if w <= 0 {
			w = 1
		}
		draw -= w
		if draw < 0 {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// selectHealthBased 综合评分 0.7×health + 0.3×(100-load) 取最大
func selectHealthBased(candidates []*candidate) *candidate {
	selected := candidates[0]
	best := compositeScore(selected)
	for _, c := range candidates[1:] {
		if score := compositeScore(c); score > best {
			best = score
			selected = c
		}
	}
	return selected
}

func compositeScore(c *candidate) float64 {
	return 0.7*c.healthScore + 0.3*(100-c.currentLoad)
}

// buildHandle 构造分配句柄
func (a *Allocator) buildHandle(req *AllocateRequest, pool *domain.AccountPool, c *candidate) *domain.AccountHandle {
	return &domain.AccountHandle{
		AccountID:   c.account.ID,
		PoolID:      pool.ID,
		GroupID:     req.GroupID,
		ServiceType: req.ServiceType,
		Endpoint:    c.account.Endpoint,
		Strategy:    pool.LoadBalanceStrategy,
		HealthScore: c.healthScore,
		CurrentLoad: c.currentLoad,
		AllocatedAt: time.Now(),
	}
}
