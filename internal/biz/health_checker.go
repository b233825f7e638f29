package biz

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"aipool/internal/conf"
	"aipool/internal/domain"
	"aipool/pkg/cache"
	"aipool/pkg/monitoring"
)

// Prober 探测单个账号端点
type Prober interface {
	// Probe 返回响应耗时（ms）；超时与非2xx均按失败处理
	Probe(ctx context.Context, account *domain.AiServiceAccount) (float64, error)
}

// httpProber 真实端点HTTP探测
type httpProber struct {
	client *http.Client
}

// NewHTTPProber 创建HTTP探测器
func NewHTTPProber(timeout time.Duration) Prober {
	return &httpProber{
		client: &http.Client{Timeout: timeout},
	}
}

// Probe 发起一次低成本合成请求
func (p *httpProber) Probe(ctx context.Context, account *domain.AiServiceAccount) (float64, error) {
	if account.Endpoint == "" {
		return 0, fmt.Errorf("account %s has no endpoint", account.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, account.Endpoint, nil)
	if err != nil {
		return 0, err
	}
	if account.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+account.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		return elapsed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return elapsed, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return elapsed, nil
}

// probeSample 单次探测样本
type probeSample struct {
	at        time.Time
	success   bool
	latencyMs float64
}

// HealthChecker 账号健康检查器
//
// 固定间隔遍历受监控账号，各账号探测并发互不影响；
// 失败账号进入unhealthy集合并在固定延迟后单次复查（非指数退避，刻意保留）。
type HealthChecker struct {
	accountRepo domain.AccountRepository
	metricRepo  domain.MetricRepository
	store       cache.Store
	prober      Prober
	cfg         conf.HealthConfig
	log         *log.Helper

	mu        sync.RWMutex
	samples   map[string][]probeSample
	scores    map[string]float64 // 进程内兜底
	unhealthy map[string]bool
	fails     map[string]int
	lastKnown map[string]*domain.AiServiceAccount

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(
	accountRepo domain.AccountRepository,
	metricRepo domain.MetricRepository,
	store cache.Store,
	prober Prober,
	cfg *conf.Config,
	logger log.Logger,
) *HealthChecker {
	return &HealthChecker{
		accountRepo: accountRepo,
		metricRepo:  metricRepo,
		store:       store,
		prober:      prober,
		cfg:         cfg.Health,
		log:         log.NewHelper(logger),
		samples:     make(map[string][]probeSample),
		scores:      make(map[string]float64),
		unhealthy:   make(map[string]bool),
		fails:       make(map[string]int),
		lastKnown:   make(map[string]*domain.AiServiceAccount),
		stopChan:    make(chan struct{}),
	}
}

// Start 启动探测循环（阻塞，通常以goroutine运行）
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.log.Info("starting health checker")

	hc.checkAll(ctx)

	ticker := time.NewTicker(hc.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.checkAll(ctx)
		case <-hc.stopChan:
			hc.log.Info("health checker stopped")
			return
		case <-ctx.Done():
			hc.log.Info("health checker context cancelled")
			return
		}
	}
}

// StartCollector 启动5分钟窗口聚合循环（阻塞，通常以goroutine运行）
func (hc *HealthChecker) StartCollector(ctx context.Context) {
	ticker := time.NewTicker(hc.cfg.CollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.collect(ctx)
		case <-hc.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop 停止所有循环
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		close(hc.stopChan)
	})
}

// monitoredAccounts 受监控账号集
//
// 配置查询失败时降级为最近一次成功结果，再降级为静态兜底清单，绝不抛错。
func (hc *HealthChecker) monitoredAccounts(ctx context.Context) []*domain.AiServiceAccount {
	accounts, err := hc.accountRepo.ListMonitored(ctx)
	if err == nil {
		hc.mu.Lock()
		for _, a := range accounts {
			hc.lastKnown[a.ID] = a
		}
		hc.mu.Unlock()
		return accounts
	}

	hc.log.Warnf("failed to list monitored accounts, using fallback: %v", err)

	hc.mu.RLock()
	defer hc.mu.RUnlock()

	if len(hc.lastKnown) > 0 {
		fallback := make([]*domain.AiServiceAccount, 0, len(hc.lastKnown))
		for _, a := range hc.lastKnown {
			fallback = append(fallback, a)
		}
		return fallback
	}

	fallback := make([]*domain.AiServiceAccount, 0, len(hc.cfg.FallbackAccounts))
	for _, id := range hc.cfg.FallbackAccounts {
		fallback = append(fallback, &domain.AiServiceAccount{ID: id})
	}
	return fallback
}

// checkAll 并发探测所有受监控账号
func (hc *HealthChecker) checkAll(ctx context.Context) {
	accounts := hc.monitoredAccounts(ctx)
	if len(accounts) == 0 {
		hc.log.Warn("no monitored accounts")
		return
	}

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(a *domain.AiServiceAccount) {
			defer wg.Done()
			hc.CheckHealth(ctx, a)
		}(account)
	}
	wg.Wait()
}

// CheckHealth 对单个账号执行一次健康检查
//
// 探测失败只降级评分，不向调度循环抛错。
func (hc *HealthChecker) CheckHealth(ctx context.Context, account *domain.AiServiceAccount) *domain.HealthResult {
	probeCtx, cancel := context.WithTimeout(ctx, hc.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	latencyMs, err := hc.prober.Probe(probeCtx, account)
	failed := err != nil

	result := "success"
	if failed {
		result = "failure"
	}
	monitoring.ProbeDuration.WithLabelValues(account.ID, result).Observe(time.Since(start).Seconds())

	hc.recordSample(account.ID, !failed, latencyMs)

	window := hc.window(account.ID)
	score := ComputeHealthScore(failed, latencyMs, window.SuccessRate, window.AvgResponseTime)

	details := ""
	if failed {
		details = err.Error()
		hc.log.Warnf("health probe failed for account %s: %v", account.ID, err)
	}

	hc.mu.Lock()
	hc.scores[account.ID] = score
	if failed {
		hc.fails[account.ID]++
		if !hc.unhealthy[account.ID] {
			hc.unhealthy[account.ID] = true
			hc.scheduleRecheck(account)
		}
	} else {
		hc.fails[account.ID] = 0
		delete(hc.unhealthy, account.ID)
	}
	hc.mu.Unlock()

	monitoring.HealthScore.WithLabelValues(account.ID).Set(score)

	// 分数写入缓存，getHealthScore走O(1)查找；写失败不影响检查
	if cerr := hc.store.Set(ctx, "health:"+account.ID, fmt.Sprintf("%.2f", score), hc.cfg.ScoreCacheTTL); cerr != nil {
		hc.log.Warnf("failed to cache health score for %s: %v", account.ID, cerr)
	}

	return &domain.HealthResult{
		TargetID:     account.ID,
		IsHealthy:    !failed && score > 50,
		ResponseTime: latencyMs,
		ErrorRate:    100 - window.SuccessRate,
		Score:        score,
		Details:      details,
		CheckedAt:    time.Now(),
	}
}

// scheduleRecheck 失败后固定延迟单次复查；调用方需持有hc.mu
func (hc *HealthChecker) scheduleRecheck(account *domain.AiServiceAccount) {
	time.AfterFunc(hc.cfg.RecheckDelay, func() {
		select {
		case <-hc.stopChan:
			return
		default:
		}
		hc.log.Infof("rechecking unhealthy account %s", account.ID)
		hc.CheckHealth(context.Background(), account)
	})
}

// recordSample 记录样本并裁剪出窗口的旧样本
func (hc *HealthChecker) recordSample(accountID string, success bool, latencyMs float64) {
	now := time.Now()
	cutoff := now.Add(-hc.cfg.CollectInterval)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	samples := hc.samples[accountID]
	kept := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, probeSample{at: now, success: success, latencyMs: latencyMs})
	hc.samples[accountID] = kept
}

// window 账号的滚动窗口聚合；无样本时按乐观默认
func (hc *HealthChecker) window(accountID string) *domain.PerformanceWindow {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.windowLocked(accountID)
}

func (hc *HealthChecker) windowLocked(accountID string) *domain.PerformanceWindow {
	now := time.Now()
	w := &domain.PerformanceWindow{
		TargetID:    accountID,
		SuccessRate: 100,
		WindowStart: now.Add(-hc.cfg.CollectInterval),
		WindowEnd:   now,
	}

	samples := hc.samples[accountID]
	if len(samples) == 0 {
		return w
	}

	var successes int
	var totalLatency float64
	for _, s := range samples {
		if s.success {
			successes++
		}
		totalLatency += s.latencyMs
	}

	w.SampleCount = len(samples)
	w.SuccessRate = float64(successes) / float64(len(samples)) * 100
	w.AvgResponseTime = totalLatency / float64(len(samples))
	w.ErrorRate = 100 - w.SuccessRate
	return w
}

// PerformanceWindow 对外暴露窗口聚合（告警评估用）
func (hc *HealthChecker) PerformanceWindow(ctx context.Context, targetID string) *domain.PerformanceWindow {
	return hc.window(targetID)
}

// GetHealthScore 获取健康评分：缓存 → 进程内 → 乐观默认100
func (hc *HealthChecker) GetHealthScore(ctx context.Context, targetID string) float64 {
	if raw, err := hc.store.Get(ctx, "health:"+targetID); err == nil {
		if val, perr := strconv.ParseFloat(raw, 64); perr == nil {
			return val
		}
	}

	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if score, ok := hc.scores[targetID]; ok {
		return score
	}
	return 100
}

// IsUnhealthy 账号是否在unhealthy集合中
func (hc *HealthChecker) IsUnhealthy(targetID string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.unhealthy[targetID]
}

// GetHealthSummary 健康摘要
func (hc *HealthChecker) GetHealthSummary() map[string]interface{} {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	unhealthyCount := len(hc.unhealthy)
	total := len(hc.scores)

	return map[string]interface{}{
		"total_accounts":  total,
		"healthy_count":   total - unhealthyCount,
		"unhealthy_count": unhealthyCount,
		"last_check_time": time.Now(),
	}
}

// collect 聚合滚动窗口并落库
//
// 指标写失败只告警，不能阻塞检查路径。
func (hc *HealthChecker) collect(ctx context.Context) {
	hc.mu.RLock()
	windows := make([]*domain.PerformanceWindow, 0, len(hc.samples))
	for accountID := range hc.samples {
		w := hc.windowLocked(accountID)
		if w.SampleCount == 0 {
			continue
		}
		windows = append(windows, w)
	}
	hc.mu.RUnlock()

	if len(windows) == 0 {
		return
	}

	metrics := make([]*domain.PerformanceMetric, 0, len(windows)*3)
	for _, w := range windows {
		metrics = append(metrics,
			&domain.PerformanceMetric{
				TargetID:    w.TargetID,
				MetricType:  domain.MetricSuccessRate,
				Value:       w.SuccessRate,
				Unit:        "percent",
				WindowStart: w.WindowStart,
				WindowEnd:   w.WindowEnd,
				SampleCount: w.SampleCount,
			},
			&domain.PerformanceMetric{
				TargetID:    w.TargetID,
				MetricType:  domain.MetricResponseTime,
				Value:       w.AvgResponseTime,
				Unit:        "ms",
				WindowStart: w.WindowStart,
				WindowEnd:   w.WindowEnd,
				SampleCount: w.SampleCount,
			},
			&domain.PerformanceMetric{
				TargetID:    w.TargetID,
				MetricType:  domain.MetricErrorRate,
				Value:       w.ErrorRate,
				Unit:        "percent",
				WindowStart: w.WindowStart,
				WindowEnd:   w.WindowEnd,
				SampleCount: w.SampleCount,
			},
		)
	}

	if err := hc.metricRepo.Append(ctx, metrics); err != nil {
		hc.log.Warnf("failed to persist performance window: %v", err)
	}
}

// ComputeHealthScore 健康评分公式（0-100，多项扣分叠加，下限0）
//
// 基准100：本次探测失败扣30；响应超5000ms按每秒5分扣，至多30；
// 窗口成功率低于95按 2×(95-successRate) 扣；
// 窗口平均响应超3000ms按每秒3分扣，至多20。
func ComputeHealthScore(probeFailed bool, responseTimeMs, successRate, avgResponseTimeMs float64) float64 {
	score := 100.0

	if probeFailed {
		score -= 30
	}

	if responseTimeMs > 5000 {
		penalty := (responseTimeMs - 5000) / 1000 * 5
		if penalty > 30 {
			penalty = 30
		}
		score -= penalty
	}

	if successRate < 95 {
		score -= 2 * (95 - successRate)
	}

	if avgResponseTimeMs > 3000 {
		penalty := (avgResponseTimeMs - 3000) / 1000 * 3
		if penalty > 20 {
			penalty = 20
		}
		score -= penalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
