package biz

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aipool/internal/domain"
	"aipool/pkg/cache"
)

func TestComputeHealthScore(t *testing.T) {
	t.Run("healthy account keeps full score", func(t *testing.T) {
		score := ComputeHealthScore(false, 200, 100, 300)
		assert.Equal(t, 100.0, score)
	})

	t.Run("slow probe only", func(t *testing.T) {
		// 6000ms探测：超出1秒，扣5分
		score := ComputeHealthScore(false, 6000, 100, 300)
		assert.Equal(t, 95.0, score)
	})

	t.Run("failed probe with degraded window", func(t *testing.T) {
		// 失败-30，7000ms探测-10，成功率85扣2×10=20，均值4000ms扣3
		score := ComputeHealthScore(true, 7000, 85, 4000)
		assert.Equal(t, 37.0, score)
	})

	t.Run("penalties are capped", func(t *testing.T) {
		// 响应时间扣分封顶30，均值扣分封顶20
		score := ComputeHealthScore(false, 60000, 100, 60000)
		assert.Equal(t, 50.0, score)
	})

	t.Run("score never goes negative", func(t *testing.T) {
		score := ComputeHealthScore(true, 60000, 0, 60000)
		assert.Equal(t, 0.0, score)
	})
}

func TestHealthCheckerCheckHealth(t *testing.T) {
	ctx := context.Background()

	account := &domain.AiServiceAccount{
		ID:          "acc-1",
		Name:        "primary",
		ServiceType: "chat",
		Endpoint:    "http://example.test/v1/models",
		Status:      domain.AccountStatusActive,
		IsEnabled:   true,
	}

	t.Run("successful probe caches score", func(t *testing.T) {
		hc := NewHealthChecker(newFakeAccountRepo(account), &fakeMetricRepo{}, cache.NewMemoryStore(),
			&fakeProber{latency: 200}, testConfig(), testLogger())

		result := hc.CheckHealth(ctx, account)
		require.NotNil(t, result)
		assert.True(t, result.IsHealthy)
		assert.Equal(t, 100.0, result.Score)
		assert.False(t, hc.IsUnhealthy(account.ID))
		assert.Equal(t, 100.0, hc.GetHealthScore(ctx, account.ID))
	})

	t.Run("failed probe marks account unhealthy", func(t *testing.T) {
		hc := NewHealthChecker(newFakeAccountRepo(account), &fakeMetricRepo{}, cache.NewMemoryStore(),
			&fakeProber{latency: 100, err: fmt.Errorf("connection refused")}, testConfig(), testLogger())
		defer hc.Stop()

		result := hc.CheckHealth(ctx, account)
		require.NotNil(t, result)
		assert.False(t, result.IsHealthy)
		assert.True(t, hc.IsUnhealthy(account.ID))
		assert.NotEmpty(t, result.Details)
	})

	t.Run("recovery clears unhealthy state", func(t *testing.T) {
		prober := &fakeProber{latency: 100, err: fmt.Errorf("timeout")}
		hc := NewHealthChecker(newFakeAccountRepo(account), &fakeMetricRepo{}, cache.NewMemoryStore(),
			prober, testConfig(), testLogger())
		defer hc.Stop()

		hc.CheckHealth(ctx, account)
		require.True(t, hc.IsUnhealthy(account.ID))

		prober.err = nil
		hc.CheckHealth(ctx, account)
		assert.False(t, hc.IsUnhealthy(account.ID))
	})

	t.Run("unknown account defaults to optimistic score", func(t *testing.T) {
		hc := NewHealthChecker(newFakeAccountRepo(), &fakeMetricRepo{}, cache.NewMemoryStore(),
			&fakeProber{}, testConfig(), testLogger())

		assert.Equal(t, 100.0, hc.GetHealthScore(ctx, "never-checked"))
	})
}

func TestHealthCheckerWindow(t *testing.T) {
	account := &domain.AiServiceAccount{
		ID:        "acc-win",
		Status:    domain.AccountStatusActive,
		IsEnabled: true,
	}

	prober := &fakeProber{latency: 1000}
	hc := NewHealthChecker(newFakeAccountRepo(account), &fakeMetricRepo{}, cache.NewMemoryStore(),
		prober, testConfig(), testLogger())
	defer hc.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		hc.CheckHealth(ctx, account)
	}
	prober.err = fmt.Errorf("boom")
	hc.CheckHealth(ctx, account)

	window := hc.PerformanceWindow(ctx, account.ID)
	require.NotNil(t, window)
	assert.Equal(t, 4, window.SampleCount)
	assert.Equal(t, 75.0, window.SuccessRate)
	assert.Equal(t, 25.0, window.ErrorRate)
	assert.Equal(t, 1000.0, window.AvgResponseTime)
}

func TestHealthCheckerSummary(t *testing.T) {
	healthy := &domain.AiServiceAccount{ID: "h-1", Status: domain.AccountStatusActive, IsEnabled: true}
	broken := &domain.AiServiceAccount{ID: "b-1", Status: domain.AccountStatusActive, IsEnabled: true}

	hc := NewHealthChecker(newFakeAccountRepo(healthy, broken), &fakeMetricRepo{}, cache.NewMemoryStore(),
		&fakeProber{latency: 100}, testConfig(), testLogger())
	defer hc.Stop()

	ctx := context.Background()
	hc.CheckHealth(ctx, healthy)

	failing := NewHealthChecker(newFakeAccountRepo(broken), &fakeMetricRepo{}, cache.NewMemoryStore(),
		&fakeProber{err: fmt.Errorf("down")}, testConfig(), testLogger())
	defer failing.Stop()
	failing.CheckHealth(ctx, broken)

	summary := hc.GetHealthSummary()
	assert.Equal(t, 1, summary["total_accounts"])
	assert.Equal(t, 0, summary["unhealthy_count"])

	summary = failing.GetHealthSummary()
	assert.Equal(t, 1, summary["unhealthy_count"])
}
