package resilience

import (
	"time"

	"github.com/sony/gobreaker"
)

// NewOutboundBreaker 出站调用熔断器
//
// 用于告警webhook等旁路外呼：失败率>=60%且请求数>=5时熔断，
// 打开30秒后半开放行3个探测请求。
func NewOutboundBreaker(name string) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// IsBreakerOpen 判断错误是否为熔断拒绝
func IsBreakerOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
