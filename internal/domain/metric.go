package domain

import "time"

// MetricType 指标类型
type MetricType string

const (
	MetricResponseTime MetricType = "response_time"
	MetricSuccessRate  MetricType = "success_rate"
	MetricErrorRate    MetricType = "error_rate"
	MetricHealthScore  MetricType = "health_score"
)

// PerformanceMetric 性能指标窗口
//
// 按时间窗口追加写入，不做更新；新窗口自然取代旧窗口。
type PerformanceMetric struct {
	ID          string
	TargetID    string // 账号ID或模型ID
	MetricType  MetricType
	Value       float64
	Unit        string
	WindowStart time.Time
	WindowEnd   time.Time
	SampleCount int
	CreatedAt   time.Time
}

// HealthResult 单次健康检查结果
type HealthResult struct {
	TargetID     string    `json:"target_id"`
	IsHealthy    bool      `json:"is_healthy"`
	ResponseTime float64   `json:"response_time_ms"`
	ErrorRate    float64   `json:"error_rate"`
	Score        float64   `json:"score"`
	Details      string    `json:"details,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// PerformanceWindow 滚动窗口聚合
type PerformanceWindow struct {
	TargetID        string
	SuccessRate     float64 // 0-100
	AvgResponseTime float64 // ms
	ErrorRate       float64 // 0-100
	SampleCount     int
	WindowStart     time.Time
	WindowEnd       time.Time
}
