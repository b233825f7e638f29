package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"aipool/internal/domain"
)

// PerformanceMetricPO 性能指标持久化对象（追加写）
type PerformanceMetricPO struct {
	ID          string  `gorm:"primaryKey;size:64"`
	TargetID    string  `gorm:"size:64;not null;index:idx_metric_target"`
	MetricType  string  `gorm:"size:32;not null;index:idx_metric_target"`
	Value       float64 `gorm:"not null"`
	Unit        string  `gorm:"size:16"`
	WindowStart time.Time `gorm:"not null"`
	WindowEnd   time.Time `gorm:"not null;index:idx_metric_window_end"`
	SampleCount int     `gorm:"not null;default:0"`
	CreatedAt   time.Time
}

// TableName 表名
func (PerformanceMetricPO) TableName() string {
	return "pool_engine.performance_metrics"
}

// MetricRepository 性能指标仓储实现
type MetricRepository struct {
	data *Data
	log  *log.Helper
}

// NewMetricRepo 创建性能指标仓储
func NewMetricRepo(data *Data, logger log.Logger) domain.MetricRepository {
	return &MetricRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Append 批量追加窗口指标
func (r *MetricRepository) Append(ctx context.Context, metrics []*domain.PerformanceMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	pos := make([]*PerformanceMetricPO, len(metrics))
	for i, m := range metrics {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		pos[i] = &PerformanceMetricPO{
			ID:          id,
			TargetID:    m.TargetID,
			MetricType:  string(m.MetricType),
			Value:       m.Value,
			Unit:        m.Unit,
			WindowStart: m.WindowStart,
			WindowEnd:   m.WindowEnd,
			SampleCount: m.SampleCount,
		}
	}

	if err := r.data.db.WithContext(ctx).Create(&pos).Error; err != nil {
		r.log.Errorf("failed to append metrics: %v", err)
		return err
	}
	return nil
}

// Latest 最新窗口
func (r *MetricRepository) Latest(ctx context.Context, targetID string, metricType domain.MetricType) (*domain.PerformanceMetric, error) {
	var po PerformanceMetricPO
	if err := r.data.db.WithContext(ctx).
		Where("target_id = ? AND metric_type = ?", targetID, string(metricType)).
		Order("window_end DESC").
		First(&po).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.log.Errorf("failed to get latest metric: %v", err)
		return nil, err
	}
	return r.toDomainMetric(&po), nil
}

// Range 区间窗口
func (r *MetricRepository) Range(ctx context.Context, targetID string, metricType domain.MetricType, start, end time.Time) ([]*domain.PerformanceMetric, error) {
	var pos []PerformanceMetricPO
	if err := r.data.db.WithContext(ctx).
		Where("target_id = ? AND metric_type = ? AND window_end >= ? AND window_end < ?",
			targetID, string(metricType), start, end).
		Order("window_end ASC").
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to range metrics: %v", err)
		return nil, err
	}

	metrics := make([]*domain.PerformanceMetric, len(pos))
	for i, po := range pos {
		metrics[i] = r.toDomainMetric(&po)
	}
	return metrics, nil
}

// toDomainMetric 转换为领域对象
func (r *MetricRepository) toDomainMetric(po *PerformanceMetricPO) *domain.PerformanceMetric {
	return &domain.PerformanceMetric{
		ID:          po.ID,
		TargetID:    po.TargetID,
		MetricType:  domain.MetricType(po.MetricType),
		Value:       po.Value,
		Unit:        po.Unit,
		WindowStart: po.WindowStart,
		WindowEnd:   po.WindowEnd,
		SampleCount: po.SampleCount,
		CreatedAt:   po.CreatedAt,
	}
}
