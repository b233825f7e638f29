package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"aipool/internal/domain"
)

// UsageRecordPO 用量记录持久化对象（追加写）
type UsageRecordPO struct {
	ID             string  `gorm:"primaryKey;size:64"`
	GroupID        string  `gorm:"size:64;not null;index:idx_usage_group"`
	DepartmentID   string  `gorm:"size:64;index:idx_usage_department"`
	EnterpriseID   string  `gorm:"size:64;index:idx_usage_enterprise"`
	PoolID         string  `gorm:"size:64"`
	AccountID      string  `gorm:"size:64;index:idx_usage_account"`
	ModelID        string  `gorm:"size:100;not null"`
	UserID         string  `gorm:"size:64"`
	RequestTokens  int64   `gorm:"not null;default:0"`
	ResponseTokens int64   `gorm:"not null;default:0"`
	Cost           float64 `gorm:"type:decimal(12,6);not null;default:0"`
	Currency       string  `gorm:"size:8;not null;default:USD"`
	LatencyMs      float64 `gorm:"not null;default:0"`
	Status         string  `gorm:"size:20;not null"`
	RequestTime    time.Time `gorm:"not null;index:idx_usage_time"`
}

// TableName 表名
func (UsageRecordPO) TableName() string {
	return "pool_engine.usage_records"
}

// UsageRepository 用量仓储实现
type UsageRepository struct {
	data *Data
	log  *log.Helper
}

// NewUsageRepo 创建用量仓储
func NewUsageRepo(data *Data, logger log.Logger) domain.UsageRepository {
	return &UsageRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Create 追加用量记录
func (r *UsageRepository) Create(ctx context.Context, record *domain.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	po := &UsageRecordPO{
		ID:             record.ID,
		GroupID:        record.GroupID,
		DepartmentID:   record.DepartmentID,
		EnterpriseID:   record.EnterpriseID,
		PoolID:         record.PoolID,
		AccountID:      record.AccountID,
		ModelID:        record.ModelID,
		UserID:         record.UserID,
		RequestTokens:  record.RequestTokens,
		ResponseTokens: record.ResponseTokens,
		Cost:           record.Cost,
		Currency:       record.Currency,
		LatencyMs:      record.LatencyMs,
		Status:         record.Status,
		RequestTime:    record.RequestTime,
	}

	if err := r.data.db.WithContext(ctx).Create(po).Error; err != nil {
		r.log.Errorf("failed to create usage record: %v", err)
		return err
	}
	return nil
}

// scopeColumn scope类型到列名的映射
func scopeColumn(scopeType domain.ScopeType) (string, error) {
	switch scopeType {
	case domain.ScopeGroup:
		return "group_id", nil
	case domain.ScopeDepartment:
		return "department_id", nil
	case domain.ScopeEnterprise:
		return "enterprise_id", nil
	default:
		return "", fmt.Errorf("unknown scope type: %s", scopeType)
	}
}

// Summarize 汇总区间内的用量，含按模型分解
func (r *UsageRepository) Summarize(ctx context.Context, scopeType domain.ScopeType, scopeID string, start, end time.Time) (*domain.CostSummary, error) {
	col, err := scopeColumn(scopeType)
	if err != nil {
		return nil, err
	}

	type totalRow struct {
		TotalCost     float64
		TotalRequests int64
		TotalTokens   int64
	}
	var total totalRow
	if err := r.data.db.WithContext(ctx).
		Model(&UsageRecordPO{}).
		Select("COALESCE(SUM(cost),0) AS total_cost, COUNT(*) AS total_requests, COALESCE(SUM(request_tokens+response_tokens),0) AS total_tokens").
		Where(col+" = ? AND request_time >= ? AND request_time < ?", scopeID, start, end).
		Scan(&total).Error; err != nil {
		r.log.Errorf("failed to summarize usage: %v", err)
		return nil, err
	}

	type modelRow struct {
		ModelID      string
		RequestCount int64
		TotalTokens  int64
		TotalCost    float64
	}
	var rows []modelRow
	if err := r.data.db.WithContext(ctx).
		Model(&UsageRecordPO{}).
		Select("model_id, COUNT(*) AS request_count, COALESCE(SUM(request_tokens+response_tokens),0) AS total_tokens, COALESCE(SUM(cost),0) AS total_cost").
		Where(col+" = ? AND request_time >= ? AND request_time < ?", scopeID, start, end).
		Group("model_id").
		Order("total_cost DESC").
		Scan(&rows).Error; err != nil {
		r.log.Errorf("failed to summarize usage by model: %v", err)
		return nil, err
	}

	breakdown := make([]*domain.ModelCostBreakdown, len(rows))
	for i, row := range rows {
		avg := 0.0
		if row.RequestCount > 0 {
			avg = row.TotalCost / float64(row.RequestCount)
		}
		breakdown[i] = &domain.ModelCostBreakdown{
			ModelID:       row.ModelID,
			RequestCount:  row.RequestCount,
			TotalTokens:   row.TotalTokens,
			TotalCost:     row.TotalCost,
			AvgCostPerReq: avg,
		}
	}

	return &domain.CostSummary{
		ScopeType:      scopeType,
		ScopeID:        scopeID,
		Range:          domain.TimeRange{Start: start, End: end},
		TotalCost:      total.TotalCost,
		TotalRequests:  total.TotalRequests,
		TotalTokens:    total.TotalTokens,
		ModelBreakdown: breakdown,
	}, nil
}

// SumCost 区间内成本合计
func (r *UsageRepository) SumCost(ctx context.Context, scopeType domain.ScopeType, scopeID string, start, end time.Time) (float64, error) {
	col, err := scopeColumn(scopeType)
	if err != nil {
		return 0, err
	}

	var sum float64
	if err := r.data.db.WithContext(ctx).
		Model(&UsageRecordPO{}).
		Select("COALESCE(SUM(cost),0)").
		Where(col+" = ? AND request_time >= ? AND request_time < ?", scopeID, start, end).
		Scan(&sum).Error; err != nil {
		r.log.Errorf("failed to sum cost: %v", err)
		return 0, err
	}
	return sum, nil
}
