package data

import (
	"context"
	"sort"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"aipool/internal/domain"
)

// CostAllocationPO 分摊结果持久化对象（按部门一行，不可变）
type CostAllocationPO struct {
	ID                 string  `gorm:"primaryKey;size:64"`
	ReportID           string  `gorm:"size:64;not null;index:idx_alloc_report"`
	EnterpriseID       string  `gorm:"size:64;not null;index:idx_alloc_enterprise"`
	Period             string  `gorm:"size:16;not null"`
	Basis              string  `gorm:"size:20;not null"`
	DepartmentID       string  `gorm:"size:64;not null"`
	AllocatedCost      float64 `gorm:"type:decimal(12,4);not null"`
	Percentage         float64 `gorm:"not null"`
	BasisValue         float64 `gorm:"not null"`
	TotalCost          float64 `gorm:"type:decimal(12,4);not null"`
	UnallocatedCost    float64 `gorm:"type:decimal(12,4);not null"`
	AllocationAccuracy float64 `gorm:"not null"`
	GeneratedAt        time.Time `gorm:"not null;index:idx_alloc_generated"`
}

// TableName 表名
func (CostAllocationPO) TableName() string {
	return "pool_engine.cost_allocations"
}

// AllocationRepository 分摊结果仓储实现
type AllocationRepository struct {
	data *Data
	log  *log.Helper
}

// NewAllocationRepo 创建分摊结果仓储
func NewAllocationRepo(data *Data, logger log.Logger) domain.AllocationRepository {
	return &AllocationRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// SaveReport 持久化一次分摊运行（逐部门一行）
func (r *AllocationRepository) SaveReport(ctx context.Context, report *domain.AllocationReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	pos := make([]*CostAllocationPO, len(report.Allocations))
	for i, a := range report.Allocations {
		pos[i] = &CostAllocationPO{
			ID:                 uuid.NewString(),
			ReportID:           report.ID,
			EnterpriseID:       report.EnterpriseID,
			Period:             report.Period,
			Basis:              string(report.Basis),
			DepartmentID:       a.DepartmentID,
			AllocatedCost:      a.AllocatedCost,
			Percentage:         a.Percentage,
			BasisValue:         a.BasisValue,
			TotalCost:          report.TotalCost,
			UnallocatedCost:    report.UnallocatedCost,
			AllocationAccuracy: report.AllocationAccuracy,
			GeneratedAt:        report.GeneratedAt,
		}
	}

	if err := r.data.db.WithContext(ctx).Create(&pos).Error; err != nil {
		r.log.Errorf("failed to save allocation report: %v", err)
		return err
	}
	return nil
}

// ListReports 按持久化行重建历史报告（按report_id分组），新在前
func (r *AllocationRepository) ListReports(ctx context.Context, enterpriseID string, limit int) ([]*domain.AllocationReport, error) {
	var pos []CostAllocationPO
	if err := r.data.db.WithContext(ctx).
		Where("enterprise_id = ?", enterpriseID).
		Order("generated_at DESC").
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to list allocation rows: %v", err)
		return nil, err
	}

	byReport := make(map[string]*domain.AllocationReport)
	order := make([]string, 0)
	for _, po := range pos {
		report, ok := byReport[po.ReportID]
		if !ok {
			report = &domain.AllocationReport{
				ID:                 po.ReportID,
				EnterpriseID:       po.EnterpriseID,
				Period:             po.Period,
				Basis:              domain.AllocationBasis(po.Basis),
				TotalCost:          po.TotalCost,
				UnallocatedCost:    po.UnallocatedCost,
				AllocationAccuracy: po.AllocationAccuracy,
				GeneratedAt:        po.GeneratedAt,
			}
			byReport[po.ReportID] = report
			order = append(order, po.ReportID)
		}
		report.Allocations = append(report.Allocations, &domain.CostAllocation{
			DepartmentID:  po.DepartmentID,
			AllocatedCost: po.AllocatedCost,
			Percentage:    po.Percentage,
			Basis:         domain.AllocationBasis(po.Basis),
			BasisValue:    po.BasisValue,
		})
	}

	reports := make([]*domain.AllocationReport, 0, len(order))
	for _, id := range order {
		reports = append(reports, byReport[id])
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].GeneratedAt.After(reports[j].GeneratedAt)
	})

	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}
