package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"aipool/internal/domain"
)

// DepartmentPO 部门持久化对象
//
// 组织结构由外部管理层维护；user_count 为各组成员数汇总，随成员变动更新。
type DepartmentPO struct {
	ID           string `gorm:"primaryKey;size:64"`
	EnterpriseID string `gorm:"size:64;not null;index:idx_department_enterprise"`
	Name         string `gorm:"size:100;not null"`
	UserCount    int    `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 表名
func (DepartmentPO) TableName() string {
	return "pool_engine.departments"
}

// DepartmentRepository 部门仓储实现
type DepartmentRepository struct {
	data *Data
	log  *log.Helper
}

// NewDepartmentRepo 创建部门仓储
func NewDepartmentRepo(data *Data, logger log.Logger) domain.DepartmentRepository {
	return &DepartmentRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ListByEnterprise 枚举企业部门
func (r *DepartmentRepository) ListByEnterprise(ctx context.Context, enterpriseID string) ([]*domain.Department, error) {
	var pos []DepartmentPO
	if err := r.data.db.WithContext(ctx).
		Where("enterprise_id = ?", enterpriseID).
		Order("id ASC").
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to list departments: %v", err)
		return nil, err
	}

	departments := make([]*domain.Department, len(pos))
	for i, po := range pos {
		departments[i] = &domain.Department{
			ID:           po.ID,
			EnterpriseID: po.EnterpriseID,
			Name:         po.Name,
			UserCount:    po.UserCount,
		}
	}
	return departments, nil
}
