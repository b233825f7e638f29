package data

import (
	"context"
	"sort"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"aipool/internal/domain"
)

// AccountPoolPO 账号池持久化对象
type AccountPoolPO struct {
	ID                  string         `gorm:"primaryKey;size:64"`
	EnterpriseID        string         `gorm:"size:64;not null;index:idx_pool_enterprise"`
	Name                string         `gorm:"size:100;not null"`
	Description         string         `gorm:"size:500"`
	ServiceTypes        pq.StringArray `gorm:"type:text[]"`
	LoadBalanceStrategy string         `gorm:"size:32;not null;default:round_robin"`
	IsActive            bool           `gorm:"not null;default:true;index:idx_pool_active"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName 表名
func (AccountPoolPO) TableName() string {
	return "pool_engine.account_pools"
}

// GroupPoolBindingPO 组-池绑定持久化对象
type GroupPoolBindingPO struct {
	ID                string `gorm:"primaryKey;size:64"`
	GroupID           string `gorm:"size:64;not null;uniqueIndex:idx_group_pool,where:is_active"`
	PoolID            string `gorm:"size:64;not null;uniqueIndex:idx_group_pool,where:is_active"`
	Priority          int    `gorm:"not null;default:100"`
	BindingType       string `gorm:"size:32"`
	UsageLimitHourly  int64  `gorm:"not null;default:0"`
	UsageLimitDaily   int64  `gorm:"not null;default:0"`
	UsageLimitMonthly int64  `gorm:"not null;default:0"`
	IsActive          bool   `gorm:"not null;default:true"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName 表名
func (GroupPoolBindingPO) TableName() string {
	return "pool_engine.group_pool_bindings"
}

// AccountBindingPO 池-账号绑定持久化对象
type AccountBindingPO struct {
	ID                string  `gorm:"primaryKey;size:64"`
	PoolID            string  `gorm:"size:64;not null;index:idx_binding_pool"`
	AccountID         string  `gorm:"size:64;not null"`
	Weight            int     `gorm:"not null;default:1"`
	MaxLoadPercentage float64 `gorm:"not null;default:0"`
	CreatedAt         time.Time
}

// TableName 表名
func (AccountBindingPO) TableName() string {
	return "pool_engine.account_bindings"
}

// PoolRepository 账号池仓储实现
type PoolRepository struct {
	data *Data
	log  *log.Helper
}

// NewPoolRepo 创建账号池仓储
func NewPoolRepo(data *Data, logger log.Logger) domain.PoolRepository {
	return &PoolRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetPool 获取池
func (r *PoolRepository) GetPool(ctx context.Context, poolID string) (*domain.AccountPool, error) {
	var po AccountPoolPO
	if err := r.data.db.WithContext(ctx).Where("id = ?", poolID).First(&po).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrPoolNotFound
		}
		r.log.Errorf("failed to get pool: %v", err)
		return nil, err
	}
	return r.toDomainPool(&po), nil
}

// ListActiveBindings 获取组的生效绑定，按priority升序
func (r *PoolRepository) ListActiveBindings(ctx context.Context, groupID string) ([]*domain.GroupPoolBinding, error) {
	var pos []GroupPoolBindingPO
	if err := r.data.db.WithContext(ctx).
		Where("group_id = ? AND is_active = ?", groupID, true).
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to list group bindings: %v", err)
		return nil, err
	}

	bindings := make([]*domain.GroupPoolBinding, len(pos))
	for i, po := range pos {
		bindings[i] = r.toDomainGroupBinding(&po)
	}
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Priority < bindings[j].Priority
	})
	return bindings, nil
}

// ListAccountBindings 获取池的账号绑定
func (r *PoolRepository) ListAccountBindings(ctx context.Context, poolID string) ([]*domain.AccountBinding, error) {
	var pos []AccountBindingPO
	if err := r.data.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to list account bindings: %v", err)
		return nil, err
	}

	bindings := make([]*domain.AccountBinding, len(pos))
	for i, po := range pos {
		bindings[i] = &domain.AccountBinding{
			ID:                po.ID,
			PoolID:            po.PoolID,
			AccountID:         po.AccountID,
			Weight:            po.Weight,
			MaxLoadPercentage: po.MaxLoadPercentage,
			CreatedAt:         po.CreatedAt,
		}
	}
	return bindings, nil
}

// ListEnterpriseIDs 枚举拥有活跃池的企业
func (r *PoolRepository) ListEnterpriseIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.data.db.WithContext(ctx).
		Model(&AccountPoolPO{}).
		Where("is_active = ?", true).
		Distinct("enterprise_id").
		Pluck("enterprise_id", &ids).Error; err != nil {
		r.log.Errorf("failed to list enterprise ids: %v", err)
		return nil, err
	}
	return ids, nil
}

// toDomainPool 转换为领域对象
func (r *PoolRepository) toDomainPool(po *AccountPoolPO) *domain.AccountPool {
	return &domain.AccountPool{
		ID:                  po.ID,
		EnterpriseID:        po.EnterpriseID,
		Name:                po.Name,
		Description:         po.Description,
		ServiceTypes:        []string(po.ServiceTypes),
		LoadBalanceStrategy: domain.LoadBalanceStrategy(po.LoadBalanceStrategy),
		IsActive:            po.IsActive,
		CreatedAt:           po.CreatedAt,
		UpdatedAt:           po.UpdatedAt,
	}
}

// toDomainGroupBinding 转换为领域对象
func (r *PoolRepository) toDomainGroupBinding(po *GroupPoolBindingPO) *domain.GroupPoolBinding {
	return &domain.GroupPoolBinding{
		ID:                po.ID,
		GroupID:           po.GroupID,
		PoolID:            po.PoolID,
		Priority:          po.Priority,
		BindingType:       po.BindingType,
		UsageLimitHourly:  po.UsageLimitHourly,
		UsageLimitDaily:   po.UsageLimitDaily,
		UsageLimitMonthly: po.UsageLimitMonthly,
		IsActive:          po.IsActive,
		CreatedAt:         po.CreatedAt,
		UpdatedAt:         po.UpdatedAt,
	}
}
