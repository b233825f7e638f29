package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"

	"aipool/internal/domain"
)

// BudgetPO 预算持久化对象
//
// 预算由外部管理层写入，引擎只读。
type BudgetPO struct {
	ID        string  `gorm:"primaryKey;size:64"`
	ScopeType string  `gorm:"size:20;not null;uniqueIndex:idx_budget_scope"`
	ScopeID   string  `gorm:"size:64;not null;uniqueIndex:idx_budget_scope"`
	Period    string  `gorm:"size:16;not null;uniqueIndex:idx_budget_scope"`
	LimitAmt  float64 `gorm:"column:limit_amount;type:decimal(12,2);not null"`
	Currency  string  `gorm:"size:8;not null;default:USD"`
	IsActive  bool    `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 表名
func (BudgetPO) TableName() string {
	return "pool_engine.budgets"
}

// BudgetRepository 预算仓储实现
type BudgetRepository struct {
	data *Data
	log  *log.Helper
}

// NewBudgetRepo 创建预算仓储
func NewBudgetRepo(data *Data, logger log.Logger) domain.BudgetRepository {
	return &BudgetRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Get 获取预算；未配置返回 ErrBudgetNotFound（上层按"无约束"处理）
func (r *BudgetRepository) Get(ctx context.Context, scopeType domain.ScopeType, scopeID string, period domain.BudgetPeriod) (*domain.Budget, error) {
	var po BudgetPO
	if err := r.data.db.WithContext(ctx).
		Where("scope_type = ? AND scope_id = ? AND period = ? AND is_active = ?",
			string(scopeType), scopeID, string(period), true).
		First(&po).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrBudgetNotFound
		}
		r.log.Errorf("failed to get budget: %v", err)
		return nil, err
	}

	return &domain.Budget{
		ID:        po.ID,
		ScopeType: domain.ScopeType(po.ScopeType),
		ScopeID:   po.ScopeID,
		Period:    domain.BudgetPeriod(po.Period),
		Limit:     po.LimitAmt,
		Currency:  po.Currency,
		IsActive:  po.IsActive,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}, nil
}
