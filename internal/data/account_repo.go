package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"

	"aipool/internal/domain"
)

// AiServiceAccountPO AI服务账号持久化对象
type AiServiceAccountPO struct {
	ID           string `gorm:"primaryKey;size:64"`
	EnterpriseID string `gorm:"size:64;not null;index:idx_account_enterprise"`
	Name         string `gorm:"size:100;not null"`
	ServiceType  string `gorm:"size:50;not null;index:idx_account_service_type"`
	Endpoint     string `gorm:"size:500;not null"`
	APIKey       string `gorm:"size:500"`
	Status       string `gorm:"size:20;not null;default:active"`
	IsEnabled    bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 表名
func (AiServiceAccountPO) TableName() string {
	return "pool_engine.ai_service_accounts"
}

// AccountRepository 账号仓储实现
type AccountRepository struct {
	data *Data
	log  *log.Helper
}

// NewAccountRepo 创建账号仓储
func NewAccountRepo(data *Data, logger log.Logger) domain.AccountRepository {
	return &AccountRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetAccount 获取账号
func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (*domain.AiServiceAccount, error) {
	var po AiServiceAccountPO
	if err := r.data.db.WithContext(ctx).Where("id = ?", accountID).First(&po).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrAccountNotFound
		}
		r.log.Errorf("failed to get account: %v", err)
		return nil, err
	}
	return r.toDomainAccount(&po), nil
}

// ListMonitored 获取受监控账号（启用且活跃）
func (r *AccountRepository) ListMonitored(ctx context.Context) ([]*domain.AiServiceAccount, error) {
	var pos []AiServiceAccountPO
	if err := r.data.db.WithContext(ctx).
		Where("is_enabled = ? AND status = ?", true, string(domain.AccountStatusActive)).
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to list monitored accounts: %v", err)
		return nil, err
	}

	accounts := make([]*domain.AiServiceAccount, len(pos))
	for i, po := range pos {
		accounts[i] = r.toDomainAccount(&po)
	}
	return accounts, nil
}

// ListByEnterprise 按企业枚举账号
func (r *AccountRepository) ListByEnterprise(ctx context.Context, enterpriseID string) ([]*domain.AiServiceAccount, error) {
	var pos []AiServiceAccountPO
	if err := r.data.db.WithContext(ctx).
		Where("enterprise_id = ?", enterpriseID).
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to list accounts by enterprise: %v", err)
		return nil, err
	}

	accounts := make([]*domain.AiServiceAccount, len(pos))
	for i, po := range pos {
		accounts[i] = r.toDomainAccount(&po)
	}
	return accounts, nil
}

// SetEnabled 启用/停用账号（告警disable动作使用）
func (r *AccountRepository) SetEnabled(ctx context.Context, accountID string, enabled bool) error {
	result := r.data.db.WithContext(ctx).
		Model(&AiServiceAccountPO{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"is_enabled": enabled,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		r.log.Errorf("failed to set account enabled=%v: %v", enabled, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// toDomainAccount 转换为领域对象
func (r *AccountRepository) toDomainAccount(po *AiServiceAccountPO) *domain.AiServiceAccount {
	return &domain.AiServiceAccount{
		ID:           po.ID,
		EnterpriseID: po.EnterpriseID,
		Name:         po.Name,
		ServiceType:  po.ServiceType,
		Endpoint:     po.Endpoint,
		APIKey:       po.APIKey,
		Status:       domain.AccountStatus(po.Status),
		IsEnabled:    po.IsEnabled,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
	}
}
