package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"aipool/internal/domain"
)

// AlertRulePO 告警规则持久化对象
type AlertRulePO struct {
	ID           string `gorm:"primaryKey;size:64"`
	EnterpriseID string `gorm:"size:64;not null;index:idx_rule_enterprise"`
	Name         string `gorm:"size:100;not null"`
	Type         string `gorm:"size:32;not null"`
	Condition    string `gorm:"type:jsonb;not null"`
	Actions      string `gorm:"type:jsonb;not null"`
	IsEnabled    bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 表名
func (AlertRulePO) TableName() string {
	return "pool_engine.alert_rules"
}

// AlertRuleRepository 告警规则仓储实现
type AlertRuleRepository struct {
	data *Data
	log  *log.Helper
}

// NewAlertRuleRepo 创建告警规则仓储
func NewAlertRuleRepo(data *Data, logger log.Logger) domain.AlertRuleRepository {
	return &AlertRuleRepository{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ListByEnterprise 枚举企业的启用规则
func (r *AlertRuleRepository) ListByEnterprise(ctx context.Context, enterpriseID string) ([]*domain.AlertRule, error) {
	var pos []AlertRulePO
	if err := r.data.db.WithContext(ctx).
		Where("enterprise_id = ? AND is_enabled = ?", enterpriseID, true).
		Find(&pos).Error; err != nil {
		r.log.Errorf("failed to list alert rules: %v", err)
		return nil, err
	}

	rules := make([]*domain.AlertRule, 0, len(pos))
	for _, po := range pos {
		rule, err := r.toDomainRule(&po)
		if err != nil {
			// 坏行跳过，不让单条脏数据拖垮整轮评估
			r.log.Warnf("skipping malformed alert rule %s: %v", po.ID, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// CreateBatch 批量创建规则（默认规则种子）
func (r *AlertRuleRepository) CreateBatch(ctx context.Context, rules []*domain.AlertRule) error {
	if len(rules) == 0 {
		return nil
	}

	pos := make([]*AlertRulePO, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		condition, err := json.Marshal(rule.Condition)
		if err != nil {
			return err
		}
		actions, err := json.Marshal(rule.Actions)
		if err != nil {
			return err
		}
		pos[i] = &AlertRulePO{
			ID:           rule.ID,
			EnterpriseID: rule.EnterpriseID,
			Name:         rule.Name,
			Type:         string(rule.Type),
			Condition:    string(condition),
			Actions:      string(actions),
			IsEnabled:    rule.IsEnabled,
		}
	}

	if err := r.data.db.WithContext(ctx).Create(&pos).Error; err != nil {
		r.log.Errorf("failed to create alert rules: %v", err)
		return err
	}
	return nil
}

// toDomainRule 转换为领域对象
func (r *AlertRuleRepository) toDomainRule(po *AlertRulePO) (*domain.AlertRule, error) {
	var condition domain.AlertCondition
	if err := json.Unmarshal([]byte(po.Condition), &condition); err != nil {
		return nil, err
	}
	var actions domain.AlertActions
	if err := json.Unmarshal([]byte(po.Actions), &actions); err != nil {
		return nil, err
	}

	return &domain.AlertRule{
		ID:           po.ID,
		EnterpriseID: po.EnterpriseID,
		Name:         po.Name,
		Type:         domain.AlertRuleType(po.Type),
		Condition:    condition,
		Actions:      actions,
		IsEnabled:    po.IsEnabled,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
	}, nil
}
