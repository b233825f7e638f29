package domain

import "errors"

var (
	// ErrPoolNotFound 池不存在
	ErrPoolNotFound = errors.New("account pool not found")
	// ErrAccountNotFound 账号不存在
	ErrAccountNotFound = errors.New("ai service account not found")
	// ErrBudgetNotFound 预算未配置
	ErrBudgetNotFound = errors.New("budget not found")
	// ErrRuleNotFound 告警规则不存在
	ErrRuleNotFound = errors.New("alert rule not found")
	// ErrNoDepartments 企业下没有部门
	ErrNoDepartments = errors.New("no departments for enterprise")
	// ErrInvalidAllocationRule 非法分摊规则
	ErrInvalidAllocationRule = errors.New("invalid allocation rule")
	// ErrInvalidPeriod 非法周期
	ErrInvalidPeriod = errors.New("invalid period")
)
