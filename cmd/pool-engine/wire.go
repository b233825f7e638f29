//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
	"go.uber.org/zap"

	"aipool/internal/biz"
	"aipool/internal/conf"
	"aipool/internal/data"
	"aipool/internal/server"
	"aipool/internal/service"
)

// initApp 初始化应用
func initApp(config *conf.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(
		newKratosLogger,
		newProber,
		newPublisher,

		// Data 层
		data.NewDB,
		data.NewStore,
		data.NewData,
		data.NewPoolRepo,
		data.NewAccountRepo,
		data.NewUsageRepo,
		data.NewMetricRepo,
		data.NewBudgetRepo,
		data.NewAllocationRepo,
		data.NewAlertRuleRepo,
		data.NewDepartmentRepo,

		// Biz 层
		biz.NewHealthChecker,
		biz.NewAllocator,
		biz.NewCostTracker,
		biz.NewCostAllocator,
		biz.NewAlertManager,
		wire.Bind(new(biz.HealthSource), new(*biz.HealthChecker)),
		wire.Bind(new(biz.BudgetSource), new(*biz.CostTracker)),

		// Service 层
		service.NewPoolEngineService,

		// Server 层
		server.NewHTTPServer,

		NewApp,
	)
	return nil, nil, nil
}
