package main

import (
	"go.uber.org/zap"

	kratoslog "github.com/go-kratos/kratos/v2/log"

	"aipool/internal/biz"
	"aipool/internal/conf"
	"aipool/internal/server"
	"aipool/pkg/events"
	"aipool/pkg/logging"
)

// App 应用聚合
type App struct {
	HTTPServer    *server.HTTPServer
	HealthChecker *biz.HealthChecker
	AlertManager  *biz.AlertManager
	CostAllocator *biz.CostAllocator
}

// NewApp 组装应用
func NewApp(
	httpServer *server.HTTPServer,
	healthChecker *biz.HealthChecker,
	alertManager *biz.AlertManager,
	costAllocator *biz.CostAllocator,
) *App {
	return &App{
		HTTPServer:    httpServer,
		HealthChecker: healthChecker,
		AlertManager:  alertManager,
		CostAllocator: costAllocator,
	}
}

// newKratosLogger zap 到 kratos 日志的桥接
func newKratosLogger(logger *zap.Logger) kratoslog.Logger {
	return logging.NewZapLogger(logger)
}

// newProber 健康探测器
func newProber(cfg *conf.Config) biz.Prober {
	return biz.NewHTTPProber(cfg.Health.ProbeTimeout)
}

// newPublisher 事件发布器
//
// Kafka 未启用或连接失败时退化为空实现，告警仍走日志与webhook。
func newPublisher(cfg *conf.Config, logger kratoslog.Logger) (events.Publisher, func()) {
	helper := kratoslog.NewHelper(logger)

	if !cfg.Kafka.Enabled {
		return events.NopPublisher{}, func() {}
	}

	publisher, err := events.NewKafkaPublisher(&events.PublisherConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})
	if err != nil {
		helper.Warnf("kafka unavailable, events disabled: %v", err)
		return events.NopPublisher{}, func() {}
	}

	helper.Info("kafka publisher connected")
	return publisher, func() { publisher.Close() }
}
