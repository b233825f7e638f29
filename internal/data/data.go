package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"aipool/internal/conf"
	"aipool/pkg/cache"
	"aipool/pkg/database"
)

// Data 数据访问层
type Data struct {
	db    *gorm.DB
	store cache.Store
}

// NewData 创建Data实例
func NewData(db *gorm.DB, store cache.Store, logger log.Logger) (*Data, func(), error) {
	cleanup := func() {
		helper := log.NewHelper(logger)
		helper.Info("closing the data resources")

		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}

		if store != nil {
			store.Close()
		}
	}
	return &Data{
		db:    db,
		store: store,
	}, cleanup, nil
}

// NewDB 创建数据库连接
func NewDB(cfg *conf.Config, logger log.Logger) (*gorm.DB, error) {
	return database.NewDB(&database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
}

// NewStore 创建缓存存储
//
// Redis连不上时降级为进程内缓存，引擎照常工作，只是计数器不再跨实例共享。
func NewStore(cfg *conf.Config, logger log.Logger) cache.Store {
	helper := log.NewHelper(logger)

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		helper.Warnf("redis unavailable, falling back to in-process store: %v", err)
		client.Close()
		return cache.NewMemoryStore()
	}

	helper.Info("redis store connected")
	return cache.NewRedisStore(client, "aipool")
}
