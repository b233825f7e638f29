package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache: key not found")

// Store 缓存与计数器存储接口
//
// 计数器必须是原子自增带过期，禁止读-改-写，避免并发丢更新。
type Store interface {
	// Get 获取缓存值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置缓存值
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error

	// GetObject 获取对象（JSON反序列化）
	GetObject(ctx context.Context, key string, dest interface{}) error

	// SetObject 设置对象（JSON序列化）
	SetObject(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Incr 原子自增，首次创建时设置过期
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrByFloat 原子浮点累加，首次创建时设置过期
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)

	// GetInt64 读取整型计数器，缺失返回0
	GetInt64(ctx context.Context, key string) (int64, error)

	// GetFloat 读取浮点计数器，缺失返回0
	GetFloat(ctx context.Context, key string) (float64, error)

	// Close 关闭连接
	Close() error
}
