package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// MemoryStore 进程内缓存实现
//
// Redis不可用时的兜底，也用于单元测试。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // 零值表示不过期
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStore 创建进程内缓存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) get(key string) (*memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// Get 获取缓存值
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(key)
	if !ok {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

// Set 设置缓存值
func (s *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Delete 删除缓存
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// GetObject 获取对象
func (s *MemoryStore) GetObject(ctx context.Context, key string, dest interface{}) error {
	val, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// SetObject 设置对象
func (s *MemoryStore) SetObject(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data), ttl)
}

// Incr 原子自增带过期
func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if e, ok := s.get(key); ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
		n++
		e.value = strconv.FormatInt(n, 10)
		return n, nil
	}

	n = 1
	e := &memoryEntry{value: "1"}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return n, nil
}

// IncrByFloat 原子浮点累加带过期
func (s *MemoryStore) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f float64
	if e, ok := s.get(key); ok {
		f, _ = strconv.ParseFloat(e.value, 64)
		f += delta
		e.value = strconv.FormatFloat(f, 'f', -1, 64)
		return f, nil
	}

	f = delta
	e := &memoryEntry{value: strconv.FormatFloat(f, 'f', -1, 64)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return f, nil
}

// GetInt64 读取整型计数器
func (s *MemoryStore) GetInt64(ctx context.Context, key string) (int64, error) {
	val, err := s.Get(ctx, key)
	if err == ErrCacheMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// GetFloat 读取浮点计数器
func (s *MemoryStore) GetFloat(ctx context.Context, key string) (float64, error) {
	val, err := s.Get(ctx, key)
	if err == ErrCacheMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(val, 64)
}

// Close 关闭
func (s *MemoryStore) Close() error {
	return nil
}
