package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryBackend 进程内缓存后端，用于单实例部署与测试
type MemoryBackend struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	maxEntries int
	now        func() time.Time
}

// memoryEntry 表示缓存中的一条记录
type memoryEntry struct {
	value    []byte
	expireAt time.Time
}

// MemoryOption 内存后端选项
type MemoryOption func(*MemoryBackend)

// WithMaxEntries 限制条目数量，超出时淘汰最早过期的条目
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryBackend) {
		m.maxEntries = n
	}
}

// WithMemoryClock 替换时间源
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) {
		m.now = now
	}
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get 读取未过期的条目
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, found := m.entries[key]
	m.mu.RUnlock()
	if !found {
		return nil, false, nil
	}

	// 检查是否过期
	if m.now().After(entry.expireAt) {
		m.deleteExpired(key)
		return nil, false, nil
	}

	// 返回副本避免调用方修改
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Set 写入条目
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictLocked()
	}
	m.entries[key] = &memoryEntry{
		value:    stored,
		expireAt: m.now().Add(ttl),
	}
	return nil
}

// Delete 删除条目
func (m *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.entries[key]; !found {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// DeletePrefix 删除所有匹配前缀的条目
func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			count++
		}
	}
	return count, nil
}

// Info 返回条目数量与值占用的字节数
func (m *MemoryBackend) Info(_ context.Context) (BackendInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := BackendInfo{KeyCount: int64(len(m.entries))}
	for key, entry := range m.entries {
		info.MemoryBytes += int64(len(key) + len(entry.value))
	}
	return info, nil
}

// Ping 内存后端始终可用
func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}

// Close 清空所有条目
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	return nil
}

// CleanupExpired 清理所有过期条目
func (m *MemoryBackend) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for key, entry := range m.entries {
		if now.After(entry.expireAt) {
			delete(m.entries, key)
			count++
		}
	}
	return count
}

// StartCleanupRoutine 启动定期清理过期条目的协程，ctx取消后退出
func (m *MemoryBackend) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}

// deleteExpired 删除过期记录
func (m *MemoryBackend) deleteExpired(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 再次检查，获取锁期间可能已被更新
	entry, found := m.entries[key]
	if found && m.now().After(entry.expireAt) {
		delete(m.entries, key)
	}
}

// evictLocked 淘汰最早过期的条目，调用方需持有写锁
func (m *MemoryBackend) evictLocked() {
	var victim string
	var earliest time.Time
	for key, entry := range m.entries {
		if victim == "" || entry.expireAt.Before(earliest) {
			victim = key
			earliest = entry.expireAt
		}
	}
	if victim != "" {
		delete(m.entries, victim)
	}
}
