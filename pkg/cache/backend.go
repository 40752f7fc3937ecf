package cache

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable 后端未连接或不可达
var ErrBackendUnavailable = errors.New("cache backend unavailable")

// BackendInfo 后端统计信息
type BackendInfo struct {
	KeyCount    int64
	MemoryBytes int64
}

// Backend 缓存的外部存储，负责TTL过期和容量淘汰
type Backend interface {
	// Get 命中返回(value, true, nil)，未命中返回(nil, false, nil)
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set 写入带TTL的值
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete 删除key，返回是否确实删除
	Delete(ctx context.Context, key string) (bool, error)

	// DeletePrefix 删除所有以prefix开头的key，返回删除数量
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Info 返回key数量与内存占用
	Info(ctx context.Context) (BackendInfo, error)

	// Ping 检查后端连通性
	Ping(ctx context.Context) error

	// Close 释放连接
	Close() error
}
