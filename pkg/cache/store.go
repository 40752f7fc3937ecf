package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"go.uber.org/zap"
)

// 单次缓存操作的超时时间
const opTimeout = 2 * time.Second

// 健康检查往返超过该值视为降级
const slowRoundTrip = 100 * time.Millisecond

// Config 缓存配置，构造时确定
type Config struct {
	DefaultTTL     time.Duration
	MaxMemory      string
	EvictionPolicy string
	KeyPrefix      string
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		DefaultTTL:     time.Hour,
		MaxMemory:      "256mb",
		EvictionPolicy: "allkeys-lru",
	}
}

// Stats 缓存统计
type Stats struct {
	Enabled     bool    `json:"enabled"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	MissRate    float64 `json:"miss_rate"`
	KeyCount    int64   `json:"key_count"`
	MemoryUsage int64   `json:"memory_usage"`
}

// Store 命名空间缓存，所有操作都是cache-aside语义：后端故障只会退化为未命中/未写入
type Store struct {
	backend Backend
	cfg     Config
	logger  config.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New 创建缓存，backend为nil时缓存处于禁用状态
func New(backend Backend, cfg Config, logger config.Logger) *Store {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Store{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
	}
}

// Disabled 创建所有操作均为空操作的缓存
func Disabled(logger config.Logger) *Store {
	return New(nil, DefaultConfig(), logger)
}

// Enabled 缓存是否可用
func (s *Store) Enabled() bool {
	return s.backend != nil
}

// Config 返回缓存配置
func (s *Store) Config() Config {
	return s.cfg
}

// Set 序列化value并写入缓存，ttl<=0时使用默认TTL
func (s *Store) Set(ctx context.Context, namespace, identifier string, value any, ttl time.Duration, params Params) bool {
	if s.backend == nil {
		return false
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	data, err := Encode(value)
	if err != nil {
		s.logger.Warn("缓存值序列化失败",
			zap.String("namespace", namespace),
			zap.String("identifier", identifier),
			zap.Error(err))
		return false
	}

	key := s.key(namespace, identifier, params)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.backend.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn("写入缓存失败", zap.String("key", key), zap.Error(err))
		return false
	}

	s.logger.Debug("缓存写入成功", zap.String("key", key), zap.Duration("ttl", ttl))
	return true
}

// Get 读取缓存并解码到dest，返回false表示未命中
func (s *Store) Get(ctx context.Context, namespace, identifier string, dest any, params Params) bool {
	if s.backend == nil {
		return false
	}

	key := s.key(namespace, identifier, params)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("读取缓存失败", zap.String("key", key), zap.Error(err))
		s.misses.Add(1)
		return false
	}
	if !found {
		s.misses.Add(1)
		return false
	}

	if err := Decode(data, dest); err != nil {
		s.logger.Warn("缓存值反序列化失败", zap.String("key", key), zap.Error(err))
		s.misses.Add(1)
		return false
	}

	s.hits.Add(1)
	return true
}

// Delete 删除单个缓存条目
func (s *Store) Delete(ctx context.Context, namespace, identifier string, params Params) bool {
	if s.backend == nil {
		return false
	}

	key := s.key(namespace, identifier, params)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	deleted, err := s.backend.Delete(ctx, key)
	if err != nil {
		s.logger.Warn("删除缓存失败", zap.String("key", key), zap.Error(err))
		return false
	}
	return deleted
}

// InvalidateNamespace 删除命名空间下的所有条目，返回删除数量
func (s *Store) InvalidateNamespace(ctx context.Context, namespace string) int {
	if s.backend == nil {
		return 0
	}

	prefix := s.cfg.KeyPrefix + NamespacePrefix(namespace)
	count, err := s.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		s.logger.Warn("清理命名空间失败", zap.String("namespace", namespace), zap.Error(err))
		return count
	}

	s.logger.Info("命名空间缓存已清理", zap.String("namespace", namespace), zap.Int("count", count))
	return count
}

// Stats 返回命中率与后端统计
func (s *Store) Stats(ctx context.Context) Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	stats := Stats{
		Enabled: s.backend != nil,
		Hits:    hits,
		Misses:  misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
		stats.MissRate = float64(misses) / float64(total)
	}
	if s.backend == nil {
		return stats
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	info, err := s.backend.Info(ctx)
	if err != nil {
		s.logger.Warn("获取缓存后端统计失败", zap.Error(err))
		return stats
	}
	stats.KeyCount = info.KeyCount
	stats.MemoryUsage = info.MemoryBytes
	return stats
}

// HealthCheck 缓存自检：ping后写入、读取、删除哨兵key
func (s *Store) HealthCheck(ctx context.Context) (health.ProbeResult, error) {
	if s.backend == nil {
		return health.Unhealthy("cache disabled: backend unavailable"), nil
	}

	start := time.Now()
	if err := s.backend.Ping(ctx); err != nil {
		return health.ProbeResult{}, fmt.Errorf("cache ping failed: %w", err)
	}

	key := s.cfg.KeyPrefix + "__health__:" + start.Format(time.RFC3339Nano)
	if err := s.backend.Set(ctx, key, []byte("ok"), 10*time.Second); err != nil {
		return health.ProbeResult{}, fmt.Errorf("cache write failed: %w", err)
	}
	data, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return health.ProbeResult{}, fmt.Errorf("cache read failed: %w", err)
	}
	if _, err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("删除健康检查key失败", zap.String("key", key), zap.Error(err))
	}
	if !found || string(data) != "ok" {
		return health.Unhealthy("cache read-back mismatch"), nil
	}

	elapsed := time.Since(start)
	if elapsed > slowRoundTrip {
		return health.Degraded(fmt.Sprintf("cache round trip slow: %s", elapsed)), nil
	}
	return health.Healthy(fmt.Sprintf("cache round trip %s", elapsed)), nil
}

// Close 关闭后端
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) key(namespace, identifier string, params Params) string {
	return s.cfg.KeyPrefix + Key(namespace, identifier, params)
}
