package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 每轮SCAN返回的建议数量
const scanBatch = 500

// RedisConfig redis后端连接配置
type RedisConfig struct {
	Addr           string // host:port 或 redis:// URL
	Password       string
	DB             int
	MaxMemory      string
	EvictionPolicy string
}

// RedisBackend 基于redis的缓存后端
type RedisBackend struct {
	client *redis.Client
	logger config.Logger
}

// ConnectRedis 连接redis并尝试设置内存上限与淘汰策略
func ConnectRedis(ctx context.Context, cfg RedisConfig, logger config.Logger) (*RedisBackend, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("连接到redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接redis失败: %w", err)
	}

	// 托管redis通常禁用CONFIG命令，失败时只记录日志
	if cfg.MaxMemory != "" {
		if err := client.ConfigSet(pingCtx, "maxmemory", cfg.MaxMemory).Err(); err != nil {
			logger.Warn("设置redis maxmemory失败", zap.Error(err))
		}
	}
	if cfg.EvictionPolicy != "" {
		if err := client.ConfigSet(pingCtx, "maxmemory-policy", cfg.EvictionPolicy).Err(); err != nil {
			logger.Warn("设置redis淘汰策略失败", zap.Error(err))
		}
	}

	return &RedisBackend{client: client, logger: logger}, nil
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("解析redis地址失败: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// Client 返回底层redis客户端
func (r *RedisBackend) Client() *redis.Client {
	return r.client
}

// Get 读取key
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET失败: %w", err)
	}
	return data, true, nil
}

// Set 写入key
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET失败: %w", err)
	}
	return nil
}

// Delete 删除key
func (r *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis DEL失败: %w", err)
	}
	return n > 0, nil
}

// DeletePrefix 通过SCAN遍历前缀并批量删除
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := escapeGlob(prefix) + "*"
	var cursor uint64
	total := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return total, fmt.Errorf("redis SCAN失败: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return total, fmt.Errorf("redis DEL失败: %w", err)
			}
			total += int(n)
		}
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// Info 返回DBSIZE与used_memory
func (r *RedisBackend) Info(ctx context.Context) (BackendInfo, error) {
	size, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return BackendInfo{}, fmt.Errorf("redis DBSIZE失败: %w", err)
	}
	raw, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return BackendInfo{KeyCount: size}, fmt.Errorf("redis INFO失败: %w", err)
	}
	return BackendInfo{KeyCount: size, MemoryBytes: parseUsedMemory(raw)}, nil
}

// Ping 检查连通性
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (r *RedisBackend) Close() error {
	r.logger.Info("关闭redis连接")
	return r.client.Close()
}

// parseUsedMemory 从INFO memory输出中解析used_memory
func parseUsedMemory(info string) int64 {
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, "used_memory:")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// escapeGlob 转义redis MATCH模式中的特殊字符
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
