package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdConfig etcd后端连接配置
type EtcdConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	// Scope 统计key数量时使用的前缀，通常等于缓存的KeyPrefix
	Scope string
}

// EtcdBackend 基于etcd的缓存后端，TTL通过租约实现
type EtcdBackend struct {
	client *clientv3.Client
	cfg    EtcdConfig
	logger config.Logger
}

// ConnectEtcd 连接etcd集群并检查状态
func ConnectEtcd(ctx context.Context, cfg EtcdConfig, logger config.Logger) (*EtcdBackend, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints为空")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	logger.Info("连接到etcd集群", zap.Strings("endpoints", cfg.Endpoints))
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("连接etcd失败: %w", err)
	}

	b := &EtcdBackend{client: client, cfg: cfg, logger: logger}
	if err := b.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

// NewEtcdBackend 使用已有的etcd客户端创建后端
func NewEtcdBackend(client *clientv3.Client, cfg EtcdConfig, logger config.Logger) *EtcdBackend {
	return &EtcdBackend{client: client, cfg: cfg, logger: logger}
}

// Client 返回底层etcd客户端
func (e *EtcdBackend) Client() *clientv3.Client {
	return e.client
}

// Get 读取key
func (e *EtcdBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("从etcd获取数据失败: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// Set 写入key并绑定租约
func (e *EtcdBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// etcd租约最小粒度为秒
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	lease, err := e.client.Grant(ctx, seconds)
	if err != nil {
		return fmt.Errorf("创建etcd租约失败: %w", err)
	}
	if _, err := e.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("写入etcd失败: %w", err)
	}
	return nil
}

// Delete 删除key
func (e *EtcdBackend) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := e.client.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("从etcd删除数据失败: %w", err)
	}
	return resp.Deleted > 0, nil
}

// DeletePrefix 删除前缀下所有key
func (e *EtcdBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	resp, err := e.client.Delete(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("从etcd删除前缀失败: %w", err)
	}
	return int(resp.Deleted), nil
}

// Info 统计Scope下的key数量与数据库大小
func (e *EtcdBackend) Info(ctx context.Context) (BackendInfo, error) {
	var opts []clientv3.OpOption
	key := e.cfg.Scope
	if key == "" {
		key = "\x00"
		opts = append(opts, clientv3.WithFromKey())
	} else {
		opts = append(opts, clientv3.WithPrefix())
	}
	opts = append(opts, clientv3.WithCountOnly())

	resp, err := e.client.Get(ctx, key, opts...)
	if err != nil {
		return BackendInfo{}, fmt.Errorf("统计etcd key失败: %w", err)
	}

	status, err := e.client.Status(ctx, e.cfg.Endpoints[0])
	if err != nil {
		return BackendInfo{KeyCount: resp.Count}, fmt.Errorf("获取etcd状态失败: %w", err)
	}
	return BackendInfo{KeyCount: resp.Count, MemoryBytes: status.DbSize}, nil
}

// Ping 检查etcd集群状态
func (e *EtcdBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := e.client.Status(ctx, e.cfg.Endpoints[0]); err != nil {
		return fmt.Errorf("etcd健康检查失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (e *EtcdBackend) Close() error {
	e.logger.Info("关闭etcd连接")
	return e.client.Close()
}
