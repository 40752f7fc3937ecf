package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/hewenyu/docflow-perf/pkg/api/handler"
	"github.com/hewenyu/docflow-perf/pkg/api/router"
	"github.com/hewenyu/docflow-perf/pkg/cache"
	"github.com/hewenyu/docflow-perf/pkg/coordinator"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/hewenyu/docflow-perf/pkg/health/probe"
	"github.com/hewenyu/docflow-perf/pkg/metrics"
	"github.com/hewenyu/docflow-perf/pkg/ratelimit"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/gorm"
)

// 组件名称，同时作为gRPC健康检查的service名
const (
	ComponentCache       = "cache"
	ComponentCoordinator = "coordinator"
	ComponentSystem      = "system"
	ComponentDatabase    = "database"
	ComponentEtcd        = "etcd"
	ComponentDNS         = "dns"
)

// memoryCleanupInterval 内存缓存过期清理周期
const memoryCleanupInterval = time.Minute

// App 进程内唯一的组件集合，由命令行入口构造后向下传递
type App struct {
	cfg    *config.Config
	logger config.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	limiter   *ratelimit.Limiter
	store     *cache.Store
	memory    *cache.MemoryBackend
	coord     *coordinator.Coordinator
	monitor   *health.Monitor
	sinks     []health.AlertSink
	batching  *health.BatchingSink
	kafka     *health.KafkaSink
	bridge    *health.GRPCBridge

	grpcServer *grpc.Server
	httpServer *echo.Echo

	etcdClient *clientv3.Client
	db         *gorm.DB

	mu       sync.Mutex
	coreUp   bool
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	shutdown bool
}

// New 按配置构造所有组件，外部依赖连接失败时对应组件降级而不是退出
func New(ctx context.Context, cfg *config.Config, logger config.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 请求指标
	a.collector = metrics.NewCollector(cfg.Metrics.Capacity, cfg.Metrics.Window)
	if err := a.collector.Register(a.registry); err != nil {
		return nil, fmt.Errorf("注册请求指标失败: %w", err)
	}
	a.limiter = ratelimit.New(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window)

	// 缓存
	store, err := a.newStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	// 任务协调器
	coord, err := a.newCoordinator()
	if err != nil {
		return nil, err
	}
	a.coord = coord

	// 健康监控
	if err := a.newMonitor(); err != nil {
		return nil, err
	}

	a.httpServer = a.newHTTPServer()
	a.grpcServer = grpc.NewServer()
	a.bridge.Register(a.grpcServer)
	return a, nil
}

// newStore 根据cache.backend选择后端，连接失败时返回禁用的缓存
func (a *App) newStore(ctx context.Context) (*cache.Store, error) {
	cc := a.cfg.Cache
	storeCfg := cache.Config{
		DefaultTTL:     cc.DefaultTTL,
		MaxMemory:      cc.MaxMemory,
		EvictionPolicy: cc.EvictionPolicy,
		KeyPrefix:      cc.KeyPrefix,
	}
	logger := a.logger.Named("cache")

	switch cc.Backend {
	case "redis":
		backend, err := cache.ConnectRedis(ctx, cache.RedisConfig{
			Addr:           a.cfg.Redis.Addr,
			Password:       a.cfg.Redis.Password,
			DB:             a.cfg.Redis.DB,
			MaxMemory:      cc.MaxMemory,
			EvictionPolicy: cc.EvictionPolicy,
		}, logger)
		if err != nil {
			a.logger.Warn("连接redis失败，缓存已禁用", zap.String("addr", a.cfg.Redis.Addr), zap.Error(err))
			return cache.Disabled(logger), nil
		}
		return cache.New(backend, storeCfg, logger), nil

	case "etcd":
		backend, err := cache.ConnectEtcd(ctx, cache.EtcdConfig{
			Endpoints:   a.cfg.Etcd.Endpoints,
			Username:    a.cfg.Etcd.Username,
			Password:    a.cfg.Etcd.Password,
			DialTimeout: a.cfg.Etcd.DialTimeout,
			Scope:       cc.KeyPrefix,
		}, logger)
		if err != nil {
			a.logger.Warn("连接etcd失败，缓存已禁用", zap.Strings("endpoints", a.cfg.Etcd.Endpoints), zap.Error(err))
			return cache.Disabled(logger), nil
		}
		a.etcdClient = backend.Client()
		return cache.New(backend, storeCfg, logger), nil

	case "memory":
		a.memory = cache.NewMemoryBackend()
		return cache.New(a.memory, storeCfg, logger), nil

	case "none", "disabled":
		return cache.Disabled(logger), nil
	}
	return nil, fmt.Errorf("未知的缓存后端: %s", cc.Backend)
}

func (a *App) newCoordinator() (*coordinator.Coordinator, error) {
	cc := a.cfg.Coordinator
	executor, err := coordinator.NewExecutor(cc.Executor)
	if err != nil {
		return nil, err
	}

	opts := []coordinator.Option{
		coordinator.WithExecutor(executor),
		coordinator.WithMetrics(a.collector),
	}
	sampler, err := coordinator.NewProcessSampler()
	if err != nil {
		a.logger.Warn("创建进程资源采样器失败，资源统计为0", zap.Error(err))
	} else {
		opts = append(opts, coordinator.WithSampler(sampler))
	}

	coord := coordinator.New(coordinator.Config{
		Workers:         cc.Workers,
		QueueSize:       cc.QueueSize,
		SampleInterval:  cc.SampleInterval,
		DurationSamples: cc.DurationSamples,
	}, a.logger.Named("coordinator"), opts...)
	if err := coord.Register(a.registry); err != nil {
		return nil, fmt.Errorf("注册协调器指标失败: %w", err)
	}
	return coord, nil
}

// newMonitor 创建健康监控并注册所有探针与告警投递
func (a *App) newMonitor() error {
	hc := a.cfg.Health
	a.monitor = health.NewMonitor(health.MonitorConfig{
		ProbeTimeout:     hc.ProbeTimeout,
		HistorySize:      hc.HistorySize,
		FailureThreshold: hc.FailureThreshold,
		SlowThreshold:    hc.SlowThreshold,
	}, a.logger.Named("health"))

	type registration struct {
		name     string
		probe    health.Probe
		critical bool
	}
	regs := []registration{
		{ComponentCache, a.store.HealthCheck, false},
		{ComponentCoordinator, a.coord.Probe, true},
		{ComponentSystem, probe.System(probe.Thresholds{
			CPUWarn:        hc.CPUWarn,
			CPUCritical:    hc.CPUCritical,
			MemoryWarn:     hc.MemoryWarn,
			MemoryCritical: hc.MemoryCritical,
		}), false},
	}

	if dsn := a.cfg.Database.DSN; dsn != "" {
		db, err := probe.OpenDatabase(dsn)
		if err != nil {
			// 仍然注册探针，连接失败会持续体现为Unhealthy
			a.logger.Error("连接数据库失败", zap.Error(err))
		}
		a.db = db
		regs = append(regs, registration{ComponentDatabase, probe.Database(db), true})
	}
	if a.etcdClient != nil && len(a.cfg.Etcd.Endpoints) > 0 {
		regs = append(regs, registration{ComponentEtcd, probe.Etcd(a.etcdClient, a.cfg.Etcd.Endpoints[0]), false})
	}
	if dc := a.cfg.DNS; dc.Server != "" && dc.Name != "" {
		regs = append(regs, registration{ComponentDNS, probe.DNS(dc.Server, dc.Name, dc.Timeout), false})
	}

	for _, r := range regs {
		if err := a.monitor.Register(r.name, r.probe, r.critical); err != nil {
			return fmt.Errorf("注册健康探针失败: %w", err)
		}
	}

	// 告警投递
	a.sinks = []health.AlertSink{health.NewLogSink(a.logger.Named("alerts"))}
	if kc := a.cfg.Kafka; kc.Enabled && len(kc.Brokers) > 0 {
		a.kafka = health.NewKafkaSink(kc.Brokers, kc.Topic, a.logger.Named("kafka"))
		a.batching = health.NewBatchingSink(a.kafka, a.cfg.Batch.Size, a.cfg.Batch.FlushInterval, a.logger.Named("alerts"))
		a.sinks = append(a.sinks, a.batching)
	}

	a.bridge = health.NewGRPCBridge()
	a.monitor.OnStatus(a.bridge.Update)
	return nil
}

func (a *App) newHTTPServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// 添加中间件
	e.Use(middleware.Recover())
	e.Use(a.collector.Middleware())
	e.Use(a.limiter.Middleware())

	router.RegisterOpsRoutes(e, router.Handlers{
		Health:  handler.NewHealthHandler(a.monitor, a.cfg.Health.ProbeTimeout+5*time.Second),
		Metrics: handler.NewMetricsHandler(a.collector),
		Cache:   handler.NewCacheHandler(a.store),
		Tasks:   handler.NewTaskHandler(a.coord),
	}, a.registry)
	return e
}

// Store 返回共享缓存
func (a *App) Store() *cache.Store { return a.store }

// Coordinator 返回任务协调器
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Monitor 返回健康监控
func (a *App) Monitor() *health.Monitor { return a.monitor }

// Collector 返回请求指标收集器
func (a *App) Collector() *metrics.Collector { return a.collector }

// Limiter 返回运维API的限流器
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Handler 返回运维API的http处理器
func (a *App) Handler() http.Handler { return a.httpServer }

// startCore 启动worker池，重复调用无副作用
func (a *App) startCore(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coreUp {
		return nil
	}
	if err := a.coord.Start(ctx); err != nil {
		return fmt.Errorf("启动任务协调器失败: %w", err)
	}
	a.coreUp = true
	return nil
}

// Check 执行一次全量健康检查，不启动后台循环与服务端口
func (a *App) Check(ctx context.Context) (health.SystemStatus, error) {
	if err := a.startCore(ctx); err != nil {
		return health.SystemStatus{}, err
	}
	return a.monitor.CheckAll(ctx), nil
}

// Start 启动worker池、监控循环、运维API和gRPC健康服务，均不阻塞
func (a *App) Start(ctx context.Context) error {
	if err := a.startCore(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	if a.memory != nil {
		a.memory.StartCleanupRoutine(runCtx, memoryCleanupInterval)
	}
	if a.batching != nil {
		a.loops.Add(1)
		go func() {
			defer a.loops.Done()
			a.batching.Run(runCtx, time.Second)
		}()
	}
	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.monitor.Run(runCtx, a.cfg.Health.Interval, a.sinks...)
	}()

	if a.cfg.GRPC.Enabled {
		addr := fmt.Sprintf("%s:%d", a.cfg.GRPC.ListenAddress, a.cfg.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("监听gRPC端口失败: %w", err)
		}
		a.logger.Info("启动gRPC健康检查服务", zap.String("address", addr))
		go func() {
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				a.logger.Error("gRPC服务异常退出", zap.Error(err))
			}
		}()
	}

	// 启动服务（非阻塞）
	addr := fmt.Sprintf("%s:%d", a.cfg.API.ListenAddress, a.cfg.API.Port)
	a.logger.Info("启动运维API服务", zap.String("address", addr))
	go func() {
		if err := a.httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("运维API服务异常退出", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 依次停止对外服务、后台循环、worker池并关闭外部连接
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	cancel := a.cancel
	a.mu.Unlock()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("关闭运维API失败: %w", err))
	}
	a.bridge.Shutdown()
	a.grpcServer.GracefulStop()

	if cancel != nil {
		cancel()
	}
	a.loops.Wait()

	if err := a.coord.Shutdown(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("关闭任务协调器失败: %w", err))
	}

	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭kafka写入失败: %w", err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("关闭数据库连接失败: %w", err))
			}
		}
	}
	// etcd客户端归缓存后端所有，随缓存一起关闭
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭缓存失败: %w", err))
	}

	a.logger.Info("所有组件已关闭")
	return errors.Join(errs...)
}
