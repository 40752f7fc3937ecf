package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// 缓存配置
	Cache struct {
		Backend        string        `mapstructure:"backend"` // "redis", "etcd", 或 "memory"
		KeyPrefix      string        `mapstructure:"key_prefix"`
		DefaultTTL     time.Duration `mapstructure:"default_ttl"`
		MaxMemory      string        `mapstructure:"max_memory"`
		EvictionPolicy string        `mapstructure:"eviction_policy"`
	} `mapstructure:"cache"`

	// redis配置
	Redis struct {
		Addr     string `mapstructure:"addr"` // host:port 或 redis:// URL
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	// etcd配置
	Etcd struct {
		Endpoints   []string      `mapstructure:"endpoints"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
	} `mapstructure:"etcd"`

	// 任务协调器配置
	Coordinator struct {
		Workers         int           `mapstructure:"workers"` // 0 表示使用CPU核数
		QueueSize       int           `mapstructure:"queue_size"`
		Executor        string        `mapstructure:"executor"` // "direct" 或 "locked_thread"
		SampleInterval  time.Duration `mapstructure:"sample_interval"`
		DurationSamples int           `mapstructure:"duration_samples"`
	} `mapstructure:"coordinator"`

	// 健康监控配置
	Health struct {
		Interval         time.Duration `mapstructure:"interval"`
		ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
		HistorySize      int           `mapstructure:"history_size"`
		FailureThreshold int           `mapstructure:"failure_threshold"`
		SlowThreshold    time.Duration `mapstructure:"slow_threshold"`
		CPUWarn          float64       `mapstructure:"cpu_warn"`
		CPUCritical      float64       `mapstructure:"cpu_critical"`
		MemoryWarn       float64       `mapstructure:"memory_warn"`
		MemoryCritical   float64       `mapstructure:"memory_critical"`
	} `mapstructure:"health"`

	// 请求指标配置
	Metrics struct {
		Capacity int `mapstructure:"capacity"`
		Window   int `mapstructure:"window"`
	} `mapstructure:"metrics"`

	// 限流配置
	RateLimit struct {
		MaxCalls int           `mapstructure:"max_calls"`
		Window   time.Duration `mapstructure:"window"`
	} `mapstructure:"ratelimit"`

	// 批量聚合配置
	Batch struct {
		Size          int           `mapstructure:"size"`
		FlushInterval time.Duration `mapstructure:"flush_interval"`
	} `mapstructure:"batch"`

	// 运维API配置
	API struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// gRPC健康检查服务配置
	GRPC struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"grpc"`

	// 告警投递到kafka
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	// 外部数据库探针
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	// DNS可达性探针
	DNS struct {
		Server  string        `mapstructure:"server"`
		Name    string        `mapstructure:"name"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"dns"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.docflow-perf")
		v.AddConfigPath("/etc/docflow-perf")
	}
	v.SetConfigType("yaml")

	// 找不到默认配置文件时使用默认值；其他错误返回
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("DOCFLOW_PERF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 缓存默认配置
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.key_prefix", "docflow:")
	v.SetDefault("cache.default_ttl", time.Hour)
	v.SetDefault("cache.max_memory", "256mb")
	v.SetDefault("cache.eviction_policy", "allkeys-lru")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	// 任务协调器默认配置
	v.SetDefault("coordinator.workers", 0)
	v.SetDefault("coordinator.queue_size", 1000)
	v.SetDefault("coordinator.executor", "direct")
	v.SetDefault("coordinator.sample_interval", 30*time.Second)
	v.SetDefault("coordinator.duration_samples", 1000)

	// 健康监控默认配置
	v.SetDefault("health.interval", time.Minute)
	v.SetDefault("health.probe_timeout", 10*time.Second)
	v.SetDefault("health.history_size", 100)
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.slow_threshold", 5*time.Second)
	v.SetDefault("health.cpu_warn", 75.0)
	v.SetDefault("health.cpu_critical", 90.0)
	v.SetDefault("health.memory_warn", 80.0)
	v.SetDefault("health.memory_critical", 95.0)

	v.SetDefault("metrics.capacity", 1000)
	v.SetDefault("metrics.window", 100)

	v.SetDefault("ratelimit.max_calls", 100)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("batch.size", 32)
	v.SetDefault("batch.flush_interval", 5*time.Second)

	// API服务默认配置
	v.SetDefault("api.listen_address", "0.0.0.0")
	v.SetDefault("api.port", 8090)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.listen_address", "0.0.0.0")
	v.SetDefault("grpc.port", 9091)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "docflow.health.alerts")

	v.SetDefault("database.dsn", "")

	v.SetDefault("dns.server", "")
	v.SetDefault("dns.name", "")
	v.SetDefault("dns.timeout", 2*time.Second)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("cache.backend", "DOCFLOW_PERF_CACHE_BACKEND")
	v.BindEnv("redis.addr", "DOCFLOW_PERF_REDIS_ADDR")
	v.BindEnv("etcd.endpoints", "DOCFLOW_PERF_ETCD_ENDPOINTS")
	v.BindEnv("coordinator.workers", "DOCFLOW_PERF_WORKERS")
	v.BindEnv("api.port", "DOCFLOW_PERF_API_PORT")
	v.BindEnv("database.dsn", "DOCFLOW_PERF_DATABASE_URL")
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.docflow-perf/config.yaml",
		"/etc/docflow-perf/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
