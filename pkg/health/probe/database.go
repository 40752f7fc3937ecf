package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/hewenyu/docflow-perf/pkg/health"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDatabase 连接外部PostgreSQL数据库，仅用于健康探测
func OpenDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("数据库DSN为空")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	return db, nil
}

// Database 数据库连通性探针，连接池耗尽且有等待时视为降级
func Database(db *gorm.DB) health.Probe {
	return func(ctx context.Context) (health.ProbeResult, error) {
		if db == nil {
			return health.ProbeResult{}, errors.New("数据库未连接")
		}
		sqlDB, err := db.DB()
		if err != nil {
			return health.ProbeResult{}, fmt.Errorf("获取数据库连接池失败: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return health.ProbeResult{}, fmt.Errorf("数据库ping失败: %w", err)
		}

		stats := sqlDB.Stats()
		msg := fmt.Sprintf("open=%d in_use=%d idle=%d wait_count=%d",
			stats.OpenConnections, stats.InUse, stats.Idle, stats.WaitCount)
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return health.Degraded("connection pool exhausted: " + msg), nil
		}
		return health.Healthy(msg), nil
	}
}
