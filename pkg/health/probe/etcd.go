package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/hewenyu/docflow-perf/pkg/health"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd etcd节点状态探针
func Etcd(client *clientv3.Client, endpoint string) health.Probe {
	return func(ctx context.Context) (health.ProbeResult, error) {
		if client == nil {
			return health.ProbeResult{}, errors.New("etcd客户端未连接")
		}

		status, err := client.Status(ctx, endpoint)
		if err != nil {
			return health.ProbeResult{}, fmt.Errorf("etcd健康检查失败: %w", err)
		}

		msg := fmt.Sprintf("version=%s leader=%x db_size=%d", status.Version, status.Leader, status.DbSize)
		if len(status.Errors) > 0 {
			return health.Degraded(fmt.Sprintf("%s errors=%v", msg, status.Errors)), nil
		}
		if status.Leader == 0 {
			return health.Unhealthy("etcd has no leader: " + msg), nil
		}
		return health.Healthy(msg), nil
	}
}
