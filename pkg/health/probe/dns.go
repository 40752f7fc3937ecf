package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/miekg/dns"
)

// DNS 解析探针：向server查询name的A记录
//
// 有应答为Healthy，NXDOMAIN或空应答为Degraded，其他响应码为Unhealthy，网络错误返回error。
func DNS(server, name string, timeout time.Duration) health.Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := &dns.Client{
		Net:     "udp",
		Timeout: timeout,
	}

	return func(ctx context.Context) (health.ProbeResult, error) {
		req := new(dns.Msg)
		req.SetQuestion(dns.Fqdn(name), dns.TypeA)
		req.RecursionDesired = true

		resp, rtt, err := client.ExchangeContext(ctx, req, server)
		if err != nil {
			return health.ProbeResult{}, fmt.Errorf("DNS查询%s失败: %w", name, err)
		}

		rcode := dns.RcodeToString[resp.Rcode]
		switch {
		case resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0:
			return health.Healthy(fmt.Sprintf("%s resolved with %d answers in %s", name, len(resp.Answer), rtt)), nil
		case resp.Rcode == dns.RcodeSuccess, resp.Rcode == dns.RcodeNameError:
			return health.Degraded(fmt.Sprintf("%s: %s without answers", name, rcode)), nil
		}
		return health.Unhealthy(fmt.Sprintf("%s: %s", name, rcode)), nil
	}
}
