package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics 协调器的prometheus指标
type promMetrics struct {
	submitted  prometheus.Counter
	completed  *prometheus.CounterVec
	duration   prometheus.Histogram
	collectors []prometheus.Collector
}

func newPromMetrics(c *Coordinator) *promMetrics {
	m := &promMetrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_tasks_submitted_total",
			Help: "Number of tasks admitted to the coordinator queue.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_tasks_completed_total",
			Help: "Number of finished tasks by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docflow_task_duration_seconds",
			Help:    "Task execution time.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}

	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "docflow_workers_active",
		Help: "Workers currently executing a task.",
	}, func() float64 { return float64(c.active.Load()) })
	queued := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "docflow_tasks_queued",
		Help: "Tasks waiting for a worker.",
	}, func() float64 { return float64(len(c.queue)) })
	cpu := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "docflow_process_cpu_percent",
		Help: "Process CPU usage from the last resource sample.",
	}, func() float64 { return c.usage().CPUPercent })
	mem := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "docflow_process_memory_mb",
		Help: "Process resident memory from the last resource sample.",
	}, func() float64 { return c.usage().MemoryMB })

	m.collectors = []prometheus.Collector{m.submitted, m.completed, m.duration, active, queued, cpu, mem}
	return m
}

// Register 把协调器指标注册到reg
func (c *Coordinator) Register(reg prometheus.Registerer) error {
	for _, collector := range c.prom.collectors {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
