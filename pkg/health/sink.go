package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/hewenyu/docflow-perf/pkg/batch"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AlertSink 告警投递目标
type AlertSink interface {
	Publish(ctx context.Context, alerts []Alert) error
}

// LogSink 每条告警输出一行日志
type LogSink struct {
	logger config.Logger
}

// NewLogSink 创建日志告警投递
func NewLogSink(logger config.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish 记录告警日志
func (s *LogSink) Publish(_ context.Context, alerts []Alert) error {
	for _, alert := range alerts {
		fields := []zap.Field{
			zap.String("component", alert.Component),
			zap.String("type", alert.Type),
			zap.String("severity", alert.Severity),
			zap.Time("timestamp", alert.Timestamp),
		}
		if alert.Severity == SeverityHigh {
			s.logger.Error(alert.Message, fields...)
		} else {
			s.logger.Warn(alert.Message, fields...)
		}
	}
	return nil
}

// messageWriter kafka.Writer中KafkaSink用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 把告警以JSON写入kafka，消息key为组件名称
type KafkaSink struct {
	writer messageWriter
	logger config.Logger
}

// NewKafkaSink 创建kafka告警投递
func NewKafkaSink(brokers []string, topic string, logger config.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &KafkaSink{writer: writer, logger: logger}
}

// Publish 批量写入告警
func (s *KafkaSink) Publish(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(alerts))
	for _, alert := range alerts {
		value, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("序列化告警失败: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(alert.Component),
			Value: value,
			Time:  alert.Timestamp,
		})
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("写入kafka失败: %w", err)
	}
	s.logger.Debug("告警已写入kafka", zap.Int("count", len(msgs)))
	return nil
}

// Close 关闭kafka writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// BatchingSink 按告警级别聚合后批量转发到下游sink
type BatchingSink struct {
	next   AlertSink
	acc    *batch.Accumulator[Alert]
	logger config.Logger
}

// NewBatchingSink 创建批量转发sink，需要调用Run才会按时间刷出
func NewBatchingSink(next AlertSink, size int, interval time.Duration, logger config.Logger) *BatchingSink {
	return &BatchingSink{
		next:   next,
		acc:    batch.New[Alert](size, interval),
		logger: logger,
	}
}

// Publish 缓冲告警，某个级别凑满一批时立即转发
func (s *BatchingSink) Publish(ctx context.Context, alerts []Alert) error {
	var errs []error
	for _, alert := range alerts {
		items, flushed := s.acc.Add(alert.Severity, alert)
		if !flushed {
			continue
		}
		if err := s.next.Publish(ctx, items); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending 返回尚未转发的告警数量
func (s *BatchingSink) Pending() int {
	total := 0
	for _, key := range s.acc.Keys() {
		total += s.acc.Pending(key)
	}
	return total
}

// Run 周期性转发到期的批次，ctx结束时转发剩余告警
func (s *BatchingSink) Run(ctx context.Context, tick time.Duration) {
	s.acc.Run(ctx, tick, func(ctx context.Context, severity string, items []Alert) {
		if err := s.next.Publish(ctx, items); err != nil {
			s.logger.Error("批量转发告警失败", zap.String("severity", severity), zap.Int("count", len(items)), zap.Error(err))
		}
	})
}
