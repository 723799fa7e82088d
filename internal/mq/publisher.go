package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/utils"
	"dao-voting-sol/pkg/logger"
)

// ActivityPublisher 发布已确认写入的活动事件
type ActivityPublisher interface {
	Publish(ctx context.Context, events ...*domain.ActivityEvent) error
}

// NopPublisher 未配置 Kafka 时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...*domain.ActivityEvent) error { return nil }

// KafkaPublisher 按提案地址分区，保证同一提案的事件有序
type KafkaPublisher struct {
	producer   Producer
	topic      string
	partitions int
	timeout    time.Duration
}

func NewKafkaPublisher(producer Producer, topic string, partitions int, timeout time.Duration) *KafkaPublisher {
	if partitions <= 0 {
		partitions = 1
	}
	return &KafkaPublisher{producer: producer, topic: topic, partitions: partitions, timeout: timeout}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...*domain.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}
	jobs := make([]*KafkaJob, 0, len(events))
	for _, ev := range events {
		value, err := utils.EncodeActivity(ev)
		if err != nil {
			return err
		}
		jobs = append(jobs, &KafkaJob{
			Topic:     p.topic,
			Partition: int32(utils.PartitionHashBytes(ev.Proposal[:], uint32(p.partitions))),
			Key:       ev.Proposal[:],
			Value:     value,
		})
	}

	_, failed := SendKafkaJobs(ctx, p.producer, jobs, p.timeout)
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failed))
	for _, f := range failed {
		errs = append(errs, f.Err)
	}
	logger.Warnf("[KafkaPublisher] %d/%d 条活动事件发送失败", len(failed), len(jobs))
	return fmt.Errorf("publish activity: %w", errors.Join(errs...))
}

var (
	_ ActivityPublisher = NopPublisher{}
	_ ActivityPublisher = (*KafkaPublisher)(nil)
)
