package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/types"
	"dao-voting-sol/internal/utils"
)

// fakeProducer 同步回写 delivery report
type fakeProducer struct {
	mu        sync.Mutex
	messages  []*kafka.Message
	produceFn func(msg *kafka.Message) error // 返回 error 表示 Produce 失败
	report    func(msg *kafka.Message) error // 返回 delivery report 中的错误
	silent    bool                           // 不回写 delivery report
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.produceFn != nil {
		if err := f.produceFn(msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	if f.silent {
		return nil
	}
	delivered := *msg
	if f.report != nil {
		delivered.TopicPartition.Error = f.report(msg)
	}
	deliveryChan <- &delivered
	return nil
}

func TestSendKafkaJobs(t *testing.T) {
	p := &fakeProducer{
		report: func(msg *kafka.Message) error {
			if string(msg.Value) == "bad" {
				return kafka.NewError(kafka.ErrMsgSizeTooLarge, "too large", false)
			}
			return nil
		},
	}
	jobs := []*KafkaJob{
		{Topic: "t", Partition: 0, Value: []byte("a")},
		{Topic: "t", Partition: 1, Value: []byte("bad")},
		{Topic: "t", Partition: 2, Value: []byte("c")},
	}

	ok, failed := SendKafkaJobs(context.Background(), p, jobs, time.Second)
	assert.Len(t, ok, 2)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", string(failed[0].Job.Value))
	assert.Len(t, p.messages, 3)
}

func TestSendKafkaJobsProduceError(t *testing.T) {
	p := &fakeProducer{produceFn: func(*kafka.Message) error { return errors.New("queue full") }}
	_, failed := SendKafkaJobs(context.Background(), p, []*KafkaJob{{Topic: "t"}}, time.Second)
	require.Len(t, failed, 1)
	assert.ErrorContains(t, failed[0].Err, "queue full")
}

func TestSendKafkaJobsTimeout(t *testing.T) {
	p := &fakeProducer{silent: true}
	_, failed := SendKafkaJobs(context.Background(), p, []*KafkaJob{{Topic: "t"}}, 10*time.Millisecond)
	require.Len(t, failed, 1)
	assert.ErrorContains(t, failed[0].Err, "delivery timeout")
}

func TestSendKafkaJobsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakeProducer{silent: true}
	_, failed := SendKafkaJobs(ctx, p, []*KafkaJob{{Topic: "t"}}, time.Second)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, context.Canceled)
}

func TestKafkaPublisher(t *testing.T) {
	p := &fakeProducer{}
	pub := NewKafkaPublisher(p, "dao_activity", 4, time.Second)

	proposal := types.PubkeyFromBase58("4agw8ccQNQ4wGKat1kavWiLv7oerPSFqVUo9v4cQ54wq")
	ev := &domain.ActivityEvent{
		Kind:       domain.ActivityVoteCast,
		ProposalID: 7,
		Proposal:   proposal,
		Actor:      types.Pubkey{1},
		Signature:  "sig",
		Choice:     domain.ChoiceNo,
	}
	require.NoError(t, pub.Publish(context.Background(), ev))
	require.Len(t, p.messages, 1)

	msg := p.messages[0]
	assert.Equal(t, "dao_activity", *msg.TopicPartition.Topic)
	assert.Equal(t, int32(utils.PartitionHashBytes(proposal[:], 4)), msg.TopicPartition.Partition)
	assert.Equal(t, proposal[:], msg.Key)

	got, err := utils.DecodeActivity(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	assert.NoError(t, pub.Publish(context.Background()))
}

func TestKafkaPublisherFailure(t *testing.T) {
	p := &fakeProducer{report: func(*kafka.Message) error {
		return kafka.NewError(kafka.ErrAllBrokersDown, "down", false)
	}}
	pub := NewKafkaPublisher(p, "dao_activity", 1, time.Second)
	err := pub.Publish(context.Background(), &domain.ActivityEvent{Kind: domain.ActivityProposalCreated})
	assert.ErrorContains(t, err, "down")
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), &domain.ActivityEvent{}))
}
