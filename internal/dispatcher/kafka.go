package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/errors"
	jsonpool "github.com/ajitpratap0/accretion/pkg/json"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/metrics"
)

// KafkaQueue carries index tasks over a Kafka topic so any worker in the
// group can pick them up. Tasks are keyed by connector ID, which keeps
// tasks for one connector on one partition and therefore in order.
type KafkaQueue struct {
	cfg      config.QueueConfig
	logger   *zap.Logger
	client   sarama.Client
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	closed   int32
}

// NewKafkaQueue connects to the configured brokers and prepares both
// halves of the queue: a sync producer for enqueues and a consumer group
// for dispatch.
func NewKafkaQueue(cfg config.QueueConfig) (*KafkaQueue, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka client")
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}

	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka consumer group")
	}

	return &KafkaQueue{
		cfg:      cfg,
		logger:   logger.Get().With(zap.String("component", "kafka_queue")),
		client:   client,
		producer: producer,
		group:    group,
	}, nil
}

// Enqueue publishes the task to the queue topic.
func (q *KafkaQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCanceled, "enqueue canceled")
	}

	payload, err := jsonpool.Marshal(task)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode task")
	}

	msg := &sarama.ProducerMessage{
		Topic:     q.cfg.Topic,
		Key:       sarama.StringEncoder(task.ConnectorID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: task.RequestedAt,
	}

	partition, offset, err := q.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to enqueue task")
	}

	metrics.TasksEnqueued.WithLabelValues(task.Reason).Inc()
	q.logger.Debug("task enqueued",
		zap.String("connector_id", task.ConnectorID),
		zap.String("reason", task.Reason),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Consume joins the consumer group and delivers tasks to handler until
// ctx is canceled or the queue is closed. Consumer group errors are
// logged and retried after a short backoff; rebalances re-enter Consume
// transparently.
func (q *KafkaQueue) Consume(ctx context.Context, handler Handler) error {
	h := &taskConsumer{handler: handler, logger: q.logger}
	topics := []string{q.cfg.Topic}

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := q.group.Consume(ctx, topics, h)
		switch {
		case err == nil:
			// Rebalance; rejoin.
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			q.logger.Error("consumer group error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Close shuts down the producer, consumer group, and client.
func (q *KafkaQueue) Close() error {
	if !atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		return nil
	}

	if err := q.producer.Close(); err != nil {
		q.logger.Warn("failed to close kafka producer", zap.Error(err))
	}
	if err := q.group.Close(); err != nil {
		q.logger.Warn("failed to close kafka consumer group", zap.Error(err))
	}
	if err := q.client.Close(); err != nil {
		q.logger.Warn("failed to close kafka client", zap.Error(err))
	}

	q.logger.Info("kafka queue closed")
	return nil
}

// taskConsumer adapts a Handler to sarama's consumer group contract.
type taskConsumer struct {
	handler Handler
	logger  *zap.Logger
}

func (c *taskConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *taskConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *taskConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			c.process(session, message)
		case <-session.Context().Done():
			return nil
		}
	}
}

// process decodes and handles one message. Every message is marked
// consumed, including undecodable and failed ones: tasks are hints, and
// the scheduler re-enqueues a connector that is still due, so redelivery
// would only add noise.
func (c *taskConsumer) process(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	var task Task
	if err := jsonpool.Unmarshal(message.Value, &task); err != nil {
		c.logger.Warn("dropping undecodable task",
			zap.String("topic", message.Topic),
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
			zap.Error(err))
		session.MarkMessage(message, "")
		return
	}

	if err := c.handler(session.Context(), task); err != nil {
		c.logger.Warn("task handler failed",
			zap.String("connector_id", task.ConnectorID),
			zap.Error(err))
	}
	session.MarkMessage(message, "")
}
