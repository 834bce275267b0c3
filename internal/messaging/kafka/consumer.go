package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение из topic уведомлений.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// deadLetterSink принимает сообщения, которые так и не удалось обработать.
type deadLetterSink interface {
	PublishEvent(topic string, key string, event any, headers ...sarama.RecordHeader) error
}

// ConsumerConfig задаёт consumer group сервиса рассылки.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// DLQProducer получает сообщение после MaxRetries неудачных попыток.
	// Без него такое сообщение не подтверждается и будет прочитано снова.
	DLQProducer *Producer
	MaxRetries  int
	RetryDelay  time.Duration
	Logger      *log.Entry
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Logger == nil {
		c.Logger = log.WithField("component", "kafka-consumer")
	}
	return c
}

// Consumer читает уведомления о заказах в составе consumer group и передаёт их handler.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	deadLetters deadLetterSink
	maxRetries  int
	retryDelay  time.Duration
	logger      *log.Entry
	running     sync.WaitGroup
}

// NewConsumerWithDLQ подключается к брокерам и создаёт consumer group.
func NewConsumerWithDLQ(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler) *Consumer {
	cfg = cfg.withDefaults()
	c := &Consumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    handler,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
	if cfg.DLQProducer != nil {
		c.deadLetters = cfg.DLQProducer
	}
	return c
}

// Start запускает чтение в фоне и сразу возвращает управление.
func (c *Consumer) Start(ctx context.Context) error {
	c.running.Add(2)
	go func() {
		defer c.running.Done()
		// Consume возвращается на каждом rebalance
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.WithError(err).Error("consume session failed")
			}
		}
	}()
	go func() {
		defer c.running.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("notification consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	c.running.Wait()
	c.logger.Info("notification consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim подтверждает сообщение, если оно обработано или отправлено в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.deliver(ctx, message); err != nil {
				entry.WithError(err).Error("notification left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// deliver вызывает handler, пока общее число попыток с учётом x-retry-count
// не достигнет maxRetries, затем перекладывает сообщение в DLQ.
func (c *Consumer) deliver(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := priorAttempts(message)
	for {
		err := c.handler(ctx, message)
		if err == nil {
			return nil
		}
		attempts++
		if attempts >= c.maxRetries {
			return c.deadLetter(message, err, attempts)
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":    message.Topic,
			"attempt":  attempts,
			"attempts": c.maxRetries,
		}).Warn("notification handling failed, retrying")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempts)):
			}
		}
	}
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, attempts int) error {
	if c.deadLetters == nil {
		return fmt.Errorf("handler failed %d times: %w", attempts, cause)
	}

	letter, headers := newDeadLetter(message, cause, attempts, time.Now())
	if err := c.deadLetters.PublishEvent(TopicDeadLetterQueue, letter.OriginalKey, letter, headers...); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	c.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"offset":   message.Offset,
		"attempts": attempts,
	}).Warn("notification moved to DLQ")
	return nil
}

// newDeadLetter собирает тело и заголовки сообщения для DLQ.
func newDeadLetter(message *sarama.ConsumerMessage, cause error, attempts int, at time.Time) (DeadLetter, []sarama.RecordHeader) {
	failedAt := at.UTC().Format(time.RFC3339)
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        attempts,
	}
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(letter.ErrorMessage)},
		{Key: []byte(HeaderFailedAt), Value: []byte(failedAt)},
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(attempts))},
	}
	if eventType := headerValue(message, HeaderEventType); eventType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(eventType)})
	}
	return letter, headers
}

// priorAttempts читает x-retry-count; некорректное значение считается нулём.
func priorAttempts(message *sarama.ConsumerMessage) int {
	n, err := strconv.Atoi(headerValue(message, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
