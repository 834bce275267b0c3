package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.AggregateID != "order-123" || env.EventType != string(domain.NotificationOrderStatusChanged) {
			return errors.New("unexpected envelope")
		}
		return nil
	})

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, "")

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     string(domain.NotificationOrderStatusChanged),
		Payload:       []byte(`{"status":"shipped"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicOrderNotifications)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-234",
		Payload:     []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderNotifications)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestOutboxPublisher_PublishCancelledContext(t *testing.T) {
	t.Parallel()

	producer := &Producer{logger: log.WithField("component", "kafka-outbox-publisher-test")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewOutboxPublisher(producer, "").Publish(ctx, domain.OutboxMessage{ID: "outbox-4"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type capturePublisher struct {
	got []domain.OutboxMessage
	err error
}

func (c *capturePublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	c.got = append(c.got, msg)
	return c.err
}

func TestOutboxHandler(t *testing.T) {
	t.Parallel()

	next := &capturePublisher{}
	handler := OutboxHandler(next, nil)

	data, err := json.Marshal(Envelope{ID: "outbox-5", AggregateID: "order-5", Payload: json.RawMessage(`{"to":"a@b.c"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if err := handler(context.Background(), &sarama.ConsumerMessage{Value: data}); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(next.got) != 1 || next.got[0].AggregateID != "order-5" {
		t.Fatalf("unexpected forwarded messages: %+v", next.got)
	}

	if err := handler(context.Background(), &sarama.ConsumerMessage{Value: []byte("garbage")}); err != nil {
		t.Fatalf("malformed message must be skipped, got %v", err)
	}
	if len(next.got) != 1 {
		t.Fatal("malformed message must not be forwarded")
	}

	next.err = errors.New("smtp down")
	if err := handler(context.Background(), &sarama.ConsumerMessage{Value: data}); err == nil {
		t.Fatal("delivery error must be returned for retry")
	}
}
