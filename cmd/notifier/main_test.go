package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/petmarket/internal/service/notify"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig(env(map[string]string{
		"KAFKA_BROKERS":             " kafka-1:9092, ,kafka-2:9092",
		"PETS_SMTP_HOST":            "smtp.example.com",
		"PETS_SMTP_PORT":            "2525",
		"PETS_SMTP_FROM":            "shop@example.com",
		"PETS_SMTP_USERNAME":        "shop",
		"PETS_SMTP_PASSWORD":        "secret",
		"PETS_NOTIFIER_MAX_RETRIES": "5",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
	assert.Equal(t, defaultGroupID, cfg.groupID)
	assert.Equal(t, kafka.TopicOrderNotifications, cfg.topic)
	assert.Equal(t, 5, cfg.maxRetries)
	assert.Equal(t, 2525, cfg.smtp.Port)
	assert.True(t, cfg.smtp.Enabled())
}

func TestReadConfig_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"no brokers":  {},
		"bad port":    {"KAFKA_BROKERS": "k:9092", "PETS_SMTP_PORT": "smtp"},
		"bad retries": {"KAFKA_BROKERS": "k:9092", "PETS_NOTIFIER_MAX_RETRIES": "0"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readConfig(env(values))
			assert.Error(t, err)
		})
	}
}

type recordingMailer struct {
	to      []string
	subject []string
	err     error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.to = append(m.to, to)
	m.subject = append(m.subject, subject)
	return nil
}

func notificationMessage(t *testing.T) *sarama.ConsumerMessage {
	t.Helper()

	payload, err := notify.EncodePayload(domain.Notification{
		Event:   domain.NotificationOrderCreated,
		OrderID: "order-1",
		To:      "anna@example.com",
		Subject: "Order order-1 received",
		Body:    "Thank you",
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.NewEnvelope(domain.OutboxMessage{
		ID:            "msg-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     string(domain.NotificationOrderCreated),
		Payload:       payload,
	}, time.Now()))
	require.NoError(t, err)

	return &sarama.ConsumerMessage{Topic: kafka.TopicOrderNotifications, Value: value}
}

func TestHandlerDeliversNotificationEmail(t *testing.T) {
	logger := log.WithField("test", "notifier")
	mailer := &recordingMailer{}
	handler := kafka.OutboxHandler(notify.NewMailPublisher(mailer, logger), logger)

	require.NoError(t, handler(context.Background(), notificationMessage(t)))
	assert.Equal(t, []string{"anna@example.com"}, mailer.to)
	assert.Equal(t, []string{"Order order-1 received"}, mailer.subject)

	// мусор в topic не должен блокировать consumer
	require.NoError(t, handler(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}))

	mailer.err = errors.New("smtp down")
	assert.Error(t, handler(context.Background(), notificationMessage(t)))
}
