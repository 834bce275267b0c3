package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/petmarket/internal/service/notify"
	"github.com/vladislavdragonenkov/petmarket/internal/version"
)

const defaultGroupID = "petmarket-notifier"

type config struct {
	brokers    []string
	groupID    string
	topic      string
	maxRetries int
	retryDelay time.Duration
	smtp       notify.SMTPConfig
}

// readConfig читает настройки consumer'а и SMTP из окружения.
func readConfig(getenv func(string) string) (config, error) {
	cfg := config{
		brokers:    splitList(getenv("KAFKA_BROKERS")),
		groupID:    defaultGroupID,
		topic:      kafka.TopicOrderNotifications,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
		smtp: notify.SMTPConfig{
			Host:     strings.TrimSpace(getenv("PETS_SMTP_HOST")),
			Username: strings.TrimSpace(getenv("PETS_SMTP_USERNAME")),
			Password: getenv("PETS_SMTP_PASSWORD"),
			From:     strings.TrimSpace(getenv("PETS_SMTP_FROM")),
		},
	}
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("KAFKA_BROKERS is required")
	}
	if v := strings.TrimSpace(getenv("PETS_NOTIFIER_GROUP")); v != "" {
		cfg.groupID = v
	}
	if v := strings.TrimSpace(getenv("PETS_KAFKA_TOPIC")); v != "" {
		cfg.topic = v
	}
	if v := strings.TrimSpace(getenv("PETS_SMTP_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return config{}, fmt.Errorf("invalid PETS_SMTP_PORT %q", v)
		}
		cfg.smtp.Port = port
	}
	if v := strings.TrimSpace(getenv("PETS_NOTIFIER_MAX_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return config{}, fmt.Errorf("invalid PETS_NOTIFIER_MAX_RETRIES %q", v)
		}
		cfg.maxRetries = n
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid notifier config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("notifier failed")
	}
	log.Info("notifier остановлен")
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "notifier")

	dlq, err := kafka.NewProducer(cfg.brokers, defaultGroupID)
	if err != nil {
		return err
	}
	defer dlq.Close()

	mailer := notify.NewMailer(cfg.smtp, logger.WithField("component", "mailer"))
	handler := kafka.OutboxHandler(notify.NewMailPublisher(mailer, logger), logger)

	consumer, err := kafka.NewConsumerWithDLQ(kafka.ConsumerConfig{
		Brokers:     cfg.brokers,
		GroupID:     cfg.groupID,
		Topics:      []string{cfg.topic},
		DLQProducer: dlq,
		MaxRetries:  cfg.maxRetries,
		RetryDelay:  cfg.retryDelay,
	}, handler)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"topic":   cfg.topic,
		"group":   cfg.groupID,
		"smtp":    cfg.smtp.Enabled(),
		"brokers": cfg.brokers,
		"version": version.GetVersion(),
	}).Info("notifier запущен")

	<-ctx.Done()
	return consumer.Stop()
}
