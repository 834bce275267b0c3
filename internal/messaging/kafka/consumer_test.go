package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/service/notify"
)

// fakeGroup держит Consume до Close, как настоящая consumer group.
type fakeGroup struct {
	closed    chan struct{}
	errs      chan error
	closeErr  error
	closeOnce sync.Once
	sessions  int
	mu        sync.Mutex
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{closed: make(chan struct{}), errs: make(chan error, 1)}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.sessions++
	g.mu.Unlock()
	select {
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	if g.closeErr != nil {
		return g.closeErr
	}
	g.closeOnce.Do(func() {
		close(g.closed)
		close(g.errs)
	})
	return nil
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "mailer-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return TopicOrderNotifications }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// recordingMailer запоминает адресатов и может отказать первые failures раз.
type recordingMailer struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("smtp: 451 try again later")
	}
	m.sent = append(m.sent, to+": "+subject)
	return nil
}

func (m *recordingMailer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func testLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "kafka-consumer-test")
}

// orderCreatedMessage собирает сообщение topic уведомлений так же, как его публикует outbox.
func orderCreatedMessage(t *testing.T, orderID string, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	order := domain.NewOrder(orderID, "customer-1", []domain.OrderItem{
		{ProductID: "pet-1", Name: "Barsik", Amount: "$500", Quantity: 1},
	}, domain.Shipping{Email: "anna@example.com"}, time.Now().UTC())

	payload, err := notify.EncodePayload(notify.OrderCreated(order))
	require.NoError(t, err)

	value, err := json.Marshal(NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-" + orderID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(domain.NotificationOrderCreated),
		Payload:       payload,
	}, time.Now()))
	require.NoError(t, err)

	return &sarama.ConsumerMessage{
		Topic:  TopicOrderNotifications,
		Key:    []byte(orderID),
		Value:  value,
		Offset: offset,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(domain.NotificationOrderCreated)},
		},
	}
}

func mailHandler(mailer *recordingMailer) MessageHandler {
	return OutboxHandler(notify.NewMailPublisher(mailer, testLogger()), testLogger())
}

func TestNewConsumerWithDLQ_UnreachableBrokers(t *testing.T) {
	_, err := NewConsumerWithDLQ(ConsumerConfig{
		Brokers: []string{"127.0.0.1:1"},
		GroupID: "petmarket-mailer",
		Topics:  []string{TopicOrderNotifications},
	}, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "petmarket-mailer")
}

func TestConsumerConfig_Defaults(t *testing.T) {
	cfg := ConsumerConfig{}.withDefaults()
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, defaultRetryDelay, cfg.RetryDelay)
	assert.NotNil(t, cfg.Logger)

	cfg = ConsumerConfig{MaxRetries: 5, RetryDelay: -time.Second}.withDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Zero(t, cfg.RetryDelay, "negative delay disables waiting")
}

func TestConsumer_StartStop(t *testing.T) {
	group := newFakeGroup()
	c := newConsumer(group, ConsumerConfig{Topics: []string{TopicOrderNotifications}, Logger: testLogger()},
		mailHandler(&recordingMailer{}))

	require.NoError(t, c.Start(context.Background()))
	group.errs <- errors.New("rebalance in progress")

	require.NoError(t, c.Stop())
	group.mu.Lock()
	defer group.mu.Unlock()
	assert.Equal(t, 1, group.sessions, "closed group is not consumed again")
}

func TestConsumer_StopReportsCloseError(t *testing.T) {
	group := newFakeGroup()
	group.closeErr = errors.New("broker gone")
	c := newConsumer(group, ConsumerConfig{Logger: testLogger()}, nil)

	err := c.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, group.closeErr)
}

func TestConsumer_ConsumeClaimSendsMail(t *testing.T) {
	mailer := &recordingMailer{}
	c := newConsumer(newFakeGroup(), ConsumerConfig{Logger: testLogger(), RetryDelay: -1}, mailHandler(mailer))

	require.NoError(t, c.Setup(nil))
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- orderCreatedMessage(t, "order-1", 10)
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicOrderNotifications, Value: []byte("not json"), Offset: 11}
	claim.messages <- orderCreatedMessage(t, "order-2", 12)
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))
	require.NoError(t, c.Cleanup(nil))

	assert.Equal(t, []int64{10, 11, 12}, session.markedOffsets(), "malformed messages are acknowledged too")
	assert.Equal(t, []string{
		"anna@example.com: Order Confirmation",
		"anna@example.com: Order Confirmation",
	}, mailer.Sent())
}

func TestConsumer_FailedMailWithoutDLQStaysUnacknowledged(t *testing.T) {
	mailer := &recordingMailer{failures: 100}
	c := newConsumer(newFakeGroup(), ConsumerConfig{Logger: testLogger(), MaxRetries: 2, RetryDelay: -1}, mailHandler(mailer))

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- orderCreatedMessage(t, "order-1", 7)
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))

	assert.Empty(t, session.markedOffsets())
	assert.Equal(t, 98, mailer.failures, "two attempts were made")
}

func TestConsumer_DeliverRetriesUntilMailGoesOut(t *testing.T) {
	mailer := &recordingMailer{failures: 2}
	c := newConsumer(newFakeGroup(), ConsumerConfig{Logger: testLogger(), MaxRetries: 3, RetryDelay: time.Millisecond}, mailHandler(mailer))

	require.NoError(t, c.deliver(context.Background(), orderCreatedMessage(t, "order-9", 1)))
	assert.Equal(t, []string{"anna@example.com: Order Confirmation"}, mailer.Sent())
}

func TestConsumer_DeliverCountsRetryHeader(t *testing.T) {
	calls := 0
	c := newConsumer(newFakeGroup(), ConsumerConfig{Logger: testLogger(), MaxRetries: 3, RetryDelay: -1},
		func(context.Context, *sarama.ConsumerMessage) error {
			calls++
			return errors.New("smtp down")
		})

	message := orderCreatedMessage(t, "order-3", 1)
	message.Headers = append(message.Headers, &sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte("2")})

	err := c.deliver(context.Background(), message)
	require.ErrorContains(t, err, "handler failed 3 times")
	assert.Equal(t, 1, calls, "only the remaining attempt is spent")
}

func TestConsumer_DeliverStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(newFakeGroup(), ConsumerConfig{Logger: testLogger(), MaxRetries: 5, RetryDelay: time.Hour},
		func(context.Context, *sarama.ConsumerMessage) error {
			cancel()
			return errors.New("smtp down")
		})

	err := c.deliver(ctx, orderCreatedMessage(t, "order-4", 1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_DeadLetterAfterLastAttempt(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var letter DeadLetter
		if err := json.Unmarshal(val, &letter); err != nil {
			return err
		}
		if letter.OriginalKey != "order-5" || letter.RetryCount != 2 || letter.OriginalOffset != 42 {
			return errors.New("unexpected dead letter")
		}
		env, err := ParseEnvelope(&sarama.ConsumerMessage{Value: []byte(letter.OriginalValue)})
		if err != nil {
			return err
		}
		if env.EventType != string(domain.NotificationOrderCreated) {
			return errors.New("dead letter lost the notification envelope")
		}
		return nil
	})
	dlq := &Producer{producer: mockProducer, logger: testLogger()}

	mailer := &recordingMailer{failures: 100}
	c := newConsumer(newFakeGroup(), ConsumerConfig{
		Logger:      testLogger(),
		DLQProducer: dlq,
		MaxRetries:  2,
		RetryDelay:  -1,
	}, mailHandler(mailer))

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- orderCreatedMessage(t, "order-5", 42)
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{42}, session.markedOffsets(), "message handed to DLQ is acknowledged")
}

func TestConsumer_DeadLetterPublishFailure(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	c := newConsumer(newFakeGroup(), ConsumerConfig{
		Logger:      testLogger(),
		DLQProducer: &Producer{producer: mockProducer, logger: testLogger()},
		MaxRetries:  1,
		RetryDelay:  -1,
	}, mailHandler(&recordingMailer{failures: 1}))

	err := c.deliver(context.Background(), orderCreatedMessage(t, "order-6", 3))
	require.ErrorContains(t, err, "publish dead letter")
}

func TestNewDeadLetter(t *testing.T) {
	message := orderCreatedMessage(t, "order-7", 99)
	message.Partition = 2
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	letter, headers := newDeadLetter(message, errors.New("mailbox full"), 3, at)

	assert.Equal(t, TopicOrderNotifications, letter.OriginalTopic)
	assert.Equal(t, int32(2), letter.OriginalPartition)
	assert.Equal(t, int64(99), letter.OriginalOffset)
	assert.Equal(t, "order-7", letter.OriginalKey)
	assert.Equal(t, string(message.Value), letter.OriginalValue)
	assert.Equal(t, "mailbox full", letter.ErrorMessage)
	assert.Equal(t, "2026-04-01T07:00:00Z", letter.FailedAt)
	assert.Equal(t, 3, letter.RetryCount)

	got := map[string]string{}
	for _, h := range headers {
		got[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		HeaderOriginalTopic: TopicOrderNotifications,
		HeaderErrorMessage:  "mailbox full",
		HeaderFailedAt:      "2026-04-01T07:00:00Z",
		HeaderRetryCount:    strconv.Itoa(3),
		HeaderEventType:     string(domain.NotificationOrderCreated),
	}, got)
}

func TestPriorAttempts(t *testing.T) {
	tests := []struct {
		name    string
		headers []*sarama.RecordHeader
		want    int
	}{
		{name: "no header", want: 0},
		{name: "valid", headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("4")}}, want: 4},
		{name: "garbage", headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("four")}}, want: 0},
		{name: "negative", headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("-1")}}, want: 0},
		{name: "nil header skipped", headers: []*sarama.RecordHeader{nil, {Key: []byte(HeaderRetryCount), Value: []byte("1")}}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, priorAttempts(&sarama.ConsumerMessage{Headers: tt.headers}))
		})
	}
}

func TestConsumer_ConsumeClaimStopsOnContextDone(t *testing.T) {
	c := newConsumer(newFakeGroup(), ConsumerConfig{Logger: testLogger()}, mailHandler(&recordingMailer{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- c.ConsumeClaim(&fakeSession{ctx: ctx}, claim) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after context cancellation")
	}
}
