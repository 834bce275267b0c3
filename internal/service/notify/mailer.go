package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// Mailer отправляет письмо. Пустой получатель не считается ошибкой.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig описывает подключение к почтовому серверу.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Enabled сообщает, хватает ли настроек для реальной отправки.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// NewMailer возвращает SMTP-отправителя или LogMailer, если SMTP не настроен.
func NewMailer(cfg SMTPConfig, logger *log.Entry) Mailer {
	if !cfg.Enabled() {
		return NewLogMailer(logger)
	}
	return NewSMTPMailer(cfg)
}

// SMTPMailer отправляет письма через go-mail.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer создаёт SMTP-отправителя. Порт 465 использует неявный TLS,
// остальные порты переходят на STARTTLS, если сервер его поддерживает.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil
	}

	msg, err := m.newMessage(to, subject, body)
	if err != nil {
		return err
	}
	client, err := m.newClient()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func (m *SMTPMailer) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(m.cfg.Timeout),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	}
	if m.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}

// newMessage собирает письмо; заголовки кодируются go-mail, переводы строк в них не проходят.
func (m *SMTPMailer) newMessage(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("mail from %q: %w", m.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("mail to %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// LogMailer пишет письма в лог вместо отправки. Используется в dev-окружении.
type LogMailer struct {
	logger *log.Entry
}

// NewLogMailer создаёт отправителя, который только логирует письма.
func NewLogMailer(logger *log.Entry) *LogMailer {
	if logger == nil {
		logger = log.New().WithField("component", "mailer")
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	if strings.TrimSpace(to) == "" {
		return nil
	}
	m.logger.WithFields(log.Fields{
		"to":      to,
		"subject": subject,
	}).Info("dev email")
	return nil
}
