// Package notify delivers backup reports to the operator.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/kebairia/backupd/internal/config"
	"github.com/kebairia/backupd/internal/logger"
	"github.com/wneessen/go-mail"
)

// Notifier sends one report. Callers treat delivery as best-effort.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Compose builds the report body sent with subject.
func Compose(subject, detail string) string {
	return fmt.Sprintf("%s, detail: %s", subject, detail)
}

// New returns a Mailer when SMTP is configured and a LogNotifier otherwise.
func New(cfg *config.Config, log logger.Logger) (Notifier, error) {
	if !cfg.SMTP.Enabled() {
		return &LogNotifier{Logger: log, Recipient: cfg.OperatorEmail}, nil
	}
	return NewMailer(cfg.SMTP, cfg.Product, cfg.OperatorEmail)
}

// LogNotifier writes reports to the log instead of sending them.
type LogNotifier struct {
	Logger    logger.Logger
	Recipient string
}

// Notify logs the report.
func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.Logger.Info("operator report",
		"to", n.Recipient,
		"subject", subject,
		"body", body,
	)
	return nil
}

const sendTimeout = 30 * time.Second

// Mailer sends reports over SMTP as text with an HTML alternative.
type Mailer struct {
	client   *mail.Client
	fromName string
	from     string
	to       string
}

// NewMailer builds an SMTP client. No connection is made until Notify.
func NewMailer(cfg config.SMTPConfig, product, to string) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(sendTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{client: client, fromName: product, from: cfg.From, to: to}, nil
}

func (m *Mailer) message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.from); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", m.from, err)
	}
	if err := msg.To(m.to); err != nil {
		return nil, fmt.Errorf("set recipient %q: %w", m.to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	msg.AddAlternativeString(mail.TypeTextHTML, toHTML(body))
	return msg, nil
}

// Notify sends the report to the operator.
func (m *Mailer) Notify(ctx context.Context, subject, body string) error {
	msg, err := m.message(subject, body)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", m.to, err)
	}
	return nil
}

func toHTML(body string) string {
	escaped := html.EscapeString(body)
	return "<pre>" + strings.ReplaceAll(escaped, "\r\n", "\n") + "</pre>"
}
