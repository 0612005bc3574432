package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/md-rashed-zaman/freelance-notify/libs/breaker"
)

// ErrRecipientRejected marks a permanent refusal of one address. It says nothing about the
// provider's health, so it never trips a breaker.
var ErrRecipientRejected = errors.New("recipient rejected")

func IsRecipientRejected(err error) bool {
	return errors.Is(err, ErrRecipientRejected)
}

type Sender interface {
	Send(ctx context.Context, to string, subject string, body string) error
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
// Every send is bounded by timeout, including the dial.
type SMTPSender struct {
	addr    string
	host    string
	from    string
	timeout time.Duration
}

func NewSMTPSender(host string, port string, from string, timeout time.Duration) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@freelance.local"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPSender{
		addr:    net.JoinHostPort(host, port),
		host:    host,
		from:    from,
		timeout: timeout,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to string, subject string, body string) error {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		var reply *textproto.Error
		if errors.As(err, &reply) && reply.Code >= 500 {
			return fmt.Errorf("%w: %s: %w", ErrRecipientRejected, to, err)
		}
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(buildMessage(s.from, to, subject, body))); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		headerValue(from),
		headerValue(to),
		headerValue(subject),
		body,
	)
}

// headerValue folds CR/LF out of values that come from event payloads.
func headerValue(v string) string {
	return strings.Join(strings.Fields(strings.NewReplacer("\r", " ", "\n", " ").Replace(v)), " ")
}

// LogSender only logs. Used for local runs without a mail relay.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to string, subject string, _ string) error {
	s.logger.Info("email suppressed (log provider)", "to", to, "subject", subject)
	return nil
}

type guarded struct {
	next Sender
	b    *breaker.Breaker
}

// WithBreaker fails fast while the provider keeps failing. Build the breaker with
// IsRecipientRejected as its Ignore rule.
func WithBreaker(next Sender, b *breaker.Breaker) Sender {
	if b == nil {
		return next
	}
	return &guarded{next: next, b: b}
}

func (g *guarded) Send(ctx context.Context, to string, subject string, body string) error {
	return g.b.Do(func() error {
		return g.next.Send(ctx, to, subject, body)
	})
}
