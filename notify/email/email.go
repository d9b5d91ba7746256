// Package email delivers notifications over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/jpalmerr/permitwatch"
)

const (
	defaultPort    = 25
	defaultTimeout = 30 * time.Second
)

// Options configures a [Notifier].
type Options struct {
	// To is the single recipient. Required.
	To string

	// From defaults to To.
	From string

	// SubjectPrefix is prepended to every subject, separated by a space.
	SubjectPrefix string

	Host     string
	Port     int
	Username string
	Password string

	// Timeout bounds one Send, from dialing the relay to QUIT, including
	// the retry without auth. Defaults to 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

// sendFunc is swapped out in tests.
type sendFunc func(ctx context.Context, m *email.Email, addr string, a smtp.Auth) error

// Notifier sends plain-text mail through one SMTP relay.
type Notifier struct {
	opts   Options
	addr   string
	logger *slog.Logger
	send   sendFunc
}

var _ permitwatch.Notifier = (*Notifier)(nil)

// New returns a Notifier. Host defaults to localhost and Port to 25.
func New(opts Options) (*Notifier, error) {
	if strings.TrimSpace(opts.To) == "" {
		return nil, errors.New("email: recipient is required")
	}
	if opts.From == "" {
		opts.From = opts.To
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = defaultPort
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("email: invalid port %d", opts.Port)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("email: invalid timeout %s", opts.Timeout)
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		opts:   opts,
		addr:   net.JoinHostPort(opts.Host, fmt.Sprint(opts.Port)),
		logger: logger,
		send:   deliver,
	}, nil
}

// Send delivers one message. Failures are returned as *permitwatch.DeliveryError.
func (n *Notifier) Send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return &permitwatch.DeliveryError{Recipient: n.opts.To, Err: err}
	}

	if n.opts.SubjectPrefix != "" {
		subject = n.opts.SubjectPrefix + " " + subject
	}

	msg := email.NewEmail()
	msg.From = n.opts.From
	msg.To = []string{n.opts.To}
	msg.Subject = subject
	msg.Text = []byte(body)

	n.logger.Info("sending email", "subject", subject, "to", n.opts.To)

	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	err := n.send(ctx, msg, n.addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(ctx, msg, n.addr, nil)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return &permitwatch.DeliveryError{Recipient: n.opts.To, Err: err}
	}
	return nil
}

// deliver runs the same exchange as smtp.SendMail on a connection whose
// reads and writes stop at ctx's deadline or cancellation.
func deliver(ctx context.Context, m *email.Email, addr string, a smtp.Auth) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Expire the connection once ctx is done so a silent relay cannot hold
	// a pending read.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}

	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := c.Mail(from.Address); err != nil {
		return err
	}
	for _, to := range m.To {
		rcpt, err := mail.ParseAddress(to)
		if err != nil {
			return fmt.Errorf("recipient address: %w", err)
		}
		if err := c.Rcpt(rcpt.Address); err != nil {
			return err
		}
	}

	raw, err := m.Bytes()
	if err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
