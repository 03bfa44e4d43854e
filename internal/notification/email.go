package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/flowguard/internal/models"
)

// SendMailFunc delivers a fully formatted RFC 5322 message.
type SendMailFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// DefaultEmailTimeout bounds a whole SMTP exchange.
const DefaultEmailTimeout = 10 * time.Second

// EmailChannel sends alerts over SMTP with STARTTLS and PLAIN auth.
type EmailChannel struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
	Timeout  time.Duration

	sendMail SendMailFunc
}

// NewEmailChannel creates an email channel. to may hold several
// comma-separated recipients.
func NewEmailChannel(host string, port int, user, password, from, to string) *EmailChannel {
	var recipients []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return &EmailChannel{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		From:     from,
		To:       recipients,
		Timeout:  DefaultEmailTimeout,
		sendMail: sendMailStartTLS,
	}
}

// WithTimeout sets the SMTP exchange timeout; non-positive values keep the
// default.
func (e *EmailChannel) WithTimeout(d time.Duration) *EmailChannel {
	if d > 0 {
		e.Timeout = d
	}
	return e
}

// WithSender replaces the SMTP transport.
func (e *EmailChannel) WithSender(fn SendMailFunc) *EmailChannel {
	e.sendMail = fn
	return e
}

func (e *EmailChannel) Type() string {
	return models.ChannelEmail
}

func (e *EmailChannel) Configured() bool {
	return e.Host != "" && e.User != "" && e.Password != "" && e.From != "" && len(e.To) > 0
}

func (e *EmailChannel) Send(ctx context.Context, msg *Message) error {
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	auth := smtp.PlainAuth("", e.User, e.Password, e.Host)

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	if err := e.sendMail(ctx, addr, auth, e.From, e.To, e.format(msg)); err != nil {
		return fmt.Errorf("send email notification: %w", err)
	}
	return nil
}

func (e *EmailChannel) format(msg *Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject())
	fmt.Fprintf(&b, "Date: %s\r\n", msg.Timestamp.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body(), "\n", "\r\n"))
	return []byte(b.String())
}

// sendMailStartTLS is smtp.SendMail with mandatory STARTTLS. The exchange is
// bound to ctx: the socket deadline follows the context deadline and the
// connection is closed when ctx is cancelled.
func sendMailStartTLS(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultEmailTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
