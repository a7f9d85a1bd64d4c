package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// Mailer sends plain-text email over SMTP.
type Mailer struct {
	addr string // host:port
	from string
	auth smtp.Auth
	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer creates an SMTP mailer. username may be empty for unauthenticated
// relays (local development).
func NewMailer(addr, from, username, password string) *Mailer {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if i := strings.IndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &Mailer{addr: addr, from: from, auth: auth, send: smtp.SendMail}
}

// Send delivers the notification as a single email.
func (m *Mailer) Send(ctx context.Context, n Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("notify.Mailer.Send: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", n.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(n.Body)

	if err := m.send(m.addr, m.auth, m.from, []string{n.Recipient}, []byte(b.String())); err != nil {
		return "", fmt.Errorf("notify.Mailer.Send: %w", err)
	}

	// SMTP has no delivery handle; generate one for audit correlation.
	return uuid.NewString(), nil
}
