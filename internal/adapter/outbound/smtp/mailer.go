// Package smtp implements the mailer port over SMTP for form-handler
// submissions.
package smtp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/mail.v2"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

// dialerTimeout bounds SMTP dial and send operations.
const dialerTimeout = 10 * time.Second

// Config carries the SMTP transport settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// StartTLSPolicy is one of mandatory, opportunistic, none.
	StartTLSPolicy string
}

// Mailer implements outbound.Mailer over SMTP.
type Mailer struct {
	dialer *mail.Dialer
	from   string
}

// NewMailer builds the dialer from cfg. Unknown TLS policies fall back to
// mandatory, the safe default.
func NewMailer(cfg Config) *Mailer {
	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = dialerTimeout
	switch cfg.StartTLSPolicy {
	case "opportunistic":
		dialer.StartTLSPolicy = mail.OpportunisticStartTLS
	case "none":
		dialer.StartTLSPolicy = mail.NoStartTLS
	default:
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return &Mailer{dialer: dialer, from: cfg.From}
}

// Send delivers one message. The dialer's own timeout bounds the call.
func (m *Mailer) Send(ctx context.Context, msg *outbound.Message) error {
	id, err := genMessageID()
	if err != nil {
		return err
	}

	mm := mail.NewMessage()
	mm.SetHeader("From", m.from)
	mm.SetHeader("To", msg.To)
	mm.SetHeader("Subject", msg.Subject)
	mm.SetHeader("Message-ID", fmt.Sprintf("<%s>", id))
	if msg.ReplyTo != "" {
		mm.SetHeader("Reply-To", msg.ReplyTo)
	}
	mm.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		mm.AddAlternative("text/html", msg.HTML)
	}

	if err := m.dialer.DialAndSend(mm); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// CheckHealth dials the SMTP server and closes the connection.
func (m *Mailer) CheckHealth(ctx context.Context) error {
	client, err := m.dialer.Dial()
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	return client.Close()
}

// genMessageID builds an RFC 5322 Message-ID from the current time, a
// random nonce, and the hostname.
func genMessageID() (string, error) {
	now := uint64(time.Now().UnixNano())

	nonceByte := make([]byte, 8)
	if _, err := rand.Read(nonceByte); err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	nonce := binary.BigEndian.Uint64(nonceByte)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s.%s@%s", base36(now), base36(nonce), hostname), nil
}

func base36(input uint64) string {
	return strings.ToUpper(strconv.FormatUint(input, 36))
}

var _ outbound.Mailer = (*Mailer)(nil)
