package memory

import (
	"context"
	"sync"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

// Mailer implements outbound.Mailer by recording messages instead of
// sending them.
type Mailer struct {
	sent []outbound.Message
	// FailWith, when set, is returned from Send to simulate transport
	// failures.
	FailWith error
	mu       sync.Mutex
}

// NewMailer creates a recording mailer.
func NewMailer() *Mailer {
	return &Mailer{}
}

// Send records the message.
func (m *Mailer) Send(ctx context.Context, msg *outbound.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	m.sent = append(m.sent, *msg)
	return nil
}

// CheckHealth always succeeds.
func (m *Mailer) CheckHealth(ctx context.Context) error {
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *Mailer) Sent() []outbound.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]outbound.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

var _ outbound.Mailer = (*Mailer)(nil)
