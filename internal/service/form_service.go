package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/ratelimit"
	"github.com/pagegate/pagegate/internal/port/outbound"
)

// Form submission failures surfaced to the transport layer.
var (
	// ErrMailerUnconfigured means no email transport is wired.
	ErrMailerUnconfigured = errors.New("email transport not configured")
	// ErrNoDestination means the rule has no destination address.
	ErrNoDestination = errors.New("form rule has no destination email")
	// ErrSubmissionLimited means the source IP exhausted its window.
	ErrSubmissionLimited = errors.New("submission rate limit exceeded")
)

// FormField is one submitted field. Order is preserved from the request
// body so the composed email reads like the form.
type FormField struct {
	Name  string
	Value string
}

// FormSubmission is a parsed form POST.
type FormSubmission struct {
	Email    *proxyrule.EmailConfig
	Fields   []FormField
	ClientIP string
}

// FormResult reports what the handler should answer.
type FormResult struct {
	// Sent is true when a message went out.
	Sent bool
	// SilentDrop is true for honeypot hits: answer success, send nothing.
	SilentDrop bool
	// RedirectURL triggers a 303 when non-empty.
	RedirectURL string
}

// FormService turns form submissions into outbound email.
type FormService struct {
	mailer  outbound.Mailer
	limiter *ratelimit.SubmissionLimiter
	logger  *slog.Logger
}

// NewFormService wires the dispatcher. mailer may be nil when SMTP is not
// configured; submissions then fail with ErrMailerUnconfigured.
func NewFormService(mailer outbound.Mailer, limiter *ratelimit.SubmissionLimiter, logger *slog.Logger) *FormService {
	return &FormService{mailer: mailer, limiter: limiter, logger: logger}
}

// Submit runs the dispatch pipeline: rate limit, honeypot, transport and
// destination checks, compose, send. Only a delivered message consumes
// rate-limit quota.
func (s *FormService) Submit(ctx context.Context, sub FormSubmission) (*FormResult, error) {
	if sub.Email == nil {
		return nil, ErrNoDestination
	}

	if !s.limiter.Allow(sub.ClientIP) {
		return nil, ErrSubmissionLimited
	}

	if hp := sub.Email.HoneypotField; hp != "" {
		if v := fieldValue(sub.Fields, hp); v != "" {
			s.logger.Info("honeypot hit, dropping submission", "client_ip", sub.ClientIP)
			return &FormResult{SilentDrop: true, RedirectURL: sub.Email.SuccessRedirect}, nil
		}
	}

	if s.mailer == nil {
		return nil, ErrMailerUnconfigured
	}
	if sub.Email.DestinationEmail == "" {
		return nil, ErrNoDestination
	}

	msg := &outbound.Message{
		To:      sub.Email.DestinationEmail,
		Subject: renderSubject(sub.Email.SubjectTemplate, sub.Fields),
		Text:    composeText(sub.Fields),
		HTML:    composeHTML(sub.Fields),
	}
	if rf := sub.Email.ReplyToField; rf != "" {
		if addr := fieldValue(sub.Fields, rf); addr != "" {
			if _, err := mail.ParseAddress(addr); err == nil {
				msg.ReplyTo = addr
			} else {
				s.logger.Debug("ignoring invalid reply-to", "value", addr)
			}
		}
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send form mail: %w", err)
	}
	s.limiter.Record(sub.ClientIP)

	return &FormResult{Sent: true, RedirectURL: sub.Email.SuccessRedirect}, nil
}

func fieldValue(fields []FormField, name string) string {
	for _, f := range fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// renderSubject substitutes {fieldName} placeholders in the template.
func renderSubject(template string, fields []FormField) string {
	if template == "" {
		return "New form submission"
	}
	out := template
	for _, f := range fields {
		out = strings.ReplaceAll(out, "{"+f.Name+"}", f.Value)
	}
	return out
}

func composeText(fields []FormField) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	return b.String()
}

func composeHTML(fields []FormField) string {
	var b strings.Builder
	b.WriteString("<table>\n")
	for _, f := range fields {
		b.WriteString("<tr><td><strong>")
		b.WriteString(html.EscapeString(f.Name))
		b.WriteString("</strong></td><td>")
		b.WriteString(html.EscapeString(f.Value))
		b.WriteString("</td></tr>\n")
	}
	b.WriteString("</table>\n")
	return b.String()
}
