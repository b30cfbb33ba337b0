package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pagegate/pagegate/internal/adapter/outbound/memory"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/ratelimit"
)

func formLimiter(limit int) *ratelimit.SubmissionLimiter {
	return ratelimit.NewSubmissionLimiter(limit, time.Hour, clockwork.NewRealClock())
}

func contactConfig() *proxyrule.EmailConfig {
	return &proxyrule.EmailConfig{
		DestinationEmail: "inbox@example.com",
		SubjectTemplate:  "Message from {name}",
		ReplyToField:     "email",
		HoneypotField:    "website",
		SuccessRedirect:  "/thanks.html",
	}
}

// TestSubmit_SendsMail covers the happy path: subject interpolation,
// reply-to extraction, body composition, and the redirect answer.
func TestSubmit_SendsMail(t *testing.T) {
	t.Parallel()

	mailer := memory.NewMailer()
	svc := NewFormService(mailer, formLimiter(10), testLogger())

	res, err := svc.Submit(context.Background(), FormSubmission{
		Email: contactConfig(),
		Fields: []FormField{
			{Name: "name", Value: "Ada"},
			{Name: "email", Value: "ada@example.com"},
			{Name: "message", Value: "hello <world>"},
		},
		ClientIP: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Sent || res.RedirectURL != "/thanks.html" {
		t.Errorf("result = %+v", res)
	}

	sent := mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	msg := sent[0]
	if msg.To != "inbox@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Subject != "Message from Ada" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.ReplyTo != "ada@example.com" {
		t.Errorf("ReplyTo = %q", msg.ReplyTo)
	}
	if !strings.Contains(msg.Text, "message: hello <world>") {
		t.Errorf("Text = %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, "hello &lt;world&gt;") {
		t.Errorf("HTML not escaped: %q", msg.HTML)
	}
}

// TestSubmit_HoneypotDrops verifies bot fills answer success without a
// send and without consuming quota.
func TestSubmit_HoneypotDrops(t *testing.T) {
	t.Parallel()

	mailer := memory.NewMailer()
	limiter := formLimiter(10)
	svc := NewFormService(mailer, limiter, testLogger())

	res, err := svc.Submit(context.Background(), FormSubmission{
		Email: contactConfig(),
		Fields: []FormField{
			{Name: "name", Value: "bot"},
			{Name: "website", Value: "https://spam.example"},
		},
		ClientIP: "203.0.113.8",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.SilentDrop || res.Sent {
		t.Errorf("result = %+v, want silent drop", res)
	}
	if res.RedirectURL != "/thanks.html" {
		t.Errorf("RedirectURL = %q, honeypot must mimic success", res.RedirectURL)
	}
	if len(mailer.Sent()) != 0 {
		t.Error("honeypot hit sent mail")
	}
	if limiter.Size() != 0 {
		t.Error("honeypot hit consumed quota")
	}
}

// TestSubmit_RateLimited verifies only delivered messages count and the
// limit then rejects.
func TestSubmit_RateLimited(t *testing.T) {
	t.Parallel()

	svc := NewFormService(memory.NewMailer(), formLimiter(1), testLogger())
	sub := FormSubmission{
		Email:    contactConfig(),
		Fields:   []FormField{{Name: "name", Value: "Ada"}},
		ClientIP: "203.0.113.9",
	}

	if _, err := svc.Submit(context.Background(), sub); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.Submit(context.Background(), sub); !errors.Is(err, ErrSubmissionLimited) {
		t.Fatalf("second: err = %v, want ErrSubmissionLimited", err)
	}

	// Another address still has quota.
	sub.ClientIP = "198.51.100.1"
	if _, err := svc.Submit(context.Background(), sub); err != nil {
		t.Errorf("other ip: %v", err)
	}
}

// TestSubmit_ConfigErrors covers the unconfigured-transport and missing-
// destination failures.
func TestSubmit_ConfigErrors(t *testing.T) {
	t.Parallel()

	limiter := formLimiter(10)

	svc := NewFormService(nil, limiter, testLogger())
	sub := FormSubmission{
		Email:    contactConfig(),
		Fields:   []FormField{{Name: "name", Value: "Ada"}},
		ClientIP: "203.0.113.10",
	}
	if _, err := svc.Submit(context.Background(), sub); !errors.Is(err, ErrMailerUnconfigured) {
		t.Errorf("nil mailer: err = %v, want ErrMailerUnconfigured", err)
	}

	svc = NewFormService(memory.NewMailer(), limiter, testLogger())
	if _, err := svc.Submit(context.Background(), FormSubmission{ClientIP: "203.0.113.10"}); !errors.Is(err, ErrNoDestination) {
		t.Errorf("nil email config: err = %v, want ErrNoDestination", err)
	}
	cfg := contactConfig()
	cfg.DestinationEmail = ""
	sub.Email = cfg
	if _, err := svc.Submit(context.Background(), sub); !errors.Is(err, ErrNoDestination) {
		t.Errorf("empty destination: err = %v, want ErrNoDestination", err)
	}
	if limiter.Size() != 0 {
		t.Error("failed submissions consumed quota")
	}
}

// TestSubmit_InvalidReplyToIgnored verifies a malformed reply-to value is
// dropped rather than failing the send.
func TestSubmit_InvalidReplyToIgnored(t *testing.T) {
	t.Parallel()

	mailer := memory.NewMailer()
	svc := NewFormService(mailer, formLimiter(10), testLogger())

	res, err := svc.Submit(context.Background(), FormSubmission{
		Email: contactConfig(),
		Fields: []FormField{
			{Name: "name", Value: "Ada"},
			{Name: "email", Value: "not an address"},
		},
		ClientIP: "203.0.113.11",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Sent {
		t.Fatal("not sent")
	}
	if got := mailer.Sent()[0].ReplyTo; got != "" {
		t.Errorf("ReplyTo = %q, want empty", got)
	}
}

// TestSubmit_TransportFailure verifies send errors surface and leave the
// quota untouched.
func TestSubmit_TransportFailure(t *testing.T) {
	t.Parallel()

	mailer := memory.NewMailer()
	mailer.FailWith = errors.New("smtp down")
	limiter := formLimiter(10)
	svc := NewFormService(mailer, limiter, testLogger())

	_, err := svc.Submit(context.Background(), FormSubmission{
		Email:    contactConfig(),
		Fields:   []FormField{{Name: "name", Value: "Ada"}},
		ClientIP: "203.0.113.12",
	})
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("err = %v, want transport failure", err)
	}
	if limiter.Size() != 0 {
		t.Error("failed send consumed quota")
	}
}
