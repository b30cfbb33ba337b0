// Package proxyrule defines proxy rule sets: ordered path-pattern rules
// that turn matching requests into external proxy calls, internal rewrites,
// or form-handler submissions. Rules are compiled once per cache load and
// evaluated first-enabled-match-wins.
package proxyrule

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/glob"
)

// Sentinel errors returned by Store implementations and validation.
var (
	// ErrRuleSetNotFound is returned when no rule set matches the lookup.
	ErrRuleSetNotFound = errors.New("rule set not found")
	// ErrRuleNotFound is returned when no rule matches the lookup.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrDuplicatePattern is returned when (ruleSetID, pathPattern) is taken.
	ErrDuplicatePattern = errors.New("path pattern already exists in rule set")
	// ErrDuplicateRuleSet is returned when (projectID, name) is taken.
	ErrDuplicateRuleSet = errors.New("rule set already exists")
)

// Kind classifies what a matched rule does with the request.
type Kind string

const (
	// KindExternalProxy forwards the request to TargetURL.
	KindExternalProxy Kind = "external_proxy"
	// KindInternalRewrite rewrites the subpath and falls back to file
	// serving.
	KindInternalRewrite Kind = "internal_rewrite"
	// KindEmailForm turns a POST into an email submission.
	KindEmailForm Kind = "email_form_handler"
)

// Valid reports whether k is a known rule kind.
func (k Kind) Valid() bool {
	return k == KindExternalProxy || k == KindInternalRewrite || k == KindEmailForm
}

// Timeout bounds for external proxy rules, in milliseconds.
const (
	MinTimeoutMs     = 1000
	MaxTimeoutMs     = 60000
	DefaultTimeoutMs = 30000
)

// HeaderConfig shapes the headers forwarded to an external target.
// Add values are stored encrypted at rest and decrypted only when the
// outbound request is assembled.
type HeaderConfig struct {
	Forward []string          `json:"forward,omitempty"`
	Strip   []string          `json:"strip,omitempty"`
	Add     map[string]string `json:"add,omitempty"`
}

// AuthTransformCookieToBearer lifts a named cookie into a bearer token.
const AuthTransformCookieToBearer = "cookie-to-bearer"

// AuthTransform rewrites inbound credentials before the request leaves.
type AuthTransform struct {
	Kind       string `json:"kind"`
	CookieName string `json:"cookieName"`
}

// EmailConfig configures a form-handler rule.
type EmailConfig struct {
	DestinationEmail string `json:"destinationEmail"`
	SubjectTemplate  string `json:"subjectTemplate,omitempty"`
	ReplyToField     string `json:"replyToField,omitempty"`
	HoneypotField    string `json:"honeypotField,omitempty"`
	SuccessRedirect  string `json:"successRedirect,omitempty"`
	CORSOrigin       string `json:"corsOrigin,omitempty"`
	RequireAuth      bool   `json:"requireAuth,omitempty"`
}

// RuleSet groups ordered rules under a project. Environment is a free-form
// deploy-target tag (production, staging) used only for display.
type RuleSet struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Name        string
	Environment string
	CreatedAt   time.Time
}

// Rule is one path-pattern entry in a rule set.
type Rule struct {
	ID        uuid.UUID
	RuleSetID uuid.UUID

	PathPattern string
	TargetURL   string
	Kind        Kind

	// StripPrefix removes the matched prefix before concatenation with
	// TargetURL's path.
	StripPrefix bool

	// Order positions the rule within its set; evaluation is ascending.
	Order int

	TimeoutMs      int
	PreserveHost   bool
	ForwardCookies bool
	Headers        HeaderConfig
	AuthTransform  *AuthTransform
	Email          *EmailConfig
	Enabled        bool

	CreatedAt time.Time
}

// Timeout returns the outbound deadline for the rule, defaulting when the
// stored value is zero.
func (r *Rule) Timeout() time.Duration {
	ms := r.TimeoutMs
	if ms == 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Validate checks pattern, target, timeout bounds, and kind-specific
// requirements. SSRF checks on the target happen separately via Guard.
func (r *Rule) Validate() error {
	if _, err := glob.Compile(r.PathPattern); err != nil {
		return fmt.Errorf("path pattern %q: %w", r.PathPattern, err)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown proxy kind %q", r.Kind)
	}
	if r.TimeoutMs != 0 && (r.TimeoutMs < MinTimeoutMs || r.TimeoutMs > MaxTimeoutMs) {
		return fmt.Errorf("timeoutMs %d outside [%d, %d]", r.TimeoutMs, MinTimeoutMs, MaxTimeoutMs)
	}
	switch r.Kind {
	case KindExternalProxy:
		u, err := url.Parse(r.TargetURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("external proxy needs an absolute http(s) target, got %q", r.TargetURL)
		}
	case KindInternalRewrite:
		if !strings.HasPrefix(r.TargetURL, "/") {
			return fmt.Errorf("internal rewrite target must be an absolute path, got %q", r.TargetURL)
		}
	case KindEmailForm:
		if r.Email == nil || r.Email.DestinationEmail == "" {
			return errors.New("form handler needs a destination email")
		}
	}
	if r.AuthTransform != nil {
		if r.AuthTransform.Kind != AuthTransformCookieToBearer {
			return fmt.Errorf("unknown auth transform %q", r.AuthTransform.Kind)
		}
		if r.AuthTransform.CookieName == "" {
			return errors.New("cookie-to-bearer needs a cookie name")
		}
	}
	return nil
}
