// Package redact sanitizes strings that may embed secrets (API keys, bearer
// tokens, git tokens, database connection strings) before they reach a log
// sink or the lifecycle event bus. Grounded in the teacher's
// pkg/masking/service.go + pkg/masking/pattern.go: a registry of compiled
// regex patterns applied in sequence, with the same fail-closed/fail-open
// split the teacher uses for tool output vs. alert data — here applied to
// ledger/gateway error messages (fail-closed) vs. best-effort lifecycle
// event payloads (fail-open), per SPEC_FULL.md §12.
package redact

import "regexp"

// Pattern is a single compiled redaction rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

var builtinPatterns = []Pattern{
	{
		Name:        "openai_api_key",
		Regex:       regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		Replacement: "sk-***REDACTED***",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-_.=]{8,}`),
		Replacement: "${1}***REDACTED***",
	},
	{
		Name:        "basic_auth_header",
		Regex:       regexp.MustCompile(`(?i)(basic\s+)[A-Za-z0-9+/=]{8,}`),
		Replacement: "${1}***REDACTED***",
	},
	{
		Name:        "github_token",
		Regex:       regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
		Replacement: "***REDACTED***",
	},
	{
		Name:        "postgres_dsn_password",
		Regex:       regexp.MustCompile(`(?i)(password=)[^\s&]+`),
		Replacement: "${1}***REDACTED***",
	},
	{
		Name:        "url_userinfo",
		Regex:       regexp.MustCompile(`(\w+://[^:/\s]+:)[^@/\s]+(@)`),
		Replacement: "${1}***REDACTED***${2}",
	},
}

// Redactor applies a fixed set of compiled patterns in sequence. It is safe
// for concurrent use (read-only after construction).
type Redactor struct {
	patterns []Pattern
}

// New builds a Redactor from the built-in pattern set plus any caller-
// supplied custom patterns.
func New(custom ...Pattern) *Redactor {
	patterns := make([]Pattern, 0, len(builtinPatterns)+len(custom))
	patterns = append(patterns, builtinPatterns...)
	patterns = append(patterns, custom...)
	return &Redactor{patterns: patterns}
}

const failClosedMessage = "[REDACTED: log message could not be safely sanitized]"

// Sanitize applies every pattern to s, fail-closed: any panic recovered while
// sanitizing (e.g. a malformed custom pattern) degrades the output to a fixed
// placeholder rather than risk emitting an unsanitized secret. Use this for
// anything bound for the ledger or a correctness-relevant log line
// (ModelInvocationError messages, gateway diagnostics).
func (r *Redactor) Sanitize(s string) (out string) {
	defer func() {
		if recover() != nil {
			out = failClosedMessage
		}
	}()
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// SanitizeBestEffort applies every pattern to s, fail-open: on panic it
// returns the original string unredacted. Use this only for non-correctness-
// boundary payloads such as lifecycle event bus text, per spec.md §4.6's
// "best-effort, not part of the correctness boundary" framing.
func (r *Redactor) SanitizeBestEffort(s string) (out string) {
	defer func() {
		if recover() != nil {
			out = s
		}
	}()
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}
