package secrets

import (
	"fmt"
	"regexp"
)

// Redactor masks credentials in strings before they reach logs or error responses
type Redactor struct {
	patterns    []*regexp.Regexp
	replacement string
}

// NewRedactor creates a new redactor with default sensitive patterns
func NewRedactor() *Redactor {
	defaultPatterns := []string{
		// Database connection strings
		`postgres(?:ql)?://[^:\s]+:[^@\s]+@[^\s"']+`,
		`redis://[^:\s]*:[^@\s]+@[^\s"']+`,
		// key=value DSNs
		`(?i)password=[^\s"']+`,

		// Tokens and shared secrets
		`(?i)bearer\s+[a-zA-Z0-9\-\._~\+/]+=*`,
		`(?i)(?:api[_-]?key|token|secret|password|pwd)["\s]*[:=]["\s]*[^\s"',}]+`,

		// JWT tokens
		`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	}

	patterns := make([]*regexp.Regexp, len(defaultPatterns))
	for i, pattern := range defaultPatterns {
		patterns[i] = regexp.MustCompile(pattern)
	}

	return &Redactor{
		patterns:    patterns,
		replacement: "[REDACTED]",
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	r.patterns = append(r.patterns, compiled)
	return nil
}

// AddLiteral masks every occurrence of a known secret value
func (r *Redactor) AddLiteral(value string) {
	if value == "" {
		return
	}
	r.patterns = append(r.patterns, regexp.MustCompile(regexp.QuoteMeta(value)))
}

// RedactString redacts sensitive data from a string
func (r *Redactor) RedactString(input string) string {
	result := input
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// RedactError returns the redacted message of err, or "" for nil
func (r *Redactor) RedactError(err error) string {
	if err == nil {
		return ""
	}
	return r.RedactString(err.Error())
}
