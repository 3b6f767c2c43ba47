package redact

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
)

// DefaultReplacement is the token written in place of sensitive values.
const DefaultReplacement = "[REDACTED]"

// DefaultSensitiveKeys lists the key fragments redacted by DefaultPolicy.
var DefaultSensitiveKeys = []string{
	"password",
	"token",
	"key",
	"secret",
	"authorization",
	"api-key",
	"x-api-key",
}

// forbiddenTokenChars may not appear in a replacement token. Each of them
// terminates a value in the plain-text and query forms, so a token holding one
// would be split on a second pass.
const forbiddenTokenChars = " \t\r\n&;,<>\"\\"

// Policy configures what a Redactor replaces.
type Policy struct {
	// Enabled turns all redaction on or off.
	Enabled bool `env:"ENABLED"`

	// SensitiveKeys are matched case-insensitively as substrings of JSON
	// keys, header names and query parameter names, and as whole keys in
	// XML and plain text.
	SensitiveKeys []string `env:"SENSITIVE_KEYS" envSeparator:","`

	// Replacement is written in place of every sensitive value.
	Replacement string `env:"REPLACEMENT"`

	RedactHeaders      bool `env:"HEADERS"`
	RedactQueryParams  bool `env:"QUERY_PARAMS"`
	RedactRequestBody  bool `env:"REQUEST_BODY"`
	RedactResponseBody bool `env:"RESPONSE_BODY"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	keys := make([]string, len(DefaultSensitiveKeys))
	copy(keys, DefaultSensitiveKeys)
	return Policy{
		Enabled:            true,
		SensitiveKeys:      keys,
		Replacement:        DefaultReplacement,
		RedactHeaders:      true,
		RedactQueryParams:  true,
		RedactRequestBody:  true,
		RedactResponseBody: true,
	}
}

// PolicyFromEnv returns DefaultPolicy overridden by OBSERVE_REDACT_* variables.
func PolicyFromEnv() (Policy, error) {
	p := DefaultPolicy()
	if err := env.ParseWithOptions(&p, env.Options{Prefix: "OBSERVE_REDACT_"}); err != nil {
		return Policy{}, fmt.Errorf("redact: parse environment: %w", err)
	}
	return p, nil
}

// Validate reports whether the policy can be frozen into a Redactor.
func (p Policy) Validate() error {
	if p.Replacement == "" {
		return fmt.Errorf("%w: replacement token is empty", ErrInvalidPolicy)
	}
	if strings.ContainsAny(p.Replacement, forbiddenTokenChars) {
		return fmt.Errorf("%w: replacement token %q contains a separator character", ErrInvalidPolicy, p.Replacement)
	}
	token := strings.ToLower(p.Replacement)
	for _, k := range p.SensitiveKeys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			return fmt.Errorf("%w: empty sensitive key", ErrInvalidPolicy)
		}
		if strings.Contains(token, k) {
			return fmt.Errorf("%w: replacement token %q contains sensitive key %q", ErrInvalidPolicy, p.Replacement, k)
		}
	}
	return nil
}
