package redact

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// Redactor applies a frozen Policy.
//
// Contract:
// - Concurrency: safe for concurrent use; a Redactor never changes after New.
// - Errors: redaction methods never panic and never return errors.
// - Ownership: input maps are never mutated; new maps are returned.
type Redactor struct {
	policy Policy

	// keys are the lower-cased sensitive keys, longest first.
	keys []string

	jsonFallback *regexp.Regexp
	plainText    *regexp.Regexp
	xmlElements  []*regexp.Regexp

	// replacement escaped for use in regexp templates.
	templateToken string
}

// New freezes policy into a Redactor.
func New(policy Policy) (*Redactor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	r := &Redactor{policy: policy}
	r.policy.SensitiveKeys = make([]string, len(policy.SensitiveKeys))
	copy(r.policy.SensitiveKeys, policy.SensitiveKeys)

	seen := make(map[string]bool, len(policy.SensitiveKeys))
	for _, k := range policy.SensitiveKeys {
		k = strings.ToLower(strings.TrimSpace(k))
		if !seen[k] {
			seen[k] = true
			r.keys = append(r.keys, k)
		}
	}
	sort.SliceStable(r.keys, func(i, j int) bool { return len(r.keys[i]) > len(r.keys[j]) })

	r.templateToken = strings.ReplaceAll(policy.Replacement, "$", "$$")

	if len(r.keys) > 0 {
		quoted := make([]string, len(r.keys))
		for i, k := range r.keys {
			quoted[i] = regexp.QuoteMeta(k)
		}
		alt := strings.Join(quoted, "|")

		r.jsonFallback = regexp.MustCompile(`(?i)"([^"]*(?:` + alt + `)[^"]*)"\s*:\s*(?:"(?:[^"\\]|\\.)*"|[^,}\]\s]+)`)
		r.plainText = regexp.MustCompile(`(?i)((?:` + alt + `)\s*[=:]\s*)[^\s&;,]+`)

		for _, q := range quoted {
			r.xmlElements = append(r.xmlElements,
				regexp.MustCompile(`(?i)(<`+q+`(?:\s[^>]*)?>)[^<]*(</`+q+`\s*>)`))
		}
	}

	return r, nil
}

// MustNew is like New but panics on an invalid policy.
func MustNew(policy Policy) *Redactor {
	r, err := New(policy)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns a Redactor for DefaultPolicy.
func Default() *Redactor {
	return MustNew(DefaultPolicy())
}

// Policy returns a copy of the frozen policy.
func (r *Redactor) Policy() Policy {
	p := r.policy
	p.SensitiveKeys = make([]string, len(r.policy.SensitiveKeys))
	copy(p.SensitiveKeys, r.policy.SensitiveKeys)
	return p
}

// Replacement returns the token written in place of sensitive values.
func (r *Redactor) Replacement() string {
	return r.policy.Replacement
}

// IsSensitive reports whether name contains any sensitive key, ignoring case.
func (r *Redactor) IsSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, k := range r.keys {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// Redact redacts a body of the given content type. It is a no-op when the
// policy is disabled or both body toggles are off.
func (r *Redactor) Redact(content, contentType string) string {
	if content == "" || !r.policy.Enabled {
		return content
	}
	if !r.policy.RedactRequestBody && !r.policy.RedactResponseBody {
		return content
	}
	return r.redactContent(content, contentType)
}

// RedactRequestBody redacts content when request body redaction is enabled.
func (r *Redactor) RedactRequestBody(content, contentType string) string {
	if content == "" || !r.policy.Enabled || !r.policy.RedactRequestBody {
		return content
	}
	return r.redactContent(content, contentType)
}

// RedactResponseBody redacts content when response body redaction is enabled.
func (r *Redactor) RedactResponseBody(content, contentType string) string {
	if content == "" || !r.policy.Enabled || !r.policy.RedactResponseBody {
		return content
	}
	return r.redactContent(content, contentType)
}

func (r *Redactor) redactContent(content, contentType string) (out string) {
	if len(r.keys) == 0 {
		return content
	}

	defer func() {
		if recover() != nil {
			out = content
		}
	}()

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return r.redactJSON(content)
	case strings.Contains(ct, "xml"):
		return r.redactXML(content)
	default:
		return r.redactPlainText(content)
	}
}

// RedactHeaders replaces the value of every header whose name contains a
// sensitive key. A nil map is returned as nil.
func (r *Redactor) RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil || !r.policy.Enabled || !r.policy.RedactHeaders {
		return headers
	}

	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if r.IsSensitive(name) {
			out[name] = r.policy.Replacement
		} else {
			out[name] = value
		}
	}
	return out
}

// RedactHTTPHeader flattens h (multiple values joined with ", ") and redacts it.
// An empty header set yields nil.
func (r *Redactor) RedactHTTPHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	flat := make(map[string]string, len(h))
	for name, values := range h {
		flat[name] = strings.Join(values, ", ")
	}
	return r.RedactHeaders(flat)
}

// RedactQueryString replaces the values of sensitive parameters in a raw
// query string, keeping keys, separators and a leading '?'.
func (r *Redactor) RedactQueryString(raw string) string {
	if raw == "" || !r.policy.Enabled || !r.policy.RedactQueryParams {
		return raw
	}

	prefix := ""
	query := raw
	if strings.HasPrefix(query, "?") {
		prefix = "?"
		query = query[1:]
	}

	params := strings.Split(query, "&")
	for i, param := range params {
		key, _, found := strings.Cut(param, "=")
		if !found {
			continue
		}
		if r.IsSensitive(key) {
			params[i] = key + "=" + r.policy.Replacement
		}
	}
	return prefix + strings.Join(params, "&")
}

func (r *Redactor) redactJSON(content string) string {
	if out, ok := r.redactJSONDocument(content); ok {
		return out
	}
	// The fallback can turn a document valid (an unquoted sensitive value
	// becomes a string), so re-encode it to keep the result canonical.
	patched := r.redactJSONFallback(content)
	if out, ok := r.redactJSONDocument(patched); ok {
		return out
	}
	return patched
}

// redactJSONDocument decodes exactly one JSON value and re-encodes it with
// sensitive values replaced. ok is false when content is not a single
// well-formed value.
func (r *Redactor) redactJSONDocument(content string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		// Trailing data after the first value.
		return "", false
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.redactValue(doc)); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if r.IsSensitive(k) {
				out[k] = r.policy.Replacement
			} else {
				out[k] = r.redactValue(child)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = r.redactValue(child)
		}
		return out
	default:
		return val
	}
}

func (r *Redactor) redactJSONFallback(content string) string {
	return r.jsonFallback.ReplaceAllString(content, `"${1}":"`+r.templateToken+`"`)
}

func (r *Redactor) redactXML(content string) string {
	for _, re := range r.xmlElements {
		content = re.ReplaceAllString(content, "${1}"+r.templateToken+"${2}")
	}
	return content
}

func (r *Redactor) redactPlainText(content string) string {
	return r.plainText.ReplaceAllString(content, "${1}"+r.templateToken)
}
