// Package redact replaces sensitive values in HTTP content before it is logged.
//
// A Redactor is built once from a Policy and is immutable afterwards, so it can
// be shared by any number of goroutines without locking. Redaction is
// deterministic and idempotent: running a Redactor over its own output returns
// the output unchanged.
//
// Content is dispatched by media type:
//
//   - JSON bodies are decoded and re-encoded; any object key that contains a
//     sensitive key (case-insensitive) has its value replaced. Undecodable
//     JSON falls back to a pattern replacement on the raw text.
//   - XML bodies have <key>value</key> elements replaced.
//   - Everything else (plain text, form bodies) has key=value and key: value
//     tokens replaced.
//
// Redact never fails. When something goes wrong internally the original
// content is returned, which favors visibility over silent loss; malformed
// content can therefore reach the logs unredacted.
package redact
