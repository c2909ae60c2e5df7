// Package ingest validates and canonicalizes incoming log events.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/tracelens/triage-engine/internal/models"
)

var (
	uuidPattern       = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	digitPattern      = regexp.MustCompile(`\d+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// ValidationError reports a malformed or incomplete log event. It is a
// client-side failure: rejected at the boundary, never retried.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Normalize validates the event, converts its timestamp to UTC, and derives
// the error signature. The event is immutable downstream of this call; no
// I/O happens here.
func Normalize(ev *models.LogEvent) error {
	if ev.Ts.IsZero() {
		return &ValidationError{Field: "ts"}
	}
	if strings.TrimSpace(ev.Service) == "" {
		return &ValidationError{Field: "service"}
	}
	if strings.TrimSpace(ev.Message) == "" {
		return &ValidationError{Field: "message"}
	}

	ev.Ts = ev.Ts.UTC()
	ev.ErrorSignature = Signature(ev.Message)
	return nil
}

// Signature computes the clustering fingerprint of a message: UUID-shaped
// substrings and digit runs are masked, whitespace is collapsed, and the
// result is hashed. Messages that differ only in literal values collapse
// onto the same signature, which is the sole clustering key for evidence
// aggregation. Returns "" for an empty message.
func Signature(message string) string {
	if strings.TrimSpace(message) == "" {
		return ""
	}

	normalized := uuidPattern.ReplaceAllString(message, "<UUID>")
	normalized = digitPattern.ReplaceAllString(normalized, "<NUM>")
	normalized = strings.TrimSpace(whitespacePattern.ReplaceAllString(normalized, " "))

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
