// Package errkind implements the closed error taxonomy spec §7 defines:
// every agent-visible failure carries one of a fixed set of kinds so
// callers can branch on policy (retry, degrade, surface, never-gate)
// without string-matching error text.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of failure categories.
type Kind string

const (
	// TransientExternal covers LLM timeouts, unreachable external
	// verifiers, and temporarily unavailable queues. Policy: retry with
	// backoff and circuit breaker; degrade gracefully.
	TransientExternal Kind = "transient_external"

	// MalformedInput covers unparseable LLM output, invalid idempotency
	// keys, and missing required fields. Policy: repair where safe;
	// otherwise discard with an audit entry.
	MalformedInput Kind = "malformed_input"

	// HallucinationDetected covers a span not found in the utterance,
	// implausible entity/relation counts, or context bleed. Policy:
	// reduce confidence or discard the stage output; count toward rate
	// alerting.
	HallucinationDetected Kind = "hallucination_detected"

	// InvariantViolation covers an orphan edge, a privacy-level
	// violation, or an out-of-range confidence. Policy: reject the
	// operation, write an audit entry, surface to the caller.
	InvariantViolation Kind = "invariant_violation"

	// UserCorrection marks an explicit revise/delete/retract. Policy:
	// always apply; never gated by confidence.
	UserCorrection Kind = "user_correction"

	// Fatal marks an internal error scoped to the failing operation only;
	// the service continues serving other operations. Not observable by
	// the agent at request scope.
	Fatal Kind = "fatal"
)

// Error wraps an underlying error with its [Kind], implementing
// errors.Unwrap so callers can still reach the cause.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "create_edge"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as kind, annotated with op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// As reports whether err (or any error it wraps) is an [*Error] and, if so,
// returns its [Kind].
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err (or any error it wraps) is an [*Error] of kind.
func Is(err error, kind Kind) bool {
	got, ok := As(err)
	return ok && got == kind
}
