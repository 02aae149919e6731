// Package classify maps raw process outcomes onto the closed error taxonomy
// surfaced to callers. No raw signals or stack traces cross this boundary.
package classify

import (
	"context"
	"errors"

	"github.com/agentmux/amx/internal/supervise"
)

// Kind is one entry of the closed error taxonomy.
type Kind string

const (
	// KindTimeout marks an attempt terminated by the idle or hard guard.
	KindTimeout Kind = "timeout"
	// KindUpstreamError marks a failure attributable to the backend itself.
	KindUpstreamError Kind = "upstream_error"
	// KindConfigurationError marks missing credentials or executables.
	KindConfigurationError Kind = "configuration_error"
	// KindInvalidInput marks requests rejected before any spawn.
	KindInvalidInput Kind = "invalid_input"
	// KindCancelled marks a caller-initiated abort.
	KindCancelled Kind = "cancelled"
	// KindInternalError marks engine defects and everything unclassifiable.
	KindInternalError Kind = "internal_error"
)

// Retryable reports whether an error kind is worth a fresh attempt.
// Deterministic failures (bad input, bad configuration) and cancellations
// never are; only transient backend trouble is.
func Retryable(kind Kind) bool {
	return kind == KindTimeout || kind == KindUpstreamError
}

// Classify maps one raw outcome to its error kind. It is deterministic:
// the same outcome always yields the same kind.
func Classify(outcome supervise.Outcome) Kind {
	switch {
	case outcome.Cancelled:
		return KindCancelled
	case outcome.TimedOut():
		return KindTimeout
	case outcome.StartErr != nil:
		switch {
		case errors.Is(outcome.StartErr, supervise.ErrExecutableNotFound):
			return KindConfigurationError
		// A context cancelled before the spawn surfaces as a start error.
		case errors.Is(outcome.StartErr, context.Canceled):
			return KindCancelled
		case errors.Is(outcome.StartErr, context.DeadlineExceeded):
			return KindTimeout
		}
		return KindInternalError
	case outcome.WaitErr != nil:
		return KindInternalError
	case outcome.ExitCode != 0:
		return KindUpstreamError
	default:
		// Exit 0 reaches the classifier only when the stream-level
		// contract failed, which is the backend's own doing.
		return KindUpstreamError
	}
}
