// Package retry wraps one invocation's attempt loop with a per-backend,
// per-call retry policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agentmux/amx/internal/backend"
	"github.com/agentmux/amx/internal/classify"
)

// Policy bounds one invocation's attempt loop. Read-only once derived.
type Policy struct {
	// MaxAttempts is retries + 1; always >= 1.
	MaxAttempts int
	// Eligible decides which error kinds earn a fresh attempt.
	Eligible func(classify.Kind) bool
}

// PolicyFor derives the effective policy from backend defaults and an
// optional per-call override. Overrides below zero are ignored.
func PolicyFor(desc backend.Descriptor, override *int) Policy {
	retries := desc.DefaultMaxRetries
	if override != nil && *override >= 0 {
		retries = *override
	}
	return Policy{
		MaxAttempts: retries + 1,
		Eligible:    classify.Retryable,
	}
}

// AttemptFunc runs one attempt and reports its error kind; ok means success
// and ends the loop immediately.
type AttemptFunc func(ctx context.Context) (kind classify.Kind, ok bool)

// Result summarizes the loop for the caller's error detail.
type Result struct {
	Kind    classify.Kind
	OK      bool
	Retries int
}

// Do runs the attempt loop. Each retry is a fresh attempt with the same
// request; a short bounded backoff separates attempts. The retry count
// consumed is always reported, success or not.
func Do(ctx context.Context, policy Policy, attempt AttemptFunc) Result {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	eligible := policy.Eligible
	if eligible == nil {
		eligible = classify.Retryable
	}

	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = 500 * time.Millisecond
	delay.MaxInterval = 5 * time.Second

	result := Result{}
	for attemptNumber := 1; ; attemptNumber++ {
		kind, ok := attempt(ctx)
		result.Kind = kind
		result.OK = ok
		result.Retries = attemptNumber - 1
		if ok {
			return result
		}
		if !eligible(kind) || attemptNumber >= policy.MaxAttempts {
			return result
		}

		select {
		case <-time.After(delay.NextBackOff()):
		case <-ctx.Done():
			result.Kind = classify.KindCancelled
			return result
		}
	}
}
