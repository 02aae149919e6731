package retry

import (
	"context"
	"testing"

	"github.com/agentmux/amx/internal/backend"
	"github.com/agentmux/amx/internal/classify"
)

func TestPolicyForUsesBackendDefaults(t *testing.T) {
	t.Parallel()

	coder, _ := backend.Lookup("coder")
	if got := PolicyFor(coder, nil).MaxAttempts; got != 1 {
		t.Fatalf("coder max attempts = %d, want 1", got)
	}

	codex, _ := backend.Lookup("codex")
	if got := PolicyFor(codex, nil).MaxAttempts; got != 2 {
		t.Fatalf("codex max attempts = %d, want 2", got)
	}
}

func TestPolicyForHonorsOverride(t *testing.T) {
	t.Parallel()

	coder, _ := backend.Lookup("coder")
	three := 3
	if got := PolicyFor(coder, &three).MaxAttempts; got != 4 {
		t.Fatalf("overridden max attempts = %d, want 4", got)
	}

	negative := -1
	if got := PolicyFor(coder, &negative).MaxAttempts; got != 1 {
		t.Fatalf("negative override must fall back to defaults, got %d", got)
	}
}

func TestDoRetriesUpstreamErrorsExactly(t *testing.T) {
	t.Parallel()

	attempts := 0
	result := Do(context.Background(), Policy{MaxAttempts: 3}, func(context.Context) (classify.Kind, bool) {
		attempts++
		return classify.KindUpstreamError, false
	})

	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if result.Retries != 2 {
		t.Fatalf("retries = %d, want 2", result.Retries)
	}
	if result.OK {
		t.Fatal("result must be a failure")
	}
	if result.Kind != classify.KindUpstreamError {
		t.Fatalf("kind = %q", result.Kind)
	}
}

func TestDoNeverRetriesDeterministicFailures(t *testing.T) {
	t.Parallel()

	for _, kind := range []classify.Kind{
		classify.KindInvalidInput,
		classify.KindConfigurationError,
		classify.KindCancelled,
		classify.KindInternalError,
	} {
		attempts := 0
		result := Do(context.Background(), Policy{MaxAttempts: 5}, func(context.Context) (classify.Kind, bool) {
			attempts++
			return kind, false
		})
		if attempts != 1 {
			t.Fatalf("%s: attempts = %d, want 1", kind, attempts)
		}
		if result.Retries != 0 {
			t.Fatalf("%s: retries = %d, want 0", kind, result.Retries)
		}
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	t.Parallel()

	attempts := 0
	result := Do(context.Background(), Policy{MaxAttempts: 4}, func(context.Context) (classify.Kind, bool) {
		attempts++
		if attempts == 2 {
			return "", true
		}
		return classify.KindTimeout, false
	})

	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if !result.OK || result.Retries != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	result := Do(ctx, Policy{MaxAttempts: 3}, func(context.Context) (classify.Kind, bool) {
		attempts++
		cancel()
		return classify.KindTimeout, false
	})

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if result.Kind != classify.KindCancelled {
		t.Fatalf("kind = %q, want cancelled", result.Kind)
	}
}
