package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestResolveUnknownSessionIsNotAnError(t *testing.T) {
	t.Parallel()

	store := NewStore()
	token, ok := store.Resolve("claude", "never-seen")
	if ok || token != "" {
		t.Fatalf("Resolve unknown = (%q, %v), want no continuation", token, ok)
	}
}

func TestRecordThenResolveAndUpdate(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Record("claude", "sess-1", "sess-1")

	token, ok := store.Resolve("claude", "sess-1")
	if !ok || token != "sess-1" {
		t.Fatalf("Resolve = (%q, %v), want sess-1", token, ok)
	}

	store.Record("claude", "sess-1", "sess-2")
	token, ok = store.Resolve("claude", "sess-1")
	if !ok || token != "sess-2" {
		t.Fatalf("Resolve after update = (%q, %v), want sess-2", token, ok)
	}
}

func TestSessionsNeverCrossBackends(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Record("claude", "sess-1", "tok-a")

	if token, ok := store.Resolve("codex", "sess-1"); ok {
		t.Fatalf("codex resolved claude session: %q", token)
	}
}

func TestRecordIgnoresEmptyValues(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Record("", "sess-1", "tok")
	store.Record("claude", "", "tok")
	store.Record("claude", "sess-1", "")
	if store.Len() != 0 {
		t.Fatalf("store length = %d, want 0", store.Len())
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Record("gemini", "sess-1", "tok")

	if !store.Clear("gemini", "sess-1") {
		t.Fatal("Clear should report an existing mapping")
	}
	if store.Clear("gemini", "sess-1") {
		t.Fatal("Clear should report a missing mapping")
	}
	if _, ok := store.Resolve("gemini", "sess-1"); ok {
		t.Fatal("cleared session still resolves")
	}
}

func TestConcurrentRecordResolve(t *testing.T) {
	t.Parallel()

	store := NewStore()
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("sess-%d", worker%4)
			for i := 0; i < 100; i++ {
				store.Record("claude", sessionID, fmt.Sprintf("tok-%d-%d", worker, i))
				if token, ok := store.Resolve("claude", sessionID); ok && token == "" {
					t.Errorf("observed torn empty token for %s", sessionID)
					return
				}
			}
		}(worker)
	}
	wg.Wait()

	if store.Len() != 4 {
		t.Fatalf("store length = %d, want 4", store.Len())
	}
}
