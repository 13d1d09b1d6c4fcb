package messaging

import (
	"strings"
	"testing"
)

func TestChunk_ShortTextUnchanged(t *testing.T) {
	got := chunk("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("chunk = %v", got)
	}
}

func TestChunk_SplitsOnNewlineBoundary(t *testing.T) {
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	got := chunk(text, 15)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	if got[0] != strings.Repeat("a", 10) {
		t.Fatalf("first chunk = %q", got[0])
	}
	if got[1] != strings.Repeat("b", 10) {
		t.Fatalf("second chunk = %q", got[1])
	}
}

func TestChunk_NoGoodBoundaryHardSplits(t *testing.T) {
	text := strings.Repeat("x", 25)
	got := chunk(text, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(got), got)
	}
	joined := strings.Join(got, "")
	if joined != text {
		t.Fatalf("joined chunks lost data: %q", joined)
	}
}

func TestChunk_EmptyInput(t *testing.T) {
	got := chunk("", 10)
	if len(got) != 1 || got[0] != "" {
		t.Fatalf("chunk(\"\") = %v", got)
	}
}

func TestPromptRegistry_RegisterAndResolve(t *testing.T) {
	r := newPromptRegistry()
	actionIDs, resultCh, promptID := r.register([]string{"Yes", "No"})
	if len(actionIDs) != 2 {
		t.Fatalf("expected 2 action ids, got %d", len(actionIDs))
	}
	if !r.resolve(promptID, "Yes") {
		t.Fatal("expected resolve to find the pending prompt")
	}
	if got := <-resultCh; got != "Yes" {
		t.Fatalf("resultCh = %q, want Yes", got)
	}
}

func TestPromptRegistry_ResolveUnknownPromptIDIsNoop(t *testing.T) {
	r := newPromptRegistry()
	if r.resolve("bogus", "Yes") {
		t.Fatal("expected resolve of unknown prompt id to return false")
	}
}

func TestPromptRegistry_CancelPreventsLateResolve(t *testing.T) {
	r := newPromptRegistry()
	_, _, promptID := r.register([]string{"Yes"})
	r.cancel(promptID)
	if r.resolve(promptID, "Yes") {
		t.Fatal("expected resolve after cancel to return false")
	}
}
