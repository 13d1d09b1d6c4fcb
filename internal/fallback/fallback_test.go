package fallback

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/timers"
)

type fakeClient struct {
	mu   sync.Mutex
	sent []string
}

func (c *fakeClient) Platform() messaging.Platform { return messaging.PlatformSlack }
func (c *fakeClient) SendToChannel(channelID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}
func (c *fakeClient) SendToChannelWithID(channelID, text string) (string, error) { return "", nil }
func (c *fakeClient) ReplyInThread(channelID, parentID, text string) error       { return nil }
func (c *fakeClient) UpdateMessage(channelID, messageID, text string) error      { return nil }
func (c *fakeClient) SendToChannelWithFiles(channelID, text string, paths []string) error {
	return nil
}
func (c *fakeClient) AddReaction(channelID, messageID, emoji string) error        { return nil }
func (c *fakeClient) ReplaceReaction(channelID, messageID, from, to string) error { return nil }
func (c *fakeClient) SendQuestionWithButtons(ctx context.Context, channelID string, questions []messaging.Question) (string, error) {
	return "", nil
}
func (c *fakeClient) OnMessage(h messaging.InboundHandler) {}
func (c *fakeClient) Start(ctx context.Context) error      { return nil }
func (c *fakeClient) Close() error                         { return nil }

func (c *fakeClient) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeRuntime struct {
	mu      sync.Mutex
	buffers []string // returned in order, last one repeats
	calls   int
	err     error
	ok      bool
}

func (r *fakeRuntime) SubmitMessage(ctx context.Context, projectName, instanceKey, text string) error {
	return nil
}
func (r *fakeRuntime) TypeKeysToWindow(ctx context.Context, session, window, text string) error {
	return nil
}
func (r *fakeRuntime) SendEnterToWindow(ctx context.Context, session, window string) error {
	return nil
}
func (r *fakeRuntime) GetWindowBuffer(ctx context.Context, session, window string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", false, r.err
	}
	idx := r.calls
	if idx >= len(r.buffers) {
		idx = len(r.buffers) - 1
	}
	r.calls++
	return r.buffers[idx], r.ok, nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestArm_StableBufferIsPostedAndCompletesTurn(t *testing.T) {
	client := &fakeClient{}
	runtime := &fakeRuntime{buffers: []string{"hello world"}, ok: true}
	tracker := pending.New(client)
	key := pending.Key{ProjectName: "p", InstanceKey: "claude"}
	tracker.EnsurePending(key, "ch-1")

	w := New(tracker, timers.New(), client, runtime)
	withShortTimings(t, func() {
		w.Arm(context.Background(), key, "sess", "win")
		waitUntil(t, 2*time.Second, func() bool { return client.count() > 0 })
	})

	if !strings.Contains(client.last(), "hello world") {
		t.Fatalf("expected fenced buffer to be posted, got %q", client.last())
	}
	entry, ok := tracker.GetPending(key)
	if !ok || !entry.Completed {
		t.Fatal("expected turn to be marked completed")
	}
}

func TestArm_HookActiveCancelsBeforeCapture(t *testing.T) {
	client := &fakeClient{}
	runtime := &fakeRuntime{buffers: []string{"irrelevant"}, ok: true}
	tracker := pending.New(client)
	key := pending.Key{ProjectName: "p", InstanceKey: "claude"}
	tracker.EnsurePending(key, "ch-1")
	tracker.SetHookActive(key)

	w := New(tracker, timers.New(), client, runtime)
	withShortTimings(t, func() {
		w.Arm(context.Background(), key, "sess", "win")
		time.Sleep(50 * time.Millisecond)
	})

	if client.count() != 0 {
		t.Fatalf("expected no post when hook already active, got %d", client.count())
	}
}

func TestArm_GivesUpSilentlyWhenNeverStable(t *testing.T) {
	client := &fakeClient{}
	runtime := &fakeRuntime{buffers: []string{"a", "b", "c", "d"}, ok: true}
	tracker := pending.New(client)
	key := pending.Key{ProjectName: "p", InstanceKey: "claude"}
	tracker.EnsurePending(key, "ch-1")

	w := New(tracker, timers.New(), client, runtime)
	withShortTimings(t, func() {
		w.Arm(context.Background(), key, "sess", "win")
		time.Sleep(30 * time.Millisecond)
	})

	if client.count() != 0 {
		t.Fatalf("expected no post when buffer never stabilizes, got %d", client.count())
	}
}

func TestArm_RuntimeErrorAbortsSilently(t *testing.T) {
	client := &fakeClient{}
	runtime := &fakeRuntime{err: context.DeadlineExceeded}
	tracker := pending.New(client)
	key := pending.Key{ProjectName: "p", InstanceKey: "claude"}
	tracker.EnsurePending(key, "ch-1")

	w := New(tracker, timers.New(), client, runtime)
	withShortTimings(t, func() {
		w.Arm(context.Background(), key, "sess", "win")
		time.Sleep(30 * time.Millisecond)
	})

	if client.count() != 0 {
		t.Fatalf("expected no post on runtime error, got %d", client.count())
	}
}

func TestArm_ReArmingCancelsPreviousWatch(t *testing.T) {
	client := &fakeClient{}
	runtime := &fakeRuntime{buffers: []string{"first-stable"}, ok: true}
	tracker := pending.New(client)
	key := pending.Key{ProjectName: "p", InstanceKey: "claude"}
	tracker.EnsurePending(key, "ch-1")
	reg := timers.New()

	w := New(tracker, reg, client, runtime)
	withShortTimings(t, func() {
		w.Arm(context.Background(), key, "sess", "win")
		w.Arm(context.Background(), key, "sess", "win")
		waitUntil(t, 2*time.Second, func() bool { return client.count() > 0 })
	})

	if client.count() != 1 {
		t.Fatalf("expected exactly one post after re-arming cancels the stale watch, got %d", client.count())
	}
}

// withShortTimings shrinks the package's wait constants for the duration of
// fn so tests don't take the real ~9s worst case.
func withShortTimings(t *testing.T, fn func()) {
	t.Helper()
	origInitial, origInterval := initialWait, checkInterval
	initialWait = 5 * time.Millisecond
	checkInterval = 5 * time.Millisecond
	defer func() {
		initialWait = origInitial
		checkInterval = origInterval
	}()
	fn()
}
