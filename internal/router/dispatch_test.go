package router

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/discode/discode/internal/execshell"
	"github.com/discode/discode/internal/fallback"
	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/project"
	"github.com/discode/discode/internal/safety"
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
func (c *fakeClient) SendToChannelWithID(channelID, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return "anchor", nil
}
func (c *fakeClient) ReplyInThread(channelID, parentID, text string) error { return nil }
func (c *fakeClient) UpdateMessage(channelID, messageID, text string) error {
	return nil
}
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
	mu         sync.Mutex
	submitted  []string
	typed      []string
	enterCalls int
	submitErr  error
	typeErr    error
}

func (r *fakeRuntime) SubmitMessage(ctx context.Context, projectName, instanceKey, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, text)
	return r.submitErr
}
func (r *fakeRuntime) TypeKeysToWindow(ctx context.Context, session, window, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typed = append(r.typed, text)
	return r.typeErr
}
func (r *fakeRuntime) SendEnterToWindow(ctx context.Context, session, window string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enterCalls++
	return nil
}
func (r *fakeRuntime) GetWindowBuffer(ctx context.Context, session, window string) (string, bool, error) {
	return "", false, nil
}

func (r *fakeRuntime) submitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submitted)
}

func (r *fakeRuntime) lastTyped() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.typed) == 0 {
		return ""
	}
	return r.typed[len(r.typed)-1]
}

type fakeExecutor struct {
	stdout, stderr string
	exitCode       int
	err            error
}

func (e *fakeExecutor) Exec(ctx context.Context, cmd, workDir string) (string, string, int, error) {
	return e.stdout, e.stderr, e.exitCode, e.err
}

func newTestRouter(t *testing.T, rt *fakeRuntime, client *fakeClient) (*Router, *project.Registry, *timers.Registry) {
	t.Helper()
	projects := project.NewRegistry()
	projectPath := t.TempDir()
	projects.Register("demo", projectPath, "demo-session")
	if err := projects.UpsertInstance("demo", project.Instance{
		AgentType:   "claude",
		ChannelID:   "ch-1",
		TmuxWindow:  "win-1",
		RuntimeType: "tmux",
	}); err != nil {
		t.Fatalf("upsert instance: %v", err)
	}

	tracker := pending.New(client)
	timerReg := timers.New()
	router := New(Config{
		Projects:     projects,
		Tracker:      tracker,
		Runtime:      rt,
		Fallback:     fallback.New(tracker, timerReg, client, rt),
		Sanitizer:    safety.NewSanitizer(),
		Attachments:  NewAttachmentCache(10),
		Client:       client,
		HostExecutor: &fakeExecutor{},
	})
	return router, projects, timerReg
}

func TestHandle_UnknownProjectIsIgnored(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)

	router.Handle("claude", "hello", "ghost", "ch-1", "msg-1", "", nil)

	if rt.submitCount() != 0 || len(rt.typed) != 0 {
		t.Fatal("expected no delivery for unknown project")
	}
}

func TestHandle_ChannelMismatchIsIgnored(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)

	router.Handle("claude", "hello", "demo", "ch-wrong", "msg-1", "", nil)

	if len(rt.typed) != 0 {
		t.Fatal("expected no delivery when channel doesn't match the project")
	}
}

func TestHandle_SanitizesAndDelivers(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)

	router.Handle("claude", "  hello there  ", "demo", "ch-1", "msg-1", "", nil)

	if rt.lastTyped() != "hello there" {
		t.Fatalf("expected sanitized text delivered to tmux window, got %q", rt.lastTyped())
	}
	if rt.enterCalls != 1 {
		t.Fatalf("expected exactly one Enter send, got %d", rt.enterCalls)
	}
}

func TestHandle_EmptyAfterSanitizeIsDropped(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)

	router.Handle("claude", "   \x00\x01   ", "demo", "ch-1", "msg-1", "", nil)

	if len(rt.typed) != 0 {
		t.Fatal("expected empty-after-sanitize input to be dropped")
	}
}

func TestHandle_BareBangDoesNothing(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)

	router.Handle("claude", "!", "demo", "ch-1", "msg-1", "", nil)

	if client.count() != 0 || len(rt.typed) != 0 {
		t.Fatal("expected bare ! to produce no side effects")
	}
}

func TestHandle_ShellEscapeRunsAndPostsOutput(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)
	router.cfg.HostExecutor = &fakeExecutor{stdout: "file1.txt\nfile2.txt\n", exitCode: 0}

	router.Handle("claude", "!ls", "demo", "ch-1", "msg-1", "", nil)

	if !strings.Contains(client.last(), "file1.txt") {
		t.Fatalf("expected shell output posted, got %q", client.last())
	}
	if len(rt.typed) != 0 {
		t.Fatal("shell escape must never reach the agent runtime")
	}
	key := pending.Key{ProjectName: "demo", InstanceKey: "claude"}
	tracker := router.cfg.Tracker
	if _, ok := tracker.GetPending(key); ok {
		t.Fatal("shell escape must not create a pending entry")
	}
}

func TestHandle_ShellEscapeDeniedCommand(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)

	router.Handle("claude", "!rm -rf /", "demo", "ch-1", "msg-1", "", nil)

	if !strings.Contains(client.last(), "⚠️") {
		t.Fatalf("expected a warning for a denied command, got %q", client.last())
	}
}

func TestHandle_ShellEscapeNoOutputSuccess(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, _ := newTestRouter(t, rt, client)
	router.cfg.HostExecutor = &fakeExecutor{exitCode: 0}

	router.Handle("claude", "!true", "demo", "ch-1", "msg-1", "", nil)

	if client.last() != "✅ (no output)" {
		t.Fatalf("expected success glyph, got %q", client.last())
	}
}

func TestHandle_ShellEscapeIgnoresAttachments(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, projects, _ := newTestRouter(t, rt, client)
	router.cfg.HostExecutor = &fakeExecutor{stdout: "ok"}

	proj, _ := projects.Get("demo")
	path := filepath.Join(proj.ProjectPath, "upload.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write attachment fixture: %v", err)
	}

	router.Handle("claude", "!echo hi", "demo", "ch-1", "msg-1", "", []messaging.Attachment{
		{Path: path, FileName: "upload.txt"},
	})

	entries, err := os.ReadDir(filepath.Join(proj.ProjectPath, ".discode", "files"))
	if err == nil && len(entries) != 0 {
		t.Fatal("expected shell escape to ignore attachments")
	}
}

func TestHandle_AttachmentsAreCachedAndMarked(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, projects, _ := newTestRouter(t, rt, client)

	proj, _ := projects.Get("demo")
	path := filepath.Join(proj.ProjectPath, "upload.txt")
	if err := os.WriteFile(path, []byte("file contents"), 0o644); err != nil {
		t.Fatalf("write attachment fixture: %v", err)
	}

	router.Handle("claude", "look at this", "demo", "ch-1", "msg-1", "", []messaging.Attachment{
		{Path: path, FileName: "upload.txt"},
	})

	if !strings.Contains(rt.lastTyped(), "[file:") {
		t.Fatalf("expected a [file:...] marker appended, got %q", rt.lastTyped())
	}
	entries, err := os.ReadDir(filepath.Join(proj.ProjectPath, ".discode", "files"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one cached attachment file, err=%v entries=%v", err, entries)
	}
}

func TestHandle_SDKRuntimeSubmitsDirectly(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, projects, _ := newTestRouter(t, rt, client)
	if err := projects.UpsertInstance("demo", project.Instance{
		AgentType:   "sdk-agent",
		ChannelID:   "ch-sdk",
		RuntimeType: "sdk",
	}); err != nil {
		t.Fatalf("upsert sdk instance: %v", err)
	}

	router.Handle("sdk-agent", "hello", "demo", "ch-sdk", "msg-1", "", nil)

	if rt.submitCount() != 1 {
		t.Fatalf("expected one SubmitMessage call, got %d", rt.submitCount())
	}
	if len(rt.typed) != 0 {
		t.Fatal("sdk runtime must not use typeKeysToWindow")
	}
}

func TestHandle_ArmsFallbackAfterDelivery(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRuntime{}
	router, _, timerReg := newTestRouter(t, rt, client)

	router.Handle("claude", "hello", "demo", "ch-1", "msg-1", "", nil)

	key := timers.Key{ProjectName: "demo", InstanceKey: "claude"}
	if !timerReg.Has(key, timers.Fallback) {
		t.Fatal("expected the fallback watchdog to be armed for this turn")
	}
}
